// Package schema holds the column/table definitions that the codec, the
// B+Tree, and the storage engine are all driven by, plus an Oracle
// interface for whatever resolves table names to definitions. This
// package only carries the shapes; internal/engine resolves table names
// through its own GetTableDefinition and does not implement Oracle.
package schema

import (
	"fmt"

	"github.com/latticedb/storecore/internal/codec"
)

// Column describes one table column: its name, wire type, nullability,
// and the optional size/precision metadata a SQL-facing layer would
// validate against (storecore's codec itself only needs Type and
// Nullable).
type Column struct {
	Name      string
	Type      codec.Type
	Nullable  bool
	MaxLength int // Varchar/Blob advisory limit; 0 means unset
	Precision int // Decimal advisory precision; 0 means unset
	Scale     int // Decimal advisory scale; 0 means unset
}

// Spec converts c to the minimal shape the codec package serializes
// against.
func (c Column) Spec() codec.ColumnSpec {
	return codec.ColumnSpec{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
}

// Table describes a table's full column list and its primary-key column
// names, in key order.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string // column names, in key order
}

// ColumnIndex returns the position of name within Columns.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

// PrimaryKeyIndexes resolves PrimaryKey column names to their positions in
// Columns, in key order.
func (t *Table) PrimaryKeyIndexes() ([]int, error) {
	idxs := make([]int, len(t.PrimaryKey))
	for i, name := range t.PrimaryKey {
		idx, ok := t.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("schema: table %q has no column %q named in its primary key", t.Name, name)
		}
		idxs[i] = idx
	}
	return idxs, nil
}

// KeyColumns returns the Column definitions for the primary key, in key
// order.
func (t *Table) KeyColumns() ([]Column, error) {
	idxs, err := t.PrimaryKeyIndexes()
	if err != nil {
		return nil, err
	}
	cols := make([]Column, len(idxs))
	for i, idx := range idxs {
		cols[i] = t.Columns[idx]
	}
	return cols, nil
}

// ColumnSpecs returns every column converted to codec.ColumnSpec, in
// schema order — the shape internal/codec's record serializer consumes.
func (t *Table) ColumnSpecs() []codec.ColumnSpec {
	specs := make([]codec.ColumnSpec, len(t.Columns))
	for i, c := range t.Columns {
		specs[i] = c.Spec()
	}
	return specs
}

// KeySpecs returns the primary-key columns converted to codec.ColumnSpec,
// in key order — the shape internal/codec's key serializer consumes.
func (t *Table) KeySpecs() ([]codec.ColumnSpec, error) {
	cols, err := t.KeyColumns()
	if err != nil {
		return nil, err
	}
	specs := make([]codec.ColumnSpec, len(cols))
	for i, c := range cols {
		specs[i] = c.Spec()
	}
	return specs, nil
}

// Oracle resolves a table name to its schema. StaticOracle is the only
// implementation in this module.
type Oracle interface {
	GetSchema(tableName string) (*Table, bool)
}

// StaticOracle is a fixed map-backed Oracle, useful for tests and for
// bootstrapping the catalog tables themselves before the real catalog
// exists.
type StaticOracle map[string]*Table

func (o StaticOracle) GetSchema(tableName string) (*Table, bool) {
	t, ok := o[tableName]
	return t, ok
}

// Package engine implements the storage-engine facade: the
// table-name-keyed collection of B+Trees, bootstrapped over a fixed set of
// system catalog tables that describe every other table, including
// themselves.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/latticedb/storecore/internal/bufpool"
	"github.com/latticedb/storecore/internal/btree"
	"github.com/latticedb/storecore/internal/codec"
	"github.com/latticedb/storecore/internal/diskmgr"
	"github.com/latticedb/storecore/internal/schema"
)

// stripeCount is the width of the per-table-name lock striping, standing
// in for page-level latching.
const stripeCount = 1024

// Engine is the facade the SQL layer (out of scope here) is meant to sit
// on top of: create/describe/insert/scan by table name, backed by one
// B+Tree per table and a system catalog describing every table.
type Engine struct {
	pool *bufpool.BufferPool

	mu       sync.RWMutex
	trees    map[string]*btree.Tree
	schemas  map[string]*schema.Table
	tableIDs map[string]diskmgr.TableID

	stripes []*semaphore.Weighted

	idMu             sync.Mutex
	nextDatabaseID   int32
	nextUserTableID  int32
	nextColumnID     int32
	nextConstraintID int32
}

// New opens pool's data directory as a storecore instance, bootstrapping
// the system catalog if this is the first time this data directory has
// been used.
func New(pool *bufpool.BufferPool) (*Engine, error) {
	e := &Engine{
		pool:     pool,
		trees:    make(map[string]*btree.Tree),
		schemas:  make(map[string]*schema.Table),
		tableIDs: make(map[string]diskmgr.TableID),
		stripes:  make([]*semaphore.Weighted, stripeCount),
	}
	for i := range e.stripes {
		e.stripes[i] = semaphore.NewWeighted(1)
	}
	if err := e.bootstrap(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) stripeFor(name string) *semaphore.Weighted {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return e.stripes[h.Sum32()%uint32(stripeCount)]
}

// withTableStripe serializes fn against every other caller striped to the
// same name, standing in for true page-level latching.
func (e *Engine) withTableStripe(name string, fn func() error) error {
	sem := e.stripeFor(name)
	if err := sem.Acquire(context.Background(), 1); err != nil {
		return fmt.Errorf("engine: acquiring stripe lock for %q: %w", name, err)
	}
	defer sem.Release(1)
	return fn()
}

// bootstrap probes for an existing system catalog by checking whether
// sys_databases already has a file on disk (standing in for "attempting to
// fetch page (sys_databases_table_id, 0)": a missing file and a
// not-found fetch are the same condition here, and checking the file
// avoids unwrapping bufpool's wrapped load-failure error). If found, every
// catalog tree is opened and the id counters resume from the high-water
// mark already on disk; otherwise all four are created fresh, in order,
// and seeded with their own metadata.
func (e *Engine) bootstrap() error {
	existing := e.pool.TableFileExists(sysDatabasesTableID)

	for _, ct := range catalogTables() {
		var tree *btree.Tree
		var err error
		if existing {
			tree, err = btree.OpenTree(e.pool, ct.id, ct.schema)
		} else {
			tree, err = btree.CreateTree(e.pool, ct.id, ct.schema)
		}
		if err != nil {
			return fmt.Errorf("engine: bootstrapping %s: %w", ct.schema.Name, err)
		}
		e.trees[ct.schema.Name] = tree
		e.schemas[ct.schema.Name] = ct.schema
		e.tableIDs[ct.schema.Name] = ct.id
	}

	if existing {
		log.Printf("engine: opened existing system catalog")
		return e.resumeCounters()
	}

	log.Printf("engine: no system catalog found; bootstrapping a fresh one")
	e.nextDatabaseID = 1
	e.nextUserTableID = UserTablesStart
	e.nextColumnID = 1
	e.nextConstraintID = 1

	sysDBID := e.nextDatabaseID
	e.nextDatabaseID++
	if err := e.trees["sys_databases"].Insert(codec.Record{sysDBID, systemDatabaseName, time.Now()}); err != nil {
		return fmt.Errorf("engine: inserting the System database row: %w", err)
	}
	for _, ct := range catalogTables() {
		if err := e.registerCatalogMetadata(sysDBID, ct.id, ct.schema); err != nil {
			return fmt.Errorf("engine: registering catalog metadata for %s: %w", ct.schema.Name, err)
		}
	}
	return nil
}

// resumeCounters rederives the next-id counters from the high-water mark
// already recorded in each catalog table, since storecore keeps no
// separate persistent counter state.
func (e *Engine) resumeCounters() error {
	maxDB, err := maxInt32Column(e.trees["sys_databases"], 0)
	if err != nil {
		return err
	}
	e.nextDatabaseID = maxDB + 1

	maxCol, err := maxInt32Column(e.trees["sys_columns"], 0)
	if err != nil {
		return err
	}
	e.nextColumnID = maxCol + 1

	maxCons, err := maxInt32Column(e.trees["sys_constraints"], 0)
	if err != nil {
		return err
	}
	e.nextConstraintID = maxCons + 1

	rows, err := e.trees["sys_tables"].ScanRange(nil, true, nil, true)
	if err != nil {
		return err
	}
	maxUser := UserTablesStart - 1
	for _, row := range rows {
		if tid := row[0].(int32); tid >= UserTablesStart && tid > maxUser {
			maxUser = tid
		}
	}
	e.nextUserTableID = maxUser + 1
	return nil
}

func maxInt32Column(tree *btree.Tree, columnIndex int) (int32, error) {
	rows, err := tree.ScanRange(nil, true, nil, true)
	if err != nil {
		return 0, err
	}
	max := int32(0)
	for _, row := range rows {
		if v := row[columnIndex].(int32); v > max {
			max = v
		}
	}
	return max, nil
}

// registerCatalogMetadata inserts tableID's row into sys_tables, one row
// per column into sys_columns (in ordinal order), and a PRIMARY KEY
// constraint row into sys_constraints if the table has a primary key.
func (e *Engine) registerCatalogMetadata(databaseID int32, tableID diskmgr.TableID, tbl *schema.Table) error {
	now := time.Now()
	tid := int32(tableID)

	tableRow := codec.Record{tid, databaseID, tbl.Name, now}
	if err := e.withTableStripe("sys_tables", func() error {
		return e.trees["sys_tables"].Insert(tableRow)
	}); err != nil {
		return err
	}

	for i, col := range tbl.Columns {
		e.idMu.Lock()
		cid := e.nextColumnID
		e.nextColumnID++
		e.idMu.Unlock()

		var defaultExpr any // default_value_expression: always NULL, storecore has no expression layer
		row := codec.Record{cid, tid, col.Name, col.Type.String(), int32(i), col.Nullable, defaultExpr}
		if err := e.withTableStripe("sys_columns", func() error {
			return e.trees["sys_columns"].Insert(row)
		}); err != nil {
			return err
		}
	}

	if len(tbl.PrimaryKey) == 0 {
		return nil
	}
	e.idMu.Lock()
	ccid := e.nextConstraintID
	e.nextConstraintID++
	e.idMu.Unlock()
	def := strings.Join(tbl.PrimaryKey, ",")
	row := codec.Record{ccid, tid, tbl.Name + "_pk", "PRIMARY KEY", def, now}
	return e.withTableStripe("sys_constraints", func() error {
		return e.trees["sys_constraints"].Insert(row)
	})
}

// CreateDatabase registers a new database row in sys_databases and
// returns its assigned id.
func (e *Engine) CreateDatabase(name string) (int32, error) {
	e.idMu.Lock()
	id := e.nextDatabaseID
	e.nextDatabaseID++
	e.idMu.Unlock()

	row := codec.Record{id, name, time.Now()}
	err := e.withTableStripe("sys_databases", func() error {
		return e.trees["sys_databases"].Insert(row)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (e *Engine) databaseExists(databaseID int32) (bool, error) {
	rows, err := e.trees["sys_databases"].ScanByColumn("database_id", databaseID)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// CreateTable formats a new table's B+Tree and registers it with the
// catalog, assigning it the next user table id (>= UserTablesStart).
// tbl's Name is overwritten to match name.
func (e *Engine) CreateTable(databaseID int32, name string, tbl *schema.Table) error {
	return e.withTableStripe(name, func() error {
		e.mu.RLock()
		_, exists := e.schemas[name]
		e.mu.RUnlock()
		if exists {
			return fmt.Errorf("%w: %q", ErrTableAlreadyExists, name)
		}
		if ok, err := e.databaseExists(databaseID); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: database id %d", ErrDatabaseNotFound, databaseID)
		}

		e.idMu.Lock()
		tableID := diskmgr.TableID(e.nextUserTableID)
		e.nextUserTableID++
		e.idMu.Unlock()

		tbl.Name = name
		tree, err := btree.CreateTree(e.pool, tableID, tbl)
		if err != nil {
			return fmt.Errorf("engine: creating tree for table %q: %w", name, err)
		}
		if err := e.registerCatalogMetadata(databaseID, tableID, tbl); err != nil {
			return fmt.Errorf("engine: registering table %q: %w", name, err)
		}

		e.mu.Lock()
		e.trees[name] = tree
		e.schemas[name] = tbl
		e.tableIDs[name] = tableID
		e.mu.Unlock()
		return nil
	})
}

// GetTableDefinition returns name's schema, preferring the in-memory
// cache and falling back to a sys_tables/sys_columns/sys_constraints
// lookup on a cache miss (e.g. right after process restart).
func (e *Engine) GetTableDefinition(name string) (*schema.Table, bool, error) {
	e.mu.RLock()
	tbl, ok := e.schemas[name]
	e.mu.RUnlock()
	if ok {
		return tbl, true, nil
	}
	return e.loadTableDefinitionFromCatalog(name)
}

func (e *Engine) loadTableDefinitionFromCatalog(name string) (*schema.Table, bool, error) {
	tableRows, err := e.trees["sys_tables"].ScanByColumn("table_name", name)
	if err != nil {
		return nil, false, err
	}
	if len(tableRows) == 0 {
		return nil, false, nil
	}
	tableID := diskmgr.TableID(tableRows[0][0].(int32))

	columnRows, err := e.trees["sys_columns"].ScanByColumn("table_id", int32(tableID))
	if err != nil {
		return nil, false, err
	}
	sort.Slice(columnRows, func(i, j int) bool {
		return columnRows[i][4].(int32) < columnRows[j][4].(int32)
	})
	columns := make([]schema.Column, len(columnRows))
	for i, row := range columnRows {
		typ, err := parseTypeName(row[3].(string))
		if err != nil {
			return nil, false, err
		}
		columns[i] = schema.Column{
			Name:     row[2].(string),
			Type:     typ,
			Nullable: row[5].(bool),
		}
	}

	constraintRows, err := e.trees["sys_constraints"].ScanByColumn("table_id", int32(tableID))
	if err != nil {
		return nil, false, err
	}
	var primaryKey []string
	for _, row := range constraintRows {
		if row[3].(string) == "PRIMARY KEY" {
			primaryKey = strings.Split(row[4].(string), ",")
			break
		}
	}

	tbl := &schema.Table{Name: name, Columns: columns, PrimaryKey: primaryKey}
	tree, err := btree.OpenTree(e.pool, tableID, tbl)
	if err != nil {
		return nil, false, fmt.Errorf("engine: opening tree for table %q: %w", name, err)
	}

	e.mu.Lock()
	e.schemas[name] = tbl
	e.tableIDs[name] = tableID
	e.trees[name] = tree
	e.mu.Unlock()
	return tbl, true, nil
}

func parseTypeName(s string) (codec.Type, error) {
	for _, t := range []codec.Type{codec.Int, codec.BigInt, codec.Float, codec.Boolean, codec.DateTime, codec.Decimal, codec.Varchar, codec.Blob} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("engine: catalog has unrecognized data_type %q", s)
}

func (e *Engine) tree(name string) (*btree.Tree, error) {
	e.mu.RLock()
	t, ok := e.trees[name]
	e.mu.RUnlock()
	if ok {
		return t, nil
	}
	if _, ok, err := e.GetTableDefinition(name); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trees[name], nil
}

// InsertRow appends record to name's table, keyed by its schema's primary
// key, serialized against concurrent writers to the same table by its
// stripe lock.
func (e *Engine) InsertRow(name string, record codec.Record) error {
	tree, err := e.tree(name)
	if err != nil {
		return err
	}
	return e.withTableStripe(name, func() error {
		return tree.Insert(record)
	})
}

// Scan walks name's table in ascending primary-key order between min and
// max (each nil meaning unbounded on that side), calling fn for each
// record until it returns false or an error.
func (e *Engine) Scan(name string, min *codec.Key, minInclusive bool, max *codec.Key, maxInclusive bool, fn func(codec.Record) (bool, error)) error {
	tree, err := e.tree(name)
	if err != nil {
		return err
	}
	return tree.Scan(min, minInclusive, max, maxInclusive, fn)
}

// Dispose flushes every dirty page and releases the buffer pool. The
// Engine must not be used afterward.
func (e *Engine) Dispose() error {
	return e.pool.Dispose()
}

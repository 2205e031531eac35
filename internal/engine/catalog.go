package engine

import (
	"github.com/latticedb/storecore/internal/codec"
	"github.com/latticedb/storecore/internal/diskmgr"
	"github.com/latticedb/storecore/internal/schema"
)

// The four system catalog tables get fixed, pre-assigned table ids, created
// in this order on first bootstrap. User tables start at UserTablesStart,
// well clear of these.
const (
	sysDatabasesTableID   diskmgr.TableID = 1
	sysTablesTableID      diskmgr.TableID = 2
	sysColumnsTableID     diskmgr.TableID = 3
	sysConstraintsTableID diskmgr.TableID = 4

	// UserTablesStart is the first table id the catalog hands out to a
	// user-created table.
	UserTablesStart int32 = 100
)

const systemDatabaseName = "System"

func sysDatabasesSchema() *schema.Table {
	return &schema.Table{
		Name: "sys_databases",
		Columns: []schema.Column{
			{Name: "database_id", Type: codec.Int, Nullable: false},
			{Name: "database_name", Type: codec.Varchar, Nullable: false, MaxLength: 128},
			{Name: "creation_date", Type: codec.DateTime, Nullable: false},
		},
		PrimaryKey: []string{"database_id"},
	}
}

func sysTablesSchema() *schema.Table {
	return &schema.Table{
		Name: "sys_tables",
		Columns: []schema.Column{
			{Name: "table_id", Type: codec.Int, Nullable: false},
			{Name: "database_id", Type: codec.Int, Nullable: false},
			{Name: "table_name", Type: codec.Varchar, Nullable: false, MaxLength: 128},
			{Name: "creation_date", Type: codec.DateTime, Nullable: false},
		},
		PrimaryKey: []string{"table_id"},
	}
}

func sysColumnsSchema() *schema.Table {
	return &schema.Table{
		Name: "sys_columns",
		Columns: []schema.Column{
			{Name: "column_id", Type: codec.Int, Nullable: false},
			{Name: "table_id", Type: codec.Int, Nullable: false},
			{Name: "column_name", Type: codec.Varchar, Nullable: false, MaxLength: 128},
			{Name: "data_type", Type: codec.Varchar, Nullable: false, MaxLength: 512},
			{Name: "ordinal_position", Type: codec.Int, Nullable: false},
			{Name: "is_nullable", Type: codec.Boolean, Nullable: false},
			{Name: "default_value_expression", Type: codec.Varchar, Nullable: true, MaxLength: 1024},
		},
		PrimaryKey: []string{"column_id"},
	}
}

func sysConstraintsSchema() *schema.Table {
	return &schema.Table{
		Name: "sys_constraints",
		Columns: []schema.Column{
			{Name: "constraint_id", Type: codec.Int, Nullable: false},
			{Name: "table_id", Type: codec.Int, Nullable: false},
			{Name: "constraint_name", Type: codec.Varchar, Nullable: false, MaxLength: 128},
			{Name: "constraint_type", Type: codec.Varchar, Nullable: false, MaxLength: 16},
			{Name: "definition", Type: codec.Varchar, Nullable: true, MaxLength: 2048},
			{Name: "creation_date", Type: codec.DateTime, Nullable: false},
		},
		PrimaryKey: []string{"constraint_id"},
	}
}

// catalogTables lists the four system tables in bootstrap order, paired
// with their pre-assigned table ids.
func catalogTables() []struct {
	id     diskmgr.TableID
	schema *schema.Table
} {
	return []struct {
		id     diskmgr.TableID
		schema *schema.Table
	}{
		{sysDatabasesTableID, sysDatabasesSchema()},
		{sysTablesTableID, sysTablesSchema()},
		{sysColumnsTableID, sysColumnsSchema()},
		{sysConstraintsTableID, sysConstraintsSchema()},
	}
}

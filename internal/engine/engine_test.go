package engine

import (
	"errors"
	"testing"

	"github.com/latticedb/storecore/internal/bufpool"
	"github.com/latticedb/storecore/internal/codec"
	"github.com/latticedb/storecore/internal/diskmgr"
	"github.com/latticedb/storecore/internal/schema"
)

func newTestEngine(t *testing.T, dataDir string) *Engine {
	t.Helper()
	disk, err := diskmgr.NewManager(dataDir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	pool, err := bufpool.New(disk, bufpool.Config{PoolSizePages: 128, PageTableConcurrency: 8})
	if err != nil {
		t.Fatalf("bufpool.New: %v", err)
	}
	e, err := New(pool)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

func widgetsTable() *schema.Table {
	return &schema.Table{
		Name: "widgets",
		Columns: []schema.Column{
			{Name: "widget_id", Type: codec.Int, Nullable: false},
			{Name: "label", Type: codec.Varchar, Nullable: false},
		},
		PrimaryKey: []string{"widget_id"},
	}
}

func TestBootstrapSeedsCatalogMetadata(t *testing.T) {
	e := newTestEngine(t, t.TempDir())

	rows, err := e.trees["sys_databases"].ScanRange(nil, true, nil, true)
	if err != nil {
		t.Fatalf("scan sys_databases: %v", err)
	}
	if len(rows) != 1 || rows[0][1].(string) != systemDatabaseName {
		t.Fatalf("expected exactly one System database row, got %v", rows)
	}

	tableRows, err := e.trees["sys_tables"].ScanRange(nil, true, nil, true)
	if err != nil {
		t.Fatalf("scan sys_tables: %v", err)
	}
	if len(tableRows) != 4 {
		t.Fatalf("expected 4 catalog table rows (one per catalog table), got %d", len(tableRows))
	}
}

func TestCreateDatabaseAndTableRoundTrip(t *testing.T) {
	e := newTestEngine(t, t.TempDir())

	dbID, err := e.CreateDatabase("shop")
	if err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}

	if err := e.CreateTable(dbID, "widgets", widgetsTable()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	if err := e.InsertRow("widgets", codec.Record{int32(1), "sprocket"}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := e.InsertRow("widgets", codec.Record{int32(2), "gizmo"}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}

	var got []string
	err = e.Scan("widgets", nil, true, nil, true, func(r codec.Record) (bool, error) {
		got = append(got, r[1].(string))
		return true, nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 || got[0] != "sprocket" || got[1] != "gizmo" {
		t.Fatalf("unexpected scan result: %v", got)
	}
}

func TestCreateTableRejectsDuplicateName(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	dbID, err := e.CreateDatabase("shop")
	if err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := e.CreateTable(dbID, "widgets", widgetsTable()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	err = e.CreateTable(dbID, "widgets", widgetsTable())
	if !errors.Is(err, ErrTableAlreadyExists) {
		t.Fatalf("expected ErrTableAlreadyExists, got %v", err)
	}
}

func TestCreateTableRejectsUnknownDatabase(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	err := e.CreateTable(9999, "widgets", widgetsTable())
	if !errors.Is(err, ErrDatabaseNotFound) {
		t.Fatalf("expected ErrDatabaseNotFound, got %v", err)
	}
}

func TestGetTableDefinitionFallsBackToCatalogOnCacheMiss(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	dbID, err := e.CreateDatabase("shop")
	if err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := e.CreateTable(dbID, "widgets", widgetsTable()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	// Evict the in-memory cache to force loadTableDefinitionFromCatalog.
	e.mu.Lock()
	delete(e.schemas, "widgets")
	delete(e.trees, "widgets")
	e.mu.Unlock()

	tbl, ok, err := e.GetTableDefinition("widgets")
	if err != nil {
		t.Fatalf("GetTableDefinition: %v", err)
	}
	if !ok {
		t.Fatalf("expected widgets to be found via catalog fallback")
	}
	if len(tbl.Columns) != 2 || tbl.Columns[0].Name != "widget_id" || tbl.Columns[1].Name != "label" {
		t.Fatalf("unexpected reconstructed columns: %v", tbl.Columns)
	}
	if len(tbl.PrimaryKey) != 1 || tbl.PrimaryKey[0] != "widget_id" {
		t.Fatalf("unexpected reconstructed primary key: %v", tbl.PrimaryKey)
	}

	if err := e.InsertRow("widgets", codec.Record{int32(1), "sprocket"}); err != nil {
		t.Fatalf("InsertRow after cache miss reload: %v", err)
	}
}

func TestReopeningEngineResumesCountersAndData(t *testing.T) {
	dir := t.TempDir()
	e1 := newTestEngine(t, dir)
	dbID, err := e1.CreateDatabase("shop")
	if err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := e1.CreateTable(dbID, "widgets", widgetsTable()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := e1.InsertRow("widgets", codec.Record{int32(1), "sprocket"}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := e1.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	e2 := newTestEngine(t, dir)
	tbl, ok, err := e2.GetTableDefinition("widgets")
	if err != nil || !ok {
		t.Fatalf("expected widgets to survive reopen: ok=%v err=%v", ok, err)
	}
	_ = tbl

	var got []int32
	err = e2.Scan("widgets", nil, true, nil, true, func(r codec.Record) (bool, error) {
		got = append(got, r[0].(int32))
		return true, nil
	})
	if err != nil {
		t.Fatalf("Scan after reopen: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected the pre-restart row to survive, got %v", got)
	}

	secondDBID, err := e2.CreateDatabase("another")
	if err != nil {
		t.Fatalf("CreateDatabase after reopen: %v", err)
	}
	if secondDBID <= dbID {
		t.Fatalf("expected the database id counter to resume above %d, got %d", dbID, secondDBID)
	}
}

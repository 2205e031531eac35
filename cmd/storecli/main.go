// Command storecli is a smoke-test binary exercising the storage core end
// to end: catalog bootstrap, table creation, inserts, and a range scan. It
// is not a SQL CLI — there is no parser here, just direct engine calls.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/latticedb/storecore/internal/bufpool"
	"github.com/latticedb/storecore/internal/codec"
	"github.com/latticedb/storecore/internal/config"
	"github.com/latticedb/storecore/internal/diskmgr"
	"github.com/latticedb/storecore/internal/engine"
	"github.com/latticedb/storecore/internal/schema"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	dataDir := flag.String("data-dir", "", "override the data directory from config")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("storecli: %v", err)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	fmt.Println("=== storecore demo ===")
	fmt.Printf("data directory: %s\n", cfg.DataDir)
	fmt.Printf("buffer pool: %d pages, %d load-lock shards\n\n", cfg.PoolSizePages, cfg.PageTableConcurrency)

	disk, err := diskmgr.NewManager(cfg.DataDir)
	if err != nil {
		log.Fatalf("storecli: %v", err)
	}
	pool, err := bufpool.New(disk, bufpool.Config{
		PoolSizePages:        cfg.PoolSizePages,
		PageTableConcurrency: cfg.PageTableConcurrency,
	})
	if err != nil {
		log.Fatalf("storecli: %v", err)
	}

	eng, err := engine.New(pool)
	if err != nil {
		log.Fatalf("storecli: bootstrapping engine: %v", err)
	}
	defer func() {
		if err := eng.Dispose(); err != nil {
			log.Printf("storecli: dispose: %v", err)
		}
	}()

	fmt.Println("1. Creating database 'shop'...")
	dbID, err := eng.CreateDatabase("shop")
	if err != nil {
		log.Fatalf("storecli: %v", err)
	}

	fmt.Println("2. Creating table 'widgets'...")
	widgets := &schema.Table{
		Name: "widgets",
		Columns: []schema.Column{
			{Name: "widget_id", Type: codec.Int, Nullable: false},
			{Name: "label", Type: codec.Varchar, Nullable: false, MaxLength: 128},
			{Name: "price", Type: codec.Decimal, Nullable: false, Precision: 18, Scale: 2},
		},
		PrimaryKey: []string{"widget_id"},
	}
	if err := eng.CreateTable(dbID, "widgets", widgets); err != nil {
		log.Fatalf("storecli: %v", err)
	}

	fmt.Println("3. Inserting rows...")
	seed := []struct {
		id    int32
		label string
		price string
	}{
		{1, "sprocket", "4.50"},
		{2, "gizmo", "19.99"},
		{3, "widget-deluxe", "199.00"},
	}
	for _, row := range seed {
		price, err := codec.DecimalFromString(row.price)
		if err != nil {
			log.Fatalf("storecli: %v", err)
		}
		if err := eng.InsertRow("widgets", codec.Record{row.id, row.label, price}); err != nil {
			log.Fatalf("storecli: %v", err)
		}
	}

	fmt.Println("4. Scanning widgets in primary-key order:")
	err = eng.Scan("widgets", nil, true, nil, true, func(rec codec.Record) (bool, error) {
		price := rec[2].(codec.Decimal)
		fmt.Printf("   - #%d %-16s $%s\n", rec[0].(int32), rec[1].(string), price.String())
		return true, nil
	})
	if err != nil {
		log.Fatalf("storecli: %v", err)
	}

	fmt.Println("\n=== demo complete ===")
}

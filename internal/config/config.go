// Package config loads storecore's ambient settings: where table files
// live and how the buffer pool is sized.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is storecore's top-level runtime configuration.
type Config struct {
	DataDir              string `yaml:"data_dir"`
	PoolSizePages        int    `yaml:"pool_size_pages"`
	PageTableConcurrency int    `yaml:"page_table_concurrency"`
}

// DefaultConfig returns storecore's out-of-the-box defaults: 1024
// buffer-pool frames, 8 page-table load-lock shards.
func DefaultConfig() Config {
	return Config{
		DataDir:              "./data",
		PoolSizePages:        1024,
		PageTableConcurrency: 8,
	}
}

// Load reads a YAML config file at path, filling in DefaultConfig for any
// field left zero-valued.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.PoolSizePages <= 0 {
		cfg.PoolSizePages = DefaultConfig().PoolSizePages
	}
	if cfg.PageTableConcurrency <= 0 {
		cfg.PageTableConcurrency = DefaultConfig().PageTableConcurrency
	}
	return cfg, nil
}

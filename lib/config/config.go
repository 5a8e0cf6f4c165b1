package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl"

	"github.com/lintang-b-s/pagedb/lib"
)

// Config . tunables of the storage core. zero values fall back to the
// compiled defaults in lib.
type Config struct {
	DataDir                  string `hcl:"data_dir"`
	PoolSize                 int    `hcl:"pool_size"`
	NumInstances             int    `hcl:"num_instances"`
	LeafMaxSize              int    `hcl:"leaf_max_size"`
	InternalMaxSize          int    `hcl:"internal_max_size"`
	CycleDetectionIntervalMS int    `hcl:"cycle_detection_interval_ms"`
}

func Default() Config {
	return Config{
		DataDir:                  lib.DB_DIR,
		PoolSize:                 lib.MAX_BUFFER_POOL_SIZE,
		NumInstances:             1,
		LeafMaxSize:              lib.LEAF_MAX_SIZE,
		InternalMaxSize:          lib.INTERNAL_MAX_SIZE,
		CycleDetectionIntervalMS: lib.CYCLE_DETECTION_INTERVAL_MS,
	}
}

// Load. decode an hcl config file over the defaults. a missing file is not
// an error, the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fileCfg Config
	if err := hcl.Decode(&fileCfg, string(b)); err != nil {
		return cfg, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	if fileCfg.DataDir != "" {
		cfg.DataDir = fileCfg.DataDir
	}
	if fileCfg.PoolSize > 0 {
		cfg.PoolSize = fileCfg.PoolSize
	}
	if fileCfg.NumInstances > 0 {
		cfg.NumInstances = fileCfg.NumInstances
	}
	if fileCfg.LeafMaxSize > 0 {
		cfg.LeafMaxSize = fileCfg.LeafMaxSize
	}
	if fileCfg.InternalMaxSize > 0 {
		cfg.InternalMaxSize = fileCfg.InternalMaxSize
	}
	if fileCfg.CycleDetectionIntervalMS > 0 {
		cfg.CycleDetectionIntervalMS = fileCfg.CycleDetectionIntervalMS
	}

	return cfg, nil
}

func (c Config) CycleDetectionInterval() time.Duration {
	return time.Duration(c.CycleDetectionIntervalMS) * time.Millisecond
}

package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.tahseel/config.toml.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Sync    SyncConfig    `toml:"sync"`
	Cache   CacheConfig   `toml:"cache"`
}

// BackendConfig configures the remote backend client.
type BackendConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
	// TimeoutSecs bounds every remote call. Default 15.
	TimeoutSecs int `toml:"timeout_secs"`
}

// SyncConfig configures the connection monitor and full resync.
type SyncConfig struct {
	// Collections is the set of tables SyncAllData refreshes.
	Collections []string `toml:"collections"`
	// ProbeIntervalSecs is the periodic reachability poll. Default 30.
	ProbeIntervalSecs int `toml:"probe_interval_secs"`
	// ProbeCacheSecs is how long a probe result is trusted. Default 3.
	ProbeCacheSecs int `toml:"probe_cache_secs"`
	// FullSyncIntervalSecs triggers a periodic SyncAllData. 0 disables.
	FullSyncIntervalSecs int `toml:"full_sync_interval_secs"`
}

// CacheConfig configures invalidation and background refresh debouncing.
type CacheConfig struct {
	// InvalidateDebounceMs suppresses repeat invalidations per table. Default 500.
	InvalidateDebounceMs int `toml:"invalidate_debounce_ms"`
	// RefreshDebounceMs collapses redundant refreshes per cache key. Default 2500.
	RefreshDebounceMs int `toml:"refresh_debounce_ms"`
	// RefreshWorkers bounds concurrent background refreshes. Default 4.
	RefreshWorkers int `toml:"refresh_workers"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{TimeoutSecs: 15},
		Sync: SyncConfig{
			Collections: []string{
				"schools", "accounts", "students", "fees",
				"installments", "subscriptions", "messages",
			},
			ProbeIntervalSecs: 30,
			ProbeCacheSecs:    3,
		},
		Cache: CacheConfig{
			InvalidateDebounceMs: 500,
			RefreshDebounceMs:    2500,
			RefreshWorkers:       4,
		},
	}
}

// Load reads config from the given path and fills in defaults for any
// omitted field. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Backend.TimeoutSecs <= 0 {
		c.Backend.TimeoutSecs = d.Backend.TimeoutSecs
	}
	if len(c.Sync.Collections) == 0 {
		c.Sync.Collections = d.Sync.Collections
	}
	if c.Sync.ProbeIntervalSecs <= 0 {
		c.Sync.ProbeIntervalSecs = d.Sync.ProbeIntervalSecs
	}
	if c.Sync.ProbeCacheSecs <= 0 {
		c.Sync.ProbeCacheSecs = d.Sync.ProbeCacheSecs
	}
	if c.Cache.InvalidateDebounceMs <= 0 {
		c.Cache.InvalidateDebounceMs = d.Cache.InvalidateDebounceMs
	}
	if c.Cache.RefreshDebounceMs <= 0 {
		c.Cache.RefreshDebounceMs = d.Cache.RefreshDebounceMs
	}
	if c.Cache.RefreshWorkers <= 0 {
		c.Cache.RefreshWorkers = d.Cache.RefreshWorkers
	}
}

package assetdb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Configuration constants for store operations
const (
	// Connection pool configuration
	DefaultMaxConnections = 5
	DefaultConnectTimeout = 30 * time.Second
	DefaultQueryTimeout   = 0 * time.Second // zero disables per-statement deadlines
	DefaultRunTimeout     = 30 * time.Second
	DefaultCacheSizeKB    = 20000

	// Busy-retry configuration
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = 50 * time.Millisecond
	DefaultMaxBackoff     = 500 * time.Millisecond
	DefaultJitterPercent  = 0.25 // 25% jitter to avoid thundering herd

	// Per-asset lock registry configuration
	DefaultLockCapacity      = 256
	DefaultLockTTL           = 5 * time.Minute
	DefaultLockPruneInterval = 60 * time.Second

	// Recovery and reset configuration
	DefaultStaleWindow      = 5 * time.Minute
	DefaultRecoveryCooldown = 30 * time.Second
	DefaultResetCooldown    = 60 * time.Second
	DefaultRepairCooldown   = 30 * time.Second
	DefaultDrainTimeout     = 3 * time.Second
	DefaultDeleteRetries    = 5
	DefaultDeleteBackoff    = 100 * time.Millisecond
	DefaultAutoReset        = true

	// Maintenance configuration
	DefaultSlowQueryThreshold = 500 * time.Millisecond
	DefaultCheckpointInterval = 5 * time.Minute

	// Override file floors
	MinTimeout        = 1 * time.Second
	MinMaxConnections = 1

	// Directory creation mode for new store paths
	DefaultDirPermissions = 0755

	// DefaultConfigFileName is resolved next to the database file unless
	// ASSETDB_CONFIG_PATH points elsewhere.
	DefaultConfigFileName = "assetdb.config.json"
)

// Config holds the resolved tunables for a store instance
type Config struct {
	MaxConnections int
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration // zero means no per-statement deadline
	RunTimeout     time.Duration
	CacheSizeKB    int

	Retry RetryConfig

	LockCapacity      int
	LockTTL           time.Duration
	LockPruneInterval time.Duration

	StaleWindow      time.Duration
	RecoveryCooldown time.Duration
	ResetCooldown    time.Duration
	RepairCooldown   time.Duration
	DrainTimeout     time.Duration
	DeleteRetries    int
	DeleteBackoff    time.Duration
	AutoReset        bool

	SlowQueryThreshold time.Duration
	CheckpointInterval time.Duration
}

// DefaultConfig returns the default store configuration
func DefaultConfig() Config {
	return Config{
		MaxConnections:     DefaultMaxConnections,
		ConnectTimeout:     DefaultConnectTimeout,
		QueryTimeout:       DefaultQueryTimeout,
		RunTimeout:         DefaultRunTimeout,
		CacheSizeKB:        DefaultCacheSizeKB,
		Retry:              DefaultRetryConfig(),
		LockCapacity:       DefaultLockCapacity,
		LockTTL:            DefaultLockTTL,
		LockPruneInterval:  DefaultLockPruneInterval,
		StaleWindow:        DefaultStaleWindow,
		RecoveryCooldown:   DefaultRecoveryCooldown,
		ResetCooldown:      DefaultResetCooldown,
		RepairCooldown:     DefaultRepairCooldown,
		DrainTimeout:       DefaultDrainTimeout,
		DeleteRetries:      DefaultDeleteRetries,
		DeleteBackoff:      DefaultDeleteBackoff,
		AutoReset:          DefaultAutoReset,
		SlowQueryThreshold: DefaultSlowQueryThreshold,
		CheckpointInterval: DefaultCheckpointInterval,
	}
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if c.MaxConnections < MinMaxConnections {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxConnections",
			"value":  c.MaxConnections,
			"reason": "must be at least 1",
		})
	}
	if c.ConnectTimeout < MinTimeout {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ConnectTimeout",
			"value":  c.ConnectTimeout,
			"reason": "must be at least 1s",
		})
	}
	if c.QueryTimeout < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "QueryTimeout",
			"value":  c.QueryTimeout,
			"reason": "must be non-negative",
		})
	}
	if c.RunTimeout <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "RunTimeout",
			"value":  c.RunTimeout,
			"reason": "must be positive",
		})
	}
	if c.LockCapacity < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LockCapacity",
			"value":  c.LockCapacity,
			"reason": "must be at least 1",
		})
	}
	if c.DeleteRetries < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "DeleteRetries",
			"value":  c.DeleteRetries,
			"reason": "must be non-negative",
		})
	}
	return c.Retry.Validate()
}

// fileOverrides mirrors the optional JSON override file. Pointer fields
// distinguish absent keys from zero values. Timeouts are seconds.
type fileOverrides struct {
	Timeout        *float64 `json:"timeout"`
	MaxConnections *int     `json:"maxConnections"`
	QueryTimeout   *float64 `json:"queryTimeout"`
}

// LoadConfig resolves the configuration for a store rooted at dbPath:
// defaults first, then the JSON override file, then environment
// variables. A missing or unreadable override file yields no overrides.
func LoadConfig(dbPath string, logger Logger) Config {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	cfg := DefaultConfig()
	applyFileOverrides(&cfg, dbPath, logger)
	applyEnvOverrides(&cfg)
	return cfg
}

// configFilePath returns the override file location for a store path
func configFilePath(dbPath string) string {
	if p := os.Getenv("ASSETDB_CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join(filepath.Dir(dbPath), DefaultConfigFileName)
}

func applyFileOverrides(cfg *Config, dbPath string, logger Logger) {
	path := configFilePath(dbPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var ov fileOverrides
	if err := json.Unmarshal(data, &ov); err != nil {
		logger.Warnw("ignoring malformed config override file", "path", path, "error", err)
		return
	}

	if ov.Timeout != nil {
		d := time.Duration(*ov.Timeout * float64(time.Second))
		if d >= MinTimeout {
			cfg.ConnectTimeout = d
		} else {
			logger.Warnw("ignoring timeout override below floor", "path", path, "seconds", *ov.Timeout)
		}
	}
	if ov.MaxConnections != nil {
		if *ov.MaxConnections >= MinMaxConnections {
			cfg.MaxConnections = *ov.MaxConnections
		} else {
			logger.Warnw("ignoring maxConnections override below floor", "path", path, "value", *ov.MaxConnections)
		}
	}
	if ov.QueryTimeout != nil {
		d := time.Duration(*ov.QueryTimeout * float64(time.Second))
		if d >= 0 {
			cfg.QueryTimeout = d
		} else {
			logger.Warnw("ignoring negative queryTimeout override", "path", path, "seconds", *ov.QueryTimeout)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := getEnvAsInt("ASSETDB_LOCK_CAPACITY", 0); v > 0 {
		cfg.LockCapacity = v
	}
	if v := getEnvAsInt("ASSETDB_LOCK_TTL_SECONDS", 0); v > 0 {
		cfg.LockTTL = time.Duration(v) * time.Second
	}
	if v := getEnvAsInt("ASSETDB_LOCK_PRUNE_SECONDS", 0); v > 0 {
		cfg.LockPruneInterval = time.Duration(v) * time.Second
	}
	if v := getEnvAsFloat("ASSETDB_RUN_TIMEOUT_SECONDS", 0); v > 0 {
		cfg.RunTimeout = time.Duration(v * float64(time.Second))
	}
	cfg.AutoReset = getEnvAsBool("ASSETDB_AUTO_RESET", cfg.AutoReset)
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}

// getEnvAsFloat reads a float environment variable with a default fallback.
func getEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultVal
	}

	return value
}

// getEnvAsBool reads a boolean environment variable with a default fallback.
func getEnvAsBool(key string, defaultVal bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}

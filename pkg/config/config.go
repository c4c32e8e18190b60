// Package config loads identitygraphd's configuration from environment
// variables. There is no config file format: every setting has an
// IDENTITYGRAPH_-prefixed environment variable and a sensible default,
// so LoadFromEnv can be called with nothing set.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreBackend selects which kvstore.Store implementation the graph
// layer runs on.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendBadger StoreBackend = "badger"
)

// Config holds every setting identitygraphd reads at startup.
type Config struct {
	Store StoreConfig
	Graph GraphConfig
	Risk  RiskConfig
	Log   LogConfig
}

// StoreConfig selects and tunes the kvstore.Store backend.
type StoreConfig struct {
	// Backend is "memory" or "badger". Defaults to "memory".
	Backend StoreBackend
	// DataDir is the BadgerDB data directory. Ignored for the memory
	// backend.
	DataDir string
	// InMemory runs Badger in memory-only mode (no files on disk at
	// all), useful for tests that still want to exercise BadgerStore.
	InMemory bool
	// SyncWrites forces an fsync on every Badger write.
	SyncWrites bool
}

// GraphConfig tunes the property graph and identity tracker.
type GraphConfig struct {
	// NodePrefix, EdgePrefix, IndexPrefix override the graph.DB key
	// layout. Empty values fall back to graph's own defaults.
	NodePrefix  string
	EdgePrefix  string
	IndexPrefix string
	// QueryBatchSize is the page size GetConnectionGraphPaged requests
	// per query({type:"USER"}) call.
	QueryBatchSize int
	// SerializePerUser enables the opt-in per-user mailbox that closes
	// the concurrent-update race spec §5 documents, at the cost of
	// forcing same-user RecordConnection calls to run one at a time.
	SerializePerUser bool
}

// RiskConfig tunes the four additive risk factors. Defaults match the
// reference windows/thresholds/caps; overriding any of these changes
// the levels a deployment's users are scored into.
type RiskConfig struct {
	ManyIPs24hThreshold int
	ManyIPs24hCap       int
	RapidIPs1hThreshold int
	RapidIPs1hCap       int
	ManyFPs24hThreshold int
	ManyFPs24hCap       int
	RapidChangeWindow   time.Duration
	RapidChangeDelta    time.Duration
	RapidChangeCap      int
	HighThreshold       int
	MediumThreshold     int
}

// LogConfig controls identitygraphd's own structured logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Format is the raw IDENTITYGRAPH_LOG_FORMAT value (default "text").
	// Nothing reads it: pkg/telemetry writes plain text lines only.
	Format string
}

// LoadFromEnv reads every IDENTITYGRAPH_-prefixed environment variable,
// applying defaults for anything unset.
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.Store.Backend = StoreBackend(getEnv("IDENTITYGRAPH_STORE_BACKEND", string(StoreBackendMemory)))
	cfg.Store.DataDir = getEnv("IDENTITYGRAPH_STORE_DATA_DIR", "./data")
	cfg.Store.InMemory = getEnvBool("IDENTITYGRAPH_STORE_IN_MEMORY", false)
	cfg.Store.SyncWrites = getEnvBool("IDENTITYGRAPH_STORE_SYNC_WRITES", false)

	cfg.Graph.NodePrefix = getEnv("IDENTITYGRAPH_NODE_PREFIX", "")
	cfg.Graph.EdgePrefix = getEnv("IDENTITYGRAPH_EDGE_PREFIX", "")
	cfg.Graph.IndexPrefix = getEnv("IDENTITYGRAPH_INDEX_PREFIX", "")
	cfg.Graph.QueryBatchSize = getEnvInt("IDENTITYGRAPH_QUERY_BATCH_SIZE", 100)
	cfg.Graph.SerializePerUser = getEnvBool("IDENTITYGRAPH_SERIALIZE_PER_USER", false)

	cfg.Risk.ManyIPs24hThreshold = getEnvInt("IDENTITYGRAPH_RISK_MANY_IPS_24H_THRESHOLD", 3)
	cfg.Risk.ManyIPs24hCap = getEnvInt("IDENTITYGRAPH_RISK_MANY_IPS_24H_CAP", 30)
	cfg.Risk.RapidIPs1hThreshold = getEnvInt("IDENTITYGRAPH_RISK_RAPID_IPS_1H_THRESHOLD", 2)
	cfg.Risk.RapidIPs1hCap = getEnvInt("IDENTITYGRAPH_RISK_RAPID_IPS_1H_CAP", 40)
	cfg.Risk.ManyFPs24hThreshold = getEnvInt("IDENTITYGRAPH_RISK_MANY_FPS_24H_THRESHOLD", 2)
	cfg.Risk.ManyFPs24hCap = getEnvInt("IDENTITYGRAPH_RISK_MANY_FPS_24H_CAP", 35)
	cfg.Risk.RapidChangeWindow = getEnvDuration("IDENTITYGRAPH_RISK_RAPID_CHANGE_WINDOW", 5*time.Minute)
	cfg.Risk.RapidChangeDelta = getEnvDuration("IDENTITYGRAPH_RISK_RAPID_CHANGE_DELTA", time.Second)
	cfg.Risk.RapidChangeCap = getEnvInt("IDENTITYGRAPH_RISK_RAPID_CHANGE_CAP", 35)
	cfg.Risk.HighThreshold = getEnvInt("IDENTITYGRAPH_RISK_HIGH_THRESHOLD", 70)
	cfg.Risk.MediumThreshold = getEnvInt("IDENTITYGRAPH_RISK_MEDIUM_THRESHOLD", 40)

	cfg.Log.Level = getEnv("IDENTITYGRAPH_LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("IDENTITYGRAPH_LOG_FORMAT", "text")

	return cfg
}

// Validate checks the configuration for values that would otherwise
// fail confusingly deep inside the store or graph layers.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendBadger:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	if c.Store.Backend == StoreBackendBadger && c.Store.DataDir == "" && !c.Store.InMemory {
		return fmt.Errorf("config: badger backend requires a data directory or in-memory mode")
	}

	if c.Graph.QueryBatchSize <= 0 {
		return fmt.Errorf("config: invalid query batch size: %d", c.Graph.QueryBatchSize)
	}

	if c.Risk.MediumThreshold > c.Risk.HighThreshold {
		return fmt.Errorf("config: risk medium threshold (%d) exceeds high threshold (%d)", c.Risk.MediumThreshold, c.Risk.HighThreshold)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}

	return nil
}

// String returns a representation safe for logging at startup.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Store: %s, BatchSize: %d, SerializePerUser: %v, LogLevel: %s}",
		c.Store.Backend, c.Graph.QueryBatchSize, c.Graph.SerializePerUser, c.Log.Level,
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

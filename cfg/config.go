package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StorageEngineType selects the storage adapter implementation
type StorageEngineType string

const (
	StorageMemory StorageEngineType = "memory" // In-memory store, no durability
	StoragePebble StorageEngineType = "pebble" // Pebble-backed persistent store
)

// WireConfiguration for the binary query protocol server
type WireConfiguration struct {
	BindAddress    string `toml:"bind_address"`
	Port           int    `toml:"port"`
	MaxConnections int    `toml:"max_connections"`
	MaxFrameMB     int    `toml:"max_frame_mb"`
}

// StorageConfiguration controls the storage adapter
type StorageConfiguration struct {
	Engine          StorageEngineType `toml:"engine"`
	BufferPoolPages int               `toml:"buffer_pool_pages"`
	WALBufferBytes  int               `toml:"wal_buffer_bytes"`
	FlushIntervalMS int               `toml:"flush_interval_ms"` // Group-commit window
}

// ShardingConfiguration controls key placement
type ShardingConfiguration struct {
	NumShards int `toml:"num_shards"`
}

// SandboxConfiguration bounds per-query resource usage
type SandboxConfiguration struct {
	MaxWallSeconds int `toml:"max_wall_seconds"`
	MaxMemoryMB    int `toml:"max_memory_mb"`
}

// PlannerConfiguration controls planning behavior
type PlannerConfiguration struct {
	PlanCacheSize int `toml:"plan_cache_size"`
}

// ReplicationConfiguration controls the local replicated log
type ReplicationConfiguration struct {
	Enabled          bool `toml:"enabled"`
	CompressionLevel int  `toml:"compression_level"` // zstd level 1-4
}

// SinkConfiguration describes one change-stream destination
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "nats", "kafka", "log"
	Format          string   `toml:"format"` // "json", "msgpack"
	NatsURL         string   `toml:"nats_url"`
	KafkaBrokers    []string `toml:"kafka_brokers"`
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterTables    []string `toml:"filter_tables"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// PublisherConfiguration controls change-stream publishing
type PublisherConfiguration struct {
	Enabled bool                `toml:"enabled"`
	Sinks   []SinkConfiguration `toml:"sinks"`
}

// HTTPConfiguration for the metrics/changes HTTP surface
type HTTPConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Wire        WireConfiguration        `toml:"wire"`
	Storage     StorageConfiguration     `toml:"storage"`
	Sharding    ShardingConfiguration    `toml:"sharding"`
	Sandbox     SandboxConfiguration     `toml:"sandbox"`
	Planner     PlannerConfiguration     `toml:"planner"`
	Replication ReplicationConfiguration `toml:"replication"`
	Publisher   PublisherConfiguration   `toml:"publisher"`
	HTTP        HTTPConfiguration        `toml:"http"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	PortFlag       = flag.Int("port", 0, "Wire protocol port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./data",

	Wire: WireConfiguration{
		BindAddress:    "0.0.0.0",
		Port:           5433,
		MaxConnections: 1000,
		MaxFrameMB:     100,
	},

	Storage: StorageConfiguration{
		Engine:          StoragePebble,
		BufferPoolPages: 1024,
		WALBufferBytes:  65536,
		FlushIntervalMS: 5,
	},

	Sharding: ShardingConfiguration{
		NumShards: 16,
	},

	Sandbox: SandboxConfiguration{
		MaxWallSeconds: 300,
		MaxMemoryMB:    100,
	},

	Planner: PlannerConfiguration{
		PlanCacheSize: 1024,
	},

	Replication: ReplicationConfiguration{
		Enabled:          true,
		CompressionLevel: 2,
	},

	Publisher: PublisherConfiguration{
		Enabled: false,
		Sinks:   []SinkConfiguration{},
	},

	HTTP: HTTPConfiguration{
		Enabled: true,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *PortFlag != 0 {
		Config.Wire.Port = *PortFlag
	}

	// Auto-generate node ID if not set
	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("minsql")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Wire.Port < 1 || Config.Wire.Port > 65535 {
		return fmt.Errorf("invalid wire protocol port: %d", Config.Wire.Port)
	}

	if Config.Wire.MaxConnections < 1 {
		return fmt.Errorf("max connections must be >= 1")
	}

	if Config.Wire.MaxFrameMB < 1 {
		return fmt.Errorf("max frame size must be >= 1 MB")
	}

	switch Config.Storage.Engine {
	case StorageMemory, StoragePebble:
	default:
		return fmt.Errorf("unknown storage engine: %s", Config.Storage.Engine)
	}

	if Config.Storage.BufferPoolPages < 1 {
		return fmt.Errorf("buffer pool pages must be >= 1")
	}

	if Config.Storage.WALBufferBytes < 1 {
		return fmt.Errorf("WAL buffer must be >= 1 byte")
	}

	if Config.Storage.FlushIntervalMS < 0 {
		return fmt.Errorf("flush interval must be >= 0")
	}

	if Config.Sharding.NumShards < 1 {
		return fmt.Errorf("number of shards must be >= 1")
	}

	if Config.Sandbox.MaxWallSeconds < 1 {
		return fmt.Errorf("sandbox wall clock limit must be >= 1 second")
	}

	if Config.Sandbox.MaxMemoryMB < 1 {
		return fmt.Errorf("sandbox memory limit must be >= 1 MB")
	}

	if Config.Planner.PlanCacheSize < 1 {
		return fmt.Errorf("plan cache size must be >= 1")
	}

	if Config.Replication.CompressionLevel < 1 || Config.Replication.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	for _, sink := range Config.Publisher.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		if sink.Type == "" {
			return fmt.Errorf("sink %q: type is required", sink.Name)
		}
		if sink.RetryMultiplier != 0 && sink.RetryMultiplier < 1 {
			return fmt.Errorf("sink %q: retry multiplier must be >= 1", sink.Name)
		}
	}

	switch Config.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format: %s", Config.Logging.Format)
	}

	return nil
}

// WALPath returns the path of the write-ahead log directory
func WALPath() string {
	return path.Join(Config.DataDir, "wal")
}

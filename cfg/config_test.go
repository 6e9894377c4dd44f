package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func validTestConfig() *Configuration {
	return &Configuration{
		NodeID:  1,
		DataDir: "./test-data",
		Wire: WireConfiguration{
			BindAddress:    "0.0.0.0",
			Port:           5433,
			MaxConnections: 100,
			MaxFrameMB:     100,
		},
		Storage: StorageConfiguration{
			Engine:          StorageMemory,
			BufferPoolPages: 1024,
			WALBufferBytes:  65536,
		},
		Sharding: ShardingConfiguration{NumShards: 16},
		Sandbox: SandboxConfiguration{
			MaxWallSeconds: 300,
			MaxMemoryMB:    100,
		},
		Planner:     PlannerConfiguration{PlanCacheSize: 128},
		Replication: ReplicationConfiguration{Enabled: true, CompressionLevel: 2},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_InvalidWirePort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []int{-1, 0, 70000}

	for _, port := range tests {
		Config = validTestConfig()
		Config.Wire.Port = port

		if err := Validate(); err == nil {
			t.Errorf("Expected error for invalid wire port %d", port)
		}
	}
}

func TestValidate_UnknownStorageEngine(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Storage.Engine = "papyrus"

	if err := Validate(); err == nil {
		t.Error("Expected error for unknown storage engine")
	}
}

func TestValidate_InvalidShardCount(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Sharding.NumShards = 0

	if err := Validate(); err == nil {
		t.Error("Expected error for zero shards")
	}
}

func TestValidate_InvalidCompressionLevel(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, level := range []int{0, 5, -1} {
		Config = validTestConfig()
		Config.Replication.CompressionLevel = level

		if err := Validate(); err == nil {
			t.Errorf("Expected error for compression level %d", level)
		}
	}
}

func TestValidate_SinkMissingName(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Publisher.Sinks = []SinkConfiguration{{Type: "nats"}}

	if err := Validate(); err == nil {
		t.Error("Expected error for sink without a name")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(os.TempDir(), "minsql-test-load")
	defer os.RemoveAll(tempDir)

	Config = validTestConfig()
	Config.NodeID = 0
	Config.DataDir = tempDir

	// Load non-existent file should use defaults
	if err := Load("non-existent-file.toml"); err != nil {
		t.Errorf("Expected no error for non-existent file, got: %v", err)
	}

	// Node ID should be auto-generated
	if Config.NodeID == 0 {
		t.Error("Expected node ID to be auto-generated")
	}
}

func TestLoad_CreateDataDir(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(os.TempDir(), "minsql-test-data")
	defer os.RemoveAll(tempDir)

	Config = validTestConfig()
	Config.DataDir = tempDir

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("Data directory was not created")
	}
}

func TestGenerateNodeID(t *testing.T) {
	id1, err := generateNodeID()
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if id1 == 0 {
		t.Error("Generated node ID should not be 0")
	}

	// Generate another ID - should be the same (deterministic for machine)
	id2, err := generateNodeID()
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if id1 != id2 {
		t.Error("Node ID should be deterministic for same machine")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(os.TempDir(), "minsql-test-override")
	defer os.RemoveAll(tempDir)

	*DataDirFlag = tempDir
	*NodeIDFlag = 12345
	*PortFlag = 9999

	defer func() {
		*DataDirFlag = ""
		*NodeIDFlag = 0
		*PortFlag = 0
	}()

	Config = validTestConfig()
	Config.NodeID = 0
	Config.DataDir = "./default-data"

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}

	if Config.NodeID != 12345 {
		t.Errorf("Expected node ID 12345, got %d", Config.NodeID)
	}

	if Config.Wire.Port != 9999 {
		t.Errorf("Expected wire port 9999, got %d", Config.Wire.Port)
	}
}

func BenchmarkGenerateNodeID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		generateNodeID()
	}
}

func BenchmarkValidate(b *testing.B) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Validate()
	}
}

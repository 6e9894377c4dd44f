package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"

	"github.com/minsql/minsql/cfg"
	"github.com/minsql/minsql/exec"
	"github.com/minsql/minsql/hlc"
	"github.com/minsql/minsql/httpapi"
	"github.com/minsql/minsql/protocol"
	"github.com/minsql/minsql/publisher"
	_ "github.com/minsql/minsql/publisher/sink"
	"github.com/minsql/minsql/replication"
	"github.com/minsql/minsql/sharding"
	"github.com/minsql/minsql/storage"
	"github.com/minsql/minsql/telemetry"
	"github.com/minsql/minsql/txn"
)

// engineStats feeds the metrics collector
type engineStats struct {
	manager *txn.Manager
	replog  *replication.Log
}

func (s *engineStats) ActiveTransactionCount() int {
	return s.manager.ActiveCount()
}

func (s *engineStats) CommittedLogIndex() uint64 {
	if s.replog == nil {
		return 0
	}
	return s.replog.CommittedLogIndex()
}

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("MinSQL - snapshot-isolated SQL engine")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Phase 1: Storage
	log.Info().Str("engine", string(cfg.Config.Storage.Engine)).Msg("Opening storage")
	adapter, err := storage.New(cfg.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build storage adapter")
		return
	}
	if err := adapter.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
		return
	}
	if err := adapter.Recover(); err != nil {
		log.Fatal().Err(err).Msg("Storage recovery failed")
		return
	}

	// Phase 2: Clock, transactions, execution
	clock := hlc.NewClock(cfg.Config.NodeID)
	manager := txn.NewManager(clock)
	keyspace := sharding.NewKeyspace(cfg.Config.Sharding.NumShards)
	router := sharding.NewRouter(keyspace, cfg.Config.NodeID)
	engine := exec.NewEngine(adapter, manager, router, cfg.Config.Sandbox)

	// Phase 3: Replicated log
	var replog *replication.Log
	if cfg.Config.Replication.Enabled {
		replog = replication.NewLog(cfg.Config.Replication)
		log.Info().Int("compression_level", cfg.Config.Replication.CompressionLevel).Msg("Replicated log enabled")
	}

	// Phase 4: Change publisher
	var registry *publisher.Registry
	if cfg.Config.Publisher.Enabled {
		registry, err = publisher.NewRegistry(cfg.Config.NodeID, cfg.Config.Publisher.Sinks)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize change publisher")
			return
		}
		engine.SetChangeHook(registry.OnChange)
		if err := registry.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start change publisher")
			return
		}
		defer registry.Stop()
	}

	// Phase 5: Metrics collector
	collector := telemetry.NewMetricsCollector(&engineStats{manager: manager, replog: replog}, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	// Phase 6: Servers. The wire protocol and the HTTP surface share one
	// listener through cmux; HTTP traffic peels off first, everything
	// else is the binary protocol.
	address := fmt.Sprintf("%s:%d", cfg.Config.Wire.BindAddress, cfg.Config.Wire.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		log.Fatal().Err(err).Str("address", address).Msg("Failed to listen")
		return
	}

	var recorder protocol.WriteRecorder
	if replog != nil {
		recorder = replog
	}
	wireServer := protocol.NewServer(cfg.Config.Wire, cfg.Config.NodeID, engine, manager, recorder)

	var httpServer *httpapi.Server
	mux := cmux.New(listener)
	if cfg.Config.HTTP.Enabled {
		httpListener := mux.Match(cmux.HTTP1Fast())
		var changeLog *publisher.ChangeLog
		if registry != nil {
			changeLog = registry.Log()
		}
		httpServer = httpapi.NewServer(cfg.Config.NodeID, manager, replog, changeLog)
		httpServer.Serve(httpListener)
	}
	wireServer.Serve(mux.Match(cmux.Any()))

	go func() {
		if err := mux.Serve(); err != nil {
			log.Debug().Err(err).Msg("Listener closed")
		}
	}()

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("address", address).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Node is operational")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	// Stop accepting work, then drain and persist
	wireServer.Stop()
	if httpServer != nil {
		httpServer.Stop()
	}
	mux.Close()

	if err := adapter.Checkpoint(); err != nil {
		log.Warn().Err(err).Msg("Final checkpoint failed")
	}
	if err := adapter.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Storage shutdown failed")
		os.Exit(1)
	}

	log.Info().Msg("Shutdown complete")
}

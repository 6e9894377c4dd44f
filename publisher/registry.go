package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/cfg"
	"github.com/minsql/minsql/common"
)

// Registry owns the change log and the per-sink workers
type Registry struct {
	nodeID  uint64
	log     *ChangeLog
	workers []*Worker
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry builds workers for every configured sink
func NewRegistry(nodeID uint64, sinks []cfg.SinkConfiguration) (*Registry, error) {
	registry := &Registry{
		nodeID:  nodeID,
		log:     NewChangeLog(0),
		workers: make([]*Worker, 0, len(sinks)),
	}

	for _, sinkCfg := range sinks {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			return nil, fmt.Errorf("adding sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().Int("workers", len(registry.workers)).Msg("Change publisher initialized")
	return registry, nil
}

// AddSink creates a worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("creating sink: %w", err)
	}

	enc, err := NewEncoder(config.Format)
	if err != nil {
		snk.Close()
		return err
	}

	filter, err := NewGlobFilter(config.FilterTables)
	if err != nil {
		snk.Close()
		return err
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Encoder:         enc,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return err
	}

	r.workers = append(r.workers, worker)
	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added change sink")
	return nil
}

// Start launches all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	for _, worker := range r.workers {
		worker.Start()
	}
	r.running.Store(true)
	return nil
}

// Stop shuts down all workers and their sinks
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}
	for _, worker := range r.workers {
		worker.Stop()
		worker.config.Sink.Close()
	}
	log.Info().Msg("Change publisher stopped")
}

// Log exposes the change log, for feeds that tail it directly
func (r *Registry) Log() *ChangeLog {
	return r.log
}

// OnChange receives a committed row change from the engine. Matches the
// engine's change hook signature.
func (r *Registry) OnChange(op, table string, shard, xid, rowID uint64, before, after *common.Tuple) {
	event := ChangeEvent{
		Xid:       xid,
		Table:     table,
		Operation: operationCode(op),
		Shard:     shard,
		RowID:     rowID,
		Timestamp: time.Now().UnixNano(),
		NodeID:    r.nodeID,
	}
	if before != nil {
		event.Before = before.CanonicalJSON()
	}
	if after != nil {
		event.After = after.CanonicalJSON()
	}

	r.log.Append([]ChangeEvent{event})
}

func operationCode(op string) uint8 {
	switch op {
	case "insert":
		return OpInsert
	case "update":
		return OpUpdate
	case "delete":
		return OpDelete
	}
	return OpInsert
}

// SinkFactory creates a Sink from its configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type name
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

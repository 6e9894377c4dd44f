package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/telemetry"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultMaxRetries      = 100
)

// WorkerConfig configures one sink worker
type WorkerConfig struct {
	Name            string
	Log             *ChangeLog
	Sink            Sink
	Encoder         Encoder
	Filter          Filter
	TopicPrefix     string
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int
}

// Worker polls the change log and publishes events to its sink.
// Delivery is at least once: events publish first, the cursor advances
// after.
type Worker struct {
	config      WorkerConfig
	cursor      uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker validates the config and creates a worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Log == nil {
		return nil, fmt.Errorf("change log is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Worker{
		config: config,
		cursor: config.Log.Cursor(config.Name),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the poll loop
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Uint64("cursor", w.cursor).
		Msg("Starting sink worker")

	go w.pollLoop()
}

// Stop shuts the worker down and waits for it to finish
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("Sink worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		events := w.config.Log.ReadFrom(w.cursor, w.config.BatchSize)
		if len(events) == 0 {
			if !w.sleep(w.config.PollInterval) {
				return
			}
			continue
		}

		for _, event := range events {
			if err := w.processEvent(event); err != nil {
				log.Error().
					Err(err).
					Str("worker", w.config.Name).
					Uint64("seq", event.Seq).
					Msg("Failed to publish event, stopping worker")
				return
			}
			w.cursor = event.Seq
		}
	}
}

func (w *Worker) processEvent(event ChangeEvent) error {
	if !w.config.Filter.Match(event.Table) {
		return w.config.Log.AdvanceCursor(w.config.Name, event.Seq)
	}

	data, err := w.config.Encoder.Encode(event)
	if err != nil {
		return fmt.Errorf("encoding event %d: %w", event.Seq, err)
	}

	topic := w.buildTopic(event.Table)
	key := fmt.Sprintf("%s/%016x", event.Table, event.RowID)

	start := time.Now()
	if err := w.publishWithRetry(topic, key, data); err != nil {
		return err
	}
	// Tombstone after a delete, so compacted topics drop the key
	if event.Operation == OpDelete {
		if err := w.publishWithRetry(topic, key, nil); err != nil {
			return err
		}
	}
	telemetry.SinkPublishSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())

	if err := w.config.Log.AdvanceCursor(w.config.Name, event.Seq); err != nil {
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Uint64("seq", event.Seq).
			Msg("Failed to advance cursor, event may be redelivered")
	}
	return nil
}

func (w *Worker) buildTopic(table string) string {
	if w.config.TopicPrefix == "" {
		return table
	}
	return w.config.TopicPrefix + "." + table
}

// publishWithRetry publishes with exponential backoff until success,
// exhaustion, or worker stop.
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		telemetry.SinkRetriesTotal.With(w.config.Name).Inc()
		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted %d retries for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Publish failed, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}
		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep waits for the duration unless the worker is stopped first
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/jizhuozhi/go-future"

	"github.com/minsql/minsql/telemetry"
)

// Group commit defaults
const (
	batchMaxSize     = 100
	batchChannelSize = 1000
)

type batchOp struct {
	fn      func(b *pebble.Batch) error
	promise *future.Promise[struct{}]
}

// groupCommitter coalesces writes into shared Pebble batches. Each batch
// commits without sync; durability comes from the engine's explicit
// WALFlush, which syncs everything committed so far in one fsync.
type groupCommitter struct {
	db      *pebble.DB
	ch      chan *batchOp
	maxWait time.Duration

	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup

	sinceSync atomic.Uint64
}

func newGroupCommitter(db *pebble.DB, maxWait time.Duration) *groupCommitter {
	gc := &groupCommitter{
		db:      db,
		ch:      make(chan *batchOp, batchChannelSize),
		maxWait: maxWait,
		stopCh:  make(chan struct{}),
	}
	gc.wg.Add(1)
	go gc.writeLoop()
	return gc
}

// Enqueue schedules fn into the next shared batch and returns a future
// that resolves when the batch has committed
func (gc *groupCommitter) Enqueue(fn func(b *pebble.Batch) error) *future.Future[struct{}] {
	p := future.NewPromise[struct{}]()
	gc.ch <- &batchOp{fn: fn, promise: p}
	return p.Future()
}

// Sync forces an fsync of everything committed so far. LogData with the
// sync option rides the WAL without adding a record payload.
func (gc *groupCommitter) Sync() error {
	start := time.Now()
	err := gc.db.LogData(nil, pebble.Sync)
	telemetry.WALFlushBatchSize.Observe(float64(gc.sinceSync.Swap(0)))
	telemetry.WALFlushSeconds.Observe(time.Since(start).Seconds())
	return err
}

func (gc *groupCommitter) Stop() {
	if !gc.stopped.CompareAndSwap(false, true) {
		return
	}
	close(gc.stopCh)
	gc.wg.Wait()
}

func (gc *groupCommitter) writeLoop() {
	defer gc.wg.Done()

	ops := make([]*batchOp, 0, batchMaxSize)
	timer := time.NewTimer(gc.maxWait)
	timer.Stop()
	timerRunning := false

	flush := func() {
		if len(ops) == 0 {
			return
		}

		batch := gc.db.NewBatch()
		failed := make(map[*batchOp]error)
		for _, op := range ops {
			if err := op.fn(batch); err != nil {
				failed[op] = err
			}
		}

		commitErr := batch.Commit(pebble.NoSync)
		_ = batch.Close()

		for _, op := range ops {
			if err, ok := failed[op]; ok {
				op.promise.Set(struct{}{}, err)
			} else {
				op.promise.Set(struct{}{}, commitErr)
			}
		}

		gc.sinceSync.Add(uint64(len(ops)))
		ops = ops[:0]
		if timerRunning {
			timer.Stop()
			timerRunning = false
		}
	}

	for {
		select {
		case op := <-gc.ch:
			ops = append(ops, op)
			if len(ops) >= batchMaxSize {
				flush()
			} else if !timerRunning {
				timer.Reset(gc.maxWait)
				timerRunning = true
			}

		case <-timer.C:
			timerRunning = false
			flush()

		case <-gc.stopCh:
			for {
				select {
				case op := <-gc.ch:
					ops = append(ops, op)
				default:
					flush()
					return
				}
			}
		}
	}
}

package publisher

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/minsql/minsql/common"
)

type published struct {
	topic string
	key   string
	value []byte
}

// mockSink records publishes and can fail a configured number of times
type mockSink struct {
	mu        sync.Mutex
	messages  []published
	failures  int
	published chan struct{}
}

func newMockSink() *mockSink {
	return &mockSink{published: make(chan struct{}, 100)}
}

func (m *mockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return fmt.Errorf("transient sink failure")
	}
	m.messages = append(m.messages, published{topic: topic, key: key, value: value})
	m.published <- struct{}{}
	return nil
}

func (m *mockSink) Close() error { return nil }

func (m *mockSink) snapshot() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

func startWorker(t *testing.T, log *ChangeLog, snk Sink, filter Filter) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerConfig{
		Name:         "test",
		Log:          log,
		Sink:         snk,
		Encoder:      JSONEncoder{},
		Filter:       filter,
		TopicPrefix:  "changes",
		PollInterval: 5 * time.Millisecond,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func await(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for publish %d of %d", i+1, n)
		}
	}
}

func matchAll(t *testing.T) Filter {
	t.Helper()
	f, err := NewGlobFilter(nil)
	if err != nil {
		t.Fatalf("NewGlobFilter failed: %v", err)
	}
	return f
}

func TestWorker_PublishesEvents(t *testing.T) {
	changeLog := NewChangeLog(0)
	snk := newMockSink()
	startWorker(t, changeLog, snk, matchAll(t))

	changeLog.Append([]ChangeEvent{{
		Xid:       7,
		Table:     "users",
		Operation: OpInsert,
		RowID:     1,
		After:     `{"id":1}`,
	}})
	await(t, snk.published, 1)

	msgs := snk.snapshot()
	if msgs[0].topic != "changes.users" {
		t.Errorf("Topic = %q", msgs[0].topic)
	}
	var event ChangeEvent
	if err := json.Unmarshal(msgs[0].value, &event); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if event.Xid != 7 || event.After != `{"id":1}` {
		t.Errorf("Event = %+v", event)
	}
	if changeLog.Cursor("test") != 1 {
		t.Errorf("Cursor = %d, want 1", changeLog.Cursor("test"))
	}
}

func TestWorker_DeleteSendsTombstone(t *testing.T) {
	changeLog := NewChangeLog(0)
	snk := newMockSink()
	startWorker(t, changeLog, snk, matchAll(t))

	changeLog.Append([]ChangeEvent{{Table: "users", Operation: OpDelete, RowID: 3, Before: `{"id":3}`}})
	await(t, snk.published, 2)

	msgs := snk.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("Expected event plus tombstone, got %d messages", len(msgs))
	}
	if msgs[1].value != nil {
		t.Error("Tombstone should have a nil value")
	}
	if msgs[0].key != msgs[1].key {
		t.Error("Tombstone must reuse the event key")
	}
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	changeLog := NewChangeLog(0)
	snk := newMockSink()
	snk.failures = 3
	startWorker(t, changeLog, snk, matchAll(t))

	changeLog.Append([]ChangeEvent{{Table: "users", Operation: OpInsert, RowID: 1}})
	await(t, snk.published, 1)

	if len(snk.snapshot()) != 1 {
		t.Error("Event should be delivered after transient failures")
	}
}

func TestWorker_FilteredEventsAdvanceCursor(t *testing.T) {
	changeLog := NewChangeLog(0)
	snk := newMockSink()
	filter, err := NewGlobFilter([]string{"users"})
	if err != nil {
		t.Fatalf("NewGlobFilter failed: %v", err)
	}
	startWorker(t, changeLog, snk, filter)

	changeLog.Append([]ChangeEvent{
		{Table: "internal_audit", Operation: OpInsert, RowID: 1},
		{Table: "users", Operation: OpInsert, RowID: 2},
	})
	await(t, snk.published, 1)

	msgs := snk.snapshot()
	if len(msgs) != 1 || msgs[0].topic != "changes.users" {
		t.Errorf("Only the users event should publish, got %v", msgs)
	}
	if changeLog.Cursor("test") != 2 {
		t.Errorf("Cursor = %d, want 2", changeLog.Cursor("test"))
	}
}

func TestRegistry_OnChangeAppendsEvent(t *testing.T) {
	r := &Registry{nodeID: 9, log: NewChangeLog(0)}

	after := common.NewTuple()
	after.Set("id", common.Int(1))
	r.OnChange("insert", "users", 4, 11, 1, nil, after)

	events := r.log.ReadFrom(0, 10)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Table != "users" || e.Xid != 11 || e.Shard != 4 || e.NodeID != 9 {
		t.Errorf("Event = %+v", e)
	}
	if e.Operation != OpInsert {
		t.Errorf("Operation = %d", e.Operation)
	}
	if e.After == "" || e.Before != "" {
		t.Errorf("Payloads: before=%q after=%q", e.Before, e.After)
	}
}

package replication

import (
	"bytes"
	"errors"
	"testing"

	"github.com/minsql/minsql/cfg"
)

func newTestLog() *Log {
	return NewLog(cfg.ReplicationConfiguration{Enabled: true, CompressionLevel: 1})
}

func TestLog_AppendAssignsIncreasingIndexes(t *testing.T) {
	l := newTestLog()

	i1, err := l.Append(EntryWrite, []byte("first"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	i2, err := l.Append(EntryWrite, []byte("second"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if i1 != 1 || i2 != 2 {
		t.Errorf("Indexes = %d, %d; want 1, 2", i1, i2)
	}
	if l.LastIndex() != 2 {
		t.Errorf("LastIndex = %d, want 2", l.LastIndex())
	}
	if l.LastTerm() != 1 {
		t.Errorf("LastTerm = %d, want 1", l.LastTerm())
	}
	if l.CommittedLogIndex() != 2 {
		t.Errorf("CommittedLogIndex = %d, want 2", l.CommittedLogIndex())
	}
}

func TestLog_PayloadRoundTrip(t *testing.T) {
	l := newTestLog()

	payload := bytes.Repeat([]byte("insert into t (id) values (1); "), 50)
	index, err := l.Append(EntryWrite, payload)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entry, ok := l.Entry(index)
	if !ok {
		t.Fatal("Entry not found")
	}
	if len(entry.Data) >= len(payload) {
		t.Errorf("Repetitive payload should compress: %d >= %d", len(entry.Data), len(payload))
	}

	got, err := l.Payload(entry)
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Round-tripped payload differs")
	}
}

func TestLog_CompressionDisabled(t *testing.T) {
	l := NewLog(cfg.ReplicationConfiguration{Enabled: true, CompressionLevel: 0})

	payload := []byte("raw payload")
	index, err := l.Append(EntryWrite, payload)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	entry, _ := l.Entry(index)
	if !bytes.Equal(entry.Data, payload) {
		t.Error("Disabled compression should store the payload unchanged")
	}
	got, err := l.Payload(entry)
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("Payload = %q, %v", got, err)
	}
}

func TestLog_RecordWriteRoundTrip(t *testing.T) {
	l := newTestLog()

	if err := l.RecordWrite(42, "insert into t (id) values (1)"); err != nil {
		t.Fatalf("RecordWrite failed: %v", err)
	}

	entry, ok := l.Entry(1)
	if !ok {
		t.Fatal("Entry not found")
	}
	rec, err := l.DecodeWrite(entry)
	if err != nil {
		t.Fatalf("DecodeWrite failed: %v", err)
	}
	if rec.Xid != 42 || rec.Source != "insert into t (id) values (1)" {
		t.Errorf("Record = %+v", rec)
	}
}

func TestLog_DecodeWriteRejectsOtherTypes(t *testing.T) {
	l := newTestLog()
	index, _ := l.Append(EntryConfig, []byte("{}"))

	entry, _ := l.Entry(index)
	if _, err := l.DecodeWrite(entry); err == nil {
		t.Error("DecodeWrite should reject non-write entries")
	}
}

func TestLog_EntryOutOfRange(t *testing.T) {
	l := newTestLog()
	l.Append(EntryWrite, []byte("x"))

	if _, ok := l.Entry(0); ok {
		t.Error("Index 0 should not resolve")
	}
	if _, ok := l.Entry(2); ok {
		t.Error("Index past the end should not resolve")
	}
}

func TestLog_TruncateRefusesCommitted(t *testing.T) {
	l := newTestLog()
	l.Append(EntryWrite, []byte("x"))

	err := l.TruncateFrom(1)
	var logErr *LogError
	if !errors.As(err, &logErr) {
		t.Errorf("Expected LogError truncating a committed entry, got %v", err)
	}
}

func TestLog_Replay(t *testing.T) {
	l := newTestLog()
	l.RecordWrite(1, "create table t (id int primary key)")
	l.RecordWrite(2, "insert into t (id) values (1)")
	l.RecordWrite(3, "insert into t (id) values (2)")

	var sources []string
	err := l.Replay(2, func(entry *LogEntry, payload []byte) error {
		rec, err := l.DecodeWrite(entry)
		if err != nil {
			return err
		}
		sources = append(sources, rec.Source)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(sources) != 2 || sources[0] != "insert into t (id) values (1)" {
		t.Errorf("Replayed = %v", sources)
	}
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minsql/minsql/cfg"
	"github.com/minsql/minsql/hlc"
	"github.com/minsql/minsql/publisher"
	"github.com/minsql/minsql/replication"
	"github.com/minsql/minsql/txn"
)

func newTestServer(t *testing.T) (*Server, *publisher.ChangeLog, *replication.Log) {
	t.Helper()
	manager := txn.NewManager(hlc.NewClock(1))
	replog := replication.NewLog(cfg.ReplicationConfiguration{Enabled: true, CompressionLevel: 1})
	changeLog := publisher.NewChangeLog(0)
	return NewServer(1, manager, replog, changeLog), changeLog, replog
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Response = %v", resp)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, changeLog, replog := newTestServer(t)
	replog.RecordWrite(1, "create table t (id int primary key)")
	changeLog.Append([]publisher.ChangeEvent{{Table: "t"}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if resp["log_committed_index"].(float64) != 1 {
		t.Errorf("log_committed_index = %v", resp["log_committed_index"])
	}
	if resp["change_log_last_seq"].(float64) != 1 {
		t.Errorf("change_log_last_seq = %v", resp["change_log_last_seq"])
	}
}

func TestLogEntryEndpoint(t *testing.T) {
	s, _, replog := newTestServer(t)
	replog.RecordWrite(42, "insert into t (id) values (1)")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/log/entry/1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["type"] != "write" || resp["xid"].(float64) != 42 {
		t.Errorf("Response = %v", resp)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/log/entry/99", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Missing entry status = %d", rec.Code)
	}
}

func TestMetricsEndpointWithoutPrometheus(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Prometheus is not initialized in tests, so the route 404s rather
	// than panicking
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestChangeFeed(t *testing.T) {
	s, changeLog, _ := newTestServer(t)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/changes"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	changeLog.Append([]publisher.ChangeEvent{{
		Table:     "users",
		Operation: publisher.OpInsert,
		Xid:       5,
		After:     `{"id":1}`,
	}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event publisher.ChangeEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if event.Table != "users" || event.Xid != 5 || event.Seq != 1 {
		t.Errorf("Event = %+v", event)
	}
}

func TestChangeFeedResume(t *testing.T) {
	s, changeLog, _ := newTestServer(t)
	changeLog.Append([]publisher.ChangeEvent{
		{Table: "a"},
		{Table: "b"},
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/changes?from=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event publisher.ChangeEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if event.Seq != 2 || event.Table != "b" {
		t.Errorf("Resumed event = %+v", event)
	}
}

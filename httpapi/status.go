package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/minsql/minsql/replication"
)

type healthResponse struct {
	Status string `json:"status"`
	NodeID uint64 `json:"node_id"`
}

type statusResponse struct {
	NodeID             uint64 `json:"node_id"`
	ActiveTransactions int    `json:"active_transactions"`
	LogLastIndex       uint64 `json:"log_last_index"`
	LogCommittedIndex  uint64 `json:"log_committed_index"`
	ChangeLogLastSeq   uint64 `json:"change_log_last_seq,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", NodeID: s.nodeID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		NodeID:             s.nodeID,
		ActiveTransactions: s.manager.ActiveCount(),
	}
	if s.replog != nil {
		resp.LogLastIndex = s.replog.LastIndex()
		resp.LogCommittedIndex = s.replog.CommittedLogIndex()
	}
	if s.changeLog != nil {
		resp.ChangeLogLastSeq = s.changeLog.LastSeq()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogLast(w http.ResponseWriter, r *http.Request) {
	if s.replog == nil {
		writeError(w, http.StatusNotFound, "replication log disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"last_index":      s.replog.LastIndex(),
		"last_term":       s.replog.LastTerm(),
		"committed_index": s.replog.CommittedLogIndex(),
	})
}

func (s *Server) handleLogEntry(w http.ResponseWriter, r *http.Request) {
	if s.replog == nil {
		writeError(w, http.StatusNotFound, "replication log disabled")
		return
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	entry, ok := s.replog.Entry(index)
	if !ok {
		writeError(w, http.StatusNotFound, "no such entry")
		return
	}

	resp := map[string]interface{}{
		"term":  entry.Term,
		"index": entry.Index,
		"type":  entry.Type.String(),
	}
	if entry.Type == replication.EntryWrite {
		if rec, err := s.replog.DecodeWrite(entry); err == nil {
			resp["xid"] = rec.Xid
			resp["source"] = rec.Source
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

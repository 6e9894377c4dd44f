// Package httpapi serves the node's HTTP surface: Prometheus metrics,
// health and status endpoints, replicated log inspection, and the
// websocket change feed.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/publisher"
	"github.com/minsql/minsql/replication"
	"github.com/minsql/minsql/telemetry"
	"github.com/minsql/minsql/txn"
)

// Server is the HTTP API server
type Server struct {
	nodeID    uint64
	manager   *txn.Manager
	replog    *replication.Log
	changeLog *publisher.ChangeLog

	httpServer *http.Server
}

// NewServer builds the HTTP API. The change log may be nil when the
// publisher is disabled; the feed endpoint then reports 404.
func NewServer(nodeID uint64, manager *txn.Manager, replog *replication.Log, changeLog *publisher.ChangeLog) *Server {
	s := &Server{
		nodeID:    nodeID,
		manager:   manager,
		replog:    replog,
		changeLog: changeLog,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if h := telemetry.GetMetricsHandler(); h != nil {
		r.Handle("/metrics", h)
	} else {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "metrics disabled")
		})
	}
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/log/last", s.handleLogLast)
	r.Get("/log/entry/{index}", s.handleLogEntry)
	r.Get("/changes", s.handleChanges)

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve runs the HTTP server on the given listener until Stop
func (s *Server) Serve(listener net.Listener) {
	log.Info().Str("address", listener.Addr().String()).Msg("HTTP API listening")
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()
}

// Stop shuts the HTTP server down gracefully
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
}

// Handler exposes the router, for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

package protocol

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/cfg"
	"github.com/minsql/minsql/encoding"
	"github.com/minsql/minsql/exec"
	"github.com/minsql/minsql/planner"
	"github.com/minsql/minsql/telemetry"
	"github.com/minsql/minsql/txn"
)

// Server accepts wire protocol connections and runs one session per
// connection.
type Server struct {
	address  string
	nodeID   uint32
	engine   *exec.Engine
	manager  *txn.Manager
	recorder WriteRecorder
	plans    *planner.PlanCache

	maxFrameBytes uint32
	maxConns      int64

	listener    net.Listener
	quit        chan struct{}
	wg          sync.WaitGroup
	connIDGen   atomic.Uint64
	activeConns atomic.Int64
}

// NewServer creates a wire protocol server
func NewServer(conf cfg.WireConfiguration, nodeID uint64, engine *exec.Engine, manager *txn.Manager, recorder WriteRecorder) *Server {
	plans, err := planner.NewPlanCache(cfg.Config.Planner.PlanCacheSize)
	if err != nil {
		log.Warn().Err(err).Msg("Plan cache disabled")
		plans = nil
	}
	return &Server{
		address:       fmt.Sprintf("%s:%d", conf.BindAddress, conf.Port),
		nodeID:        uint32(nodeID),
		engine:        engine,
		manager:       manager,
		recorder:      recorder,
		plans:         plans,
		maxFrameBytes: uint32(conf.MaxFrameMB) * 1024 * 1024,
		maxConns:      int64(conf.MaxConnections),
		quit:          make(chan struct{}),
	}
}

// Start opens the configured address and begins accepting connections
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.Serve(listener)
	return nil
}

// Serve accepts connections from an externally created listener. Used
// when the listener is shared through a connection multiplexer.
func (s *Server) Serve(listener net.Listener) {
	s.listener = listener
	log.Info().Str("address", listener.Addr().String()).Msg("Wire protocol server listening")

	s.wg.Add(1)
	go s.acceptLoop()
}

// Addr returns the bound listener address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for in-flight connections
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	log.Info().Msg("Wire protocol server stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Error().Err(err).Msg("Accept failed")
				continue
			}
		}

		if s.activeConns.Load() >= s.maxConns {
			log.Warn().
				Str("remote", conn.RemoteAddr().String()).
				Int64("limit", s.maxConns).
				Msg("Connection limit reached, rejecting")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.activeConns.Add(1)
	telemetry.WireConnections.Inc()
	defer func() {
		s.activeConns.Add(-1)
		telemetry.WireConnections.Dec()
	}()

	connID := s.connIDGen.Add(1)
	logger := log.With().Uint64("conn_id", connID).Str("remote", conn.RemoteAddr().String()).Logger()

	hello, err := ReadClientHello(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("Handshake failed")
		return
	}
	if err := WriteServerHello(conn, s.nodeID); err != nil {
		logger.Warn().Err(err).Msg("Writing handshake response failed")
		return
	}

	session := NewSession(connID, s.engine, s.manager, s.recorder, s.plans)
	defer session.Close()

	logger.Debug().Str("client", hello.ClientName).Msg("Connection established")

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		frame, err := ReadFrame(conn, s.maxFrameBytes)
		if err != nil {
			if err == io.EOF {
				logger.Debug().Msg("Client disconnected")
				return
			}
			s.writeError(conn, err, logger)
			return
		}

		if frame.Type != FrameQuery && frame.Type != FrameExecute {
			s.writeError(conn, &ProtocolError{Message: fmt.Sprintf("unexpected frame type %d", frame.Type)}, logger)
			return
		}

		req, err := DecodeQueryRequest(frame.Payload)
		if err != nil {
			s.writeError(conn, err, logger)
			return
		}

		resp, fatalErr := session.Execute(req.Source)
		if resp != nil {
			if err := WriteFrame(conn, resp.Type, resp.Payload); err != nil {
				logger.Warn().Err(err).Msg("Writing response failed")
				return
			}
		}
		if fatalErr != nil {
			logger.Warn().Err(fatalErr).Msg("Closing connection")
			return
		}
	}
}

// writeError reports an error on a best-effort basis before the
// connection is dropped.
func (s *Server) writeError(conn net.Conn, err error, logger zerolog.Logger) {
	logger.Warn().Err(err).Msg("Connection failed")
	resp, _ := MapError(err)
	payload, encErr := encoding.Marshal(resp)
	if encErr != nil {
		return
	}
	_ = WriteFrame(conn, FrameError, payload)
}

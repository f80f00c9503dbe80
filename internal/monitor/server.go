// Package monitor exposes a running engine over a read-only HTTP surface.
// Everything the API serves comes from the engine's exposed capabilities;
// the monitor holds no state of its own.
package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/reconcile"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

// EngineView is the slice of the engine the monitor serves. engine.Engine
// satisfies it.
type EngineView interface {
	CurrentState() (types.EngineState, error)
	CycleHistory(filter types.CycleFilter) func(yield func(types.CycleRecord, error) bool)
	ForceReconciliation(ctx context.Context) (reconcile.Report, error)
	Statistics() (types.ExecutionStats, error)
}

// Server serves the monitor API. Reconciliation is the only mutating route;
// it delegates to the engine, which owns all locking.
type Server struct {
	engine EngineView
	logger *logger.Logger

	httpServer *http.Server
	listener   net.Listener

	upgrader websocket.Upgrader
	wsMu     sync.Mutex
	wsConns  map[*websocket.Conn]bool
}

// NewServer creates a monitor over the given engine.
func NewServer(engine EngineView, log *logger.Logger) *Server {
	return &Server{
		engine:     engine,
		logger:     log,
		httpServer: nil,
		listener:   nil,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		wsMu:    sync.Mutex{},
		wsConns: make(map[*websocket.Conn]bool),
	}
}

// Router builds the API routes. Exposed so tests can drive handlers through
// httptest without binding a port.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/v1/state", s.handleState).Methods("GET")
	router.HandleFunc("/api/v1/cycles", s.handleCycles).Methods("GET")
	router.HandleFunc("/api/v1/statistics", s.handleStatistics).Methods("GET")
	router.HandleFunc("/api/v1/reconcile", s.handleReconcile).Methods("POST")
	router.HandleFunc("/ws", s.handleStream)

	return router
}

// Start listens on the given address and serves in the background.
// If address is ":0", a random available port is used.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidParameter, err, "failed to listen on %s", address)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Monitor server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("Monitor listening", zap.String("address", s.Address()))

	return nil
}

// Stop shuts the server down, closing stream clients and draining in-flight
// requests.
func (s *Server) Stop() error {
	s.wsMu.Lock()
	for conn := range s.wsConns {
		conn.Close()
	}

	s.wsConns = make(map[*websocket.Conn]bool)
	s.wsMu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// Address returns the address the server is listening on, empty before Start.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleState handles GET /api/v1/state
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state, err := s.engine.CurrentState()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, state)
}

// handleCycles handles GET /api/v1/cycles
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCycleFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	records := []types.CycleRecord{}
	for record, iterErr := range s.engine.CycleHistory(filter) {
		if iterErr != nil {
			s.writeError(w, iterErr)
			return
		}

		records = append(records, record)
	}

	s.writeJSON(w, http.StatusOK, records)
}

// handleStatistics handles GET /api/v1/statistics
func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.engine.Statistics()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// handleReconcile handles POST /api/v1/reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ForceReconciliation(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// parseCycleFilter reads the after, status and limit query parameters.
func parseCycleFilter(r *http.Request) (types.CycleFilter, error) {
	filter := types.CycleFilter{
		AfterNumber: 0,
		Status:      optional.None[types.CycleStatus](),
		Limit:       0,
	}

	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid after parameter %q", raw)
		}

		filter.AfterNumber = after
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid limit parameter %q", raw)
		}

		filter.Limit = limit
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := types.CycleStatus(raw)
		switch status {
		case types.CycleStatusComplete, types.CycleStatusPartial, types.CycleStatusEmpty:
			filter.Status = optional.Some(status)
		default:
			return filter, errors.Newf(errors.ErrCodeInvalidParameter, "unknown cycle status %q", raw)
		}
	}

	return filter, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.HasCode(err, errors.ErrCodeInvalidParameter):
		status = http.StatusBadRequest
	case errors.HasCode(err, errors.ErrCodeEngineNotInitialized):
		status = http.StatusServiceUnavailable
	}

	s.logger.Warn("Monitor request failed", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode monitor response", zap.Error(err))
	}
}

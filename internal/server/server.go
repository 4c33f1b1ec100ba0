// Package server exposes the pool over HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/logging"
	"github.com/firefly-engineering/browserpool/internal/pool"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second

	// maxTimeoutSeconds bounds timeout_seconds before it becomes a Duration.
	maxTimeoutSeconds = int(pool.MaxTimeout / time.Second)
)

// Pool is the subset of the allocator the server calls into.
type Pool interface {
	Allocate(ctx context.Context, req pool.AllocateRequest) (instance.Lease, error)
	Release(ctx context.Context, instanceID, agentID string) error
	Status(ctx context.Context, instanceID string) (instance.Slot, error)
	List(ctx context.Context) ([]instance.Slot, error)
	Heartbeat(ctx context.Context, instanceID, agentID string) error
	Capacity() int
}

// Server serves the pool API.
type Server struct {
	addr           string
	pool           Pool
	metrics        http.Handler
	streamInterval time.Duration
	now            func() time.Time
	handler        http.Handler

	quit     chan struct{}
	quitOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithStreamInterval sets how often /stream emits a snapshot.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		s.streamInterval = d
	}
}

// WithClock replaces time.Now for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a server for p that will listen on addr.
func New(addr string, p Pool, opts ...Option) *Server {
	s := &Server{
		addr:           addr,
		pool:           p,
		streamInterval: 5 * time.Second,
		now:            time.Now,
		quit:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /instance/allocate", s.handleAllocate)
	mux.HandleFunc("POST /instance/{id}/release", s.handleRelease)
	mux.HandleFunc("POST /instance/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /instance/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /instances", s.handleList)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	s.handler = logRequests(mux)
	return s
}

// Handler returns the root handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Open streams are closed; in-flight requests get
// shutdownTimeout to complete.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("pool server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.closeStreams()
		return err
	case <-ctx.Done():
	}

	logging.Info("pool server shutting down")
	s.closeStreams()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) closeStreams() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var body AllocateRequest
	if err := decodeBody(w, r, &body, true); err != nil {
		writeError(w, r, err)
		return
	}

	req := pool.AllocateRequest{
		AgentID: body.AgentID,
		URL:     body.URL,
	}
	seconds := body.TimeoutSeconds
	if seconds == 0 {
		seconds = body.Timeout
	}
	if seconds < 0 {
		writeError(w, r, poolerrors.ValidationError(fmt.Sprintf("timeout_seconds must be positive, got %d", seconds)))
		return
	}
	if seconds > maxTimeoutSeconds {
		writeError(w, r, poolerrors.ValidationError(fmt.Sprintf("timeout_seconds must be at most %d, got %d", maxTimeoutSeconds, seconds)))
		return
	}
	req.Timeout = time.Duration(seconds) * time.Second
	if body.Mode != "" {
		mode, err := instance.ParseMode(body.Mode)
		if err != nil {
			writeError(w, r, poolerrors.ValidationError(err.Error()))
			return
		}
		req.Mode = mode
	}

	lease, err := s.pool.Allocate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body AgentRequest
	if err := decodeBody(w, r, &body, false); err != nil {
		writeError(w, r, err)
		return
	}
	agentID := body.AgentID
	if agentID == "" {
		agentID = r.URL.Query().Get("agent_id")
	}

	if err := s.pool.Release(r.Context(), id, agentID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{Status: "released", InstanceID: id})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body AgentRequest
	if err := decodeBody(w, r, &body, false); err != nil {
		writeError(w, r, err)
		return
	}
	agentID := body.AgentID
	if agentID == "" {
		agentID = r.URL.Query().Get("agent_id")
	}

	if err := s.pool.Heartbeat(r.Context(), id, agentID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{Status: "ok", InstanceID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	slot, err := s.pool.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	slots, err := s.pool.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Instances: nonNil(slots)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC(),
		Capacity:  s.pool.Capacity(),
	})
}

// handleStream writes a full snapshot as one NDJSON line right away and
// then every streamInterval until the client goes away or the server
// shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Streams outlive any write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	send := func() bool {
		slots, err := s.pool.List(r.Context())
		if err != nil {
			logging.Warn("stream snapshot failed", "error", err)
			return r.Context().Err() == nil
		}
		update := StatusUpdate{
			Type:      StatusUpdateType,
			Timestamp: s.now().UTC(),
			Instances: nonNil(slots),
		}
		if err := enc.Encode(update); err != nil {
			logging.Debug("stream client gone", "remote", r.RemoteAddr, "error", err)
			return false
		}
		if err := rc.Flush(); err != nil {
			logging.Debug("stream flush failed", "remote", r.RemoteAddr, "error", err)
			return false
		}
		return true
	}

	logging.Debug("stream opened", "remote", r.RemoteAddr)
	if !send() {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			logging.Debug("stream closed", "remote", r.RemoteAddr)
			return
		case <-s.quit:
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

// decodeBody reads a JSON body into v. An empty body is accepted unless
// required is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, required bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		if required {
			return poolerrors.ValidationError("request body is required")
		}
		return nil
	default:
		return poolerrors.ValidationError(fmt.Sprintf("invalid request body: %v", err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := poolerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Warn("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{
		Type:    string(poolerrors.KindOf(err)),
		Message: err.Error(),
	}})
}

func nonNil(slots []instance.Slot) []instance.Slot {
	if slots == nil {
		return []instance.Slot{}
	}
	return slots
}

// loggingResponseWriter captures the status code for request logs.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lw, r)
		logging.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

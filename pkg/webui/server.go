// Package webui serves the HTTP API and the websocket event stream.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/components"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/monitor"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/store"
)

// Runner starts and executes generation runs.
type Runner interface {
	Start(ctx context.Context, req orchestration.StartRequest) (types.Run, error)
	Execute(ctx context.Context, req orchestration.StartRequest) (*orchestration.Result, error)
	ActiveRuns() []types.Run
	MaxRetries() int
	TopK() int
}

// EventSource hands out project subscriptions.
type EventSource interface {
	Subscribe(projectID string) *events.Subscription
}

// BuildMonitor accepts build reports.
type BuildMonitor interface {
	Report(ctx context.Context, projectID string, status monitor.Status, errs []string) error
	Restart(projectID string)
	Snapshot(projectID string) monitor.Snapshot
}

// ProjectStore reads durable project state.
type ProjectStore interface {
	Files(ctx context.Context, projectID string) ([]store.File, error)
	Runs(ctx context.Context, projectID string, limit int) ([]store.RunRecord, error)
}

// Corpus reports on the reference index.
type Corpus interface {
	Size() int
	Operational() bool
}

// Dependencies are the services the server exposes. Store, Corpus and
// Metrics are optional.
type Dependencies struct {
	Runner    Runner
	Events    EventSource
	Monitor   BuildMonitor
	Store     ProjectStore
	Corpus    Corpus
	AllowList *components.AllowList
	Metrics   http.Handler
}

// ConnectionInfo stores metadata about a websocket connection.
type ConnectionInfo struct {
	ProjectID   string
	RemoteAddr  string
	ConnectedAt time.Time
}

// Server is the HTTP front end.
type Server struct {
	addr     string
	deps     Dependencies
	origins  map[string]bool
	logger   *zap.Logger
	upgrader websocket.Upgrader

	connections sync.Map // map[*SafeConn]*ConnectionInfo
	startTime   time.Time

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a server listening on addr once started.
func NewServer(addr string, deps Dependencies, allowedOrigins []string, logger *zap.Logger) (*Server, error) {
	if deps.Runner == nil || deps.Events == nil || deps.Monitor == nil {
		return nil, errors.New("webui: runner, events and monitor are required")
	}
	if deps.AllowList == nil {
		deps.AllowList = components.DefaultAllowList()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:      addr,
		deps:      deps,
		origins:   make(map[string]bool, len(allowedOrigins)),
		logger:    logger,
		startTime: time.Now(),
	}
	for _, o := range allowedOrigins {
		s.origins[strings.TrimSuffix(strings.TrimSpace(o), "/")] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// checkOrigin admits same-origin and non-browser clients, configured
// origins, and loopback origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.origins[origin] || s.origins["*"] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/projects/{id}/build", s.handleBuildReport)
	mux.HandleFunc("POST /api/projects/{id}/restart", s.handleRestart)
	mux.HandleFunc("GET /api/projects/{id}/health", s.handleHealthSnapshot)
	mux.HandleFunc("GET /api/projects/{id}/files", s.handleFiles)
	mux.HandleFunc("GET /api/projects/{id}/runs", s.handleRuns)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	return mux
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.Shutdown(shutdownCtx)
		<-errCh
		return err
	}
}

// Shutdown closes websocket connections and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connections.Range(func(key, _ any) bool {
		if c, ok := key.(*SafeConn); ok {
			c.Close()
		}
		return true
	})

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// countConnections returns the current number of websocket connections.
func (s *Server) countConnections() int {
	count := 0
	s.connections.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
		"connections": s.countConnections(),
	})
}

package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"f0oster/groupsync/syncrun"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Runner executes one sync job. *syncrun.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, job syncrun.Job) (*syncrun.Report, error)
}

// Server exposes metrics, health and a small run API.
type Server struct {
	runner Runner
	mux    *http.ServeMux
	addr   string
	logger *zap.Logger

	mu      sync.RWMutex
	reports map[uuid.UUID]*syncrun.Report
}

// NewServer creates a new server. A nil runner disables the run API.
func NewServer(runner Runner, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:  runner,
		mux:     http.NewServeMux(),
		addr:    addr,
		logger:  logger,
		reports: make(map[uuid.UUID]*syncrun.Report),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.runner != nil {
		s.mux.HandleFunc("POST /api/runs", s.handleCreateRun)
		s.mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	}
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

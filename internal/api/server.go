package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/audit"
	"github.com/nerrad567/nexlytix-core/internal/infrastructure/config"
	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Logger is the logging surface used by the server.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ReadingQuerier reads back stored readings. Both time-series clients
// implement it.
type ReadingQuerier interface {
	RecentReadings(ctx context.Context, deviceID string, window time.Duration, limit int) ([]ingest.StoredReading, error)
}

// HealthChecker is any component that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server. Logger is required;
// everything else is optional and the matching endpoints answer 503 when
// it is missing.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   Logger

	Readings   ReadingQuerier
	Rejections audit.Repository

	// Store and Audit are probed by /health.
	Store HealthChecker
	Audit HealthChecker

	// ListenerState reports the broker connection state for /health.
	ListenerState func() ingest.State

	// Metrics serves /metrics.
	Metrics http.Handler

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg     config.APIConfig
	secCfg  config.SecurityConfig
	logger  Logger
	deps    Deps
	limiter *ipRateLimiter
	handler http.Handler
	server  *http.Server
	cancel  context.CancelFunc
}

// New creates a Server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Security.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	s := &Server{
		cfg:     deps.Config,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		deps:    deps,
		limiter: newIPRateLimiter(deps.Security.RateLimit.RequestsPerMinute),
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the fully wired router. Useful for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.limiter.cleanupLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

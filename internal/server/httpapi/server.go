// Package httpapi exposes the gateway over HTTP: auth, the compute
// pipeline and project snapshots under /api, plus health and metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/quickide/internal/logging"
	"github.com/dmitrijs2005/quickide/internal/server/auth"
	"github.com/dmitrijs2005/quickide/internal/server/metrics"
	"github.com/dmitrijs2005/quickide/internal/server/models"
	"github.com/dmitrijs2005/quickide/internal/server/pipeline"
	"github.com/dmitrijs2005/quickide/internal/server/services"
)

// Authenticator is implemented by services.UserService.
type Authenticator interface {
	Register(ctx context.Context, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Verify(token string) (auth.Identity, error)
}

// ProjectStore is implemented by services.ProjectService.
type ProjectStore interface {
	Create(ctx context.Context, ownerID string, in services.ProjectInput) (*models.Project, error)
	List(ctx context.Context, ownerID string) ([]models.Project, error)
	Get(ctx context.Context, id, ownerID string) (*models.Project, error)
}

// StageRunner is implemented by *pipeline.Proxy.
type StageRunner interface {
	Forward(ctx context.Context, stage pipeline.Stage, body []byte) ([]byte, error)
	Stream(ctx context.Context, stage pipeline.Stage, body []byte, w http.ResponseWriter) (int64, error)
}

type Options struct {
	Users    Authenticator
	Projects ProjectStore
	Pipeline StageRunner
	Metrics  *metrics.Metrics
	Logger   logging.Logger
	// Health reports readiness of backing stores for /healthz. Optional.
	Health func(ctx context.Context) error

	CORSOrigin        string
	AuthRatePerMinute int
	MaxBodyBytes      int64
	ShutdownTimeout   time.Duration
}

type Server struct {
	users           Authenticator
	projects        ProjectStore
	pipeline        StageRunner
	metrics         *metrics.Metrics
	logger          logging.Logger
	health          func(ctx context.Context) error
	maxBodyBytes    int64
	shutdownTimeout time.Duration

	handler http.Handler
}

func NewServer(opts Options) *Server {
	s := &Server{
		users:           opts.Users,
		projects:        opts.Projects,
		pipeline:        opts.Pipeline,
		metrics:         opts.Metrics,
		logger:          opts.Logger.With("module", "http_server"),
		health:          opts.Health,
		maxBodyBytes:    opts.MaxBodyBytes,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 1 << 20
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	s.routes(mux, newRateLimiter(opts.AuthRatePerMinute))

	s.handler = Chain(mux,
		s.requestID,
		s.logRequests,
		s.recoverer,
		cors(opts.CORSOrigin),
	)
	return s
}

func (s *Server) routes(mux *http.ServeMux, limiter *rateLimiter) {
	mux.Handle("POST /api/auth/register", limiter.Middleware(http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /api/auth/login", limiter.Middleware(http.HandlerFunc(s.handleLogin)))

	for _, stage := range pipeline.Stages {
		mux.Handle("POST /api/run/"+string(stage), s.accessGuard(s.handleStage(stage)))
	}

	mux.Handle("POST /api/projects", s.accessGuard(http.HandlerFunc(s.handleCreateProject)))
	mux.Handle("GET /api/projects", s.accessGuard(http.HandlerFunc(s.handleListProjects)))
	mux.Handle("GET /api/projects/{id}", s.accessGuard(http.HandlerFunc(s.handleGetProject)))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on address and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no WriteTimeout: image streams are bounded by the proxy's idle timeout
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Package server initializes and runs the gateway: it opens the database,
// applies migrations, wires services and runs the HTTP API and the gRPC
// health endpoint until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/quickide/internal/logging"
	"github.com/dmitrijs2005/quickide/internal/server/config"
	gs "github.com/dmitrijs2005/quickide/internal/server/grpc"
	"github.com/dmitrijs2005/quickide/internal/server/httpapi"
	"github.com/dmitrijs2005/quickide/internal/server/metrics"
	"github.com/dmitrijs2005/quickide/internal/server/pipeline"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/quickide/internal/server/services"
	"github.com/dmitrijs2005/quickide/internal/server/tracing"
)

const serviceName = "quickide-gateway"

type App struct {
	config         *config.Config
	logger         logging.Logger
	db             *sql.DB
	httpServer     *httpapi.Server
	healthServer   *gs.HealthServer
	shutdownTracer func(context.Context) error
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogLevel, c.LogFormat)
	warnInsecureDefaults(ctx, logger, c)

	shutdownTracer, err := tracing.Setup(ctx, serviceName, c.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing init error: %w", err)
	}

	db, rm, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("migrations error: %w", err)
	}
	logger.Info(ctx, "database ready", "dialect", rm.Dialect().Name)

	us, err := services.NewUserService(db, rm, c)
	if err != nil {
		_ = db.Close()
		_ = shutdownTracer(ctx)
		return nil, err
	}
	ps := services.NewProjectService(db, rm)

	m := metrics.New()

	proxy, err := pipeline.New(pipeline.Options{
		BaseURL:     c.EngineURL,
		Timeout:     c.UpstreamTimeout,
		BufferSize:  c.StreamBufferSize,
		IdleTimeout: c.StreamIdleTimeout,
		Metrics:     m,
	})
	if err != nil {
		_ = db.Close()
		_ = shutdownTracer(ctx)
		return nil, err
	}

	hs := httpapi.NewServer(httpapi.Options{
		Users:             us,
		Projects:          ps,
		Pipeline:          proxy,
		Metrics:           m,
		Logger:            logger,
		Health:            db.PingContext,
		CORSOrigin:        c.CORSOrigin,
		AuthRatePerMinute: c.AuthRatePerMinute,
		MaxBodyBytes:      c.MaxRequestBodySize,
		ShutdownTimeout:   c.ShutdownTimeout,
	})

	var health *gs.HealthServer
	if c.HealthAddrGRPC != "" {
		health = gs.NewHealthServer(c.HealthAddrGRPC, logger, 0, db.PingContext)
	}

	return &App{
		config:         c,
		logger:         logger,
		db:             db,
		httpServer:     hs,
		healthServer:   health,
		shutdownTracer: shutdownTracer,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until a signal arrives or one of the servers fails, then waits
// for both servers to stop and releases the database and tracer.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Run(ctx, app.config.HTTPAddr); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	if app.healthServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.healthServer.Run(ctx); err != nil {
				app.logger.Error(ctx, err.Error())
				cancelFunc()
			}
		}()
	}

	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.ShutdownTimeout)
	defer cancel()
	if err := app.shutdownTracer(closeCtx); err != nil {
		app.logger.Warn(closeCtx, "tracer shutdown", "error", err.Error())
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(closeCtx, "db close", "error", err.Error())
	}
	app.logger.Info(closeCtx, "App stopped")
}

func warnInsecureDefaults(ctx context.Context, logger logging.Logger, c *config.Config) {
	if c.UsesDefaultSecret() {
		logger.Warn(ctx, "secret_key is the development default, tokens can be forged; set QIDE_SECRET_KEY")
	}
}

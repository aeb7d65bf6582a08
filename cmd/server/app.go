package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/dispatch"
	"github.com/phrazzld/taskrelay/internal/gateway"
	"github.com/phrazzld/taskrelay/internal/resultbus"
	"github.com/phrazzld/taskrelay/internal/service/auth"
	"github.com/phrazzld/taskrelay/internal/session"
	"github.com/phrazzld/taskrelay/internal/task"
	"golang.org/x/sync/errgroup"
)

// role selects which halves of the system a process runs.
type role int

const (
	// roleGateway serves websocket sessions and the HTTP API.
	roleGateway role = 1 << iota
	// roleProcessor consumes submissions and runs the worker pool.
	roleProcessor
)

func (r role) has(other role) bool {
	return r&other != 0
}

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	roles  role

	bus        resultbus.Bus
	registry   *task.Registry
	jwtService auth.JWTService

	// Gateway role
	hub     *session.Hub
	router  *session.Router
	gateway *gateway.Gateway

	// Processor role
	pool      *task.WorkerPool
	processor *dispatch.Processor

	// listener overrides the configured port when set.
	listener net.Listener
}

// newApplication creates a new application instance with all dependencies initialized.
// The result bus is connected and health-checked before anything else is built.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, roles role) (*application, error) {
	if roles == 0 {
		return nil, errors.New("no role selected")
	}

	app := &application{
		config:   cfg,
		logger:   logger,
		roles:    roles,
		registry: task.DefaultRegistry(),
	}

	var err error
	app.bus, err = resultbus.Open(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open result bus: %w", err)
	}

	if roles.has(roleGateway) {
		app.jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			_ = app.bus.Close()
			return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		logger.Info("JWT authentication service initialized",
			"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes,
			"auth_mode", cfg.Auth.Mode)

		app.hub = session.NewHub()
		app.router = session.NewRouter(app.bus, app.hub, session.RouterConfigFrom(cfg.Redis, cfg.Session), logger)
		admitter := gateway.NewAdmitter(app.jwtService, gateway.PolicyFrom(cfg.Auth))
		app.gateway = gateway.New(admitter, app.router, gateway.OptionsFrom(cfg), logger)
	}

	if roles.has(roleProcessor) {
		app.pool = task.NewWorkerPool(app.registry, app.bus, task.WorkerPoolConfig{
			WorkerCount:    cfg.Task.WorkerCount,
			QueueSize:      cfg.Task.QueueSize,
			ResultsChannel: cfg.Redis.ResultsChannel,
		}, logger)
		bridge := dispatch.NewBridge(app.registry, app.pool, app.bus, cfg.Redis.ResultsChannel, logger)
		app.processor = dispatch.NewProcessor(app.bus, bridge, dispatch.ProcessorConfig{
			TasksChannel: cfg.Redis.TasksChannel,
			PollWait:     cfg.Session.PollWait(),
			RetryBackoff: cfg.Session.RetryBackoff(),
		}, logger)
	}

	logger.Info("application initialized",
		"gateway", roles.has(roleGateway),
		"processor", roles.has(roleProcessor))
	return app, nil
}

// Run starts every configured role and blocks until ctx is cancelled or
// one of them fails. Resources are released before it returns.
func (app *application) Run(ctx context.Context) error {
	defer app.cleanup()

	var ln net.Listener
	if app.roles.has(roleGateway) {
		ln = app.listener
		if ln == nil {
			var err error
			ln, err = net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
			if err != nil {
				return fmt.Errorf("failed to listen on port %d: %w", app.config.Server.Port, err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if app.roles.has(roleProcessor) {
		app.pool.Start()
		g.Go(func() error {
			return app.processor.Run(gctx)
		})
	}

	if ln != nil {
		g.Go(func() error {
			return app.startHTTPServer(gctx, ln, app.setupRouter())
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.pool != nil {
		app.pool.Stop()
	}

	if app.bus != nil {
		if err := app.bus.Close(); err != nil {
			app.logger.Error("error closing result bus", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}

// Package server builds the strategy worker's dependencies and runs it
// alongside the operator HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-strategy/internal/api"
	"github.com/JakeFAU/frontier-strategy/internal/clock/system"
	"github.com/JakeFAU/frontier-strategy/internal/config"
	"github.com/JakeFAU/frontier-strategy/internal/database"
	"github.com/JakeFAU/frontier-strategy/internal/fingerprint"
	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/id/uuid"
	"github.com/JakeFAU/frontier-strategy/internal/logging"
	"github.com/JakeFAU/frontier-strategy/internal/manager"
	"github.com/JakeFAU/frontier-strategy/internal/metrics"
	memorypublisher "github.com/JakeFAU/frontier-strategy/internal/publisher/memory"
	pgpublisher "github.com/JakeFAU/frontier-strategy/internal/publisher/postgres"
	gcppublisher "github.com/JakeFAU/frontier-strategy/internal/publisher/pubsub"
	"github.com/JakeFAU/frontier-strategy/internal/spiderlog"
	memorysource "github.com/JakeFAU/frontier-strategy/internal/spiderlog/memory"
	gcpsource "github.com/JakeFAU/frontier-strategy/internal/spiderlog/pubsub"
	memorystore "github.com/JakeFAU/frontier-strategy/internal/storage/memory"
	pgstore "github.com/JakeFAU/frontier-strategy/internal/storage/postgres"
	"github.com/JakeFAU/frontier-strategy/internal/strategy"
	"github.com/JakeFAU/frontier-strategy/internal/telemetry"
	"github.com/JakeFAU/frontier-strategy/internal/updates"
	"github.com/JakeFAU/frontier-strategy/internal/worker"

	// Strategies register themselves by name.
	_ "github.com/JakeFAU/frontier-strategy/internal/strategy/backoff"
	_ "github.com/JakeFAU/frontier-strategy/internal/strategy/basic"
	_ "github.com/JakeFAU/frontier-strategy/internal/strategy/discovery"
)

// stateStore is what the worker, manager and ops server need from storage.
type stateStore interface {
	worker.StateStore
	Count(ctx context.Context) (map[frontier.RequestState]int64, error)
}

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	instanceID string
	clock      frontier.Clock

	pool       *pgxpool.Pool
	states     stateStore
	transport  updates.Transport
	stream     *updates.Stream
	source     spiderlog.Source
	worker     *worker.Worker
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	addr     net.Addr
	ready    chan struct{}
	closeErr error
	closed   sync.Once
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	ids frontier.IDGenerator
}

// WithIDGenerator replaces the UUID7 generator that names this instance.
func WithIDGenerator(ids frontier.IDGenerator) Option {
	return func(o *buildOptions) {
		o.ids = ids
	}
}

// Build creates the application's dependencies. Anything it opened is
// released again when a later step fails.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := buildOptions{ids: uuid.New()}
	for _, opt := range opts {
		opt(&o)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()
	telemetry.Init()

	instanceID, err := o.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("instance id: %w", err)
	}
	app := &App{
		cfg:        cfg,
		logger:     logger.With(zap.String("instance", instanceID)),
		instanceID: instanceID,
		clock:      system.New(),
		ready:      make(chan struct{}),
	}
	built := false
	defer func() {
		if !built {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()
	app.logger.Info("building strategy worker",
		zap.String("strategy", cfg.Strategy.Name),
		zap.String("producer", cfg.Updates.Producer),
		zap.String("state_store", cfg.Worker.StateStore),
		zap.String("transport", cfg.Updates.Transport),
		zap.String("spiderlog", cfg.SpiderLog.Source),
	)

	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	if err := setupStateStore(app); err != nil {
		return nil, err
	}
	if err := setupStream(ctx, app); err != nil {
		return nil, err
	}
	if err := setupSpiderLog(ctx, app); err != nil {
		return nil, err
	}
	if err := setupWorker(ctx, app); err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(
		app.worker,
		app.states,
		app.stream,
		api.Options{Strategy: cfg.Strategy.Name, APIKey: cfg.Server.APIKey},
		app.logger.Named("api"),
	)
	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           app.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	built = true
	return app, nil
}

func usesPostgres(cfg *config.Config) bool {
	return cfg.Worker.StateStore == config.BackendPostgres || cfg.Updates.Transport == config.BackendPostgres
}

func setupDatabase(ctx context.Context, app *App) error {
	if !usesPostgres(app.cfg) {
		app.logger.Debug("no postgres backend configured, skipping pool")
		return nil
	}
	pool, err := database.Open(ctx, database.Config{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.ConnMaxLifetime(),
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	app.pool = pool
	app.logger.Info("postgres pool initialized", zap.Int32("max_conns", pool.Config().MaxConns))
	return nil
}

func setupStateStore(app *App) error {
	switch app.cfg.Worker.StateStore {
	case config.BackendPostgres:
		store, err := pgstore.NewStateStore(app.pool, app.cfg.Worker.StateTable, app.clock)
		if err != nil {
			return fmt.Errorf("state store init failed: %w", err)
		}
		app.states = store
		app.logger.Info("using postgres state store", zap.String("table", app.cfg.Worker.StateTable))
	default:
		app.states = memorystore.NewStateStore()
		app.logger.Info("using in-memory state store")
	}
	return nil
}

func setupStream(ctx context.Context, app *App) error {
	var err error
	switch app.cfg.Updates.Transport {
	case config.BackendPubSub:
		app.transport, err = gcppublisher.Dial(
			ctx,
			app.cfg.PubSub.ProjectID,
			app.cfg.PubSub.UpdatesTopic,
			app.logger.Named("pubsub_publisher"),
		)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.logger.Info("Pub/Sub score updates initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.UpdatesTopic),
		)
	case config.BackendPostgres:
		app.transport, err = pgpublisher.NewScoreLog(app.pool, app.cfg.Updates.Table, app.clock)
		if err != nil {
			return fmt.Errorf("score log init failed: %w", err)
		}
		app.logger.Info("postgres score log initialized", zap.String("table", app.cfg.Updates.Table))
	default:
		app.logger.Warn("no durable score update transport configured, using in-memory publisher")
		app.transport = memorypublisher.New()
	}

	app.stream, err = updates.NewStream(app.transport, updates.Config{
		Producer:   app.cfg.Updates.Producer,
		InstanceID: app.instanceID,
		RateLimit:  app.cfg.Updates.RateLimit,
		Burst:      app.cfg.Updates.Burst,
		Retry:      app.cfg.RetryPolicy(),
	}, app.logger.Named("updates"))
	if err != nil {
		return fmt.Errorf("score update stream init failed: %w", err)
	}
	return nil
}

func setupSpiderLog(ctx context.Context, app *App) error {
	cfg := app.cfg.SpiderLog
	switch cfg.Source {
	case config.BackendPubSub:
		src, err := gcpsource.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.SpiderLogSubscription, gcpsource.Config{
			BatchSize:      cfg.BatchSize,
			MaxWait:        app.cfg.SpiderLogMaxWait(),
			MaxOutstanding: app.cfg.PubSub.MaxOutstanding,
		}, app.logger.Named("spiderlog"))
		if err != nil {
			return fmt.Errorf("pubsub spider log init failed: %w", err)
		}
		app.source = src
		app.logger.Info("reading spider log from Pub/Sub",
			zap.String("subscription", app.cfg.PubSub.SpiderLogSubscription))
	case config.BackendJSONL:
		src, err := spiderlog.OpenJSONLines(cfg.Path, cfg.BatchSize, app.logger.Named("spiderlog"))
		if err != nil {
			return fmt.Errorf("jsonl spider log init failed: %w", err)
		}
		app.source = src
		app.logger.Info("replaying spider log", zap.String("path", cfg.Path))
	default:
		src := memorysource.NewSource(cfg.Capacity, cfg.BatchSize)
		app.source = src
		if len(cfg.Seeds) > 0 {
			if err := injectSeeds(ctx, src, cfg.Seeds); err != nil {
				return err
			}
			app.logger.Info("injected seeds into in-memory spider log", zap.Int("seeds", len(cfg.Seeds)))
		}
	}
	return nil
}

// injectSeeds queues one add_seeds event and closes src so the worker stops
// once the seeds are processed.
func injectSeeds(ctx context.Context, src *memorysource.Source, urls []string) error {
	seeds := make([]*frontier.Request, 0, len(urls))
	for _, u := range urls {
		seeds = append(seeds, frontier.NewRequest(u, ""))
	}
	if err := src.Send(ctx, spiderlog.Event{Type: spiderlog.AddSeeds, Seeds: seeds}); err != nil {
		return fmt.Errorf("inject seeds: %w", err)
	}
	if err := src.Close(); err != nil {
		return fmt.Errorf("close seed log: %w", err)
	}
	return nil
}

func setupWorker(ctx context.Context, app *App) error {
	fp, err := fingerprint.New(app.cfg.Fingerprint.Algorithm, app.cfg.Fingerprint.Normalize)
	if err != nil {
		return fmt.Errorf("fingerprinter init failed: %w", err)
	}
	mgr := manager.New(app.cfg.Strategy.Settings, app.states)
	strat, err := strategy.FromWorker(ctx, app.cfg.Strategy.Name, mgr, app.stream, app.logger.Named("strategy"))
	if err != nil {
		return fmt.Errorf("strategy init failed: %w", err)
	}
	app.worker = worker.New(
		app.source,
		strat,
		app.states,
		fp,
		app.clock,
		worker.Config{EnforceTransitions: app.cfg.Worker.EnforceTransitions},
		app.logger.Named("worker"),
	)
	app.logger.Info("strategy ready",
		zap.String("strategy", app.cfg.Strategy.Name),
		zap.String("fingerprint", fp.Algorithm()),
		zap.Bool("enforce_transitions", app.cfg.Worker.EnforceTransitions),
	)
	return nil
}

// Run starts the worker and the HTTP server and blocks until the worker
// stops, the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen: %w", err), a.Close(context.WithoutCancel(ctx)))
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	close(a.ready)

	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	workerErr := make(chan error, 1)
	go func() {
		a.logger.Info("worker started")
		workerErr <- a.worker.Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-workerErr:
		a.logger.Info("worker stopped", zap.Error(runErr))
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
		stop()
		runErr = <-workerErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Addr returns the HTTP listen address once Run has bound it.
func (a *App) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-a.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr, nil
}

// Worker exposes the running worker.
func (a *App) Worker() *worker.Worker {
	return a.worker
}

// InstanceID returns the identifier stamped on every score update.
func (a *App) InstanceID() string {
	return a.instanceID
}

// Transport exposes the score update transport.
func (a *App) Transport() updates.Transport {
	return a.transport
}

// Close releases every dependency. It is safe to call more than once.
func (a *App) Close(_ context.Context) error {
	a.closed.Do(func() {
		var errs []error
		if a.worker != nil {
			// Closing the strategy first lets it flush through the stream.
			errs = append(errs, a.worker.Close())
		}
		if a.source != nil {
			if err := a.source.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close spider log: %w", err))
			}
		}
		if a.stream != nil {
			errs = append(errs, a.stream.Close())
		} else if a.transport != nil {
			errs = append(errs, a.transport.Close())
		}
		if a.pool != nil {
			a.pool.Close()
		}
		a.closeErr = errors.Join(errs...)
		if syncErr := a.logger.Sync(); syncErr != nil {
			a.logger.Debug("logger sync failed", zap.Error(syncErr))
		}
		a.logger.Info("shutdown complete", zap.Error(a.closeErr))
	})
	return a.closeErr
}

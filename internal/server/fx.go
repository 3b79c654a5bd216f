// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/auth"
	"github.com/JakeFAU/gsc-tracker/internal/clock/system"
	"github.com/JakeFAU/gsc-tracker/internal/config"
	"github.com/JakeFAU/gsc-tracker/internal/dispatcher"
	"github.com/JakeFAU/gsc-tracker/internal/gsc"
	"github.com/JakeFAU/gsc-tracker/internal/id/uuid"
	"github.com/JakeFAU/gsc-tracker/internal/logging"
	"github.com/JakeFAU/gsc-tracker/internal/metrics"
	"github.com/JakeFAU/gsc-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/gsc-tracker/internal/progress"
	progresssinks "github.com/JakeFAU/gsc-tracker/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/gsc-tracker/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/gsc-tracker/internal/queue/memory"
	"github.com/JakeFAU/gsc-tracker/internal/session"
	gcsstorage "github.com/JakeFAU/gsc-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/gsc-tracker/internal/storage/local"
	memoryStorage "github.com/JakeFAU/gsc-tracker/internal/storage/memory"
	"github.com/JakeFAU/gsc-tracker/internal/storage/mongodb"
	pgstore "github.com/JakeFAU/gsc-tracker/internal/storage/postgres"
	"github.com/JakeFAU/gsc-tracker/internal/telemetry"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
	"github.com/JakeFAU/gsc-tracker/internal/web"
	"github.com/JakeFAU/gsc-tracker/internal/worker"
)

// Version is stamped into trace resources.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	registerer     prometheus.Registerer
	store          tracker.Store
	mongo          *mongodb.Store
	redis          *redis.Client
	webServer      *web.Server
	dispatch       *dispatcher.Dispatcher
	progressHub    *progress.Hub
	queue          *queueMemory.Queue
	publisher      *gcppublisher.Publisher
	storage        *storage.Client
	runStore       *pgstore.FetchRunStore
	checks         map[string]web.Pinger
	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger.Info("Creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("session_backend", cfg.Session.Backend),
	)
	return &App{
		cfg:        cfg,
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
		checks:     make(map[string]web.Pinger),
	}, nil
}

// Handler exposes the HTTP surface, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.webServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.webServer.Handler(),
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.dispatch.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			a.logger.Warn("mongo disconnect failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		app.closeInfrastructure(closeCtx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	if err := a.setupTracing(ctx); err != nil {
		return err
	}
	metrics.Init()

	a.logger.Info("building application dependencies")
	clock := system.New()

	if err := a.setupStore(ctx); err != nil {
		return err
	}
	sessions, err := a.setupSessions(ctx, clock)
	if err != nil {
		return err
	}

	oauth, err := auth.New(auth.Config{
		ClientID:          cfg.Google.ClientID,
		ClientSecret:      cfg.Google.ClientSecret,
		ClientSecretsFile: cfg.Google.ClientSecretsFile,
	})
	if err != nil {
		return fmt.Errorf("oauth client init failed: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.GSC.RequestsPerSecond,
		Burst:             cfg.GSC.Burst,
	})
	gscClient := gsc.New(gsc.Config{
		Timeout: time.Duration(cfg.GSC.TimeoutSeconds) * time.Second,
	}, limiter, a.logger)
	a.logger.Info("search console client ready",
		zap.Float64("requests_per_second", cfg.GSC.RequestsPerSecond),
		zap.Int("burst", cfg.GSC.Burst),
	)

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	events, err := a.setupProgress(ctx)
	if err != nil {
		return err
	}

	deps := worker.FetcherDeps{
		Store:  a.store,
		GSC:    gscClient,
		Blobs:  blobs,
		Events: events,
		Clock:  clock,
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}
	a.queue = queueMemory.NewQueue(cfg.Worker.QueueDepth)
	a.dispatch = a.setupDispatcher(deps, clock)

	webDeps := web.Deps{
		Store:    a.store,
		Sessions: sessions,
		OAuth:    oauth,
		GSC:      gscClient,
		Jobs:     a.dispatch,
		Checks:   a.checks,
		IDs:      uuid.NewRandomGenerator(),
		Clock:    clock,
	}
	if a.runStore != nil {
		webDeps.Runs = a.runStore
	}
	a.webServer, err = web.NewServer(webDeps, web.Options{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		RedirectURL:    cfg.Google.RedirectURL,
		PublicURL:      cfg.Server.PublicURL,
		RetentionDays:  cfg.Trash.RetentionDays,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("web server init failed: %w", err)
	}
	return nil
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		a.logger.Info("tracing disabled")
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Tracing.ServiceName,
		Version:     Version,
		ProjectID:   a.cfg.Tracing.ProjectID,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	a.logger.Info("tracing enabled",
		zap.String("project", a.cfg.Tracing.ProjectID),
		zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio),
	)
	return nil
}

// OpenStore connects the configured document store. The returned close
// function releases it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (tracker.Store, func(context.Context) error, error) {
	switch cfg.Store.Backend {
	case "mongo":
		st, err := mongodb.Connect(ctx, mongodb.Config{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: time.Duration(cfg.Mongo.ConnectTimeoutSeconds) * time.Second,
		}, logger.Named("mongo"))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo store init failed: %w", err)
		}
		return st, st.Close, nil
	default:
		logger.Warn("using in-memory document store; data is lost on restart")
		return memoryStorage.NewStore(uuid.NewUUIDGenerator()), func(context.Context) error { return nil }, nil
	}
}

func (a *App) setupStore(ctx context.Context) error {
	st, _, err := OpenStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = st
	switch s := st.(type) {
	case *mongodb.Store:
		a.mongo = s
		if err := s.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("mongo index setup failed: %w", err)
		}
		a.checks["mongo"] = s
		a.logger.Info("mongo store ready", zap.String("database", a.cfg.Mongo.Database))
	case *memoryStorage.Store:
		a.checks["store"] = s
	}
	return nil
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (a *App) setupSessions(ctx context.Context, clock tracker.Clock) (*session.Manager, error) {
	var backend session.Store
	switch a.cfg.Session.Backend {
	case "redis":
		var err error
		a.redis, err = session.NewRedisClient(ctx, session.RedisOptions{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			PoolSize: a.cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("redis session store init failed: %w", err)
		}
		backend = session.NewRedisStore(a.redis, clock)
		a.checks["redis"] = redisPinger{client: a.redis}
		a.logger.Info("using redis session store", zap.String("addr", a.cfg.Redis.Addr))
	case "mongo":
		if a.mongo == nil {
			return nil, errors.New("mongo session store requires the mongo document store")
		}
		backend = a.mongo.Sessions()
		a.logger.Info("using mongo session store")
	default:
		backend = session.NewMemoryStore()
		a.logger.Warn("using in-memory session store; sessions are lost on restart")
	}
	return session.NewManager(backend, uuid.NewRandomGenerator(), clock, session.Options{
		CookieName: a.cfg.Session.CookieName,
		Lifetime:   a.cfg.SessionLifetime(),
		Secure:     a.cfg.Session.Secure,
	}, a.logger), nil
}

func (a *App) setupStorage(ctx context.Context) (tracker.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS archive backend")
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Debug("GCS archive backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobStore, nil
	case "local":
		a.logger.Info("using local archive backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Debug("local archive backend", zap.String("path", a.cfg.Storage.LocalDir))
		return blobStore, nil
	case "memory":
		a.logger.Info("using in-memory archive backend")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("raw response archiving disabled")
		return nil, nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("No DSN specified for database, skipping fetch run history")
		return nil
	}
	var err error
	a.runStore, err = pgstore.NewFetchRunStore(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("fetch run store init failed: %w", err)
	}
	if err := a.runStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("fetch run schema setup failed: %w", err)
	}
	a.checks["postgres"] = a.runStore
	a.logger.Info("fetch run store initialized")
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("No Pub/Sub topic configured, completion notifications disabled")
		return nil
	}
	var err error
	a.publisher, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if a.runStore != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_store")))
		a.logger.Debug("Added progress store sink")
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("Added progress log sink")
	}
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatch,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return a.progressHub, nil
}

func (a *App) setupDispatcher(deps worker.FetcherDeps, clock tracker.Clock) *dispatcher.Dispatcher {
	fetcherCfg := worker.FetcherConfig{
		ArchivePrefix: a.cfg.Storage.Prefix,
		Topic:         a.cfg.PubSub.TopicName,
	}
	fetcher := worker.NewFetcher(deps, fetcherCfg, a.logger.Named("fetcher"))
	workerCfg := worker.Config{JobTimeout: a.cfg.JobTimeout()}
	a.logger.Info("worker config",
		zap.Int("concurrency", a.cfg.Worker.Concurrency),
		zap.Int("queue_depth", a.cfg.Worker.QueueDepth),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.String("archive_prefix", fetcherCfg.ArchivePrefix),
		zap.String("topic", fetcherCfg.Topic),
	)

	var workers []*worker.Worker
	for i := 0; i < a.cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.queue,
			fetcher,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(a.queue, workers, uuid.NewUUIDGenerator(), clock, a.logger.Named("dispatcher"))
}

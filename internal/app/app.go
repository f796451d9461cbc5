// Package app wires configuration into a running article tracker.
package app

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

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-tracker/internal/api"
	"github.com/JakeFAU/article-tracker/internal/clock/system"
	"github.com/JakeFAU/article-tracker/internal/config"
	"github.com/JakeFAU/article-tracker/internal/coordinator"
	"github.com/JakeFAU/article-tracker/internal/discovery"
	"github.com/JakeFAU/article-tracker/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/article-tracker/internal/fetcher/colly"
	"github.com/JakeFAU/article-tracker/internal/fetcher/retry"
	"github.com/JakeFAU/article-tracker/internal/id/uuid"
	"github.com/JakeFAU/article-tracker/internal/logging"
	"github.com/JakeFAU/article-tracker/internal/metrics"
	"github.com/JakeFAU/article-tracker/internal/normalize"
	"github.com/JakeFAU/article-tracker/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/article-tracker/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/article-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/article-tracker/internal/scheduler"
	gcsstorage "github.com/JakeFAU/article-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/article-tracker/internal/storage/local"
	memorystorage "github.com/JakeFAU/article-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/article-tracker/internal/storage/postgres"
	"github.com/JakeFAU/article-tracker/internal/telemetry"
	"github.com/JakeFAU/article-tracker/internal/tracker"
	"github.com/JakeFAU/article-tracker/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	articles  tracker.ArticleStore
	versions  tracker.VersionStore
	scheduler *scheduler.Scheduler
	crawler   *coordinator.Coordinator
	worker    *worker.Worker
	dispatch  *dispatcher.Dispatcher
	discover  *discovery.Discoverer
	apiServer *api.Server

	pgStore         *pgstore.Store
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	tracerShutdown  func(context.Context) error

	closeOnce sync.Once
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger Build would construct from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// Build creates the application's dependencies and loads the persisted
// articles into the scheduler.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	built := false
	defer func() {
		if !built {
			app.closeInfrastructure()
		}
	}()

	app.logger.Info("building application dependencies")
	if err := app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.setupCore(ctx, blobs, publisher); err != nil {
		return nil, err
	}

	built = true
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database dsn configured, keeping articles and versions in memory")
		a.articles = memorystorage.NewArticleStore()
		a.versions = memorystorage.NewVersionStore()
		return nil
	}
	store, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		ArticlesTable:   a.cfg.Database.ArticlesTable,
		VersionsTable:   a.cfg.Database.VersionsTable,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pgStore = store
	a.articles = store
	a.versions = store
	a.logger.Info("postgres store initialized",
		zap.String("articles_table", a.cfg.Database.ArticlesTable),
		zap.String("versions_table", a.cfg.Database.VersionsTable),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) (tracker.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendNone:
		a.logger.Info("raw page archive disabled")
		return nil, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (tracker.Publisher, error) {
	if !a.cfg.PubSub.Enabled() {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupCore(ctx context.Context, blobs tracker.BlobStore, publisher tracker.Publisher) error {
	cfg := a.cfg
	clock := system.New()

	normalizers, err := normalize.Default(cfg.Crawl.Normalizer)
	if err != nil {
		return fmt.Errorf("normalizer registry init failed: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RatePerSecond,
		DefaultBurst: cfg.HTTP.Burst,
		HostRPS:      cfg.HTTP.HostRateMap(),
	})
	base := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodySize:   cfg.HTTP.MaxBodyBytes,
		Limiter:       limiter,
	})
	fetcher := retry.New(
		base,
		tracker.NewExponentialRetryPolicy(cfg.HTTP.MaxAttempts, cfg.BackoffInitial(), cfg.BackoffMax()),
		a.logger.Named("fetcher"),
	)
	a.logger.Info("fetcher configured",
		zap.String("user_agent", cfg.HTTP.UserAgent),
		zap.Bool("respect_robots", cfg.HTTP.RespectRobots),
		zap.Float64("rate_per_second", cfg.HTTP.RatePerSecond),
		zap.Int("max_attempts", cfg.HTTP.MaxAttempts),
	)

	a.scheduler = scheduler.New(scheduler.Config{
		DefaultInterval: cfg.Scheduler.DefaultInterval,
		Frequency: scheduler.FrequencyPolicy{
			MinInterval: cfg.Scheduler.MinInterval,
			MaxInterval: cfg.Scheduler.MaxInterval,
			HotFactor:   cfg.Scheduler.HotFactor,
			StaleFactor: cfg.Scheduler.StaleFactor,
		},
		RetryBase:         cfg.Scheduler.RetryBase,
		RetryMax:          cfg.Scheduler.RetryMax,
		MaxRetries:        cfg.Scheduler.MaxRetries,
		DefaultNormalizer: cfg.Crawl.Normalizer,
	}, a.articles, clock, uuid.New(), a.logger.Named("scheduler"))
	if err := a.scheduler.Load(ctx); err != nil {
		return fmt.Errorf("load articles: %w", err)
	}

	a.crawler, err = coordinator.New(coordinator.Config{
		MaxCrawlDuration: cfg.Crawl.MaxDuration,
		StoreTimeout:     cfg.Crawl.StoreTimeout,
		FetchTimeout:     cfg.FetchTimeout(),
		BlobPrefix:       cfg.Storage.Prefix,
		ContentType:      cfg.Storage.ContentType,
		Topic:            cfg.PubSub.TopicName,
	}, coordinator.Deps{
		Fetcher:     fetcher,
		Normalizers: normalizers,
		Versions:    a.versions,
		Articles:    a.articles,
		Blobs:       blobs,
		Publisher:   publisher,
		Clock:       clock,
		Logger:      a.logger.Named("coordinator"),
	})
	if err != nil {
		return fmt.Errorf("coordinator init failed: %w", err)
	}

	a.worker = worker.New(a.crawler, a.scheduler, a.logger.Named("worker"))
	a.dispatch = dispatcher.New(dispatcher.Config{
		Workers:      cfg.Scheduler.Concurrency,
		PollInterval: cfg.Scheduler.TickInterval,
	}, a.scheduler, a.worker, clock, a.logger.Named("dispatcher"))

	apiOpts := api.Options{RequestTimeout: cfg.Server.RequestTimeout}
	if a.pgStore != nil {
		apiOpts.Readiness = a.pgStore.Ping
	}
	if cfg.Discovery.Enabled {
		a.discover, err = discovery.New(discovery.Config{
			OverviewURL:      cfg.Discovery.OverviewURL,
			AllowedPrefix:    cfg.Discovery.AllowedPrefix,
			ExcludedToplines: cfg.Discovery.ExcludedToplines,
			ExcludedLabels:   cfg.Discovery.ExcludedLabels,
			Normalizer:       cfg.Discovery.Normalizer,
			Interval:         cfg.Discovery.Interval,
			Schedule:         cfg.Discovery.Schedule,
			UserAgent:        cfg.HTTP.UserAgent,
			RespectRobots:    cfg.HTTP.RespectRobots,
			Timeout:          cfg.FetchTimeout(),
		}, a.scheduler, a.logger.Named("discovery"))
		if err != nil {
			return fmt.Errorf("discovery init failed: %w", err)
		}
		apiOpts.Discoverer = a.discover
	}
	a.apiServer = api.NewServer(a.scheduler, a.versions, apiOpts, a.logger.Named("api"))
	return nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured port and blocks until ctx is canceled or
// a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the dispatcher, the discovery schedule and the HTTP server on
// ln, then shuts everything down and closes the app.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("application started", zap.Int("articles", len(a.scheduler.List())))
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Go(func() {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Scheduler.Concurrency))
		a.dispatch.Run(ctx)
	})
	if a.discover != nil {
		wg.Go(func() {
			if err := a.discover.Run(ctx); err != nil {
				a.logger.Error("discovery stopped", zap.Error(err))
			}
		})
	}

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	var runErr error
	select {
	case runErr = <-serveErr:
		runErr = fmt.Errorf("http server: %w", runErr)
	default:
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// AddArticle registers an article for tracking.
func (a *App) AddArticle(ctx context.Context, rawURL string, interval time.Duration, normalizer string) (tracker.Article, error) {
	return a.scheduler.AddArticle(ctx, rawURL, interval, normalizer)
}

// CrawlOnce runs one crawl cycle for id in the foreground and applies the
// outcome to its schedule.
func (a *App) CrawlOnce(ctx context.Context, id string) (tracker.Outcome, error) {
	article, err := a.scheduler.Get(id)
	if err != nil {
		return tracker.Outcome{}, err
	}
	if article.Status == tracker.StatusPaused {
		return tracker.Outcome{}, fmt.Errorf("crawl %s: article is paused: %w", id, tracker.ErrInvalidArgument)
	}
	outcome := a.worker.Process(ctx, article)
	if outcome.Err != nil {
		return outcome, outcome.Err
	}
	return outcome, nil
}

// Discover runs one overview scan. It fails when discovery is disabled.
func (a *App) Discover(ctx context.Context) (discovery.Result, error) {
	if a.discover == nil {
		return discovery.Result{}, fmt.Errorf("discovery is disabled: %w", tracker.ErrInvalidArgument)
	}
	return a.discover.RunOnce(ctx)
}

// Migrate creates the Postgres tables. It fails without a configured DSN.
func (a *App) Migrate(ctx context.Context) error {
	if a.pgStore == nil {
		return fmt.Errorf("database.dsn is required to migrate: %w", tracker.ErrInvalidArgument)
	}
	if err := a.pgStore.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("database tables ready",
		zap.String("articles_table", a.cfg.Database.ArticlesTable),
		zap.String("versions_table", a.cfg.Database.VersionsTable),
	)
	return nil
}

// Close releases clients and flushes telemetry. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync returns EINVAL for stderr on some terminals.
	_ = a.logger.Sync()
}

// Package app builds the long-lived services behind the CLI and HTTP server
// and tears them down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/antibot"
	"github.com/JakeFAU/isbn-scraper/internal/api"
	"github.com/JakeFAU/isbn-scraper/internal/cache"
	"github.com/JakeFAU/isbn-scraper/internal/clock/system"
	"github.com/JakeFAU/isbn-scraper/internal/config"
	"github.com/JakeFAU/isbn-scraper/internal/fetcher"
	collyfetcher "github.com/JakeFAU/isbn-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/isbn-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/isbn-scraper/internal/health"
	idgen "github.com/JakeFAU/isbn-scraper/internal/id/uuid"
	"github.com/JakeFAU/isbn-scraper/internal/logging"
	"github.com/JakeFAU/isbn-scraper/internal/metrics"
	"github.com/JakeFAU/isbn-scraper/internal/orchestrator"
	"github.com/JakeFAU/isbn-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/isbn-scraper/internal/progress"
	progresssinks "github.com/JakeFAU/isbn-scraper/internal/progress/sinks"
	"github.com/JakeFAU/isbn-scraper/internal/publisher"
	gcppublisher "github.com/JakeFAU/isbn-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/isbn-scraper/internal/resource"
	"github.com/JakeFAU/isbn-scraper/internal/retry"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
	"github.com/JakeFAU/isbn-scraper/internal/storage"
	gcsstorage "github.com/JakeFAU/isbn-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/isbn-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/isbn-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/isbn-scraper/internal/storage/postgres"
	"github.com/JakeFAU/isbn-scraper/internal/store"
	"github.com/JakeFAU/isbn-scraper/internal/tabs"
	"github.com/JakeFAU/isbn-scraper/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry     *resource.Registry
	orchestrator *orchestrator.Orchestrator
	apiServer    *api.Server

	browser      scraper.Browser
	db           *pgxpool.Pool
	runStore     store.RunRepository
	pubsubClient *pubsub.Client
	recordPub    *gcppublisher.Publisher
	gcsClient    *gcs.Client
	tracer       *sdktrace.TracerProvider
	// exports is set for the memory backend only.
	exports *memorystorage.BlobStore
}

// Option customizes Build, mainly for tests.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	browser scraper.Browser
	sinks   []scraper.ResultSink
	runs    store.RunRepository
	reg     prometheus.Registerer
}

// WithLogger skips logger construction from cfg.Logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBrowser replaces the Chrome browser backing the tab pool.
func WithBrowser(b scraper.Browser) Option {
	return func(o *options) { o.browser = b }
}

// WithResultSinks appends extra result sinks after the configured ones.
func WithResultSinks(sinks ...scraper.ResultSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithRunRepository replaces the Postgres run store used for progress and
// the run history endpoints.
func WithRunRepository(r store.RunRepository) Option {
	return func(o *options) { o.runs = r }
}

// WithRegisterer sets where the progress Prometheus sink registers.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// Build creates the application's dependencies. The returned App must be
// closed even when only Scraper is used.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, browser: o.browser}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("database", cfg.Database.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.Topic != ""),
	)

	if err := app.build(ctx, o); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Close(closeCtx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o options) error {
	var err error
	if a.cfg.Telemetry.Enabled {
		a.tracer, err = telemetry.InitTracerProvider(ctx, a.cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
	}

	a.registry, err = setupRegistry(a.cfg)
	if err != nil {
		return err
	}
	a.logger.Info("resource registry loaded", zap.Strings("resources", a.registry.IDs()))

	if err = a.setupDatabase(ctx); err != nil {
		return err
	}
	if o.runs != nil {
		a.runStore = o.runs
	}

	sinks, err := a.setupResultSinks(ctx)
	if err != nil {
		return err
	}
	sinks = append(sinks, o.sinks...)

	hub, err := a.setupProgress(o.reg)
	if err != nil {
		return err
	}

	detector := antibot.New(a.cfg.AntiBot)
	pool, err := a.setupTabs(ctx, detector)
	if err != nil {
		if hub != nil {
			_ = hub.Close(ctx)
		}
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.API.RPS, DefaultBurst: a.cfg.API.Burst})
	router := fetcher.Router{
		API: collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.API.UserAgent,
			Timeout:   a.cfg.API.Timeout,
		}, limiter, detector, a.logger.Named("api_fetcher")),
	}
	if pool != nil {
		router.Web = headlessfetcher.NewFetcher(detector, a.cfg.Browser.NavigationTimeout, a.logger.Named("web_fetcher"))
	}

	clock := system.New()
	coordinator := health.NewCoordinator(a.registry, a.cfg.Health, a.logger.Named("health"))
	executor := retry.NewExecutor(a.cfg.Retry, a.logger.Named("retry"))

	a.orchestrator, err = orchestrator.New(a.cfg.Orchestrator, orchestrator.Deps{
		Registry:    a.registry,
		Coordinator: coordinator,
		Executor:    executor,
		Pool:        pool,
		Fetcher:     router,
		Cache:       cache.New(a.cfg.Cache),
		Progress:    hub,
		Sinks:       sinks,
		Clock:       clock,
		IDs:         idgen.New(),
		Logger:      a.logger.Named("orchestrator"),
	})
	if err != nil {
		if pool != nil {
			_ = pool.Close()
		}
		if hub != nil {
			_ = hub.Close(ctx)
		}
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.orchestrator, a.runStore, a.cfg, a.logger.Named("api"))
	return nil
}

// Scraper exposes the orchestrator for one-shot CLI runs.
func (a *App) Scraper() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Exports returns the in-memory export store, or nil for other backends.
func (a *App) Exports() *memorystorage.BlobStore {
	return a.exports
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close stops the orchestrator and releases infrastructure clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.orchestrator != nil {
		if err := a.orchestrator.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("browser close failed", zap.Error(err))
		}
		a.browser = nil
	}
	if a.recordPub != nil {
		a.recordPub.Stop()
		a.recordPub = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func setupRegistry(cfg config.Config) (*resource.Registry, error) {
	if cfg.Resources.File == "" {
		return resource.Defaults(), nil
	}
	reg, err := resource.LoadFile(cfg.Resources.File)
	if err != nil {
		return nil, fmt.Errorf("resource registry init failed: %w", err)
	}
	return reg, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("No DSN specified for database, skipping result store and run repository initialization")
		return nil
	}
	var err error
	a.db, err = pgstore.Connect(ctx, a.cfg.Database.Config)
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	if a.cfg.Database.Migrate {
		if err = pgstore.Migrate(ctx, a.db); err != nil {
			return fmt.Errorf("database migrate failed: %w", err)
		}
		a.logger.Info("database schema applied")
	}
	runs, err := pgstore.NewRunStore(a.db)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runStore = runs
	return nil
}

func (a *App) setupResultSinks(ctx context.Context) ([]scraper.ResultSink, error) {
	var sinks []scraper.ResultSink

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	if blobs != nil {
		export, exportErr := storage.NewExportSink(blobs, a.cfg.Storage.Export, a.logger.Named("export"))
		if exportErr != nil {
			return nil, fmt.Errorf("export sink init failed: %w", exportErr)
		}
		sinks = append(sinks, export)
	}

	if a.db != nil {
		results, resErr := pgstore.NewResultStore(a.db, a.cfg.Database.ResultsTable)
		if resErr != nil {
			return nil, fmt.Errorf("result store init failed: %w", resErr)
		}
		sinks = append(sinks, results)
		a.logger.Info("result store initialized", zap.String("table", a.cfg.Database.ResultsTable))
	}

	if a.cfg.PubSub.Topic != "" && a.cfg.PubSub.ProjectID != "" {
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.recordPub = gcppublisher.New(a.pubsubClient.Topic(a.cfg.PubSub.Topic))
		recordSink, sinkErr := publisher.NewRecordSink(a.recordPub, a.cfg.PubSub.Topic, a.logger.Named("publisher"))
		if sinkErr != nil {
			return nil, fmt.Errorf("record sink init failed: %w", sinkErr)
		}
		sinks = append(sinks, recordSink)
		a.logger.Info(
			"Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}
	return sinks, nil
}

func (a *App) setupStorage(ctx context.Context) (storage.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		var err error
		a.gcsClient, err = gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.gcsClient, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobs, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory storage backend")
		a.exports = memorystorage.NewBlobStore()
		return a.exports, nil
	default:
		a.logger.Debug("run exports disabled")
		return nil, nil
	}
}

func (a *App) setupProgress(reg prometheus.Registerer) (*progress.Hub, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if a.runStore != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_store")))
	}
	if a.cfg.Progress.Log {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.cfg.Progress.Prometheus && reg != nil {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if len(sinkList) == 0 {
		a.logger.Warn("progress tracking enabled but no sinks configured")
		return nil, nil
	}
	hubCfg := a.cfg.Progress.Hub
	hubCfg.Logger = a.logger.Named("progress_hub")
	hub := progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return hub, nil
}

// setupTabs starts the browser and tab pool only when a registered resource
// needs a rendering session.
func (a *App) setupTabs(ctx context.Context, detector *antibot.Detector) (*tabs.Pool, error) {
	needsBrowser := false
	for _, d := range a.registry.All() {
		if d.RequiresSession() {
			needsBrowser = true
			break
		}
	}
	if !needsBrowser {
		a.logger.Info("no web resources registered, tab pool disabled")
		return nil, nil
	}
	if a.browser == nil {
		browserCfg := a.cfg.Browser
		if browserCfg.UserAgent == "" {
			browserCfg.UserAgent = detector.UserAgent()
		}
		b, err := headlessfetcher.NewBrowser(browserCfg)
		if err != nil {
			return nil, fmt.Errorf("browser init failed: %w", err)
		}
		a.browser = b
	}
	pool, err := tabs.New(ctx, a.browser, a.cfg.Tabs, a.logger.Named("tabs"))
	if err != nil {
		return nil, fmt.Errorf("tab pool init failed: %w", err)
	}
	return pool, nil
}

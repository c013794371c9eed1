// Package app initializes and holds long-lived application services, acting as a dependency
// injection container for the serve and scrape commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webpage-search/internal/api"
	"github.com/JakeFAU/webpage-search/internal/archive"
	"github.com/JakeFAU/webpage-search/internal/clock"
	"github.com/JakeFAU/webpage-search/internal/config"
	"github.com/JakeFAU/webpage-search/internal/crawler"
	"github.com/JakeFAU/webpage-search/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/webpage-search/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/webpage-search/internal/fetcher/headless"
	"github.com/JakeFAU/webpage-search/internal/headless/detector"
	"github.com/JakeFAU/webpage-search/internal/id"
	"github.com/JakeFAU/webpage-search/internal/progress"
	"github.com/JakeFAU/webpage-search/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/webpage-search/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/webpage-search/internal/queue/memory"
	"github.com/JakeFAU/webpage-search/internal/ratelimit"
	"github.com/JakeFAU/webpage-search/internal/storage/gcs"
	"github.com/JakeFAU/webpage-search/internal/storage/local"
	memoryStorage "github.com/JakeFAU/webpage-search/internal/storage/memory"
	"github.com/JakeFAU/webpage-search/internal/storage/postgres"
	"github.com/JakeFAU/webpage-search/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App holds all the shared, long-lived services for the serve command.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	jobStore   crawler.JobStore
	queue      *queueMemory.Queue
	dispatcher *dispatcher.Dispatcher
	server     *api.Server
	closers    []func() error
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetJobStore exposes the configured job store.
func (a *App) GetJobStore() crawler.JobStore {
	return a.jobStore
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// NewSessionFactory returns a factory for the configured fetch backend. Each call to the
// factory opens an independent session; headless sessions own one browser each. When a
// per-host rate is set, each session paces its own page loads. Sessions do not coordinate.
func NewSessionFactory(cfg config.FetcherConfig) (crawler.SessionFactory, error) {
	open, err := backendFactory(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.PerHostRPS <= 0 {
		return open, nil
	}
	limits := ratelimit.Config{PerHostRPS: cfg.PerHostRPS, PerHostBurst: cfg.PerHostBurst}
	return func(ctx context.Context) (crawler.Session, error) {
		session, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return ratelimit.Wrap(session, ratelimit.New(limits)), nil
	}, nil
}

func backendFactory(cfg config.FetcherConfig) (crawler.SessionFactory, error) {
	detect := detector.NewHeuristic(cfg.NotFoundBodyBytes)
	switch cfg.Backend {
	case config.FetcherHeadless:
		return func(context.Context) (crawler.Session, error) {
			f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
				UserAgent:         cfg.UserAgent,
				NavigationTimeout: cfg.NavTimeout(),
				SettleDelay:       cfg.SettleDelay(),
				WindowWidth:       cfg.WindowWidth,
				WindowHeight:      cfg.WindowHeight,
				ExecPath:          cfg.ChromePath,
			}, detect)
			if err != nil {
				return nil, fmt.Errorf("start headless session: %w", err)
			}
			return f, nil
		}, nil
	case config.FetcherHTTP:
		return func(context.Context) (crawler.Session, error) {
			return collyfetcher.New(collyfetcher.Config{
				UserAgent: cfg.UserAgent,
				Timeout:   cfg.NavTimeout(),
			}, detect), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown fetcher backend: %s", cfg.Backend)
	}
}

// NewApp creates and initializes the services described by cfg. It fails fast if any
// backend cannot be initialized and releases whatever was already opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	l := a.logger
	l.Info("initializing application services")
	sysClock := clock.System{}

	// 1. Job and result persistence.
	switch a.cfg.Storage.Backend {
	case "postgres":
		l.Info("connecting to postgres")
		store, err := postgres.NewJobStore(ctx, postgres.Config{
			DSN:          a.cfg.Storage.DSN,
			JobsTable:    a.cfg.Storage.JobsTable,
			ResultsTable: a.cfg.Storage.ResultsTable,
			MaxConns:     a.cfg.Storage.MaxConns,
		}, sysClock)
		if err != nil {
			return fmt.Errorf("initialize job store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("initialize job store: %w", err)
		}
		a.jobStore = store
	case "memory", "":
		l.Info("using in-memory job store; results are lost on restart")
		a.jobStore = memoryStorage.NewJobStore()
	default:
		return fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}

	// 2. Page body archive.
	var blobs crawler.BlobStore
	switch a.cfg.Blobs.Backend {
	case "gcs":
		l.Info("using GCS blob store", zap.String("bucket", a.cfg.Blobs.GCSBucket))
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Blobs.GCSBucket})
		if err != nil {
			return fmt.Errorf("initialize blob store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		blobs = store
	case "local":
		l.Info("using local blob store", zap.String("base_dir", a.cfg.Blobs.BaseDir))
		store, err := local.New(local.Config{BaseDir: a.cfg.Blobs.BaseDir})
		if err != nil {
			return fmt.Errorf("initialize blob store: %w", err)
		}
		blobs = store
	case "none", "":
		l.Info("page bodies are kept in result records only")
	default:
		return fmt.Errorf("unknown blobs backend: %s", a.cfg.Blobs.Backend)
	}
	var archiver *archive.Archiver
	if blobs != nil {
		archiver = archive.New(blobs, archive.Config{
			Prefix:      a.cfg.Blobs.Prefix,
			ContentType: a.cfg.Blobs.ContentType,
		})
	}

	// 3. Record events.
	var publisher crawler.Publisher
	if a.cfg.PubSub.ProjectID != "" {
		l.Info("connecting to GCP Pub/Sub", zap.String("topic", a.cfg.PubSub.TopicName))
		pub, err := pubsubpublisher.Dial(ctx, a.cfg.PubSub.ProjectID, map[string]string{"kind": crawler.JobKind})
		if err != nil {
			return fmt.Errorf("initialize publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		publisher = pub
	}

	// 4. Progress events feed the job logs and Prometheus collectors.
	hub := progress.NewHub(progress.Config{Logger: l.Named("progress")},
		sinks.NewLogSink(l.Named("progress")),
		sinks.NewMetricsSink(),
	)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return hub.Close(ctx)
	})

	// 5. Fetch sessions, queue and workers.
	newSession, err := NewSessionFactory(a.cfg.Fetcher)
	if err != nil {
		return err
	}
	a.queue = queueMemory.NewQueue(a.cfg.Queue.Depth)
	registry := worker.NewRegistry()
	workerCfg := worker.Config{Topic: a.cfg.PubSub.TopicName}
	workers := make([]*worker.Worker, 0, a.cfg.Queue.Workers)
	for i := 0; i < a.cfg.Queue.Workers; i++ {
		workers = append(workers, worker.New(worker.Deps{
			Queue:      a.queue,
			JobStore:   a.jobStore,
			Archiver:   archiver,
			Publisher:  publisher,
			Clock:      sysClock,
			NewSession: newSession,
			Registry:   registry,
			Progress:   hub,
		}, workerCfg, l.Named("worker").With(zap.Int("index", i))))
	}
	a.dispatcher = dispatcher.New(a.queue, workers, registry)
	a.server = api.NewServer(a.jobStore, a.dispatcher, id.Generator{}, sysClock, a.cfg, l.Named("api"))

	l.Info("application services initialized",
		zap.String("fetcher", a.cfg.Fetcher.Backend),
		zap.Int("workers", a.cfg.Queue.Workers),
	)
	return nil
}

// Serve runs the dispatcher and HTTP server until ctx is canceled, then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Queue.Workers))
		a.dispatcher.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
			return
		}
		serveErr <- nil
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone
	a.logger.Info("shutdown complete")

	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close gracefully shuts down all services in the App container, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

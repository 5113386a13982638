// Package server builds the scraper's long-lived dependencies from config.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/api"
	"github.com/vikigenius/bugscraper/internal/archive"
	"github.com/vikigenius/bugscraper/internal/bugzilla"
	"github.com/vikigenius/bugscraper/internal/clock/system"
	"github.com/vikigenius/bugscraper/internal/config"
	"github.com/vikigenius/bugscraper/internal/id/uuid"
	"github.com/vikigenius/bugscraper/internal/metrics"
	"github.com/vikigenius/bugscraper/internal/pipeline"
	"github.com/vikigenius/bugscraper/internal/policy/ratelimit"
	"github.com/vikigenius/bugscraper/internal/progress"
	memorypublisher "github.com/vikigenius/bugscraper/internal/publisher/memory"
	gcppublisher "github.com/vikigenius/bugscraper/internal/publisher/pubsub"
	gcsstorage "github.com/vikigenius/bugscraper/internal/storage/gcs"
	localstorage "github.com/vikigenius/bugscraper/internal/storage/local"
	pgstore "github.com/vikigenius/bugscraper/internal/storage/postgres"
	"github.com/vikigenius/bugscraper/internal/store"
	"github.com/vikigenius/bugscraper/internal/telemetry"
	collytransport "github.com/vikigenius/bugscraper/internal/transport/colly"
)

const serviceName = "bugscraper"

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	progress       *progress.Tracker
	limiter        *ratelimit.Limiter
	publisher      store.Publisher
	pubsubClient   *pubsub.Client
	pubsubTopic    *gcppublisher.Publisher
	storage        *storage.Client
	blobs          store.BlobStore
	runs           store.RunRepository
	httpServer     *http.Server
	listenAddr     string
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{
		cfg:      cfg,
		logger:   logger,
		progress: progress.NewTracker(system.New()),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.HTTP.RequestsPerSecond,
			Burst: cfg.HTTP.Burst,
		}),
	}

	tp, err := telemetry.InitTracerProvider(ctx, serviceName, "")
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.logger.Debug("Building application dependencies")
	if err := setupStorage(ctx, app); err != nil {
		return nil, errors.Join(err, app.Close(ctx))
	}
	if err := setupDatabase(ctx, app); err != nil {
		return nil, errors.Join(err, app.Close(ctx))
	}
	if err := setupPublisher(ctx, app); err != nil {
		return nil, errors.Join(err, app.Close(ctx))
	}
	return app, nil
}

func setupStorage(ctx context.Context, app *App) error {
	var err error
	switch app.cfg.Archive.Provider {
	case "gcs":
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		app.blobs, err = gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Archive.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("Using GCS archive", zap.String("bucket", app.cfg.Archive.Bucket))
	case "local":
		app.blobs, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("Using local archive", zap.String("path", app.cfg.Archive.Dir))
	default:
		app.logger.Debug("Archive disabled")
	}
	return nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Debug("No DSN specified for database, skipping sweep run history")
		return nil
	}
	runs, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:   app.cfg.Database.DSN,
		Table: app.cfg.Database.Table,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runs = runs
	if err := runs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run store schema: %w", err)
	}
	app.logger.Info("Run store initialized", zap.String("table", app.cfg.Database.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.Notify.Provider != "pubsub" {
		app.logger.Debug("No Pub/Sub topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.Notify.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubTopic = gcppublisher.New(app.pubsubClient.Topic(app.cfg.Notify.Topic))
	app.publisher = app.pubsubTopic
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.Notify.ProjectID),
		zap.String("topic", app.cfg.Notify.Topic),
	)
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Progress returns the tracker shared by sweeps and the status server.
func (a *App) Progress() *progress.Tracker {
	return a.progress
}

// NewDriver wires a pipeline driver for subdomain that reports into the
// shared progress tracker.
func (a *App) NewDriver(subdomain string) (*pipeline.Driver, error) {
	transport := collytransport.New(collytransport.Config{
		UserAgent:   a.cfg.HTTP.UserAgent,
		Timeout:     a.cfg.HTTP.Timeout,
		MaxBodySize: a.cfg.HTTP.MaxBodyBytes,
	})
	client, err := bugzilla.NewClient(bugzilla.Config{
		Subdomain: subdomain,
		Overrides: a.cfg.Overrides(),
	}, transport, a.logger.Named("bugzilla"))
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Resolved tracker", zap.String("subdomain", subdomain), zap.String("base_url", client.BaseURL()))
	return pipeline.NewDriver(client, pipeline.Options{
		Subdomain:       subdomain,
		CheckpointEvery: a.cfg.Scrape.CheckpointEvery,
		Throttle:        a.limiter,
		Progress:        a.progress,
		Clock:           system.New(),
		IDs:             uuid.New(),
		Logger:          a.logger.Named("pipeline"),
	})
}

// Uploader returns an archive uploader, or an error when no archive is configured.
func (a *App) Uploader(prefix string) (*archive.Uploader, error) {
	if a.blobs == nil {
		return nil, errors.New("archive.provider is not configured")
	}
	return archive.NewUploader(a.blobs, prefix, a.logger.Named("archive"))
}

// Serve starts the status server in the background when server.addr is set.
func (a *App) Serve(_ context.Context) error {
	if a.cfg.Server.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}
	a.listenAddr = ln.Addr().String()
	a.httpServer = &http.Server{
		Handler:           api.NewServer(a.progress, a.logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Status server error", zap.Error(err))
		}
	}()
	a.logger.Info("Status server started", zap.String("addr", a.listenAddr))
	return nil
}

// Addr returns the status server's listen address, or "" when not serving.
func (a *App) Addr() string {
	return a.listenAddr
}

// Report publishes a sweep summary and records it in run history. Failures
// are logged; a sweep's outcome never depends on reporting.
func (a *App) Report(ctx context.Context, stats pipeline.Stats) {
	if a.publisher != nil {
		id, err := a.publisher.Publish(ctx, "sweep."+stats.Status, stats)
		if err != nil {
			a.logger.Warn("Publish sweep summary failed", zap.String("run_id", stats.RunID), zap.Error(err))
		} else {
			a.logger.Debug("Published sweep summary", zap.String("run_id", stats.RunID), zap.String("message_id", id))
		}
	}
	if a.runs != nil {
		if err := a.runs.RecordRun(ctx, sweepRun(stats)); err != nil {
			a.logger.Warn("Record sweep run failed", zap.String("run_id", stats.RunID), zap.Error(err))
		}
	}
}

func sweepRun(s pipeline.Stats) store.SweepRun {
	return store.SweepRun{
		RunID:           s.RunID,
		Subdomain:       s.Subdomain,
		Kind:            s.Kind,
		Status:          s.Status,
		Units:           s.Units,
		Fetched:         s.Fetched,
		Empty:           s.Empty,
		TransportErrors: s.TransportErrors,
		ShapeErrors:     s.ShapeErrors,
		Skipped:         s.Skipped,
		Saved:           s.Saved,
		StartedAt:       s.Started,
		FinishedAt:      s.Finished,
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status server shutdown: %w", err))
		}
		a.httpServer = nil
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
		a.pubsubTopic = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("Pub/Sub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("GCS client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.runs != nil {
		a.runs.Close()
		a.runs = nil
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	return errors.Join(errs...)
}

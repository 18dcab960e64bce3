// Package app wires the taxidash components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/taxidash/taxidash/internal/api/http"
	"github.com/taxidash/taxidash/internal/config"
	"github.com/taxidash/taxidash/internal/dashboard"
	"github.com/taxidash/taxidash/internal/dataset"
	"github.com/taxidash/taxidash/internal/engine"
	"github.com/taxidash/taxidash/internal/observability"
	"github.com/taxidash/taxidash/internal/query"
	"github.com/taxidash/taxidash/internal/server"
	"github.com/taxidash/taxidash/internal/storage"
)

// App owns one engine handle and everything serving it.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	stats    *observability.QueryStats
	handle   *engine.Handle
	facade   *query.Facade
	dash     *dashboard.Dashboard
	shutdown *server.ShutdownManager

	// Set by Open
	source storage.ObjectStorage
	loader *dataset.Loader
	server *httpapi.Server

	// Lifecycle
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loaded   chan struct{}
	loadOnce sync.Once
	reports  []*dataset.LoadReport
	loadErrs []error
}

// New validates cfg and builds the components that need no I/O.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	stats := observability.NewQueryStats(cfg.Query.StatsWindow)

	engineCfg := cfg.EngineSettings()
	engineCfg.Logger = logger
	handle := engine.New(engineCfg)

	facade := query.NewFacade(handle, query.FacadeConfig{Logger: logger, Metrics: metrics, Stats: stats})

	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics,
		stats:    stats,
		handle:   handle,
		facade:   facade,
		dash:     dashboard.New(facade),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			Logger:          logger,
		}),
		loaded: make(chan struct{}),
	}, nil
}

// NewSource builds the object source described by cfg.
func NewSource(ctx context.Context, cfg config.SourceConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case config.SourceLocal:
		return storage.NewLocalStorage(cfg.Path)
	case config.SourceS3:
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		s3Cfg.Prefix = cfg.S3.Prefix
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	case config.SourceHTTP:
		return storage.NewHTTPStorage(cfg.BaseURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

// Start connects the engine, starts the HTTP server and loads the
// configured datasets in the background. The API answers from the first
// moment; charts return 404 until their year is loaded.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Open(ctx); err != nil {
		cancel()
		a.handle.Close()
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("http server listening", "addr", a.cfg.HTTP.Addr)
		if err := a.server.Start(); err != nil {
			a.logger.Error("http server error", "error", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.Bootstrap(ctx); err != nil {
			a.logger.Error("startup load incomplete", "error", err)
		}
	}()

	a.logger.Info("taxidash started", "handle", a.handle.ID(), "source", a.cfg.Source.Type)
	return nil
}

// Open builds the source, connects the engine and assembles the loader
// and the HTTP server without serving. Start calls it; one-shot commands
// call it directly and finish with Close.
func (a *App) Open(ctx context.Context) error {
	if a.server != nil {
		return nil
	}
	source, err := NewSource(ctx, a.cfg.Source)
	if err != nil {
		return fmt.Errorf("failed to initialize source: %w", err)
	}
	a.source = source

	if err := a.handle.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect engine: %w", err)
	}
	a.shutdown.RegisterCloser(a.handle)

	a.loader = dataset.NewLoader(a.handle, source, dataset.LoaderConfig{
		FetchConcurrency: a.cfg.Source.FetchConcurrency,
		Logger:           a.logger,
		Metrics:          a.metrics,
	})

	handler := httpapi.NewHandler(httpapi.HandlerConfig{
		Engine:    a.handle,
		Loader:    a.loader,
		Query:     a.facade,
		Dashboard: a.dash,
		Stats:     a.stats,
		Gatherer:  a.registry,
		Logger:    a.logger,

		LoadsPerMinute: a.cfg.HTTP.LoadsPerMinute,
		LoadBurst:      a.cfg.HTTP.LoadBurst,
	})
	a.server = httpapi.NewServer(handler, httpapi.ServerConfig{
		Addr:         a.cfg.HTTP.Addr,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
		Logger:       a.logger,
	}, a.shutdown)
	return nil
}

// Bootstrap loads the primary dataset strictly, then every extra dataset
// leniently. A failed extra does not stop the others. It returns the
// joined load errors and closes Loaded when the first call is done.
func (a *App) Bootstrap(ctx context.Context) error {
	defer a.loadOnce.Do(func() { close(a.loaded) })

	opts := dataset.LoadOptions{MonthCount: a.cfg.Datasets.MonthCount}

	a.load(ctx, a.cfg.Datasets.Primary, dataset.LoadOptions{MonthCount: opts.MonthCount, Strict: true})
	for _, d := range a.cfg.Datasets.Extras {
		if ctx.Err() != nil {
			break
		}
		a.load(ctx, d, opts)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return errors.Join(a.loadErrs...)
}

func (a *App) load(ctx context.Context, d dataset.Descriptor, opts dataset.LoadOptions) {
	report, err := a.loader.LoadDataset(ctx, d, opts)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.loadErrs = append(a.loadErrs, fmt.Errorf("%s: %w", d, err))
		return
	}
	a.reports = append(a.reports, report)
}

// Loaded is closed once Bootstrap has finished.
func (a *App) Loaded() <-chan struct{} {
	return a.loaded
}

// Reports returns the reports of the datasets loaded so far by Bootstrap.
func (a *App) Reports() []*dataset.LoadReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*dataset.LoadReport(nil), a.reports...)
}

// Close closes the engine of an app that was opened but never started.
func (a *App) Close() error {
	return a.handle.Close()
}

// Loader returns the dataset loader. It is nil until Open succeeds.
func (a *App) Loader() *dataset.Loader {
	return a.loader
}

// Dashboard returns the chart builders.
func (a *App) Dashboard() *dashboard.Dashboard {
	return a.dash
}

// Facade returns the query façade over the app's engine.
func (a *App) Facade() *query.Facade {
	return a.facade
}

// Handler returns the HTTP API, for serving without a listener.
func (a *App) Handler() http.Handler {
	return a.server
}

// Stop drains the server and closes the engine.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}

	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout, some goroutines may not have finished")
	}

	a.logger.Info("taxidash stopped")
	return err
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

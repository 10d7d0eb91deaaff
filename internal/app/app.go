package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"RegScanner/internal/analysis"
	"RegScanner/internal/config"
	"RegScanner/internal/domain"
	"RegScanner/internal/infrastructure/export"
	"RegScanner/internal/infrastructure/httpapi"
	"RegScanner/internal/infrastructure/llm"
	"RegScanner/internal/infrastructure/parser"
	"RegScanner/internal/infrastructure/scheduler"
	"RegScanner/internal/infrastructure/storage"
	"RegScanner/internal/infrastructure/telegram"
	"RegScanner/internal/logging"
	"RegScanner/internal/ports"
	"RegScanner/internal/rollup"
	"RegScanner/internal/scanner"
	"RegScanner/internal/usecase"
)

const shutdownGrace = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	store    *storage.SQLStore
	pipeline *usecase.Pipeline

	// analyzerErr is set when no model client could be built; runs refuse to start.
	analyzerErr error
}

// New opens the store and builds every adapter the pipeline needs.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLStore(ctx, db, cfg.Database.Driver, storage.WithLogger(baseLogger))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	client := &http.Client{Timeout: cfg.Sources.Timeout}
	registry := scanner.NewRegistry()
	registry.Register(parser.NewRSSScanner(client, cfg.Sources.UserAgent))
	registry.Register(parser.NewFedRegScanner(client, cfg.Sources.UserAgent, baseLogger))
	registry.Register(parser.NewHTMLListScanner(client, cfg.Sources.UserAgent))

	source := parser.NewStrategySource(registry, cfg.Sites, cfg.Sources.Concurrency, baseLogger.With("component", "source"))

	a := &Application{cfg: cfg, logger: baseLogger, db: db, store: store}

	var analyzer ports.Analyzer
	if completer, err := llm.NewCompleter(cfg.LLM); err != nil {
		a.analyzerErr = err
		baseLogger.Warn("analysis disabled", "provider", cfg.LLM.Provider, "error", err)
	} else {
		analyzer, err = analysis.New(completer, analysis.Options{
			CallTimeout:       cfg.Analysis.CallTimeout,
			MaxAttempts:       cfg.Analysis.MaxAttempts,
			RequestsPerSecond: cfg.Analysis.RequestsPerSecond,
		}, baseLogger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("build analyzer: %w", err)
		}
	}

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram)
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:   source,
		Store:    store,
		Analyzer: analyzer,
		Exporter: export.NewFileExporter(cfg.Export.Dir, baseLogger),
		Notifier: notifier,
		Logger:   baseLogger,
		Options: usecase.Options{
			AnalysisLimit:   cfg.Analysis.Limit,
			Concurrency:     cfg.Analysis.Concurrency,
			DigestLimit:     cfg.Rollups.DigestLimit,
			ChangelogWindow: cfg.Rollups.ChangelogWindow,
		},
	})

	return a, nil
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context, opts usecase.RunOptions) (usecase.RunReport, error) {
	if a.analyzerErr != nil {
		return usecase.RunReport{}, fmt.Errorf("analysis unavailable: %w", a.analyzerErr)
	}
	return a.pipeline.Run(ctx, opts)
}

// Report recomputes the rollups; with export it also writes the report files.
func (a *Application) Report(ctx context.Context, exportFiles bool) (rollup.Report, ports.ExportPaths, error) {
	if exportFiles {
		return a.pipeline.Export(ctx, usecase.ReportOptions{})
	}
	report, err := a.pipeline.Report(ctx, usecase.ReportOptions{})
	return report, ports.ExportPaths{}, err
}

// Stats returns the current item counts.
func (a *Application) Stats(ctx context.Context) (domain.StoreStats, error) {
	return a.store.Stats(ctx)
}

// Serve runs scheduled pipelines and the HTTP API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if a.analyzerErr != nil {
		return fmt.Errorf("analysis unavailable: %w", a.analyzerErr)
	}

	driver, err := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location(), a.logger)
	if err != nil {
		return err
	}
	jobs := usecase.NewScheduler(driver, a.pipeline, a.logger)
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Store:          a.store,
		Pipeline:       a.pipeline,
		Logger:         a.logger,
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
		RunContext:     ctx,
	})
	server := httpapi.NewServer(a.cfg.HTTP.Addr, router, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	a.logger.Info("shutting down")
	return errors.Join(
		serveErr,
		server.Shutdown(shutdownCtx),
		jobs.Stop(shutdownCtx),
		a.pipeline.Wait(shutdownCtx),
	)
}

// Close releases the database handle.
func (a *Application) Close() error {
	return a.db.Close()
}

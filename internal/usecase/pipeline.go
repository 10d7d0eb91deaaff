package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"RegScanner/internal/domain"
	"RegScanner/internal/ports"
	"RegScanner/internal/rollup"
)

var (
	// ErrRunInProgress rejects a run while another one is still executing.
	ErrRunInProgress = errors.New("pipeline run already in progress")
	// ErrStoreUnavailable is the only pipeline-fatal condition.
	ErrStoreUnavailable = errors.New("item store unavailable")
)

// Stage is a checkpoint of the pipeline state machine.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageIngesting         Stage = "ingesting"
	StageAnalyzing         Stage = "analyzing"
	StageGeneratingRollups Stage = "generating_rollups"
	StageExporting         Stage = "exporting"
)

// Options carries the configured defaults of every run.
type Options struct {
	AnalysisLimit   int
	Concurrency     int
	DigestLimit     int
	ChangelogWindow time.Duration
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source   ports.ItemSource
	Store    ports.ItemStore
	Analyzer ports.Analyzer
	Exporter ports.Exporter
	Notifier ports.Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
	Options  Options
}

// RunOptions overrides per-run behaviour.
type RunOptions struct {
	// AnalysisLimit replaces the configured limit when positive.
	AnalysisLimit int
	// RetryFailed requeues items whose relevance check failed before analyzing.
	RetryFailed bool
}

// ReportOptions overrides rollup parameters; zero values keep the configured ones.
type ReportOptions struct {
	DigestLimit     int
	ChangelogWindow time.Duration
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Fetched        int
	Ingested       int
	Duplicates     int
	InsertFailures []domain.InsertFailure
	SourceFailures []domain.SourceFailure

	Requeued         int64
	Selected         int
	Analyzed         int
	AnalysisFailures int
	UpdateFailures   int

	Rollup    rollup.Report
	Exports   ports.ExportPaths
	ExportErr error
	NotifyErr error

	Stages map[Stage]time.Duration
}

// Pipeline implements the ingest, analyze, rollup and export workflow.
type Pipeline struct {
	source   ports.ItemSource
	store    ports.ItemStore
	analyzer ports.Analyzer
	exporter ports.Exporter
	notifier ports.Notifier
	logger   *slog.Logger
	now      func() time.Time
	opts     Options
	tracer   trace.Tracer

	mu      sync.Mutex
	running bool
	stage   Stage
	lastRun *RunReport

	background sync.WaitGroup
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	opts := deps.Options
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ChangelogWindow <= 0 {
		opts.ChangelogWindow = 24 * time.Hour
	}

	return &Pipeline{
		source:   deps.Source,
		store:    deps.Store,
		analyzer: deps.Analyzer,
		exporter: deps.Exporter,
		notifier: deps.Notifier,
		logger:   logger.With("component", "pipeline"),
		now:      now,
		opts:     opts,
		tracer:   otel.Tracer("RegScanner/usecase"),
		stage:    StageIdle,
	}
}

// State returns the stage the pipeline is currently in.
func (p *Pipeline) State() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// LastRun returns the report of the most recent finished run, if any.
func (p *Pipeline) LastRun() (RunReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastRun == nil {
		return RunReport{}, false
	}
	return *p.lastRun, true
}

// Run executes one full pass. Each stage is a checkpoint: a later failure
// never rolls back what earlier stages persisted, so a rerun simply resumes
// from the current store state.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	if !p.begin() {
		return RunReport{}, ErrRunInProgress
	}
	return p.execute(ctx, uuid.NewString(), opts)
}

// Start launches a run in the background and returns its id. The busy check
// happens before Start returns, so callers get ErrRunInProgress synchronously.
func (p *Pipeline) Start(ctx context.Context, opts RunOptions) (string, error) {
	if !p.begin() {
		return "", ErrRunInProgress
	}

	runID := uuid.NewString()
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		if _, err := p.execute(ctx, runID, opts); err != nil {
			p.logger.Error("background run failed", "run_id", runID, "error", err)
		}
	}()
	return runID, nil
}

// Wait blocks until every run launched by Start has returned or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) execute(ctx context.Context, runID string, opts RunOptions) (RunReport, error) {
	report := RunReport{
		RunID:     runID,
		StartedAt: p.now().UTC(),
		Stages:    make(map[Stage]time.Duration, 4),
	}
	defer func() { p.finish(report) }()

	log := p.logger.With("run_id", report.RunID)
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("run_id", report.RunID)))
	defer span.End()

	if p.store == nil {
		return report, fmt.Errorf("%w: no store configured", ErrStoreUnavailable)
	}
	if err := p.store.Ping(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Error("store unreachable", "error", err)
		return report, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	log.Info("run started")

	stages := []struct {
		stage Stage
		run   func(context.Context, *slog.Logger, *RunReport) error
	}{
		{StageIngesting, p.ingest},
		{StageAnalyzing, func(ctx context.Context, log *slog.Logger, r *RunReport) error {
			return p.analyze(ctx, log, r, opts)
		}},
		{StageGeneratingRollups, p.generateRollups},
		{StageExporting, p.export},
	}
	for _, s := range stages {
		if err := p.runStage(ctx, log, &report, s.stage, s.run); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return report, err
		}
	}

	report.FinishedAt = p.now().UTC()
	log.Info("run finished",
		"fetched", report.Fetched,
		"ingested", report.Ingested,
		"duplicates", report.Duplicates,
		"source_failures", len(report.SourceFailures),
		"analyzed", report.Analyzed,
		"analysis_failures", report.AnalysisFailures,
	)
	return report, nil
}

// Report computes the rollups from the current store state without ingesting or analyzing.
func (p *Pipeline) Report(ctx context.Context, opts ReportOptions) (rollup.Report, error) {
	report, _, err := p.buildRollups(ctx, opts)
	return report, err
}

// Export recomputes the rollups and writes them through the exporter.
func (p *Pipeline) Export(ctx context.Context, opts ReportOptions) (rollup.Report, ports.ExportPaths, error) {
	if p.exporter == nil {
		return rollup.Report{}, ports.ExportPaths{}, errors.New("no exporter configured")
	}
	report, items, err := p.buildRollups(ctx, opts)
	if err != nil {
		return rollup.Report{}, ports.ExportPaths{}, err
	}
	paths, err := p.exporter.Export(ctx, report, items)
	if err != nil {
		return report, ports.ExportPaths{}, fmt.Errorf("export report: %w", err)
	}
	return report, paths, nil
}

func (p *Pipeline) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

func (p *Pipeline) finish(report RunReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.stage = StageIdle
	if report.FinishedAt.IsZero() {
		report.FinishedAt = p.now().UTC()
	}
	p.lastRun = &report
}

func (p *Pipeline) setStage(stage Stage) {
	p.mu.Lock()
	p.stage = stage
	p.mu.Unlock()
}

func (p *Pipeline) runStage(ctx context.Context, log *slog.Logger, report *RunReport, stage Stage, run func(context.Context, *slog.Logger, *RunReport) error) error {
	p.setStage(stage)
	ctx, span := p.tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()

	started := time.Now()
	err := run(ctx, log.With("stage", string(stage)), report)
	report.Stages[stage] = time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) ingest(ctx context.Context, log *slog.Logger, report *RunReport) error {
	if p.source == nil {
		return nil
	}

	batch, err := p.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch sources: %w", err)
	}
	report.Fetched = len(batch.Items)
	report.SourceFailures = batch.Failures
	for _, failure := range batch.Failures {
		log.Warn("source skipped", "source", failure.Site, "error", failure.Err)
	}

	inserted, err := p.store.Insert(ctx, batch.Items)
	report.Ingested = len(inserted.IDs)
	report.Duplicates = inserted.Duplicates
	report.InsertFailures = inserted.Failed
	if err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	for _, failure := range inserted.Failed {
		log.Warn("item not stored", "url", failure.URL, "error", failure.Err)
	}

	log.Info(fmt.Sprintf("ingested %d of %d fetched", report.Ingested, report.Fetched),
		"duplicates", report.Duplicates)
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, log *slog.Logger, report *RunReport, opts RunOptions) error {
	if p.analyzer == nil {
		return nil
	}

	if opts.RetryFailed {
		requeued, err := p.store.RequeueFailed(ctx)
		if err != nil {
			return fmt.Errorf("requeue failed items: %w", err)
		}
		report.Requeued = requeued
		if requeued > 0 {
			log.Info("requeued failed items", "count", requeued)
		}
	}

	limit := p.opts.AnalysisLimit
	if opts.AnalysisLimit > 0 {
		limit = opts.AnalysisLimit
	}

	items, err := p.store.SelectUnanalyzed(ctx, limit)
	if err != nil {
		return fmt.Errorf("select unanalyzed: %w", err)
	}
	report.Selected = len(items)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for _, item := range items {
		g.Go(func() error {
			result := p.analyzer.Analyze(gctx, item.RawItem)
			if err := gctx.Err(); err != nil {
				return err
			}

			err := p.store.UpdateAnalysis(gctx, item.ID, result)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.UpdateFailures++
				log.Warn("analysis not stored", "item_id", item.ID, "url", item.URL, "error", err)
			default:
				report.Analyzed++
				if result.AnalysisFailed {
					report.AnalysisFailures++
				}
				if len(result.Defaulted) > 0 {
					log.Warn("analysis defaulted", "item_id", item.ID, "url", item.URL,
						"stages", strings.Join(result.Defaulted, ","))
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("analyze items: %w", err)
	}

	log.Info("analysis finished", "analyzed", report.Analyzed, "selected", report.Selected,
		"failures", report.AnalysisFailures)
	return nil
}

func (p *Pipeline) generateRollups(ctx context.Context, log *slog.Logger, report *RunReport) error {
	rolled, _, err := p.buildRollups(ctx, ReportOptions{})
	if err != nil {
		return err
	}
	report.Rollup = rolled
	log.Debug("rollups generated",
		"digest", len(rolled.Digest.Items),
		"backlog", rolled.Backlog.TotalTasks,
		"new", rolled.Changelog.NewCount,
		"escalated", rolled.Changelog.EscalatedCount)
	return nil
}

// export writes the files and then notifies. Neither failure is fatal.
func (p *Pipeline) export(ctx context.Context, log *slog.Logger, report *RunReport) error {
	if p.exporter == nil {
		return nil
	}

	items, err := p.store.List(ctx, domain.ItemFilter{})
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	paths, err := p.exporter.Export(ctx, report.Rollup, items)
	if err != nil {
		report.ExportErr = err
		log.Error("export failed", "error", err)
		return nil
	}
	report.Exports = paths

	if p.notifier == nil {
		return nil
	}
	if err := p.notifier.PublishDigest(ctx, buildDigestMessage(report.Rollup)); err != nil {
		report.NotifyErr = err
		log.Warn("notify failed", "error", err)
	}
	return nil
}

func (p *Pipeline) buildRollups(ctx context.Context, opts ReportOptions) (rollup.Report, []domain.Item, error) {
	if p.store == nil {
		return rollup.Report{}, nil, fmt.Errorf("%w: no store configured", ErrStoreUnavailable)
	}

	items, err := p.store.List(ctx, domain.ItemFilter{})
	if err != nil {
		return rollup.Report{}, nil, fmt.Errorf("list items: %w", err)
	}

	limit := p.opts.DigestLimit
	if opts.DigestLimit > 0 {
		limit = opts.DigestLimit
	}
	window := p.opts.ChangelogWindow
	if opts.ChangelogWindow > 0 {
		window = opts.ChangelogWindow
	}

	now := p.now().UTC()
	return rollup.Build(items, rollup.Options{DigestLimit: limit, Cutoff: now.Add(-window)}, now), items, nil
}

func buildDigestMessage(report rollup.Report) string {
	digest := report.Digest
	if len(digest.Items) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Regulatory digest %s\n", report.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Relevant: %d of %d items. New: %d, escalated: %d. Open tasks: %d\n\n",
		digest.RelevantItems,
		digest.TotalItems,
		report.Changelog.NewCount,
		report.Changelog.EscalatedCount,
		report.Backlog.TotalTasks)

	for _, entry := range digest.Items {
		impact := string(entry.Impact)
		if impact == "" {
			impact = "Unscored"
		}
		fmt.Fprintf(&b, "- [%s] %s\n%s / %s\n%s\n\n",
			impact,
			entry.Title,
			entry.Source,
			entry.Area,
			entry.URL)
	}

	return strings.TrimRight(b.String(), "\n")
}

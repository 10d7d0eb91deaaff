package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegScanner/internal/domain"
	"RegScanner/internal/infrastructure/storage"
	"RegScanner/internal/logging"
	"RegScanner/internal/ports"
	"RegScanner/internal/rollup"
)

var now = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type staticSource struct {
	batch domain.FetchBatch
	calls atomic.Int32
}

func (s *staticSource) Fetch(ctx context.Context) (domain.FetchBatch, error) {
	s.calls.Add(1)
	return s.batch, nil
}

type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) Fetch(ctx context.Context) (domain.FetchBatch, error) {
	close(s.started)
	select {
	case <-s.release:
		return domain.FetchBatch{}, nil
	case <-ctx.Done():
		return domain.FetchBatch{}, ctx.Err()
	}
}

type stubAnalyzer struct {
	results map[string]domain.AnalysisResult
	calls   atomic.Int32
}

func (a *stubAnalyzer) Analyze(ctx context.Context, item domain.RawItem) domain.AnalysisResult {
	a.calls.Add(1)
	if r, ok := a.results[item.URL]; ok {
		return r
	}
	return domain.AnalysisResult{Relevant: false, RelevanceReason: "unknown"}
}

type recordingExporter struct {
	mu      sync.Mutex
	reports []rollup.Report
	err     error
}

func (e *recordingExporter) Export(ctx context.Context, report rollup.Report, items []domain.Item) (ports.ExportPaths, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return ports.ExportPaths{}, e.err
	}
	e.reports = append(e.reports, report)
	return ports.ExportPaths{JSON: "report.json", CSV: "report.csv"}, nil
}

type recordingNotifier struct {
	messages []string
	err      error
}

func (n *recordingNotifier) PublishDigest(ctx context.Context, digest string) error {
	n.messages = append(n.messages, digest)
	return n.err
}

type unreachableStore struct {
	ports.ItemStore
}

func (unreachableStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func newStore(t *testing.T) *storage.SQLStore {
	t.Helper()

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := storage.NewSQLStore(ctx, db, storage.DriverSQLite,
		storage.WithClock(clock), storage.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return store
}

const (
	urlA = "https://www.sec.gov/news/press-release/2025-1"
	urlB = "https://www.finra.org/rules-guidance/notices/25-01"
)

func raw(url, title string, source domain.Source) domain.RawItem {
	published := now.Add(-2 * time.Hour)
	return domain.RawItem{Source: source, Type: "press_release", Title: title, SummaryRaw: "summary", URL: url, PublishedAt: &published}
}

func scenario() (*staticSource, *stubAnalyzer) {
	source := &staticSource{batch: domain.FetchBatch{
		Items: []domain.RawItem{
			raw(urlA, "Custody rule amendments", domain.SourceSEC),
			raw(urlB, "Bank capital guidance", domain.SourceFINRA),
			raw(urlA, "Custody rule amendments (mirror)", domain.SourceSEC),
		},
		Failures: []domain.SourceFailure{{Site: "federal-register", Err: errors.New("503")}},
	}}

	impact := domain.Impact{Severity: 4, TimeSensitivity: 4, OperationalEffort: 3, CustomerImpact: 3, EnforcementRisk: 4, Overall: domain.TierHigh}
	analyzer := &stubAnalyzer{results: map[string]domain.AnalysisResult{
		urlA: {
			Relevant:         true,
			RelevanceReason:  "adviser custody",
			BusinessArea:     domain.AreaRIA,
			Impact:           &impact,
			ExecutiveSummary: "- custody controls change",
			Tasks: []domain.Task{
				{Task: "Update custody policy", OwnerRole: domain.OwnerCompliance, DueWindow: domain.Due30},
				{Task: "Brief operations", OwnerRole: domain.OwnerOps, DueWindow: domain.Due60},
			},
		},
		urlB: {Relevant: false, RelevanceReason: "banking only"},
	}}
	return source, analyzer
}

func newPipeline(store ports.ItemStore, source ports.ItemSource, analyzer ports.Analyzer, exporter ports.Exporter, notifier ports.Notifier) *Pipeline {
	return NewPipeline(PipelineDeps{
		Source:   source,
		Store:    store,
		Analyzer: analyzer,
		Exporter: exporter,
		Notifier: notifier,
		Logger:   logging.Discard(),
		Clock:    clock,
		Options:  Options{AnalysisLimit: 10, Concurrency: 2, DigestLimit: 5, ChangelogWindow: time.Hour},
	})
}

func TestRunEndToEnd(t *testing.T) {
	store := newStore(t)
	source, analyzer := scenario()
	exporter := &recordingExporter{}
	notifier := &recordingNotifier{}
	p := newPipeline(store, source, analyzer, exporter, notifier)

	report, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 2, report.Ingested)
	assert.Equal(t, 1, report.Duplicates)
	assert.Len(t, report.SourceFailures, 1)
	assert.Equal(t, 2, report.Analyzed)
	assert.Zero(t, report.AnalysisFailures)
	assert.Equal(t, "report.json", report.Exports.JSON)
	assert.Contains(t, report.Stages, StageExporting)
	assert.Equal(t, StageIdle, p.State())

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Relevant)
	assert.Equal(t, 1, stats.NotRelevant)

	digest := report.Rollup.Digest
	require.Len(t, digest.Items, 1)
	assert.Equal(t, urlA, digest.Items[0].URL)
	assert.Equal(t, domain.TierHigh, digest.Items[0].Impact)

	backlog := report.Rollup.Backlog
	require.Len(t, backlog.Tasks, 2)
	for _, task := range backlog.Tasks {
		assert.Equal(t, digest.Items[0].ID, task.ItemID)
	}

	changelog := report.Rollup.Changelog
	assert.Equal(t, now.Add(-time.Hour), changelog.Cutoff)
	assert.Equal(t, 2, changelog.NewCount)
	require.Len(t, changelog.EscalatedItems, 1)
	assert.Equal(t, digest.Items[0].ID, changelog.EscalatedItems[0].ID)

	require.Len(t, exporter.reports, 1)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "[High] Custody rule amendments")
	assert.Contains(t, notifier.messages[0], "Relevant: 1 of 2 items")

	last, ok := p.LastRun()
	require.True(t, ok)
	assert.Equal(t, report.RunID, last.RunID)
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	store := newStore(t)
	source, analyzer := scenario()
	p := newPipeline(store, source, analyzer, nil, nil)
	ctx := context.Background()

	first, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	afterFirst, err := store.List(ctx, domain.ItemFilter{})
	require.NoError(t, err)

	second, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	afterSecond, err := store.List(ctx, domain.ItemFilter{})
	require.NoError(t, err)

	assert.Equal(t, afterFirst, afterSecond)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Zero(t, second.Ingested)
	assert.Equal(t, 3, second.Duplicates)
	assert.Zero(t, second.Analyzed)
	assert.Equal(t, int32(2), analyzer.calls.Load())
	assert.Equal(t, first.Rollup, second.Rollup)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	store := newStore(t)
	source := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	p := newPipeline(store, source, &stubAnalyzer{}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), RunOptions{})
		done <- err
	}()

	<-source.started
	assert.Equal(t, StageIngesting, p.State())

	_, err := p.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(source.release)
	require.NoError(t, <-done)
	assert.Equal(t, StageIdle, p.State())
}

func TestRunFailsWhenStoreUnreachable(t *testing.T) {
	source, analyzer := scenario()
	p := newPipeline(unreachableStore{}, source, analyzer, nil, nil)

	_, err := p.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Zero(t, source.calls.Load())
	assert.Equal(t, StageIdle, p.State())
}

func TestRunToleratesExportAndNotifyFailures(t *testing.T) {
	store := newStore(t)
	source, analyzer := scenario()

	t.Run("export", func(t *testing.T) {
		notifier := &recordingNotifier{}
		p := newPipeline(store, source, analyzer, &recordingExporter{err: errors.New("disk full")}, notifier)

		report, err := p.Run(context.Background(), RunOptions{})
		require.NoError(t, err)
		assert.EqualError(t, report.ExportErr, "disk full")
		assert.Empty(t, notifier.messages)
	})

	t.Run("notify", func(t *testing.T) {
		notifier := &recordingNotifier{err: errors.New("chat not found")}
		p := newPipeline(store, source, analyzer, &recordingExporter{}, notifier)

		report, err := p.Run(context.Background(), RunOptions{})
		require.NoError(t, err)
		assert.NoError(t, report.ExportErr)
		assert.EqualError(t, report.NotifyErr, "chat not found")
	})
}

func TestRunRetryFailedRequeuesDefaultedItems(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	source, analyzer := scenario()
	analyzer.results[urlB] = domain.AnalysisResult{
		Relevant:        false,
		RelevanceReason: "Analysis error",
		AnalysisFailed:  true,
		Defaulted:       []string{"relevance"},
	}
	p := newPipeline(store, source, analyzer, nil, nil)

	first, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.AnalysisFailures)

	analyzer.results[urlB] = domain.AnalysisResult{Relevant: false, RelevanceReason: "banking only"}
	second, err := p.Run(ctx, RunOptions{RetryFailed: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Requeued)
	assert.Equal(t, 1, second.Analyzed)
	assert.Zero(t, second.AnalysisFailures)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)
}

func TestRunHonoursAnalysisLimit(t *testing.T) {
	store := newStore(t)
	source, analyzer := scenario()
	p := newPipeline(store, source, analyzer, nil, nil)

	report, err := p.Run(context.Background(), RunOptions{AnalysisLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Selected)
	assert.Equal(t, 1, report.Analyzed)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unanalyzed)
}

func TestReportAndExportWithoutRun(t *testing.T) {
	store := newStore(t)
	source, analyzer := scenario()
	exporter := &recordingExporter{}
	p := newPipeline(store, source, analyzer, exporter, nil)
	ctx := context.Background()

	_, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)

	report, err := p.Report(ctx, ReportOptions{DigestLimit: 1, ChangelogWindow: 30 * time.Minute})
	require.NoError(t, err)
	assert.Len(t, report.Digest.Items, 1)
	assert.Equal(t, now.Add(-30*time.Minute), report.Changelog.Cutoff)

	_, paths, err := p.Export(ctx, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "report.csv", paths.CSV)
	assert.Len(t, exporter.reports, 2)
}

func TestBuildDigestMessage(t *testing.T) {
	t.Parallel()

	assert.Empty(t, buildDigestMessage(rollup.Report{}))

	msg := buildDigestMessage(rollup.Report{
		GeneratedAt: now,
		Digest: rollup.Digest{TotalItems: 4, RelevantItems: 2, Items: []rollup.DigestEntry{
			{ID: 1, Title: "Custody", Source: domain.SourceSEC, Impact: domain.TierCritical, Area: domain.AreaRIA, URL: "https://sec.gov/1"},
			{ID: 2, Title: "Marketing", Source: domain.SourceFINRA, Area: domain.AreaBrokerDealer, URL: "https://finra.org/2"},
		}},
	})

	assert.Contains(t, msg, "Regulatory digest 2025-03-01 06:00 UTC")
	assert.Contains(t, msg, "Relevant: 2 of 4 items")
	assert.Contains(t, msg, "- [Critical] Custody\nSEC / RIA\nhttps://sec.gov/1")
	assert.Contains(t, msg, "- [Unscored] Marketing")
}

func TestStartRunsInBackground(t *testing.T) {
	store := newStore(t)
	source := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	p := newPipeline(store, source, &stubAnalyzer{}, nil, nil)

	runID, err := p.Start(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	<-source.started
	_, err = p.Start(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(source.release)
	require.Eventually(t, func() bool {
		last, ok := p.LastRun()
		return ok && last.RunID == runID && p.State() == StageIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWaitBlocksUntilBackgroundRunReturns(t *testing.T) {
	store := newStore(t)
	source := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	p := newPipeline(store, source, &stubAnalyzer{}, nil, nil)

	require.NoError(t, p.Wait(context.Background()))

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	_, err := p.Start(runCtx, RunOptions{})
	require.NoError(t, err)
	<-source.started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(short), context.DeadlineExceeded)

	cancelRun()
	require.NoError(t, p.Wait(context.Background()))
	_, ok := p.LastRun()
	assert.True(t, ok)
	assert.Equal(t, StageIdle, p.State())
}

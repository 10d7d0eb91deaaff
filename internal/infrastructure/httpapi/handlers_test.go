package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegScanner/internal/domain"
	"RegScanner/internal/logging"
	"RegScanner/internal/rollup"
	"RegScanner/internal/usecase"
)

type fakeStore struct {
	items      []domain.Item
	stats      domain.StoreStats
	err        error
	lastFilter domain.ItemFilter
	lastWindow time.Duration
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.err }

func (f *fakeStore) List(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	f.lastFilter = filter
	return f.items, f.err
}

func (f *fakeStore) Get(ctx context.Context, id int64) (domain.Item, error) {
	if f.err != nil {
		return domain.Item{}, f.err
	}
	for _, item := range f.items {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.Item{}, domain.ErrNotFound
}

func (f *fakeStore) SelectHighImpact(ctx context.Context) ([]domain.Item, error) {
	var out []domain.Item
	for _, item := range f.items {
		if item.Escalated() {
			out = append(out, item)
		}
	}
	return out, f.err
}

func (f *fakeStore) SelectRecent(ctx context.Context, window time.Duration) ([]domain.Item, error) {
	f.lastWindow = window
	return f.items, f.err
}

func (f *fakeStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	return f.stats, f.err
}

type fakeRunner struct {
	busy       bool
	state      usecase.Stage
	last       *usecase.RunReport
	report     rollup.Report
	lastOpts   usecase.RunOptions
	lastReport usecase.ReportOptions
}

func (f *fakeRunner) Start(ctx context.Context, opts usecase.RunOptions) (string, error) {
	if f.busy {
		return "", usecase.ErrRunInProgress
	}
	f.lastOpts = opts
	return "run-1", nil
}

func (f *fakeRunner) State() usecase.Stage { return f.state }

func (f *fakeRunner) LastRun() (usecase.RunReport, bool) {
	if f.last == nil {
		return usecase.RunReport{}, false
	}
	return *f.last, true
}

func (f *fakeRunner) Report(ctx context.Context, opts usecase.ReportOptions) (rollup.Report, error) {
	f.lastReport = opts
	return f.report, nil
}

func sampleItems() []domain.Item {
	relevant := true
	published := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	impact := domain.Impact{Severity: 5, TimeSensitivity: 4, OperationalEffort: 4, CustomerImpact: 3, EnforcementRisk: 5, Overall: domain.TierCritical}
	return []domain.Item{
		{
			ID:         1,
			IngestedAt: time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC),
			RawItem: domain.RawItem{
				Source: domain.SourceSEC, Type: "press_release", Title: "Custody", URL: "https://sec.gov/1",
				PublishedAt: &published,
			},
			Relevant:     &relevant,
			BusinessArea: domain.AreaRIA,
			Impact:       &impact,
			Tasks:        []domain.Task{domain.FallbackTask("Custody")},
		},
		{
			ID:         2,
			IngestedAt: time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC),
			RawItem:    domain.RawItem{Source: domain.SourceFINRA, Title: "Pending", URL: "https://finra.org/2"},
		},
	}
}

func newTestRouter(store ItemReader, runner Runner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterConfig{Store: store, Pipeline: runner, Logger: logging.Discard()})
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestGetHealth(t *testing.T) {
	r := newTestRouter(&fakeStore{}, &fakeRunner{})
	assert.Equal(t, http.StatusOK, do(r, "GET", "/health", "").Code)

	r = newTestRouter(&fakeStore{err: errors.New("down")}, &fakeRunner{})
	assert.Equal(t, http.StatusServiceUnavailable, do(r, "GET", "/health", "").Code)
}

func TestListItemsParsesFilters(t *testing.T) {
	store := &fakeStore{items: sampleItems()}
	r := newTestRouter(store, &fakeRunner{})

	w := do(r, "GET", "/items?source=SEC,FINRA&impact=high&impact=Critical&area=ria&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []domain.Source{domain.SourceSEC, domain.SourceFINRA}, store.lastFilter.Sources)
	assert.Equal(t, []domain.Tier{domain.TierHigh, domain.TierCritical}, store.lastFilter.Tiers)
	assert.Equal(t, []domain.BusinessArea{domain.AreaRIA}, store.lastFilter.Areas)
	assert.Equal(t, 10, store.lastFilter.Limit)

	var res ItemListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, 2, res.Total)
	assert.Equal(t, "relevant", res.Items[0].Status)
	assert.Equal(t, "2025-02-28T00:00:00Z", *res.Items[0].PublishedAt)
	assert.Equal(t, "unanalyzed", res.Items[1].Status)
	assert.Nil(t, res.Items[1].Impact)
	assert.Equal(t, []string{}, res.Items[1].Tags)
}

func TestListItemsRejectsUnknownImpact(t *testing.T) {
	r := newTestRouter(&fakeStore{}, &fakeRunner{})
	assert.Equal(t, http.StatusBadRequest, do(r, "GET", "/items?impact=severe", "").Code)
}

func TestGetItem(t *testing.T) {
	r := newTestRouter(&fakeStore{items: sampleItems()}, &fakeRunner{})

	w := do(r, "GET", "/items/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res ItemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, domain.TierCritical, res.Impact.Overall)

	assert.Equal(t, http.StatusNotFound, do(r, "GET", "/items/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, "GET", "/items/abc", "").Code)
}

func TestGetHighImpactAndRecent(t *testing.T) {
	store := &fakeStore{items: sampleItems()}
	r := newTestRouter(store, &fakeRunner{})

	w := do(r, "GET", "/items/high-impact", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res ItemListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Total)

	require.Equal(t, http.StatusOK, do(r, "GET", "/items/recent?days=3", "").Code)
	assert.Equal(t, 72*time.Hour, store.lastWindow)

	require.Equal(t, http.StatusOK, do(r, "GET", "/items/recent?days=0", "").Code)
	assert.Equal(t, 24*time.Hour, store.lastWindow)
}

func TestRollupRoutes(t *testing.T) {
	generated := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	runner := &fakeRunner{report: rollup.Build(sampleItems(), rollup.Options{DigestLimit: 5, Cutoff: generated.Add(-time.Hour)}, generated)}
	r := newTestRouter(&fakeStore{}, runner)

	w := do(r, "GET", "/rollups/digest?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, runner.lastReport.DigestLimit)
	var digest rollup.Digest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &digest))
	assert.Equal(t, 1, digest.RelevantItems)

	w = do(r, "GET", "/rollups/backlog", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_tasks":1`)

	w = do(r, "GET", "/rollups/changelog?hours=48", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 48*time.Hour, runner.lastReport.ChangelogWindow)
	assert.Contains(t, w.Body.String(), `"escalated_count":1`)
}

func TestStartRun(t *testing.T) {
	runner := &fakeRunner{}
	r := newTestRouter(&fakeStore{}, runner)

	w := do(r, "POST", "/runs", `{"limit":5,"retry_failed":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"run-1"`)
	assert.Equal(t, usecase.RunOptions{AnalysisLimit: 5, RetryFailed: true}, runner.lastOpts)

	assert.Equal(t, http.StatusAccepted, do(r, "POST", "/runs", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, "POST", "/runs", "{").Code)

	runner.busy = true
	runner.state = usecase.StageAnalyzing
	w = do(r, "POST", "/runs", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "analyzing")
}

func TestGetStatus(t *testing.T) {
	runner := &fakeRunner{
		state: usecase.StageIdle,
		last: &usecase.RunReport{
			RunID:          "abc",
			Fetched:        43,
			Ingested:       40,
			SourceFailures: []domain.SourceFailure{{Site: "finra-news", Err: errors.New("timeout")}},
			Stages:         map[usecase.Stage]time.Duration{usecase.StageIngesting: 1500 * time.Millisecond},
		},
	}
	r := newTestRouter(&fakeStore{stats: domain.StoreStats{Total: 40, Unanalyzed: 3}}, runner)

	w := do(r, "GET", "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, usecase.StageIdle, res.State)
	assert.Equal(t, 40, res.Stats.Total)
	require.NotNil(t, res.LastRun)
	assert.Equal(t, []string{"finra-news: timeout"}, res.LastRun.SourceFailures)
	assert.Equal(t, int64(1500), res.LastRun.StageMillis["ingesting"])
}

package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegScanner/internal/domain"
	"RegScanner/internal/logging"
	"RegScanner/internal/rollup"
)

func TestExportWritesReportAndCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	yes, no := true, false
	impact := domain.DefaultImpact()
	impact.Overall = domain.TierHigh
	items := []domain.Item{
		{ID: 1, IngestedAt: now, RawItem: domain.RawItem{Title: "Custody, amended", Source: domain.SourceSEC, URL: "https://sec.gov/1"},
			Relevant: &yes, BusinessArea: domain.AreaRIA, Impact: &impact,
			Tasks: []domain.Task{domain.FallbackTask("Custody")}},
		{ID: 2, IngestedAt: now, RawItem: domain.RawItem{Title: "Bank capital", Source: domain.SourceFedReg, URL: "https://fr.gov/2"},
			Relevant: &no},
		{ID: 3, RawItem: domain.RawItem{Title: "Pending", Source: domain.SourceFINRA, URL: "https://finra.org/3"}},
	}
	report := rollup.Build(items, rollup.Options{DigestLimit: 10, Cutoff: now.Add(-time.Hour)}, now)

	exporter := NewFileExporter(dir, logging.Discard())
	paths, err := exporter.Export(context.Background(), report, items)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "impact_report_20250304_050607.json"), paths.JSON)
	assert.Equal(t, filepath.Join(dir, "impact_analysis_20250304_050607.csv"), paths.CSV)

	raw, err := os.ReadFile(paths.JSON)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "2025-03-04T05:06:07Z", doc["generated_at"])
	assert.Contains(t, doc, "digest")
	assert.Contains(t, doc, "backlog")
	assert.Contains(t, doc, "changelog")

	f, err := os.Open(paths.CSV)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"1", "Custody, amended", "SEC", "High", "RIA", "https://sec.gov/1"}, rows[1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestExportHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exporter := NewFileExporter(t.TempDir(), logging.Discard())
	_, err := exporter.Export(ctx, rollup.Report{GeneratedAt: time.Now()}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

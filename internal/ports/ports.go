package ports

import (
	"context"
	"time"

	"RegScanner/internal/domain"
	"RegScanner/internal/rollup"
)

// ItemSource pulls fresh raw items from every configured upstream feed.
type ItemSource interface {
	Fetch(ctx context.Context) (domain.FetchBatch, error)
}

// ItemStore persists items keyed by URL and their analysis outcome.
type ItemStore interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, items []domain.RawItem) (domain.InsertReport, error)
	SelectUnanalyzed(ctx context.Context, limit int) ([]domain.Item, error)
	UpdateAnalysis(ctx context.Context, id int64, result domain.AnalysisResult) error
	SelectHighImpact(ctx context.Context) ([]domain.Item, error)
	SelectRecent(ctx context.Context, window time.Duration) ([]domain.Item, error)
	List(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error)
	Get(ctx context.Context, id int64) (domain.Item, error)
	Stats(ctx context.Context) (domain.StoreStats, error)
	RequeueFailed(ctx context.Context) (int64, error)
}

// Analyzer turns one raw item into a well-formed analysis result. It never fails.
type Analyzer interface {
	Analyze(ctx context.Context, item domain.RawItem) domain.AnalysisResult
}

// Completion is a single prompt sent to a language model.
type Completion struct {
	System    string
	User      string
	MaxTokens int
}

// Completer is the external language-model capability.
type Completer interface {
	Complete(ctx context.Context, req Completion) (string, error)
}

// ExportPaths lists the files written by one export.
type ExportPaths struct {
	JSON string `json:"json"`
	CSV  string `json:"csv"`
}

// Exporter persists a rollup report together with the flat item listing.
type Exporter interface {
	Export(ctx context.Context, report rollup.Report, items []domain.Item) (ExportPaths, error)
}

// Notifier streams selected digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

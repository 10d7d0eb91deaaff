package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	"RegScanner/internal/domain"
	"RegScanner/internal/ports"
)

// SQLStore persists regulatory items in sqlite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	lastIngested time.Time
}

var _ ports.ItemStore = (*SQLStore)(nil)

// Option customizes an SQLStore.
type Option func(*SQLStore)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSQLStore creates the schema when missing and loads the ingest watermark.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string, opts ...Option) (*SQLStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store", "driver", d.name)

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	if err := s.loadWatermark(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) loadWatermark(ctx context.Context) error {
	var last nullTime
	err := s.db.QueryRowContext(ctx, "SELECT MAX(ingested_at) FROM "+itemsTable).Scan(&last)
	if err != nil {
		return fmt.Errorf("load ingest watermark: %w", err)
	}
	if last.Valid {
		s.lastIngested = last.Time
	}
	return nil
}

// nextIngestedAt never goes backwards, even if the wall clock does.
func (s *SQLStore) nextIngestedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if now.Before(s.lastIngested) {
		now = s.lastIngested
	}
	s.lastIngested = now
	return now
}

func (s *SQLStore) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(s.dialect.placeholder)
}

// Ping checks the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// Insert stores each new item and skips URLs that already exist.
// Per-item failures are reported; only a cancelled context aborts the batch.
func (s *SQLStore) Insert(ctx context.Context, items []domain.RawItem) (domain.InsertReport, error) {
	var report domain.InsertReport

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if item.URL == "" {
			report.Failed = append(report.Failed, domain.InsertFailure{URL: item.URL, Err: domain.ErrMissingURL})
			continue
		}

		id, err := s.insertOne(ctx, item)
		switch {
		case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
			report.Duplicates++
			s.logger.Debug("skip duplicate", "url", item.URL)
		case err != nil:
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.logger.Warn("insert item failed", "url", item.URL, "error", err)
			report.Failed = append(report.Failed, domain.InsertFailure{URL: item.URL, Err: err})
		default:
			report.IDs = append(report.IDs, id)
		}
	}

	return report, nil
}

func (s *SQLStore) insertOne(ctx context.Context, item domain.RawItem) (int64, error) {
	ingestedAt := s.nextIngestedAt()
	publishedAt := ingestedAt
	if item.PublishedAt != nil {
		publishedAt = item.PublishedAt.UTC()
	}

	tags, err := encodeList(item.Tags)
	if err != nil {
		return 0, err
	}
	entities, err := encodeList(item.Entities)
	if err != nil {
		return 0, err
	}

	query, args, err := s.builder().
		Insert(itemsTable).
		Columns("source", "type", "published_at", "title", "summary_raw", "full_text", "url", "tags", "entities", "ingested_at").
		Values(
			string(item.Source),
			item.Type,
			s.dialect.timeValue(publishedAt),
			item.Title,
			item.SummaryRaw,
			nullString(item.FullText),
			item.URL,
			tags,
			entities,
			s.dialect.timeValue(ingestedAt),
		).
		Suffix("ON CONFLICT (url) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// SelectUnanalyzed returns up to limit items with no relevance decision,
// newest first with undated items last.
func (s *SQLStore) SelectUnanalyzed(ctx context.Context, limit int) ([]domain.Item, error) {
	q := s.selectItems().
		Where(sq.Eq{"is_relevant": nil}).
		OrderBy("published_at IS NULL", "published_at DESC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.queryItems(ctx, q)
}

// UpdateAnalysis writes the analysis once; a second write is rejected.
func (s *SQLStore) UpdateAnalysis(ctx context.Context, id int64, result domain.AnalysisResult) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("update analysis %d: %w", id, err)
	}

	set := map[string]any{
		"is_relevant":               boolInt(result.Relevant),
		"relevance_reason":          result.RelevanceReason,
		"analysis_failed":           boolInt(result.AnalysisFailed),
		"business_area":             nil,
		"impact_severity":           nil,
		"impact_time_sensitivity":   nil,
		"impact_operational_effort": nil,
		"impact_customer":           nil,
		"impact_enforcement_risk":   nil,
		"impact_overall":            nil,
		"executive_summary":         nil,
		"tasks":                     nil,
	}

	if result.Relevant {
		tasks, err := json.Marshal(result.Tasks)
		if err != nil {
			return fmt.Errorf("encode tasks: %w", err)
		}
		impact := result.Impact
		set["business_area"] = string(result.BusinessArea)
		set["impact_severity"] = impact.Severity
		set["impact_time_sensitivity"] = impact.TimeSensitivity
		set["impact_operational_effort"] = impact.OperationalEffort
		set["impact_customer"] = impact.CustomerImpact
		set["impact_enforcement_risk"] = impact.EnforcementRisk
		set["impact_overall"] = string(impact.Overall)
		set["executive_summary"] = result.ExecutiveSummary
		set["tasks"] = string(tasks)
	}

	query, args, err := s.builder().
		Update(itemsTable).
		SetMap(set).
		Where(sq.Eq{"id": id, "is_relevant": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update analysis %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update analysis %d: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	exists, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("update analysis %d: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("update analysis %d: %w", id, domain.ErrAlreadyAnalyzed)
}

func (s *SQLStore) exists(ctx context.Context, id int64) (bool, error) {
	query, args, err := s.builder().Select("1").From(itemsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check item %d: %w", id, err)
	}
	return true, nil
}

// SelectHighImpact returns High and Critical items ordered by id.
func (s *SQLStore) SelectHighImpact(ctx context.Context) ([]domain.Item, error) {
	q := s.selectItems().
		Where(sq.Eq{"impact_overall": []string{string(domain.TierHigh), string(domain.TierCritical)}}).
		OrderBy("id ASC")
	return s.queryItems(ctx, q)
}

// SelectRecent returns items published within window of now.
func (s *SQLStore) SelectRecent(ctx context.Context, window time.Duration) ([]domain.Item, error) {
	cutoff := s.now().Add(-window)
	q := s.selectItems().
		Where(sq.GtOrEq{"published_at": s.dialect.timeValue(cutoff)}).
		OrderBy("published_at DESC", "id ASC")
	return s.queryItems(ctx, q)
}

// List returns items matching filter ordered by id.
func (s *SQLStore) List(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	q := s.selectItems().OrderBy("id ASC")

	if len(filter.Sources) > 0 {
		q = q.Where(sq.Eq{"source": stringsOf(filter.Sources)})
	}
	if len(filter.Tiers) > 0 {
		q = q.Where(sq.Eq{"impact_overall": stringsOf(filter.Tiers)})
	}
	if len(filter.Areas) > 0 {
		q = q.Where(sq.Eq{"business_area": stringsOf(filter.Areas)})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return s.queryItems(ctx, q)
}

// Get loads one item by id.
func (s *SQLStore) Get(ctx context.Context, id int64) (domain.Item, error) {
	query, args, err := s.selectItems().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Item{}, fmt.Errorf("build get: %w", err)
	}

	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("get item %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item %d: %w", id, err)
	}
	return item, nil
}

// Stats counts items by analysis state.
func (s *SQLStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	query, args, err := s.builder().
		Select(
			"COUNT(*)",
			"COALESCE(SUM(CASE WHEN is_relevant IS NULL THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN is_relevant = 1 THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN is_relevant = 0 THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN analysis_failed = 1 THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN impact_overall IN ('High', 'Critical') THEN 1 ELSE 0 END), 0)",
		).
		From(itemsTable).
		ToSql()
	if err != nil {
		return domain.StoreStats{}, fmt.Errorf("build stats: %w", err)
	}

	var st domain.StoreStats
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&st.Total, &st.Unanalyzed, &st.Relevant, &st.NotRelevant, &st.Failed, &st.HighImpact,
	)
	if err != nil {
		return domain.StoreStats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// RequeueFailed clears analyses whose relevance check fell back to the
// default so the next run retries them.
func (s *SQLStore) RequeueFailed(ctx context.Context) (int64, error) {
	query, args, err := s.builder().
		Update(itemsTable).
		SetMap(map[string]any{
			"is_relevant":               nil,
			"relevance_reason":          nil,
			"business_area":             nil,
			"analysis_failed":           0,
			"impact_severity":           nil,
			"impact_time_sensitivity":   nil,
			"impact_operational_effort": nil,
			"impact_customer":           nil,
			"impact_enforcement_risk":   nil,
			"impact_overall":            nil,
			"executive_summary":         nil,
			"tasks":                     nil,
		}).
		Where(sq.Eq{"analysis_failed": 1}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build requeue: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("requeue failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue failed: %w", err)
	}
	if n > 0 {
		s.logger.Info("requeued failed analyses", "count", n)
	}
	return n, nil
}

func (s *SQLStore) selectItems() sq.SelectBuilder {
	return s.builder().Select(itemColumns...).From(itemsTable)
}

func (s *SQLStore) queryItems(ctx context.Context, q sq.SelectBuilder) ([]domain.Item, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return items, nil
}

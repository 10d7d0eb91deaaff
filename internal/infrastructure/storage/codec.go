package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"RegScanner/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// nullTime accepts both driver time values and the sqlite text layout.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", value)
	}
}

func (n *nullTime) parse(raw string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", raw)
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item                  domain.Item
		source                string
		published, ingested   nullTime
		fullText              sql.NullString
		tags, entities        string
		relevant              sql.NullInt64
		reason, area          sql.NullString
		failed                int64
		sev, tsens, effort    sql.NullInt64
		customer, enforcement sql.NullInt64
		overall               sql.NullString
		summary, tasks        sql.NullString
	)

	err := row.Scan(
		&item.ID, &source, &item.Type, &published, &item.Title, &item.SummaryRaw, &fullText, &item.URL,
		&tags, &entities, &ingested,
		&relevant, &reason, &area, &failed,
		&sev, &tsens, &effort, &customer, &enforcement, &overall,
		&summary, &tasks,
	)
	if err != nil {
		return domain.Item{}, err
	}

	item.Source = domain.Source(source)
	item.FullText = fullText.String
	item.IngestedAt = ingested.Time
	if published.Valid {
		t := published.Time
		item.PublishedAt = &t
	}
	if item.Tags, err = decodeList(tags); err != nil {
		return domain.Item{}, err
	}
	if item.Entities, err = decodeList(entities); err != nil {
		return domain.Item{}, err
	}

	if relevant.Valid {
		r := relevant.Int64 == 1
		item.Relevant = &r
	}
	item.RelevanceReason = reason.String
	item.BusinessArea = domain.BusinessArea(area.String)
	item.AnalysisFailed = failed == 1
	item.ExecutiveSummary = summary.String

	if overall.Valid {
		item.Impact = &domain.Impact{
			Severity:          int(sev.Int64),
			TimeSensitivity:   int(tsens.Int64),
			OperationalEffort: int(effort.Int64),
			CustomerImpact:    int(customer.Int64),
			EnforcementRisk:   int(enforcement.Int64),
			Overall:           domain.Tier(overall.String),
		}
	}

	if tasks.Valid && tasks.String != "" {
		if err := json.Unmarshal([]byte(tasks.String), &item.Tasks); err != nil {
			return domain.Item{}, fmt.Errorf("decode tasks: %w", err)
		}
	}

	return item, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(raw), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

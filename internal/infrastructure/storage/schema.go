package storage

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const itemsTable = "regulatory_items"

// sqliteTimeLayout is fixed width so TEXT columns sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type dialect struct {
	name        string
	placeholder sq.PlaceholderFormat
	schema      []string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		return dialect{name: DriverSQLite, placeholder: sq.Question, schema: sqliteSchema}, nil
	case DriverPostgres:
		return dialect{name: DriverPostgres, placeholder: sq.Dollar, schema: postgresSchema}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

// timeValue converts t into the bind value this dialect stores.
func (d dialect) timeValue(t time.Time) any {
	t = t.UTC()
	if d.name == DriverSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS regulatory_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		published_at TEXT,
		title TEXT NOT NULL DEFAULT '',
		summary_raw TEXT NOT NULL DEFAULT '',
		full_text TEXT,
		url TEXT NOT NULL UNIQUE,
		tags TEXT NOT NULL DEFAULT '[]',
		entities TEXT NOT NULL DEFAULT '[]',
		ingested_at TEXT NOT NULL,
		is_relevant INTEGER,
		relevance_reason TEXT,
		business_area TEXT,
		analysis_failed INTEGER NOT NULL DEFAULT 0,
		impact_severity INTEGER,
		impact_time_sensitivity INTEGER,
		impact_operational_effort INTEGER,
		impact_customer INTEGER,
		impact_enforcement_risk INTEGER,
		impact_overall TEXT,
		executive_summary TEXT,
		tasks TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_regulatory_items_relevant ON regulatory_items(is_relevant)`,
	`CREATE INDEX IF NOT EXISTS idx_regulatory_items_published ON regulatory_items(published_at DESC)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS regulatory_items (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ,
		title TEXT NOT NULL DEFAULT '',
		summary_raw TEXT NOT NULL DEFAULT '',
		full_text TEXT,
		url TEXT NOT NULL UNIQUE,
		tags JSONB NOT NULL DEFAULT '[]',
		entities JSONB NOT NULL DEFAULT '[]',
		ingested_at TIMESTAMPTZ NOT NULL,
		is_relevant INTEGER,
		relevance_reason TEXT,
		business_area TEXT,
		analysis_failed INTEGER NOT NULL DEFAULT 0,
		impact_severity INTEGER,
		impact_time_sensitivity INTEGER,
		impact_operational_effort INTEGER,
		impact_customer INTEGER,
		impact_enforcement_risk INTEGER,
		impact_overall TEXT,
		executive_summary TEXT,
		tasks JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_regulatory_items_relevant ON regulatory_items(is_relevant)`,
	`CREATE INDEX IF NOT EXISTS idx_regulatory_items_published ON regulatory_items(published_at DESC)`,
}

var itemColumns = []string{
	"id", "source", "type", "published_at", "title", "summary_raw", "full_text", "url",
	"tags", "entities", "ingested_at",
	"is_relevant", "relevance_reason", "business_area", "analysis_failed",
	"impact_severity", "impact_time_sensitivity", "impact_operational_effort",
	"impact_customer", "impact_enforcement_risk", "impact_overall",
	"executive_summary", "tasks",
}

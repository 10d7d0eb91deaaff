// Package rollup derives read-only views over the full item set. Every
// function is pure: the same items and timestamps give the same output.
package rollup

import (
	"sort"
	"strings"
	"time"

	"RegScanner/internal/domain"
)

// Options parameterizes Build.
type Options struct {
	DigestLimit int
	Cutoff      time.Time
}

// Report bundles the three rollups as exported to JSON.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Digest      Digest    `json:"digest"`
	Backlog     Backlog   `json:"backlog"`
	Changelog   Changelog `json:"changelog"`
}

// Build computes every rollup over items.
func Build(items []domain.Item, opts Options, generatedAt time.Time) Report {
	generatedAt = generatedAt.UTC()
	return Report{
		GeneratedAt: generatedAt,
		Digest:      BuildDigest(items, opts.DigestLimit, generatedAt),
		Backlog:     BuildBacklog(items, generatedAt),
		Changelog:   BuildChangelog(items, opts.Cutoff, generatedAt),
	}
}

// DigestEntry is one row of the impact digest.
type DigestEntry struct {
	ID     int64               `json:"id"`
	Title  string              `json:"title"`
	Source domain.Source       `json:"source"`
	Impact domain.Tier         `json:"impact"`
	Area   domain.BusinessArea `json:"area"`
	URL    string              `json:"url"`
}

// Digest lists the highest impact relevant items.
type Digest struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	TotalItems    int           `json:"total_items"`
	RelevantItems int           `json:"relevant_items"`
	Items         []DigestEntry `json:"items"`
}

// BuildDigest keeps relevant items, orders them by tier rank descending
// (stable, so ties keep their input order) and takes the first limit.
// A non-positive limit keeps every relevant item.
func BuildDigest(items []domain.Item, limit int, generatedAt time.Time) Digest {
	relevant := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if item.IsRelevant() {
			relevant = append(relevant, item)
		}
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].Tier().Rank() > relevant[j].Tier().Rank()
	})
	if limit > 0 && len(relevant) > limit {
		relevant = relevant[:limit]
	}

	entries := make([]DigestEntry, 0, len(relevant))
	for _, item := range relevant {
		entries = append(entries, DigestEntry{
			ID:     item.ID,
			Title:  item.Title,
			Source: item.Source,
			Impact: item.Tier(),
			Area:   item.BusinessArea,
			URL:    item.URL,
		})
	}

	return Digest{
		GeneratedAt:   generatedAt.UTC(),
		TotalItems:    len(items),
		RelevantItems: countRelevant(items),
		Items:         entries,
	}
}

// BacklogTask is a task together with the item it came from.
type BacklogTask struct {
	domain.Task
	ItemID    int64  `json:"item_id"`
	ItemTitle string `json:"item_title"`
}

// Backlog is the deduplicated task list across relevant items.
type Backlog struct {
	GeneratedAt time.Time     `json:"generated_at"`
	TotalTasks  int           `json:"total_tasks"`
	Tasks       []BacklogTask `json:"tasks"`
}

type taskKey struct {
	task  string
	owner string
}

// BuildBacklog flattens tasks of relevant items, dropping any whose
// lowercased (task, owner role) pair was already seen.
func BuildBacklog(items []domain.Item, generatedAt time.Time) Backlog {
	seen := map[taskKey]struct{}{}
	tasks := make([]BacklogTask, 0)

	for _, item := range items {
		if !item.IsRelevant() {
			continue
		}
		for _, task := range item.Tasks {
			key := taskKey{
				task:  strings.ToLower(task.Task),
				owner: strings.ToLower(string(task.OwnerRole)),
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			tasks = append(tasks, BacklogTask{Task: task, ItemID: item.ID, ItemTitle: item.Title})
		}
	}

	return Backlog{
		GeneratedAt: generatedAt.UTC(),
		TotalTasks:  len(tasks),
		Tasks:       tasks,
	}
}

// ChangeEntry is one row of the changelog.
type ChangeEntry struct {
	ID         int64         `json:"id"`
	Title      string        `json:"title"`
	Source     domain.Source `json:"source"`
	Impact     domain.Tier   `json:"impact"`
	URL        string        `json:"url"`
	IngestedAt time.Time     `json:"ingested_at"`
}

// Changelog lists items ingested after Cutoff and the escalated subset.
type Changelog struct {
	GeneratedAt    time.Time     `json:"generated_at"`
	Cutoff         time.Time     `json:"cutoff"`
	NewCount       int           `json:"new_count"`
	EscalatedCount int           `json:"escalated_count"`
	NewItems       []ChangeEntry `json:"new_items"`
	EscalatedItems []ChangeEntry `json:"escalated_items"`
}

// BuildChangelog partitions items by ingested_at > cutoff; escalated items
// are the new ones in the High or Critical tier.
func BuildChangelog(items []domain.Item, cutoff, generatedAt time.Time) Changelog {
	fresh := make([]ChangeEntry, 0)
	escalated := make([]ChangeEntry, 0)

	for _, item := range items {
		if !item.IngestedAt.After(cutoff) {
			continue
		}
		entry := ChangeEntry{
			ID:         item.ID,
			Title:      item.Title,
			Source:     item.Source,
			Impact:     item.Tier(),
			URL:        item.URL,
			IngestedAt: item.IngestedAt.UTC(),
		}
		fresh = append(fresh, entry)
		if item.Escalated() {
			escalated = append(escalated, entry)
		}
	}

	return Changelog{
		GeneratedAt:    generatedAt.UTC(),
		Cutoff:         cutoff.UTC(),
		NewCount:       len(fresh),
		EscalatedCount: len(escalated),
		NewItems:       fresh,
		EscalatedItems: escalated,
	}
}

func countRelevant(items []domain.Item) int {
	n := 0
	for _, item := range items {
		if item.IsRelevant() {
			n++
		}
	}
	return n
}

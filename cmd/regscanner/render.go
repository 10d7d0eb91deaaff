package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"RegScanner/internal/domain"
	"RegScanner/internal/ports"
	"RegScanner/internal/rollup"
	"RegScanner/internal/usecase"
)

const maxBacklogRows = 10

var (
	headStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	tierColors = map[domain.Tier]lipgloss.Color{
		domain.TierCritical: lipgloss.Color("#FF6B6B"),
		domain.TierHigh:     lipgloss.Color("#F5A623"),
		domain.TierMedium:   lipgloss.Color("#5B8DEF"),
		domain.TierLow:      lipgloss.Color("#888888"),
	}
)

func renderRun(run usecase.RunReport) string {
	lines := []string{
		headStyle.Render("Run " + run.RunID),
		fmt.Sprintf("ingested %d of %d fetched", run.Ingested, run.Fetched) +
			mutedStyle.Render(fmt.Sprintf("  (%d duplicates, %d not stored)", run.Duplicates, len(run.InsertFailures))),
	}

	for _, failure := range run.SourceFailures {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("source %s skipped: %v", failure.Site, failure.Err)))
	}

	if run.Requeued > 0 {
		lines = append(lines, fmt.Sprintf("requeued %d failed items", run.Requeued))
	}
	analyzed := fmt.Sprintf("analyzed %d of %d selected", run.Analyzed, run.Selected)
	if run.AnalysisFailures > 0 {
		analyzed += warnStyle.Render(fmt.Sprintf("  (%d relevance checks failed)", run.AnalysisFailures))
	}
	lines = append(lines, analyzed)

	switch {
	case run.ExportErr != nil:
		lines = append(lines, warnStyle.Render("export failed: "+run.ExportErr.Error()))
	case run.Exports.JSON != "":
		lines = append(lines, renderExports(run.Exports))
	}
	if run.NotifyErr != nil {
		lines = append(lines, warnStyle.Render("notification failed: "+run.NotifyErr.Error()))
	}

	if stages := renderStages(run.Stages); stages != "" {
		lines = append(lines, mutedStyle.Render(stages))
	}

	summary := boxStyle.Render(strings.Join(lines, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, summary, renderDigest(run.Rollup.Digest))
}

func renderStats(stats domain.StoreStats) string {
	return mutedStyle.Render(fmt.Sprintf(
		"%d items: %d relevant, %d not relevant, %d failed, %d unanalyzed, %d high impact",
		stats.Total, stats.Relevant, stats.NotRelevant, stats.Failed, stats.Unanalyzed, stats.HighImpact,
	))
}

func renderReport(report rollup.Report) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		renderDigest(report.Digest),
		renderBacklog(report.Backlog),
		renderChangelog(report.Changelog),
	)
}

func renderDigest(digest rollup.Digest) string {
	title := headStyle.Render(fmt.Sprintf("Impact digest: %d relevant of %d items", digest.RelevantItems, digest.TotalItems))
	if len(digest.Items) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, mutedStyle.Render("No relevant items."))
	}

	rows := make([][]string, 0, len(digest.Items))
	for _, entry := range digest.Items {
		rows = append(rows, []string{
			strconv.FormatInt(entry.ID, 10),
			renderTier(entry.Impact),
			string(entry.Source),
			string(entry.Area),
			truncate(entry.Title, 60),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		Headers("ID", "Impact", "Source", "Area", "Title").
		Rows(rows...)
	return lipgloss.JoinVertical(lipgloss.Left, title, t.Render())
}

func renderBacklog(backlog rollup.Backlog) string {
	title := headStyle.Render(fmt.Sprintf("Task backlog: %d tasks", backlog.TotalTasks))
	if len(backlog.Tasks) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, mutedStyle.Render("Nothing to do."))
	}

	lines := []string{title}
	for i, task := range backlog.Tasks {
		if i == maxBacklogRows {
			lines = append(lines, mutedStyle.Render(fmt.Sprintf("... and %d more", len(backlog.Tasks)-maxBacklogRows)))
			break
		}
		lines = append(lines, fmt.Sprintf("- %s %s",
			truncate(task.Task.Task, 70),
			mutedStyle.Render(fmt.Sprintf("[%s, due %s, item %d]", task.OwnerRole, task.DueWindow, task.ItemID))))
	}
	return strings.Join(lines, "\n")
}

func renderChangelog(log rollup.Changelog) string {
	lines := []string{
		headStyle.Render(fmt.Sprintf("Changelog since %s", log.Cutoff.Format("2006-01-02 15:04 MST"))),
		fmt.Sprintf("%d new, %d escalated", log.NewCount, log.EscalatedCount),
	}
	for _, entry := range log.EscalatedItems {
		lines = append(lines, fmt.Sprintf("- %s %s", renderTier(entry.Impact), truncate(entry.Title, 70)))
	}
	return strings.Join(lines, "\n")
}

func renderExports(paths ports.ExportPaths) string {
	return fmt.Sprintf("exported %s\n         %s", paths.JSON, paths.CSV)
}

func renderStages(stages map[usecase.Stage]time.Duration) string {
	if len(stages) == 0 {
		return ""
	}
	names := make([]string, 0, len(stages))
	for stage := range stages {
		names = append(names, string(stage))
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %s", name, stages[usecase.Stage(name)].Round(time.Millisecond)))
	}
	return strings.Join(parts, ", ")
}

func renderTier(tier domain.Tier) string {
	if tier == "" {
		return mutedStyle.Render("-")
	}
	return lipgloss.NewStyle().Foreground(tierColors[tier]).Render(string(tier))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

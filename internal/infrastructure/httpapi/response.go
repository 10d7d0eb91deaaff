package httpapi

import (
	"fmt"
	"time"

	"RegScanner/internal/domain"
	"RegScanner/internal/ports"
	"RegScanner/internal/usecase"
)

type ItemResponse struct {
	ID               int64               `json:"id"`
	Source           domain.Source       `json:"source"`
	Type             string              `json:"type"`
	Title            string              `json:"title"`
	Summary          string              `json:"summary"`
	PublishedAt      *string             `json:"published_at"`
	URL              string              `json:"url"`
	Tags             []string            `json:"tags"`
	Entities         []string            `json:"entities"`
	IngestedAt       string              `json:"ingested_at"`
	Status           string              `json:"status"`
	RelevanceReason  string              `json:"relevance_reason,omitempty"`
	BusinessArea     domain.BusinessArea `json:"business_area,omitempty"`
	Impact           *domain.Impact      `json:"impact,omitempty"`
	ExecutiveSummary string              `json:"executive_summary,omitempty"`
	Tasks            []domain.Task       `json:"tasks,omitempty"`
}

type ItemListResponse struct {
	Items []ItemResponse `json:"items"`
	Total int            `json:"total"`
}

type RunResponse struct {
	RunID            string            `json:"run_id"`
	StartedAt        string            `json:"started_at"`
	FinishedAt       string            `json:"finished_at"`
	Fetched          int               `json:"fetched"`
	Ingested         int               `json:"ingested"`
	Duplicates       int               `json:"duplicates"`
	InsertFailures   int               `json:"insert_failures"`
	SourceFailures   []string          `json:"source_failures"`
	Analyzed         int               `json:"analyzed"`
	AnalysisFailures int               `json:"analysis_failures"`
	Exports          ports.ExportPaths `json:"exports"`
	ExportError      string            `json:"export_error,omitempty"`
	StageMillis      map[string]int64  `json:"stage_ms"`
}

type StatusResponse struct {
	State   usecase.Stage     `json:"state"`
	Stats   domain.StoreStats `json:"stats"`
	LastRun *RunResponse      `json:"last_run"`
}

func toItemResponse(item domain.Item) ItemResponse {
	res := ItemResponse{
		ID:               item.ID,
		Source:           item.Source,
		Type:             item.Type,
		Title:            item.Title,
		Summary:          item.SummaryRaw,
		URL:              item.URL,
		Tags:             nonNil(item.Tags),
		Entities:         nonNil(item.Entities),
		IngestedAt:       item.IngestedAt.UTC().Format(time.RFC3339),
		Status:           item.Status(),
		RelevanceReason:  item.RelevanceReason,
		BusinessArea:     item.BusinessArea,
		Impact:           item.Impact,
		ExecutiveSummary: item.ExecutiveSummary,
		Tasks:            item.Tasks,
	}
	if item.PublishedAt != nil {
		published := item.PublishedAt.UTC().Format(time.RFC3339)
		res.PublishedAt = &published
	}
	return res
}

func toItemList(items []domain.Item) ItemListResponse {
	res := ItemListResponse{Items: make([]ItemResponse, 0, len(items)), Total: len(items)}
	for _, item := range items {
		res.Items = append(res.Items, toItemResponse(item))
	}
	return res
}

func toRunResponse(run usecase.RunReport) *RunResponse {
	res := &RunResponse{
		RunID:            run.RunID,
		StartedAt:        run.StartedAt.Format(time.RFC3339),
		FinishedAt:       run.FinishedAt.Format(time.RFC3339),
		Fetched:          run.Fetched,
		Ingested:         run.Ingested,
		Duplicates:       run.Duplicates,
		InsertFailures:   len(run.InsertFailures),
		SourceFailures:   make([]string, 0, len(run.SourceFailures)),
		Analyzed:         run.Analyzed,
		AnalysisFailures: run.AnalysisFailures,
		Exports:          run.Exports,
		StageMillis:      make(map[string]int64, len(run.Stages)),
	}
	for _, failure := range run.SourceFailures {
		res.SourceFailures = append(res.SourceFailures, fmt.Sprintf("%s: %v", failure.Site, failure.Err))
	}
	if run.ExportErr != nil {
		res.ExportError = run.ExportErr.Error()
	}
	for stage, d := range run.Stages {
		res.StageMillis[string(stage)] = d.Milliseconds()
	}
	return res
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

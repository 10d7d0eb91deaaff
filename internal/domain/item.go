package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an item id does not exist in storage.
	ErrNotFound = errors.New("item not found")
	// ErrAlreadyAnalyzed is returned when analysis is written twice for the same item.
	ErrAlreadyAnalyzed = errors.New("item already analyzed")
	// ErrInvalidAnalysis flags an analysis result that breaks the relevance contract.
	ErrInvalidAnalysis = errors.New("invalid analysis result")
	// ErrMissingURL rejects raw items without their natural key.
	ErrMissingURL = errors.New("item url is required")
)

// Source names a regulatory publisher.
type Source string

const (
	SourceSEC    Source = "SEC"
	SourceFINRA  Source = "FINRA"
	SourceFedReg Source = "FedReg"
)

// RawItem is what a fetch adapter produces before anything is stored.
type RawItem struct {
	Source      Source
	Type        string
	Title       string
	SummaryRaw  string
	FullText    string
	PublishedAt *time.Time
	URL         string
	Tags        []string
	Entities    []string
}

// Item is a stored RawItem together with its analysis outcome.
// Relevant is nil until the item has been analyzed.
type Item struct {
	ID         int64
	IngestedAt time.Time
	RawItem

	Relevant         *bool
	RelevanceReason  string
	BusinessArea     BusinessArea
	AnalysisFailed   bool
	Impact           *Impact
	ExecutiveSummary string
	Tasks            []Task
}

// Analyzed reports whether the item left the unanalyzed state.
func (i Item) Analyzed() bool {
	return i.Relevant != nil
}

// IsRelevant treats unanalyzed items as not relevant.
func (i Item) IsRelevant() bool {
	return i.Relevant != nil && *i.Relevant
}

// Status names the analysis state: unanalyzed, failed, relevant or not_relevant.
func (i Item) Status() string {
	switch {
	case i.Relevant == nil:
		return "unanalyzed"
	case i.AnalysisFailed:
		return "failed"
	case *i.Relevant:
		return "relevant"
	default:
		return "not_relevant"
	}
}

// Tier returns the overall impact tier or an empty tier when unset.
func (i Item) Tier() Tier {
	if i.Impact == nil {
		return ""
	}
	return i.Impact.Overall
}

// Escalated reports whether the item is in the High or Critical tier.
func (i Item) Escalated() bool {
	return i.Tier().Escalated()
}

// AnalysisResult is the outcome of analyzing one raw item.
// Impact, ExecutiveSummary and Tasks are set iff Relevant is true.
type AnalysisResult struct {
	Relevant         bool
	RelevanceReason  string
	BusinessArea     BusinessArea
	Impact           *Impact
	ExecutiveSummary string
	Tasks            []Task

	// AnalysisFailed marks a relevance decision that fell back to the default.
	AnalysisFailed bool
	// Defaulted lists the stages that fell back to their default output.
	Defaulted []string
}

// Validate enforces the relevance short-circuit contract.
func (r AnalysisResult) Validate() error {
	if !r.Relevant {
		if r.Impact != nil || r.ExecutiveSummary != "" || len(r.Tasks) > 0 {
			return fmt.Errorf("%w: not relevant but carries analysis artifacts", ErrInvalidAnalysis)
		}
		return nil
	}

	switch {
	case r.Impact == nil:
		return fmt.Errorf("%w: relevant without impact", ErrInvalidAnalysis)
	case !r.Impact.Valid():
		return fmt.Errorf("%w: impact out of range", ErrInvalidAnalysis)
	case r.ExecutiveSummary == "":
		return fmt.Errorf("%w: relevant without executive summary", ErrInvalidAnalysis)
	case len(r.Tasks) == 0:
		return fmt.Errorf("%w: relevant without tasks", ErrInvalidAnalysis)
	}
	return nil
}

// InsertFailure records a raw item that could not be stored.
type InsertFailure struct {
	URL string
	Err error
}

// InsertReport summarizes one batch insert.
type InsertReport struct {
	IDs        []int64
	Duplicates int
	Failed     []InsertFailure
}

// SourceFailure records a fetch adapter that failed during a run.
type SourceFailure struct {
	Site string
	Err  error
}

// FetchBatch is the merged output of all fetch adapters.
type FetchBatch struct {
	Items    []RawItem
	Failures []SourceFailure
}

// ItemFilter narrows item listings; empty slices match everything.
type ItemFilter struct {
	Sources []Source
	Tiers   []Tier
	Areas   []BusinessArea
	Limit   int
}

// StoreStats is a count breakdown of the item table.
type StoreStats struct {
	Total       int `json:"total"`
	Unanalyzed  int `json:"unanalyzed"`
	Relevant    int `json:"relevant"`
	NotRelevant int `json:"not_relevant"`
	Failed      int `json:"failed"`
	HighImpact  int `json:"high_impact"`
}

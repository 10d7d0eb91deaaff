package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"RegScanner/internal/domain"
	"RegScanner/internal/ports"
)

const (
	stageRelevance = "relevance"
	stageImpact    = "impact"
	stageSummary   = "summary"
	stageTasks     = "tasks"

	maxSummaryBullets = 5
	maxTasks          = 5

	fallbackReason  = "Analysis error"
	fallbackSummary = "See source for details"
)

// Per-stage completion budgets.
var stageTokens = map[string]int{
	stageRelevance: 300,
	stageImpact:    300,
	stageSummary:   400,
	stageTasks:     500,
}

// Options tunes how the analyzer talks to the model.
type Options struct {
	CallTimeout       time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	// NewBackOff builds the retry schedule for one stage; nil means exponential.
	NewBackOff func() backoff.BackOff
}

// Analyzer runs the relevance, impact, summary and task stages for one item.
// Each stage is retried and then defaulted on its own, so Analyze never fails.
type Analyzer struct {
	completer ports.Completer
	schemas   map[string]*jsonschema.Schema
	limiter   *rate.Limiter
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
}

var _ ports.Analyzer = (*Analyzer)(nil)

// New compiles the stage schemas and wires the completer.
func New(completer ports.Completer, opts Options, logger *slog.Logger) (*Analyzer, error) {
	if completer == nil {
		return nil, fmt.Errorf("analyzer needs a completer")
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Analyzer{
		completer: completer,
		schemas:   schemas,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
		logger:    logger.With("component", "analyzer"),
		tracer:    otel.Tracer("RegScanner/analysis"),
	}, nil
}

// Analyze always returns a result satisfying AnalysisResult.Validate.
func (a *Analyzer) Analyze(ctx context.Context, item domain.RawItem) domain.AnalysisResult {
	ctx, span := a.tracer.Start(ctx, "analysis.item", trace.WithAttributes(attribute.String("url", item.URL)))
	defer span.End()

	var result domain.AnalysisResult

	rel, err := a.checkRelevance(ctx, item)
	if err != nil {
		result.Defaulted = append(result.Defaulted, stageRelevance)
		result.RelevanceReason = fallbackReason
		result.AnalysisFailed = true
		return result
	}
	result.RelevanceReason = rel.Reason
	if !rel.Relevant {
		return result
	}
	result.Relevant = true
	result.BusinessArea = rel.Area

	impact, err := a.scoreImpact(ctx, item, rel.Area)
	if err != nil {
		result.Defaulted = append(result.Defaulted, stageImpact)
		impact = domain.DefaultImpact()
	}
	result.Impact = &impact

	summary, err := a.summarize(ctx, item, impact)
	if err != nil {
		result.Defaulted = append(result.Defaulted, stageSummary)
		summary = fallbackSummary
	}
	result.ExecutiveSummary = summary

	tasks, err := a.generateTasks(ctx, item, rel.Area, impact)
	if err != nil {
		result.Defaulted = append(result.Defaulted, stageTasks)
		tasks = []domain.Task{domain.FallbackTask(item.Title)}
	}
	result.Tasks = tasks

	if len(result.Defaulted) > 0 {
		span.SetAttributes(attribute.StringSlice("defaulted", result.Defaulted))
	}
	return result
}

type relevance struct {
	Relevant bool
	Area     domain.BusinessArea
	Reason   string
}

func (a *Analyzer) checkRelevance(ctx context.Context, item domain.RawItem) (relevance, error) {
	return runStage(ctx, a, stageRelevance, relevancePrompt(item), item, func(raw []byte) (relevance, error) {
		var out struct {
			Relevant     bool    `json:"relevant"`
			BusinessArea *string `json:"business_area"`
			Reason       *string `json:"reason"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return relevance{}, err
		}
		rel := relevance{Relevant: out.Relevant, Reason: strings.TrimSpace(deref(out.Reason))}
		if rel.Relevant {
			rel.Area = domain.NormalizeBusinessArea(deref(out.BusinessArea))
		}
		return rel, nil
	})
}

func (a *Analyzer) scoreImpact(ctx context.Context, item domain.RawItem, area domain.BusinessArea) (domain.Impact, error) {
	return runStage(ctx, a, stageImpact, impactPrompt(item, area), item, func(raw []byte) (domain.Impact, error) {
		var out struct {
			Severity          float64 `json:"severity"`
			TimeSensitivity   float64 `json:"time_sensitivity"`
			OperationalEffort float64 `json:"operational_effort"`
			CustomerImpact    float64 `json:"customer_impact"`
			EnforcementRisk   float64 `json:"enforcement_risk"`
			Overall           *string `json:"overall"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return domain.Impact{}, err
		}

		impact := domain.Impact{
			Severity:          round(out.Severity),
			TimeSensitivity:   round(out.TimeSensitivity),
			OperationalEffort: round(out.OperationalEffort),
			CustomerImpact:    round(out.CustomerImpact),
			EnforcementRisk:   round(out.EnforcementRisk),
		}
		if tier, ok := domain.ParseTier(deref(out.Overall)); ok {
			impact.Overall = tier
		}
		return impact.Clamped(), nil
	})
}

func (a *Analyzer) summarize(ctx context.Context, item domain.RawItem, impact domain.Impact) (string, error) {
	return runStage(ctx, a, stageSummary, summaryPrompt(item, impact), item, func(raw []byte) (string, error) {
		var out struct {
			Summary []string `json:"summary"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", err
		}

		bullets := make([]string, 0, maxSummaryBullets)
	collect:
		for _, entry := range out.Summary {
			// an entry may itself hold several lines; each counts as a bullet
			for _, line := range strings.Split(entry, "\n") {
				line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
				if line == "" {
					continue
				}
				bullets = append(bullets, line)
				if len(bullets) == maxSummaryBullets {
					break collect
				}
			}
		}
		if len(bullets) == 0 {
			return "", errors.New("summary has no usable bullets")
		}
		return strings.Join(bullets, "\n"), nil
	})
}

func (a *Analyzer) generateTasks(ctx context.Context, item domain.RawItem, area domain.BusinessArea, impact domain.Impact) ([]domain.Task, error) {
	return runStage(ctx, a, stageTasks, tasksPrompt(item, area, impact), item, func(raw []byte) ([]domain.Task, error) {
		var out struct {
			Tasks []struct {
				Task             string          `json:"task"`
				OwnerRole        *string         `json:"owner_role"`
				DueWindow        json.RawMessage `json:"due_window"`
				EvidenceArtifact *string         `json:"evidence_artifact"`
				Dependency       *string         `json:"dependency"`
			} `json:"tasks"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}

		tasks := make([]domain.Task, 0, maxTasks)
		for _, t := range out.Tasks {
			text := strings.TrimSpace(t.Task)
			if text == "" {
				continue
			}
			tasks = append(tasks, domain.Task{
				Task:             text,
				OwnerRole:        domain.NormalizeOwnerRole(deref(t.OwnerRole)),
				DueWindow:        domain.NormalizeDueWindow(rawScalar(t.DueWindow)),
				EvidenceArtifact: orDefault(deref(t.EvidenceArtifact), "memo"),
				Dependency:       orDefault(deref(t.Dependency), "none"),
			})
			if len(tasks) == maxTasks {
				break
			}
		}
		if len(tasks) == 0 {
			return nil, errors.New("no usable tasks")
		}
		return tasks, nil
	})
}

// runStage calls the model for one stage with retries. The returned error
// means the caller should substitute the stage default.
func runStage[T any](ctx context.Context, a *Analyzer, stage, prompt string, item domain.RawItem, parse func([]byte) (T, error)) (T, error) {
	ctx, span := a.tracer.Start(ctx, "analysis."+stage)
	defer span.End()

	attempts := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		var zero T

		raw, err := a.call(ctx, stage, prompt)
		if err != nil {
			return zero, err
		}
		return parse(raw)
	}, backoff.WithBackOff(a.opts.NewBackOff()), backoff.WithMaxTries(uint(a.opts.MaxAttempts)))

	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage defaulted")
		a.logger.Warn("analysis stage defaulted", "stage", stage, "url", item.URL, "attempts", attempts, "error", err)
	}
	return out, err
}

// call performs one rate limited, time bounded completion and returns the
// schema-checked JSON document.
func (a *Analyzer) call(ctx context.Context, stage, prompt string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()

	text, err := a.completer.Complete(callCtx, ports.Completion{
		System:    systemPrompt,
		User:      prompt,
		MaxTokens: stageTokens[stage],
	})
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", stage, err)
	}

	raw := []byte(stripCodeFence(text))
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%s output: %w", stage, err)
	}
	if err := a.schemas[stage].Validate(doc); err != nil {
		return nil, fmt.Errorf("%s output: %w", stage, err)
	}
	return raw, nil
}

// stripCodeFence removes a surrounding Markdown fence. Prose around the JSON
// is not tolerated.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// decodeDocument parses exactly one JSON value.
func decodeDocument(raw []byte) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after json document")
	}
	return doc, nil
}

// round keeps absurd model values inside int range; clamping happens later.
func round(v float64) int {
	return int(math.Round(math.Max(-100, math.Min(100, v))))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}

// rawScalar renders a JSON string or number as plain text.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

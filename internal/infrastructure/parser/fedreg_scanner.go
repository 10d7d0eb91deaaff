package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"RegScanner/internal/domain"
	"RegScanner/internal/scanner"
)

const fedRegDateLayout = "2006-01-02"

// FedRegScanner searches the Federal Register documents API once per
// agency and keyword pair.
type FedRegScanner struct {
	http   httpGetter
	logger *slog.Logger
}

// NewFedRegScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewFedRegScanner(client *http.Client, userAgent string, logger *slog.Logger) *FedRegScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &FedRegScanner{
		http:   newHTTPGetter(client, userAgent),
		logger: logger.With("component", "fedreg"),
	}
}

// Name identifies the strategy inside the registry.
func (s *FedRegScanner) Name() string {
	return "fedreg"
}

type agency struct {
	Label string
	Slug  string
}

type fedRegResponse struct {
	Results []fedRegDocument `json:"results"`
}

type fedRegDocument struct {
	Title           string `json:"title"`
	Abstract        string `json:"abstract"`
	PublicationDate string `json:"publication_date"`
	HTMLURL         string `json:"html_url"`
}

// Scan queries every agency/keyword pair. A failing pair is logged and
// skipped; the scan only fails when every pair failed.
func (s *FedRegScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawItem, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("no endpoint provided for site %s", req.SiteName)
	}

	agencies := parseAgencies(req.ListOption("agencies"))
	keywords := req.ListOption("keywords")
	if len(agencies) == 0 || len(keywords) == 0 {
		return nil, fmt.Errorf("site %s needs agencies and keywords options", req.SiteName)
	}
	perPage := req.Option("perPage", "5")

	var (
		items    []domain.RawItem
		byURL    = map[string]int{}
		failures []error
		attempts int
	)

	for _, endpoint := range req.Feeds {
		for _, ag := range agencies {
			for _, kw := range keywords {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				attempts++

				docs, err := s.search(ctx, endpoint.URL, ag.Slug, kw, perPage)
				if err != nil {
					s.logger.Warn("federal register query failed", "agency", ag.Label, "keyword", kw, "error", err)
					failures = append(failures, fmt.Errorf("%s/%s: %w", ag.Label, kw, err))
					continue
				}

				for _, doc := range docs {
					doc.HTMLURL = strings.TrimSpace(doc.HTMLURL)
					if doc.HTMLURL == "" {
						s.logger.Debug("federal register document without html_url skipped", "title", doc.Title)
						continue
					}
					if idx, ok := byURL[doc.HTMLURL]; ok {
						items[idx].Tags = appendUnique(items[idx].Tags, kw)
						items[idx].Entities = appendUnique(items[idx].Entities, ag.Label)
						continue
					}
					byURL[doc.HTMLURL] = len(items)
					items = append(items, domain.RawItem{
						Source:      req.Source,
						Type:        req.DocType,
						Title:       titleOrDefault(doc.Title),
						SummaryRaw:  collapseSpace(doc.Abstract),
						PublishedAt: parseFedRegDate(doc.PublicationDate),
						URL:         doc.HTMLURL,
						Tags:        []string{kw},
						Entities:    []string{ag.Label},
					})
				}
			}
		}
	}

	if attempts > 0 && len(failures) == attempts {
		return nil, fmt.Errorf("every federal register query failed: %w", errors.Join(failures...))
	}

	return items, nil
}

func (s *FedRegScanner) search(ctx context.Context, endpoint, agencySlug, keyword, perPage string) ([]fedRegDocument, error) {
	target, err := buildSearchURL(endpoint, agencySlug, keyword, perPage)
	if err != nil {
		return nil, err
	}

	var payload fedRegResponse
	err = s.http.get(ctx, target, func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload.Results, nil
}

func buildSearchURL(endpoint, agencySlug, keyword, perPage string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %s: %w", endpoint, err)
	}

	query := parsed.Query()
	query.Set("conditions[agencies][]", agencySlug)
	query.Set("conditions[term]", keyword)
	query.Set("per_page", perPage)
	query.Set("order", "newest")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// parseAgencies reads "LABEL=slug" pairs; a bare value is both label and slug.
func parseAgencies(values []string) []agency {
	out := make([]agency, 0, len(values))
	for _, v := range values {
		label, slug, found := strings.Cut(v, "=")
		label, slug = strings.TrimSpace(label), strings.TrimSpace(slug)
		if !found || slug == "" {
			slug = label
		}
		if label == "" {
			continue
		}
		out = append(out, agency{Label: label, Slug: slug})
	}
	return out
}

func parseFedRegDate(raw string) *time.Time {
	t, err := time.Parse(fedRegDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &t
}

func appendUnique(values []string, v string) []string {
	if slices.Contains(values, v) {
		return values
	}
	return append(values, v)
}

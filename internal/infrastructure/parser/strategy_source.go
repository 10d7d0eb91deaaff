package parser

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"RegScanner/internal/config"
	"RegScanner/internal/domain"
	"RegScanner/internal/ports"
	"RegScanner/internal/scanner"
)

// StrategySource implements ItemSource via registered scanner strategies.
type StrategySource struct {
	registry    *scanner.Registry
	sites       []config.SiteConfig
	concurrency int
	logger      *slog.Logger
}

var _ ports.ItemSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, concurrency int, log *slog.Logger) *StrategySource {
	if concurrency < 1 {
		concurrency = 1
	}
	return &StrategySource{
		registry:    reg,
		sites:       sites,
		concurrency: concurrency,
		logger:      log,
	}
}

type siteResult struct {
	items []domain.RawItem
	err   error
}

// Fetch runs every site scanner. A failing site is recorded in the batch and
// does not stop the others; output keeps the configured site order.
func (s *StrategySource) Fetch(ctx context.Context) (domain.FetchBatch, error) {
	if s.registry == nil {
		return domain.FetchBatch{}, fmt.Errorf("scanner registry is not configured")
	}

	s.debug("fetch sites", "sites", len(s.sites), "concurrency", s.concurrency)

	results := make([]siteResult, len(s.sites))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, site := range s.sites {
		g.Go(func() error {
			items, err := s.scanSite(gctx, site)
			results[i] = siteResult{items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return domain.FetchBatch{}, err
	}

	var batch domain.FetchBatch
	for i, res := range results {
		site := s.sites[i]
		if res.err != nil {
			if s.logger != nil {
				s.logger.Warn("site fetch failed", "site", site.Name, "error", res.err)
			}
			batch.Failures = append(batch.Failures, domain.SourceFailure{Site: site.Name, Err: res.err})
			continue
		}
		s.debug("site produced items", "site", site.Name, "count", len(res.items))
		batch.Items = append(batch.Items, res.items...)
	}

	s.debug("strategy source done", "total_items", len(batch.Items), "failed_sites", len(batch.Failures))
	return batch, nil
}

func (s *StrategySource) scanSite(ctx context.Context, site config.SiteConfig) ([]domain.RawItem, error) {
	strategy, err := s.registry.Resolve(site.Scanner)
	if err != nil {
		return nil, err
	}

	req := scanner.Request{
		SiteName: site.Name,
		Source:   domain.Source(site.Source),
		DocType:  site.Type,
		Options:  site.Options,
		Feeds:    toScannerFeeds(site.Feeds),
	}

	items, err := strategy.Scan(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scan site %s: %w", site.Name, err)
	}

	for i := range items {
		if items[i].Source == "" {
			items[i].Source = domain.Source(site.Source)
		}
		if items[i].Type == "" {
			items[i].Type = site.Type
		}
	}
	return items, nil
}

func toScannerFeeds(cfg []config.FeedConfig) []scanner.Feed {
	feeds := make([]scanner.Feed, 0, len(cfg))
	for _, f := range cfg {
		feeds = append(feeds, scanner.Feed{
			Name: f.Name,
			URL:  f.URL,
		})
	}
	return feeds
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

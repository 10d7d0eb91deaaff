package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"RegScanner/internal/domain"
	"RegScanner/internal/scanner"
)

// RSSScanner reads RSS and Atom feeds such as the SEC press releases or FINRA news.
type RSSScanner struct {
	http httpGetter
}

// NewRSSScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewRSSScanner(client *http.Client, userAgent string) *RSSScanner {
	return &RSSScanner{http: newHTTPGetter(client, userAgent)}
}

// Name identifies the strategy inside the registry.
func (s *RSSScanner) Name() string {
	return "rss"
}

// Scan fetches every feed of the site. Tags are the configured keywords
// found in each entry summary.
func (s *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawItem, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("no feeds provided for site %s", req.SiteName)
	}

	keywords := req.ListOption("keywords")
	var items []domain.RawItem

	for _, f := range req.Feeds {
		feed, err := s.fetch(ctx, f.URL)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", f.Name, err)
		}

		for _, entry := range feed.Items {
			item := toRawItem(entry, req, keywords)
			if item.URL == "" {
				continue
			}
			items = append(items, item)
		}
	}

	return items, nil
}

func (s *RSSScanner) fetch(ctx context.Context, target string) (*gofeed.Feed, error) {
	var feed *gofeed.Feed
	err := s.http.get(ctx, target, func(body io.Reader) error {
		parsed, err := gofeed.NewParser().Parse(body)
		if err != nil {
			return fmt.Errorf("parse feed: %w", err)
		}
		feed = parsed
		return nil
	})
	return feed, err
}

func toRawItem(entry *gofeed.Item, req scanner.Request, keywords []string) domain.RawItem {
	summary := plainText(entry.Description)
	if summary == "" {
		summary = plainText(entry.Content)
	}

	link := strings.TrimSpace(entry.Link)
	if link == "" && strings.HasPrefix(entry.GUID, "http") {
		link = entry.GUID
	}

	return domain.RawItem{
		Source:      req.Source,
		Type:        req.DocType,
		Title:       titleOrDefault(entry.Title),
		SummaryRaw:  summary,
		PublishedAt: entryTime(entry),
		URL:         link,
		Tags:        matchKeywords(summary, keywords),
	}
}

func entryTime(entry *gofeed.Item) *time.Time {
	switch {
	case entry.PublishedParsed != nil:
		t := entry.PublishedParsed.UTC()
		return &t
	case entry.UpdatedParsed != nil:
		t := entry.UpdatedParsed.UTC()
		return &t
	default:
		return nil
	}
}

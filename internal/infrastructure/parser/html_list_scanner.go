package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"RegScanner/internal/domain"
	"RegScanner/internal/scanner"
)

var dateExpr = regexp.MustCompile(`[A-Za-z]{3,9}\.? \d{1,2}, \d{4}|\d{4}-\d{2}-\d{2}|\d{1,2} [A-Za-z]{3} \d{4}`)

var dateLayouts = []string{"January 2, 2006", "Jan 2, 2006", "Jan. 2, 2006", "2006-01-02", "2 Jan 2006"}

// HTMLListScanner scrapes notice listings that have no feed, such as
// regulatory notice index pages. Selectors come from site options.
type HTMLListScanner struct {
	http httpGetter
}

// NewHTMLListScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewHTMLListScanner(client *http.Client, userAgent string) *HTMLListScanner {
	return &HTMLListScanner{http: newHTTPGetter(client, userAgent)}
}

// Name identifies the strategy inside the registry.
func (h *HTMLListScanner) Name() string {
	return "html"
}

type listSelectors struct {
	item, title, link, summary, date string
	dateLayout                       string
}

func selectorsFrom(req scanner.Request) listSelectors {
	return listSelectors{
		item:       req.Option("item", "article"),
		title:      req.Option("title", "a"),
		link:       req.Option("link", "a[href]"),
		summary:    req.Option("summary", "p"),
		date:       req.Option("date", "time"),
		dateLayout: req.Option("dateLayout", ""),
	}
}

// Scan walks every listing page and returns one item per matched element.
// With a pageParam option it follows numbered pages up to maxPages.
func (h *HTMLListScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawItem, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("no pages provided for site %s", req.SiteName)
	}

	sel := selectorsFrom(req)
	keywords := req.ListOption("keywords")
	pageParam := req.Option("pageParam", "")
	maxPages, err := strconv.Atoi(req.Option("maxPages", "1"))
	if err != nil || maxPages < 1 {
		maxPages = 1
	}

	results := make([]domain.RawItem, 0)
	seen := map[string]struct{}{}

	for _, page := range req.Feeds {
		base, err := url.Parse(page.URL)
		if err != nil {
			return nil, fmt.Errorf("page %s: invalid url: %w", page.Name, err)
		}

		for n := 0; n < maxPages; n++ {
			pageURL := page.URL
			if pageParam != "" && n > 0 {
				if pageURL, err = buildPageURL(page.URL, pageParam, n); err != nil {
					return nil, fmt.Errorf("page %s: %w", page.Name, err)
				}
			}

			doc, err := h.http.document(ctx, pageURL)
			if err != nil {
				return nil, fmt.Errorf("page %s: %w", page.Name, err)
			}

			entries := extractEntries(doc, base, sel, req, keywords)
			for _, item := range entries {
				if _, ok := seen[item.URL]; ok {
					continue
				}
				seen[item.URL] = struct{}{}
				results = append(results, item)
			}

			if len(entries) == 0 || pageParam == "" {
				break
			}
		}
	}

	return results, nil
}

func extractEntries(doc *goquery.Document, base *url.URL, sel listSelectors, req scanner.Request, keywords []string) []domain.RawItem {
	var collected []domain.RawItem

	doc.Find(sel.item).Each(func(_ int, node *goquery.Selection) {
		item, ok := parseEntry(node, base, sel)
		if !ok {
			return
		}
		item.Source = req.Source
		item.Type = req.DocType
		item.Tags = matchKeywords(item.Title+" "+item.SummaryRaw, keywords)
		collected = append(collected, item)
	})

	return collected
}

func parseEntry(node *goquery.Selection, base *url.URL, sel listSelectors) (domain.RawItem, bool) {
	href, exists := node.Find(sel.link).First().Attr("href")
	if !exists {
		href, exists = node.Attr("href")
	}
	href = strings.TrimSpace(href)
	if !exists || href == "" {
		return domain.RawItem{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return domain.RawItem{}, false
	}

	dateNode := node.Find(sel.date).First()
	dateText, ok := dateNode.Attr("datetime")
	if !ok {
		dateText = dateNode.Text()
	}

	return domain.RawItem{
		Title:       titleOrDefault(node.Find(sel.title).First().Text()),
		SummaryRaw:  collapseSpace(node.Find(sel.summary).First().Text()),
		PublishedAt: parseListDate(dateText, sel.dateLayout),
		URL:         base.ResolveReference(ref).String(),
	}, true
}

func parseListDate(text, layout string) *time.Time {
	text = collapseSpace(text)
	if text == "" {
		return nil
	}

	if layout != "" {
		if t, err := time.Parse(layout, text); err == nil {
			return &t
		}
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		t = t.UTC()
		return &t
	}

	match := dateExpr.FindString(text)
	if match == "" {
		return nil
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, match); err == nil {
			return &t
		}
	}
	return nil
}

func buildPageURL(base, param string, page int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid page url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set(param, strconv.Itoa(page))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultUserAgent = "RegScanner/1.0"
	untitled         = "N/A"
)

// httpGetter is shared by the scanners that talk to upstream endpoints.
type httpGetter struct {
	client    *http.Client
	userAgent string
}

func newHTTPGetter(client *http.Client, userAgent string) httpGetter {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	return httpGetter{client: client, userAgent: userAgent}
}

// get issues a GET and hands the body to read when the upstream answers 200.
func (g httpGetter) get(ctx context.Context, target string, read func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", target, resp.Status)
	}

	return read(resp.Body)
}

func (g httpGetter) document(ctx context.Context, target string) (*goquery.Document, error) {
	var doc *goquery.Document
	err := g.get(ctx, target, func(body io.Reader) error {
		parsed, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return fmt.Errorf("parse document: %w", err)
		}
		doc = parsed
		return nil
	})
	return doc, err
}

// plainText strips markup from feed summaries and collapses whitespace.
func plainText(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return collapseSpace(raw)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return collapseSpace(raw)
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// matchKeywords returns the keywords that occur in text, case-insensitively.
func matchKeywords(text string, keywords []string) []string {
	if len(keywords) == 0 || text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var tags []string
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			tags = append(tags, kw)
		}
	}
	return tags
}

func titleOrDefault(title string) string {
	if title = collapseSpace(title); title != "" {
		return title
	}
	return untitled
}

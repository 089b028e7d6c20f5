package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
)

const maxPageBytes = 8 << 20

// Options are the per-task navigation settings.
type Options struct {
	// Headless and SlowMo are carried for renderers that drive a real
	// browser; the HTTP navigator records them only.
	Headless bool
	SlowMo   time.Duration
	Timeout  time.Duration
}

// Page is a loaded document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Title      string
	doc        *goquery.Document
}

// Document exposes the parsed DOM.
func (p *Page) Document() *goquery.Document {
	return p.doc
}

// NewPage parses html as the document found at url.
func NewPage(url string, html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return &Page{
		URL:        url,
		FinalURL:   url,
		StatusCode: http.StatusOK,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		doc:        doc,
	}, nil
}

// Navigator loads pages over HTTP.
type Navigator struct {
	client    *http.Client
	userAgent string
	logger    logging.Logger
}

// NewNavigator creates a navigator sending userAgent on every request.
func NewNavigator(userAgent string, logger logging.Logger) *Navigator {
	return &Navigator{
		client:    &http.Client{},
		userAgent: userAgent,
		logger:    logging.OrNop(logger),
	}
}

// Navigate fetches url and parses it. The request is bounded by opts.Timeout
// as well as ctx.
func (n *Navigator) Navigate(ctx context.Context, url string, opts Options) (*Page, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	n.logger.Info("Navigating to: %s (headless=%t)", url, opts.Headless)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("failed to load %s: HTTP %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	page := &Page{
		URL:        url,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		doc:        doc,
	}
	n.logger.Info("Successfully loaded: %s (%q)", page.FinalURL, page.Title)
	return page, nil
}

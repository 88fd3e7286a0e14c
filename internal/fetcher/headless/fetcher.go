package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/antibot"
	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/metrics"
	"github.com/JakeFAU/isbn-scraper/internal/resource"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

// Fetcher implements scraper.Fetcher for web resources using a tab session.
type Fetcher struct {
	detector *antibot.Detector
	timeout  time.Duration
	logger   *zap.Logger
}

// NewFetcher builds a web fetcher. A nil detector disables block detection
// and user-agent rotation.
func NewFetcher(detector *antibot.Detector, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{detector: detector, timeout: timeout, logger: logger}
}

// Fetch renders the resource's search page for isbn and extracts a record.
// It returns nil, nil when the page says the book is unknown.
func (f *Fetcher) Fetch(ctx context.Context, session scraper.Session, isbn string, res resource.Descriptor) (*book.Record, error) {
	web, ok := res.(*resource.WebResource)
	if !ok {
		return nil, fmt.Errorf("invalid resource %s: headless fetcher needs a web resource", res.ID())
	}
	if session == nil {
		return nil, fmt.Errorf("invalid session for %s: nil", web.ID())
	}

	page, doc, err := f.load(ctx, session, web, web.URL(isbn))
	if err != nil || doc == nil {
		return nil, err
	}

	if web.Selectors.ResultLink != "" && firstText(doc, web.Selectors.Title) == "" {
		link := resultLink(doc, web.Selectors.ResultLink, page.URL, web.BaseURL)
		if link == "" {
			return nil, &scraper.ParseError{Resource: web.ID(), Err: errors.New("search result link element not found")}
		}
		f.logger.Debug("following search result", zap.String("resource", web.ID()), zap.String("url", link))
		page, doc, err = f.load(ctx, session, web, link)
		if err != nil || doc == nil {
			return nil, err
		}
	}

	rec := extract(doc, web.Selectors)
	if web.StructuredData {
		rec = book.Merge(rec, structuredData(doc))
	}
	if !rec.Usable() {
		return nil, &scraper.ParseError{Resource: web.ID(), Err: errors.New("no fields matched selectors")}
	}
	rec.ISBN = isbn
	rec.Source = web.ID()
	rec.URL = page.URL
	rec.Confidence = confidence(rec)
	return rec, nil
}

// load renders url and screens the page. A nil document with a nil error
// means the resource reported the book as not found.
func (f *Fetcher) load(ctx context.Context, session scraper.Session, web *resource.WebResource, url string) (scraper.Page, *goquery.Document, error) {
	req := scraper.RenderRequest{URL: url, WaitSelector: web.WaitSelector, Timeout: f.timeout}
	if f.detector != nil {
		req.UserAgent = f.detector.UserAgent()
	}
	page, err := session.Render(ctx, req)
	if err != nil {
		return page, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return page, nil, &scraper.ParseError{Resource: web.ID(), Err: fmt.Errorf("html: %w", err)}
	}
	text := pageText(doc)

	if f.detector != nil {
		if d := f.detector.Detect(page.StatusCode, text); d.Blocked {
			metrics.ObserveBlock(web.ID(), string(d.Kind))
			return page, nil, &scraper.BlockedError{Kind: string(d.Kind), Reason: d.Reason, Confidence: d.Confidence}
		}
	}
	switch {
	case page.StatusCode == http.StatusNotFound:
		return page, nil, nil
	case page.StatusCode >= http.StatusBadRequest:
		return page, nil, &scraper.StatusError{Code: page.StatusCode, URL: page.URL}
	}
	if web.IsNotFound(text) {
		return page, nil, nil
	}
	return page, doc, nil
}

func pageText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		return doc.Text()
	}
	body = body.Clone()
	body.Find("script, style, noscript").Remove()
	return body.Text()
}

func confidence(rec *book.Record) float64 {
	found := 0
	if rec.HasTitle() {
		found++
	}
	if rec.HasAuthors() {
		found++
	}
	if rec.Pages > 0 {
		found++
	}
	if rec.Year > 0 {
		found++
	}
	return float64(found) / 4
}

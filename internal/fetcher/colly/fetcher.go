// Package collyfetcher fetches book metadata from JSON APIs using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/antibot"
	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/metrics"
	"github.com/JakeFAU/isbn-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/isbn-scraper/internal/resource"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Transport replaces the HTTP transport, mainly for tests.
	Transport http.RoundTripper `mapstructure:"-"`
}

// Fetcher implements scraper.Fetcher for API resources.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	detector      *antibot.Detector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type response struct {
	url    string
	status int
	body   []byte
}

// New builds a Fetcher. limiter and detector may be nil.
func New(cfg Config, limiter *ratelimit.Limiter, detector *antibot.Detector, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		detector:      detector,
		logger:        logger,
	}
}

// Fetch queries the API resource for isbn. It returns nil, nil when the API
// has no matching volume.
func (f *Fetcher) Fetch(ctx context.Context, _ scraper.Session, isbn string, res resource.Descriptor) (*book.Record, error) {
	api, ok := res.(*resource.APIResource)
	if !ok {
		return nil, fmt.Errorf("invalid resource %s: api fetcher needs an api resource", res.ID())
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, api.ID(), api.RPS); err != nil {
			return nil, err
		}
	}

	url := api.URL(isbn)
	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if f.detector != nil {
		if d := f.detector.Detect(resp.status, ""); d.Blocked {
			metrics.ObserveBlock(api.ID(), string(d.Kind))
			return nil, &scraper.BlockedError{Kind: string(d.Kind), Reason: d.Reason, Confidence: d.Confidence}
		}
	}
	switch {
	case resp.status == http.StatusNotFound:
		return nil, nil
	case resp.status >= http.StatusBadRequest:
		return nil, &scraper.StatusError{Code: resp.status, URL: resp.url}
	}

	var rec *book.Record
	switch api.Format {
	case resource.FormatGoogleBooks:
		rec, err = decodeGoogleBooks(resp.body)
	case resource.FormatOpenLibrary:
		rec, err = decodeOpenLibrary(resp.body, isbn)
	default:
		return nil, fmt.Errorf("invalid api format %q for %s", api.Format, api.ID())
	}
	if err != nil {
		return nil, &scraper.ParseError{Resource: api.ID(), Err: err}
	}
	if rec == nil || !rec.Usable() {
		f.logger.Debug("api has no volume", zap.String("resource", api.ID()), zap.String("isbn", isbn))
		return nil, nil
	}
	rec.ISBN = isbn
	rec.Source = api.ID()
	if rec.URL == "" {
		rec.URL = url
	}
	rec.Confidence = 0.9
	return rec, nil
}

func (f *Fetcher) get(ctx context.Context, url string) (response, error) {
	var (
		result   response
		fetchErr error
	)
	collector := f.buildCollector(&result, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return response{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(result *response, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		switch {
		case f.detector != nil:
			r.Headers.Set("User-Agent", f.detector.UserAgent())
		case f.cfg.UserAgent != "":
			r.Headers.Set("User-Agent", f.cfg.UserAgent)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = response{
			url:    r.Request.URL.String(),
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("api fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("api request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("api response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

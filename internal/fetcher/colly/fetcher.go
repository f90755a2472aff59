// Package collyfetcher implements crawler.Fetcher for JSON timeline endpoints
// using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/timeline-harvester/internal/crawler"
	"github.com/JakeFAU/timeline-harvester/internal/policy/ratelimit"
)

// Default request parameter names.
const (
	DefaultQueryParam  = "q"
	DefaultCursorParam = "max_position"
	defaultTimeout     = 15 * time.Second
)

// Config controls collector behavior.
type Config struct {
	// BaseURL is the timeline search endpoint.
	BaseURL string
	// QueryParam and CursorParam name the query string keys for the search
	// term and the cursor.
	QueryParam  string
	CursorParam string
	// Params are sent verbatim with every request.
	Params map[string]string
	// Timeout bounds a single request.
	Timeout time.Duration
	// RequestsPerSecond paces requests; zero disables pacing.
	RequestsPerSecond float64
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	base          *url.URL
	limiter       *ratelimit.Limiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// timelinePage is the wire shape of one source response.
type timelinePage struct {
	MinPosition  json.RawMessage `json:"min_position"`
	ItemsHTML    string          `json:"items_html"`
	HasMoreItems bool            `json:"has_more_items"`
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", cfg.BaseURL)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests per second must be >= 0, got %v", cfg.RequestsPerSecond)
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = DefaultQueryParam
	}
	if cfg.CursorParam == "" {
		cfg.CursorParam = DefaultCursorParam
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		OnDelay: func(host string, waited time.Duration) {
			logger.Debug("request paced", zap.String("host", host), zap.Duration("waited", waited))
		},
	})
	return &Fetcher{
		cfg:           cfg,
		base:          base,
		limiter:       limiter,
		baseCollector: c,
		logger:        logger,
	}, nil
}

// Fetch requests the page at req.Cursor and decodes it. HTTP 429, 5xx,
// network, and decode failures are transient; other HTTP errors are
// permanent.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.Page, error) {
	target := f.URL(req)
	if err := f.limiter.Wait(ctx, target); err != nil {
		return crawler.Page{}, fmt.Errorf("wait for request slot: %w", err)
	}
	var (
		resp     *colly.Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(req, &resp, &fetchErr)
	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	if resp == nil {
		return crawler.Page{}, crawler.TransientError(0, errors.New("no response received"))
	}
	page, err := decodePage(resp.Body)
	if err != nil {
		return crawler.Page{}, crawler.TransientError(resp.StatusCode, err)
	}
	f.logger.Debug("page fetched",
		zap.String("request_id", req.Identity.ID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("dur", time.Since(start)),
	)
	return page, nil
}

// URL renders the request URL for req.
func (f *Fetcher) URL(req crawler.FetchRequest) string {
	u := *f.base
	q := u.Query()
	for k, v := range f.cfg.Params {
		q.Set(k, v)
	}
	q.Set(f.cfg.QueryParam, req.Query)
	if req.Cursor != "" {
		q.Set(f.cfg.CursorParam, req.Cursor)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *Fetcher) buildCollector(req crawler.FetchRequest, resp **colly.Response, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if req.Identity.UserAgent != "" {
		collector.UserAgent = req.Identity.UserAgent
	}
	f.configureCollectorHooks(collector, req, resp, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	req crawler.FetchRequest,
	resp **colly.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(req, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*resp = r
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = classify(r, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return crawler.TransientError(0, fmt.Errorf("colly visit failed: %w", err))
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(req crawler.FetchRequest, r *colly.Request) {
	for key, values := range req.Identity.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	if req.Identity.ID != "" {
		r.Headers.Set("X-Request-ID", req.Identity.ID)
	}
}

func classify(r *colly.Response, err error) error {
	status := 0
	if r != nil {
		status = r.StatusCode
	}
	switch {
	case status == 0:
		return crawler.TransientError(0, err)
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return crawler.TransientError(status, err)
	default:
		return crawler.PermanentError(status, err)
	}
}

func decodePage(body []byte) (crawler.Page, error) {
	var raw timelinePage
	if err := json.Unmarshal(body, &raw); err != nil {
		return crawler.Page{}, fmt.Errorf("decode timeline page: %w", err)
	}
	cursor, err := cursorString(raw.MinPosition)
	if err != nil {
		return crawler.Page{}, err
	}
	return crawler.Page{
		Cursor:      cursor,
		ItemsMarkup: raw.ItemsHTML,
		HasMore:     raw.HasMoreItems,
	}, nil
}

// cursorString accepts the cursor as a JSON string or number.
func cursorString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("decode cursor: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("decode cursor: %w", err)
	}
	return n.String(), nil
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

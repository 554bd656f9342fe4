// Package collyfetcher implements board.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/boardscrape/internal/board"
	"github.com/JakeFAU/boardscrape/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Charset forces transcoding of every response body from the named
	// encoding to UTF-8. Empty trusts the Content-Type header.
	Charset string
}

// Limiter throttles outgoing requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements board.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       Limiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	// Each Fetch clones this collector and the clones share its visited-URL
	// store, so revisits must be allowed for resume and format-selection fetches.
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.MaxBodySize = 0
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET and returns the UTF-8 body. Transport
// failures and non-success statuses are wrapped with board.ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", board.ErrFetch, url, err)
		}
	}
	start := time.Now()
	var result fetchResult
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, &result)

	err := f.runCollector(ctx, collector, url, &result)
	observe(url, result, time.Since(start))
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("url", url), zap.Int("status", result.status), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", board.ErrFetch, url, err)
	}
	return result.body, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		if f.cfg.Charset != "" {
			r.ResponseCharacterEncoding = f.cfg.Charset
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, result *fetchResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if result.err != nil {
			return fmt.Errorf("colly response failed: %w", result.err)
		}
		if result.status < http.StatusOK || result.status >= http.StatusMultipleChoices {
			return fmt.Errorf("unexpected status %d", result.status)
		}
		return nil
	}
}

func observe(url string, result fetchResult, d time.Duration) {
	status := "error"
	if result.status > 0 {
		status = strconv.Itoa(result.status)
	}
	metrics.ObserveFetch(url, status, len(result.body), d)
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
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
	}
}

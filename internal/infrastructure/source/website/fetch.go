package website

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/resilience"
)

// maxFetchBytes bounds a single page body so a runaway response cannot
// exhaust memory.
const maxFetchBytes = 10 << 20

const (
	strategyDirect = "direct"
	strategyReader = "reader"
)

type fetchError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *fetchError) Error() string {
	if e == nil {
		return "fetch error"
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// fetchResult is one retrieved page plus the strategy that produced it.
type fetchResult struct {
	Body         []byte
	ContentType  string
	ETag         string
	LastModified string
	Strategy     string
}

type fetcher struct {
	client     *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
	jitter     time.Duration
	readerBase string
	userAgent  string
	renderJS   bool
	logger     *slog.Logger
}

func newFetcher(cfg Config, executor *resilience.Executor, logger *slog.Logger) *fetcher {
	delay := cfg.CrawlDelay
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		executor:   executor,
		limiter:    rate.NewLimiter(rate.Every(delay), 1),
		jitter:     delay / 2,
		readerBase: strings.TrimRight(cfg.ReaderBase, "/"),
		userAgent:  cfg.UserAgent,
		renderJS:   cfg.RenderJS,
		logger:     logger,
	}
}

// Fetch retrieves one page. Direct HTTP is the default strategy with the
// reader endpoint as fallback; when render_js is set the order flips because
// only the reader executes scripts.
func (f *fetcher) Fetch(ctx context.Context, pageURL string) (*fetchResult, error) {
	if f.renderJS && f.readerBase != "" {
		res, err := f.get(ctx, f.readerURL(pageURL), strategyReader)
		if err == nil {
			return res, nil
		}
		f.logger.Warn("reader fetch failed, trying direct", "url", pageURL, "error", err)
		return f.get(ctx, pageURL, strategyDirect)
	}

	res, err := f.get(ctx, pageURL, strategyDirect)
	if err == nil {
		return res, nil
	}
	if f.readerBase == "" {
		return nil, err
	}
	f.logger.Warn("direct fetch failed, trying reader", "url", pageURL, "error", err)
	return f.get(ctx, f.readerURL(pageURL), strategyReader)
}

func (f *fetcher) readerURL(pageURL string) string {
	return f.readerBase + "/" + pageURL
}

func (f *fetcher) get(ctx context.Context, requestURL, strategy string) (*fetchResult, error) {
	var result *fetchResult
	call := func(ctx context.Context) error {
		if err := f.pace(ctx); err != nil {
			return err
		}
		res, err := f.doGet(ctx, requestURL, strategy)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	var err error
	if f.executor != nil {
		err = f.executor.Execute(ctx, "website.fetch", call, classifyFetchError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *fetcher) doGet(ctx context.Context, requestURL, strategy string) (*fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return nil, &fetchError{URL: requestURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &fetchResult{
		Body:         body,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Strategy:     strategy,
	}, nil
}

// pace enforces the polite crawl delay plus a random jitter so bursts never
// hammer the upstream in lockstep.
func (f *fetcher) pace(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	if f.jitter <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(rand.Int63n(int64(f.jitter))))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyFetchError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	var statusErr *fetchError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{
				Retryable:     true,
				RecordFailure: true,
			}
		}
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

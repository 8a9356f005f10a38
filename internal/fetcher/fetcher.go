// Package fetcher performs one bounded HTTP call against a source and
// classifies the outcome. It never retries; the scheduler's next tick is
// the retry policy.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"ncaaf_v5/feedcache/internal/metrics"
	"ncaaf_v5/feedcache/internal/source"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

// maxBodySize caps how much of an upstream response is read.
const maxBodySize = 16 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fetcher issues upstream requests for source descriptors.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	vars       map[string]string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client. Per-request timeouts still come
// from the descriptor.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithVars sets the values for path template placeholders such as {season}.
func WithVars(vars map[string]string) Option {
	return func(f *Fetcher) {
		f.vars = make(map[string]string, len(vars))
		for k, v := range vars {
			f.vars[k] = v
		}
	}
}

// New creates a Fetcher with a pooled transport.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		userAgent: "NCAAF-feedcache/1.0",
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CheckTarget verifies every placeholder in d's target can be resolved.
func (f *Fetcher) CheckTarget(d *source.Descriptor) error {
	return d.Target.CheckPlaceholders(f.vars)
}

// Resolve expands d's target URL at now in the source's timezone.
func (f *Fetcher) Resolve(d *source.Descriptor, now time.Time) (string, error) {
	return d.Target.URL(now.In(d.Location()), f.vars)
}

// Fetch performs one GET against d's target bounded by d.RequestTimeout.
func (f *Fetcher) Fetch(ctx context.Context, d *source.Descriptor, now time.Time) Outcome {
	start := time.Now()
	out := f.fetch(ctx, d, now)
	out.Duration = time.Since(start)

	metrics.RecordFetch(d.ID, out.Label(), out.Duration.Seconds())
	return out
}

func (f *Fetcher) fetch(ctx context.Context, d *source.Descriptor, now time.Time) Outcome {
	url, err := f.Resolve(d, now)
	if err != nil {
		return failure(ReasonNetworkError, 0, fmt.Errorf("failed to resolve target: %w", err))
	}

	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = source.DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failure(ReasonNetworkError, 0, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)
	for key, value := range d.Target.Headers {
		req.Header.Set(key, value)
	}

	log.Trace().
		Str("source", d.ID).
		Str("url", url).
		Dur("timeout", timeout).
		Msg("Making upstream request")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return failure(classify(err), 0, fmt.Errorf("upstream request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return failure(classify(err), resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure(ReasonHTTPStatus, resp.StatusCode, fmt.Errorf("upstream returned status %d", resp.StatusCode))
	}

	if len(body) == 0 {
		return failure(ReasonParseError, resp.StatusCode, errors.New("empty response body"))
	}
	if !json.Valid(body) {
		return failure(ReasonParseError, resp.StatusCode, errors.New("response body is not valid JSON"))
	}

	log.Trace().
		Str("source", d.ID).
		Int("status", resp.StatusCode).
		Int("size", len(body)).
		Msg("Upstream request successful")

	return success(body, resp.StatusCode)
}

// classify maps a transport error to Timeout or NetworkError.
func classify(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonNetworkError
}

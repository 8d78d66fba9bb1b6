package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/resilience"
)

const (
	// DefaultTimeout bounds a single catalog request.
	DefaultTimeout = 5 * time.Second
	// DefaultUserAgent identifies the service to catalogs that ask for it.
	DefaultUserAgent = "sku-lookup/1.0"

	maxBodyBytes = 2 << 20
)

// Config holds the per-catalog settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RatePerSec float64
	UserAgent  string
}

// Option configures an HTTP-backed adapter.
type Option func(*getter)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *getter) { g.hc = hc }
}

// WithBreaker guards the adapter with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *getter) { g.breaker = cb }
}

// BreakerConfig returns breaker settings for catalogs: only transient
// failures and timeouts count toward opening the circuit.
func BreakerConfig(threshold, resetSecs int) resilience.CircuitBreakerConfig {
	cfg := resilience.FromCircuitConfig(threshold, resetSecs)
	cfg.ShouldTrip = resilience.IsTransient
	return cfg
}

// getter is the HTTP plumbing shared by the catalog adapters.
type getter struct {
	src     model.Source
	cfg     Config
	hc      *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

func newGetter(src model.Source, cfg Config, defaultBase string, opts []Option) *getter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	g := &getter{
		src: src,
		cfg: cfg,
		hc: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// getJSON fetches reqURL and decodes a 2xx JSON body into out, all within
// the adapter's own timeout. Every failure comes back as *Error.
func (g *getter) getJSON(ctx context.Context, reqURL string, header http.Header, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return newError(g.src, 0, eris.Wrap(err, "rate limit wait"))
		}
	}

	call := func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.do(ctx, reqURL, header, out)
	}
	var err error
	if g.breaker != nil {
		_, err = resilience.ExecuteVal(ctx, g.breaker, call)
	} else {
		_, err = call(ctx)
	}
	if err == nil {
		return nil
	}

	var se *Error
	if eris.As(err, &se) {
		return se
	}
	return newError(g.src, 0, err)
}

func (g *getter) do(ctx context.Context, reqURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return newError(g.src, 0, eris.Wrap(err, "create request"))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := g.hc.Do(req)
	if err != nil {
		return newError(g.src, 0, eris.Wrap(err, "request failed"))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return newError(g.src, resp.StatusCode, eris.Wrap(err, "read response body"))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := eris.Errorf("unexpected status: %s", truncate(string(body), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return newError(g.src, resp.StatusCode, resilience.NewTransientError(statusErr, resp.StatusCode))
		}
		return newError(g.src, resp.StatusCode, statusErr)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return newError(g.src, resp.StatusCode, eris.Wrap(err, "decode response"))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

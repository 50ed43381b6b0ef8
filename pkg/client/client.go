// Package client fetches JSON schema content over HTTP, revalidating cached
// copies with conditional requests and falling back to stale content when
// the network is unavailable.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/yaml-schema-client/pkg/cache"
)

// Prometheus metrics for schema fetches.
var (
	schemaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yaml_schema_requests_total",
		Help: "Total schema requests by HTTP status",
	}, []string{"status"})

	schemaRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "yaml_schema_request_duration_seconds",
		Help:    "Schema request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	schemaErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yaml_schema_errors_total",
		Help: "Total failed schema fetches by class",
	}, []string{"class"})

	conditionalRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yaml_schema_conditional_requests_total",
		Help: "Total schema requests sent with If-None-Match",
	})

	notModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yaml_schema_304_responses_total",
		Help: "Total 304 Not Modified responses",
	})

	staleFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yaml_schema_stale_fallbacks_total",
		Help: "Total failed fetches answered with previously cached content",
	})
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport errors (DNS, TLS, timeouts, redirects).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassUnexpected represents statuses that are neither success nor error (1xx, unfollowed 3xx).
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// SchemaCache is the persistence the client revalidates against.
// *cache.Manager implements it.
type SchemaCache interface {
	ETag(ctx context.Context, uri string) (string, bool)
	PutSchema(ctx context.Context, uri, etag string, content []byte) bool
	GetSchema(ctx context.Context, uri string) (string, bool)
}

// Client resolves schema URIs to schema text.
type Client struct {
	httpClient atomic.Pointer[http.Client]
	cache      SchemaCache
	config     Config
	logger     zerolog.Logger

	group   singleflight.Group
	pending sync.WaitGroup
}

// Config holds the client configuration.
type Config struct {
	// Cache stores fetched content and ETags (REQUIRED)
	Cache SchemaCache

	// Proxy routing for outgoing requests
	Proxy ProxyConfig

	// Timeout bounds a single request including redirects
	Timeout time.Duration

	// MaxRedirects is the number of redirect hops followed
	MaxRedirects int

	// MaxBodySize caps the decoded response size in bytes
	MaxBodySize int64

	// UserAgent header sent with every request (optional)
	UserAgent string

	// Logger overrides the default component logger
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(schemaCache SchemaCache) Config {
	return Config{
		Cache:        schemaCache,
		Timeout:      30 * time.Second,
		MaxRedirects: 5,
		MaxBodySize:  32 << 20,
		UserAgent:    "yaml-schema-client",
	}
}

// New creates a new schema client.
func New(cfg Config) (*Client, error) {
	if cfg.Cache == nil {
		return nil, ErrNoCache
	}
	if cfg.MaxRedirects < 0 {
		return nil, fmt.Errorf("max_redirects must be >= 0 (got %d)", cfg.MaxRedirects)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig(nil).MaxBodySize
	}

	logger := log.With().Str("component", "schema-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	c := &Client{
		cache:  cfg.Cache,
		config: cfg,
		logger: logger,
	}
	if err := c.UpdateProxy(cfg.Proxy); err != nil {
		return nil, err
	}

	return c, nil
}

// UpdateProxy rebuilds the transport for new proxy settings.
// Requests already in flight finish on the previous transport.
func (c *Client) UpdateProxy(proxy ProxyConfig) error {
	transport, err := NewTransport(proxy)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}

	previous := c.httpClient.Swap(&http.Client{
		Timeout:       c.config.Timeout,
		Transport:     transport,
		CheckRedirect: c.checkRedirect,
	})
	if previous != nil {
		if t, ok := previous.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
		c.logger.Info().Bool("proxy", proxy.URL != "").Msg("Proxy settings applied")
	}
	return nil
}

// GetContent returns the schema text for uri.
//
// Cached content is revalidated with If-None-Match. When the request fails
// and an earlier copy is cached, that copy is returned instead of an error.
// Overlapping calls for the same uri share one network round-trip; a caller
// whose ctx ends stops waiting while the shared fetch runs to completion.
func (c *Client) GetContent(ctx context.Context, uri string) (string, error) {
	ch := c.group.DoChan(uri, func() (any, error) {
		return c.getContent(context.WithoutCancel(ctx), uri)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) getContent(ctx context.Context, uri string) (string, error) {
	etag, ok := c.cache.ETag(ctx, uri)
	if !ok {
		etag = ""
	}
	return c.fetch(ctx, uri, etag, true)
}

// fetch performs one GET and applies the response to the cache.
// repair allows a single unconditional re-fetch when a 304 arrives for
// content the cache no longer holds.
func (c *Client) fetch(ctx context.Context, uri, etag string, repair bool) (string, error) {
	resp, body, err := c.do(ctx, uri, etag)
	if err != nil {
		schemaRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Warn().Err(err).Str("uri", uri).Msg("Schema request failed")
		return c.fallback(ctx, uri, newFetchError(uri, 0, nil, err))
	}
	schemaRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		notModifiedResponses.Inc()
		if content, ok := c.cache.GetSchema(ctx, uri); ok {
			c.logger.Debug().Str("uri", uri).Msg("304 Not Modified - using cache")
			return content, nil
		}
		if !repair || etag == "" {
			return c.fallback(ctx, uri, newFetchError(uri, resp.StatusCode, body, nil))
		}
		c.logger.Warn().
			Str("uri", uri).
			Str("etag", etag).
			Msg("304 Not Modified but schema missing from cache, fetching without ETag")
		return c.fetch(ctx, uri, "", false)

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if newETag := cache.ResponseETag(resp); newETag != "" {
			c.storeAsync(ctx, uri, newETag, body)
		}
		return string(body), nil

	default:
		c.logger.Warn().
			Str("uri", uri).
			Int("status", resp.StatusCode).
			Msg("Schema request error")
		return c.fallback(ctx, uri, newFetchError(uri, resp.StatusCode, body, nil))
	}
}

// do issues the GET and returns the decoded body.
func (c *Client) do(ctx context.Context, uri, etag string) (*http.Response, []byte, error) {
	start := time.Now()
	defer func() {
		schemaRequestDuration.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if cache.ShouldMakeConditionalRequest(etag) {
		cache.AddConditionalHeaders(req, etag)
		conditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("uri", uri).
			Str("etag", etag).
			Msg("Making conditional request")
	}

	resp, err := c.httpClient.Load().Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, c.config.MaxBodySize)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}

	return resp, body, nil
}

// fallback returns stale cached content for uri when any was recorded,
// otherwise the fetch error.
func (c *Client) fallback(ctx context.Context, uri string, fetchErr *FetchError) (string, error) {
	schemaErrorsTotal.WithLabelValues(string(fetchErr.ErrorClass)).Inc()

	if _, ok := c.cache.ETag(ctx, uri); ok {
		if content, ok := c.cache.GetSchema(ctx, uri); ok {
			staleFallbacks.Inc()
			c.logger.Info().
				Str("uri", uri).
				Str("error_class", string(fetchErr.ErrorClass)).
				Msg("Serving cached schema after failed fetch")
			return content, nil
		}
	}

	return "", fetchErr
}

// storeAsync caches content without delaying the caller.
func (c *Client) storeAsync(ctx context.Context, uri, etag string, body []byte) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		c.cache.PutSchema(ctx, uri, etag, body)
	}()
}

func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > c.config.MaxRedirects {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, c.config.MaxRedirects)
	}
	return nil
}

// Close waits for in-flight cache writes to finish.
func (c *Client) Close() error {
	c.pending.Wait()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
// The client's redirect policy is replaced with the configured one.
func (c *Client) SetHTTPClient(client *http.Client) {
	client.CheckRedirect = c.checkRedirect
	c.httpClient.Store(client)
}

// Cache returns the schema cache.
func (c *Client) Cache() SchemaCache {
	return c.cache
}

// IsFetchError reports whether err carries a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

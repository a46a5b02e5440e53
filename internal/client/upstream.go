// Package client provides the HTTP client for the upstream host.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"obscurity-proxy-go/internal/config"
	"obscurity-proxy-go/internal/metrics"
	"obscurity-proxy-go/internal/model"
)

// UpstreamClient sends forwarded requests to the upstream host.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// A zero upstream.timeout_seconds leaves the client without a timeout; the
// request context still cancels the call when the client goes away.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Responses are relayed byte for byte, so the transport must neither
		// ask for gzip nor decode it.
		DisableCompression: true,
	}
	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do sends req and maps the result into a model.Response without touching
// status, headers or body. The caller closes the body.
func (c *UpstreamClient) Do(req *http.Request) (*model.Response, error) {
	c.logger.Debug("upstream request", "method", req.Method, "host", req.URL.Host)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via Response
	c.observe(req.Method, resp, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	return &model.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// observe records one upstream round trip. resp is nil when the call failed.
func (c *UpstreamClient) observe(method string, resp *http.Response, d time.Duration) {
	if c.metrics == nil {
		return
	}
	method = metrics.NormalizeMethod(method)
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(d.Seconds())
	if resp != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}
}

// DoStream sends ur upstream, streaming its body, and returns the response.
// The caller is responsible for closing the returned body.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
//
// The header set goes out as given. net/http would otherwise add its own
// User-Agent when the caller sent none.
func (c *UpstreamClient) DoStream(ctx context.Context, ur *model.UpstreamRequest) (*model.Response, error) {
	req, err := http.NewRequestWithContext(ctx, ur.Method, ur.URL, ur.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	h := ur.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if _, ok := h["User-Agent"]; !ok {
		h["User-Agent"] = []string{""}
	}
	req.Header = h

	if ur.Body != nil && ur.Body != http.NoBody {
		req.ContentLength = ur.ContentLength
	}
	req.Close = !ur.KeepAlive
	return c.Do(req)
}

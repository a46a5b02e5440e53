// Package service implements the routing decision and the upstream forward.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"obscurity-proxy-go/internal/config"
	"obscurity-proxy-go/internal/metrics"
	"obscurity-proxy-go/internal/model"
)

// StaticBody is the body returned for every request outside the prefix.
const StaticBody = "Hello world"

// Upstream forwards a request to the upstream host.
type Upstream interface {
	DoStream(ctx context.Context, ur *model.UpstreamRequest) (*model.Response, error)
}

// Router decides per request whether to answer locally or forward upstream.
// It holds only immutable configuration and is safe for concurrent use.
type Router struct {
	upstream    Upstream
	prefix      string
	headerName  string
	headerValue string
	host        string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewRouter creates a Router from the obscurity and upstream settings.
// The metrics parameter is optional; pass nil to disable decision counting.
func NewRouter(up Upstream, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		upstream:    up,
		prefix:      cfg.Obscurity.Prefix,
		headerName:  cfg.Obscurity.HeaderName,
		headerValue: cfg.Obscurity.HeaderValue,
		host:        cfg.Upstream.Host,
		logger:      logger.With("component", "router"),
		metrics:     m,
	}
}

// Route answers req. Requests outside the prefix get the static response
// without any network I/O. Requests inside it are forwarded with the prefix
// stripped and the configured header set, and the upstream response is
// returned as is. Upstream errors are returned to the caller unhandled.
// The caller is responsible for closing the response body.
func (r *Router) Route(req *model.IncomingRequest) (*model.Response, error) {
	out := req.Clone()

	if !Matches(out.URL.EscapedPath(), r.prefix) {
		r.count(metrics.RouteStatic)
		return staticResponse(), nil
	}
	r.count(metrics.RouteForwarded)

	out.Header.Set(r.headerName, r.headerValue)

	ur := &model.UpstreamRequest{
		Method:        out.Method,
		URL:           ForwardURL(r.host, out.URL, r.prefix),
		Header:        out.Header,
		Body:          out.Body,
		ContentLength: out.ContentLength,
		KeepAlive:     out.KeepAlive,
	}

	r.logger.Debug("forwarding request", "method", ur.Method)

	resp, err := r.upstream.DoStream(out.Ctx, ur)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

// Classify returns the route label for path without forwarding anything.
func (r *Router) Classify(path string) string {
	if Matches(path, r.prefix) {
		return metrics.RouteForwarded
	}
	return metrics.RouteStatic
}

// RedactPath hides the prefix in path so it can be logged.
func (r *Router) RedactPath(path string) string {
	if !Matches(path, r.prefix) {
		return path
	}
	return "/[REDACTED]" + StripPrefix(path, r.prefix)
}

func (r *Router) count(route string) {
	if r.metrics != nil {
		r.metrics.RouteDecisions.WithLabelValues(route).Inc()
	}
}

// Matches reports whether path starts with "/" + prefix. The comparison is
// a case-sensitive string prefix test; no segment boundary is required.
func Matches(path, prefix string) bool {
	return strings.HasPrefix(path, "/"+prefix)
}

// StripPrefix removes one leading "/" + prefix from path. Later occurrences
// are left alone.
func StripPrefix(path, prefix string) string {
	return strings.TrimPrefix(path, "/"+prefix)
}

// ForwardURL builds http://host + the stripped path of u, keeping the raw
// query and fragment. A remainder without a leading slash gets one so it
// cannot run into the host.
func ForwardURL(host string, u *url.URL, prefix string) string {
	rest := StripPrefix(u.EscapedPath(), prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}

	var b strings.Builder
	b.WriteString("http://")
	b.WriteString(host)
	b.WriteString(rest)
	if u.RawQuery != "" || u.ForceQuery {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}
	return b.String()
}

func staticResponse() *model.Response {
	return &model.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader(StaticBody)),
	}
}

package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"obscurity-proxy-go/internal/config"
	"obscurity-proxy-go/internal/metrics"
)

// RegisterRoutes makes the proxy handler answer every request on e, whatever
// its path or method. Echo's router only knows a fixed set of methods, so the
// handler and its middleware chain run from a Pre hook and the router is never
// consulted. mw is applied in order, the first entry outermost.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, mw ...echo.MiddlewareFunc) {
	h := echo.HandlerFunc(proxy.Handle)
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	e.Pre(func(echo.HandlerFunc) echo.HandlerFunc {
		return h
	})
}

// RegisterAdminRoutes wires health, status and metrics onto the admin listener.
func RegisterAdminRoutes(e *echo.Echo, cfg *config.Config, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)
	e.GET(cfg.Admin.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

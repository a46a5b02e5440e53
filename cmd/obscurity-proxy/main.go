package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"obscurity-proxy-go/internal/client"
	"obscurity-proxy-go/internal/config"
	"obscurity-proxy-go/internal/handler"
	"obscurity-proxy-go/internal/metrics"
	"obscurity-proxy-go/internal/middleware"
	"obscurity-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// adminServer wraps the admin Echo instance so fx can tell it apart from the proxy one.
type adminServer struct {
	*echo.Echo
}

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("obscurity-proxy"),
		kong.Description("Forwards requests under a secret path prefix to a fixed upstream host."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newUpstream,
			service.NewRouter,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newEcho,
			newAdminServer,
		),
		fx.Invoke(warnConfigPermissions, startServer, startAdminServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newUpstream(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) service.Upstream {
	return client.NewUpstreamClient(cfg, logger, m)
}

// newEcho builds the proxy listener. Nothing here may alter a response:
// no request IDs, no security headers, no body limit.
func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, router *service.Router, proxy *handler.ProxyHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. WriteTimeout stays
	// disabled so long upstream responses can stream.
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second

	mw := []echo.MiddlewareFunc{
		echomw.Recover(),
		middleware.RequestLogger(logger, router.RedactPath),
		middleware.MetricsMiddleware(m, router.Classify),
	}
	if cfg.Server.RateLimit.Enabled {
		mw = append(mw, middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	handler.RegisterRoutes(e, proxy, mw...)
	return e
}

func newAdminServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, health *handler.HealthHandler) *adminServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger.With("listener", "admin"), nil))
	e.Use(middleware.SecurityHeaders())

	handler.RegisterAdminRoutes(e, cfg, health, m)
	return &adminServer{e}
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	serve(lc, e, cfg.Server.Addr(), logger.With("listener", "proxy"))
}

func startAdminServer(lc fx.Lifecycle, a *adminServer, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}
	serve(lc, a.Echo, cfg.Admin.Addr(), logger.With("listener", "admin"))
}

func serve(lc fx.Lifecycle, e *echo.Echo, addr string, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

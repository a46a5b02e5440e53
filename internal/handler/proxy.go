package handler

import (
	"io"
	"log/slog"

	"github.com/labstack/echo/v4"

	"obscurity-proxy-go/internal/model"
	"obscurity-proxy-go/internal/service"
)

// ProxyHandler is the single entry point of the proxy listener.
type ProxyHandler struct {
	router *service.Router
	logger *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(router *service.Router, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		router: router,
		logger: logger.With("component", "proxy_handler"),
	}
}

// Handle routes the request and writes the resulting response back verbatim.
// Upstream failures are returned as is; Echo's error handler turns them
// into its default 500 response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	ir := &model.IncomingRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		URL:           req.URL,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		KeepAlive:     !req.Close,
	}

	resp, err := h.router.Route(ir)
	if err != nil {
		h.logger.Error("proxy error",
			"err", err,
			"path", h.router.RedactPath(req.URL.EscapedPath()),
		)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status is already on the wire, so a failed copy can only truncate
	// the body. Log it and move on.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", h.router.RedactPath(req.URL.EscapedPath()),
		)
	}
	return nil
}

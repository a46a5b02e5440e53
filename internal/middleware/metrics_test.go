package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"obscurity-proxy-go/internal/metrics"
)

func classifyTest(path string) string {
	if strings.HasPrefix(path, "/secret42") {
		return metrics.RouteForwarded
	}
	return metrics.RouteStatic
}

// requestLabels returns the label sets recorded on the requests counter.
func requestLabels(t *testing.T, m *metrics.Metrics) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var out []map[string]string
	for _, f := range families {
		if f.GetName() != "obscurity_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out = append(out, labels)
		}
	}
	return out
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, classifyTest))
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, p := range []string{"/secret42/a", "/other"} {
		req := httptest.NewRequest(http.MethodGet, p, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	}

	got := map[string]bool{}
	for _, labels := range requestLabels(t, m) {
		if labels["status_code"] == "200" && labels["method"] == "GET" {
			got[labels["route"]] = true
		}
	}
	if !got[metrics.RouteForwarded] || !got[metrics.RouteStatic] {
		t.Errorf("routes recorded = %v, want forwarded and static", got)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, classifyTest))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "obscurity_proxy_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected obscurity_proxy_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, classifyTest))
	e.GET("/secret42/x", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})

	req := httptest.NewRequest(http.MethodGet, "/secret42/x", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	for _, labels := range requestLabels(t, m) {
		if labels["route"] == metrics.RouteForwarded {
			if labels["status_code"] != "404" {
				t.Errorf("status_code = %q, want %q", labels["status_code"], "404")
			}
			return
		}
	}
	t.Error("expected obscurity_proxy_http_requests_total with route=forwarded")
}

func TestMetricsMiddleware_PlainErrorIs500(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, classifyTest))
	e.GET("/secret42/x", func(c echo.Context) error {
		return errors.New("dial tcp: connection refused")
	})

	req := httptest.NewRequest(http.MethodGet, "/secret42/x", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	for _, labels := range requestLabels(t, m) {
		if labels["route"] == metrics.RouteForwarded {
			if labels["status_code"] != "500" {
				t.Errorf("status_code = %q, want %q", labels["status_code"], "500")
			}
			return
		}
	}
	t.Error("expected obscurity_proxy_http_requests_total with route=forwarded")
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, classifyTest))
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodOptions, "/x", http.NoBody)
	req.Method = "PROPFIND"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	for _, labels := range requestLabels(t, m) {
		if labels["route"] == metrics.RouteStatic {
			if labels["method"] != "other" {
				t.Errorf("method = %q, want %q", labels["method"], "other")
			}
			return
		}
	}
	t.Error("expected obscurity_proxy_http_requests_total with route=static and method=other")
}

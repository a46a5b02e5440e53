package model

import (
	"context"
	"net/http"
	"net/url"
	"testing"
)

func TestIncomingRequest_CloneIsolatesHeaderAndURL(t *testing.T) {
	u, _ := url.Parse("http://edge.example/secret42/api?x=1")
	orig := &IncomingRequest{
		Ctx:       context.Background(),
		Method:    http.MethodPost,
		URL:       u,
		Header:    http.Header{"Accept": {"application/json"}},
		Body:      http.NoBody,
		KeepAlive: true,
	}

	c := orig.Clone()
	c.Header.Set("Bw", "token123")
	c.Header.Add("Accept", "text/plain")
	c.URL.Path = "/api"

	if got := orig.Header.Get("Bw"); got != "" {
		t.Errorf("original Bw = %q, want empty", got)
	}
	if got := len(orig.Header.Values("Accept")); got != 1 {
		t.Errorf("original Accept values = %d, want 1", got)
	}
	if orig.URL.Path != "/secret42/api" {
		t.Errorf("original path = %q, want %q", orig.URL.Path, "/secret42/api")
	}
	if c.Method != orig.Method || c.KeepAlive != orig.KeepAlive || c.Body != orig.Body {
		t.Error("clone should carry method, keep-alive flag and body unchanged")
	}
}

func TestIncomingRequest_CloneNilHeader(t *testing.T) {
	orig := &IncomingRequest{Method: http.MethodGet}

	c := orig.Clone()
	if c.Header == nil {
		t.Fatal("clone header should be non-nil")
	}
	c.Header.Set("Bw", "x")
	if orig.Header != nil {
		t.Error("original header should stay nil")
	}
	if c.URL != nil {
		t.Error("clone URL should stay nil when original has none")
	}
}

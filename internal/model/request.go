// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// IncomingRequest is a request received on the proxy listener.
// It is owned by the server; routing code works on a Clone.
type IncomingRequest struct {
	Ctx           context.Context
	Method        string
	URL           *url.URL
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	KeepAlive     bool
}

// Clone returns a copy whose header set and URL can be mutated without
// touching the original. The body stream is shared.
func (r *IncomingRequest) Clone() *IncomingRequest {
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.URL != nil {
		u := *r.URL
		if r.URL.User != nil {
			user := *r.URL.User
			u.User = &user
		}
		c.URL = &u
	}
	return &c
}

// UpstreamRequest is the outbound request sent to the upstream host.
type UpstreamRequest struct {
	Method        string
	URL           string
	Header        http.Header
	Body          io.Reader
	ContentLength int64
	KeepAlive     bool
}

// Response is what the proxy writes back to the client, either synthesized
// locally or relayed from the upstream.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded to an origin.
// Path and RawQuery hold the request target exactly as the client sent it.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Host          string
	Path          string
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the origin response to be relayed back.
// Origin is the scheme and authority the request was routed to.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Origin     string
}

// OriginContextKey is the echo.Context key under which the proxy handler
// stores the resolved origin for the request logger.
const OriginContextKey = "proxy_origin"

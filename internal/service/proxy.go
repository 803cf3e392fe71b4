// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"mirror-proxy-go/internal/client"
	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/model"
	"mirror-proxy-go/internal/route"
)

// ErrUpstream wraps every failure that happens while contacting an origin or
// reading its response.
var ErrUpstream = errors.New("upstream request failed")

// ProxyService resolves the origin for each request and forwards it.
type ProxyService struct {
	client *client.UpstreamClient
	routes *route.Table
	cfg    *config.Config
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, routes *route.Table, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		routes: routes,
		cfg:    cfg,
		logger: logger.With("component", "proxy_service"),
	}
}

// Forward resolves the origin for pr, sends the request there and returns the
// origin's final response. The caller is responsible for closing the
// response body.
//
// Errors wrap route.ErrRouteNotFound when no origin is configured for the
// host, and ErrUpstream for any network, TLS, timeout or read failure.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	origin, err := s.routes.Resolve(pr.Host, pr.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve host %q: %w", pr.Host, err)
	}

	upstreamURL := buildUpstreamURL(origin, pr.Path, pr.RawQuery)
	header := filterRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"host", pr.Host,
		"origin", origin.Host,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	resp.Origin = origin.String()

	if err := relayBody(pr.Method, resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if s.cfg.Upstream.BufferResponses {
		if err := bufferBody(pr.Method, resp); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
	}

	return resp, nil
}

// buildUpstreamURL joins the origin with the path and query exactly as the
// client sent them. Nothing is decoded or re-encoded.
func buildUpstreamURL(origin *url.URL, path, rawQuery string) string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	var b strings.Builder
	b.Grow(len(origin.Scheme) + len(origin.Host) + len(path) + len(rawQuery) + 4)
	b.WriteString(origin.Scheme)
	b.WriteString("://")
	b.WriteString(origin.Host)
	b.WriteString(path)
	if rawQuery != "" {
		b.WriteByte('?')
		b.WriteString(rawQuery)
	}
	return b.String()
}

// filterRequestHeaders copies every inbound header, repeated values included,
// except hop-by-hop headers.
func filterRequestHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeHopByHop(dst)
	return dst
}

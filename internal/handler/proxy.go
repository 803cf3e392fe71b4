package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"mirror-proxy-go/internal/model"
	"mirror-proxy-go/internal/route"
	"mirror-proxy-go/internal/service"
)

// Fixed plain-text bodies for the two failure responses.
const (
	routeNotFoundBody = "Proxy destination not found for this host or no default specified."
	proxyErrorBody    = "Proxy error."
)

// ProxyHandler forwards every non-admin request to the origin for its host.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to its origin and streams the response back.
// It never returns an error: failures before the status line become a 404
// or 500 response here. A failure while streaming the body aborts the
// client connection so a truncated body is never mistaken for a complete one.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	path, rawQuery := requestTarget(req)

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Host:          req.Host,
		Path:          path,
		RawQuery:      rawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.Set(model.OriginContextKey, resp.Origin)

	// Origin headers replace anything middleware set under the same name.
	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status line is committed. On a copy error, abort the connection:
	// Recover re-panics http.ErrAbortHandler and net/http closes without a
	// terminating chunk. upstream.buffer_responses turns origin read errors
	// into a 500 instead.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"host", req.Host,
			"origin", resp.Origin,
			"path", path,
		)
		panic(http.ErrAbortHandler)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	req := c.Request()

	if errors.Is(err, route.ErrRouteNotFound) {
		h.logger.Warn("no route for host",
			"err", err,
			"host", req.Host,
			"path", req.URL.Path,
		)
		return c.String(http.StatusNotFound, routeNotFoundBody)
	}

	h.logger.Error("proxy error",
		"err", err,
		"host", req.Host,
		"path", req.URL.Path,
	)
	return c.String(http.StatusInternalServerError, proxyErrorBody)
}

// requestTarget returns the path and query exactly as they appeared on the
// request line. Absolute-form or asterisk targets fall back to the parsed URL.
func requestTarget(req *http.Request) (path, rawQuery string) {
	uri := req.RequestURI
	if strings.HasPrefix(uri, "/") {
		if i := strings.IndexByte(uri, '?'); i >= 0 {
			return uri[:i], uri[i+1:]
		}
		return uri, ""
	}
	return req.URL.EscapedPath(), req.URL.RawQuery
}

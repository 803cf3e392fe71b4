// Package client provides the outbound HTTP client used to reach origins.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/metrics"
	"mirror-proxy-go/internal/model"
)

// ErrTooManyRedirects is returned when an origin redirect chain exceeds
// upstream.max_redirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrUnfollowableRedirect is returned when an origin answers 307 or 308 to a
// request whose body was streamed and cannot be replayed.
var ErrUnfollowableRedirect = errors.New("redirect requires replaying a streamed request body")

// ErrBodyTimeout is returned from a response body read that waited longer
// than upstream.timeout_seconds for data.
var ErrBodyTimeout = errors.New("origin body stalled")

// defaultMaxReplayBytes matches the server.body_max_bytes default.
const defaultMaxReplayBytes = 512 * 1024 * 1024

// UpstreamClient sends requests to origin servers. One client is shared by
// every origin; connections are pooled per host by the transport.
type UpstreamClient struct {
	httpClient     *http.Client
	timeout        time.Duration
	maxReplayBytes int64
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling, timeouts
// and redirect following. The metrics parameter is optional; pass nil to
// disable upstream metrics recording.
//
// upstream.timeout_seconds bounds the wait for each response's headers and
// every individual body read, not the whole transfer, so long downloads
// that keep making progress are never cut off.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second

	transport := &http.Transport{
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxRedirects := cfg.Upstream.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 10
	}
	maxReplay := cfg.Server.BodyMaxBytes
	if maxReplay == 0 {
		maxReplay = defaultMaxReplayBytes
	}

	return &UpstreamClient{
		timeout:        timeout,
		maxReplayBytes: maxReplay,
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, maxRedirects)
				}
				return nil
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against an origin and returns the final
// response after any redirects. The caller is responsible for closing the
// response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"origin", req.URL.Host,
		"path", req.URL.EscapedPath(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	origin := req.URL.Host

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method, origin).Observe(duration)
			c.metrics.UpstreamErrors.WithLabelValues(origin).Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method, origin).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, origin, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned body; closing it also
// releases the request context. When ctx is canceled (e.g. client
// disconnects) the upstream request is canceled too. contentLength of -1
// means unknown.
//
// Bodies of known length up to server.body_max_bytes are read into memory so
// the client can replay them across 307/308 redirects. A streamed body that
// meets such a redirect yields ErrUnfollowableRedirect.
func (c *UpstreamClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	hasBody := body != nil && body != http.NoBody
	if hasBody && contentLength >= 0 && contentLength <= c.maxReplayBytes {
		data, err := readFull(body, contentLength)
		if err != nil {
			return nil, err
		}
		// *bytes.Reader lets NewRequest install GetBody.
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	if req.ContentLength == 0 && hasBody {
		req.ContentLength = contentLength
	}

	resp, err := c.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if hasBody && req.GetBody == nil && isReplayRedirect(resp.StatusCode) {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %d from %s", ErrUnfollowableRedirect, resp.StatusCode, req.URL.Host)
	}

	resp.Body = newIdleTimeoutBody(resp.Body, c.timeout, cancel)
	return resp, nil
}

func readFull(body io.Reader, n int64) ([]byte, error) {
	data := make([]byte, n)
	if _, err := io.ReadFull(body, data); err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

func isReplayRedirect(status int) bool {
	return status == http.StatusTemporaryRedirect || status == http.StatusPermanentRedirect
}

// idleTimeoutBody cancels the request when a single Read waits longer than
// timeout. Time spent between reads, such as writing to a slow client, is
// not counted.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
	cancel  context.CancelFunc
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{rc: rc, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.expired.Store(true)
			cancel()
		})
		b.timer.Stop()
	}
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.timer == nil {
		return b.rc.Read(p)
	}
	b.timer.Reset(b.timeout)
	n, err := b.rc.Read(p)
	b.timer.Stop()
	if err != nil && err != io.EOF && b.expired.Load() {
		err = fmt.Errorf("%w: no data for %s: %w", ErrBodyTimeout, b.timeout, err)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.rc.Close()
	b.cancel()
	return err
}

package service

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"mirror-proxy-go/internal/model"
)

// hopByHopHeaders are meaningful for a single connection only and are never
// relayed in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHop deletes hop-by-hop headers, including any listed in Connection.
func removeHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			if k = textproto.TrimString(k); k != "" {
				h.Del(k)
			}
		}
	}
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

// responseHeaderDenied reports whether an origin response header is dropped
// before relaying. Everything not denied passes through verbatim.
func responseHeaderDenied(key string, vals []string) bool {
	if http.CanonicalHeaderKey(key) == "Content-Encoding" {
		return isGzipEncoding(vals)
	}
	return false
}

// filterResponseHeaders applies the relay denylist to src.
func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if responseHeaderDenied(key, vals) {
			continue
		}
		dst[key] = vals
	}
	removeHopByHop(dst)
	return dst
}

// isGzipEncoding reports whether the body is encoded with gzip alone.
// Stacked codings such as "gzip, br" are left untouched.
func isGzipEncoding(vals []string) bool {
	if len(vals) != 1 {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(vals[0])) {
	case "gzip", "x-gzip":
		return true
	}
	return false
}

// gzipBody closes both the decoder and the underlying origin body.
type gzipBody struct {
	*gzip.Reader
	raw io.ReadCloser
}

func (b *gzipBody) Close() error {
	_ = b.Reader.Close()
	return b.raw.Close()
}

// relayBody filters resp headers for the client. When Content-Encoding: gzip
// is dropped the body is decoded so the bytes match the headers sent.
func relayBody(method string, resp *model.ProxyResponse) error {
	gz := isGzipEncoding(resp.Header.Values("Content-Encoding"))
	resp.Header = filterResponseHeaders(resp.Header)
	if !gz {
		return nil
	}

	// The encoded length no longer describes what the client receives.
	resp.Header.Del("Content-Length")

	if !hasBody(method, resp.StatusCode) {
		return nil
	}

	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Empty body despite the header.
			return nil
		}
		return fmt.Errorf("decode gzip body: %w", err)
	}
	resp.Body = &gzipBody{Reader: zr, raw: resp.Body}
	return nil
}

func hasBody(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	if status >= 100 && status < 200 {
		return false
	}
	return status != http.StatusNoContent && status != http.StatusNotModified
}

// bufferBody reads the whole body into memory so read failures surface
// before any byte reaches the client.
func bufferBody(method string, resp *model.ProxyResponse) error {
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if hasBody(method, resp.StatusCode) && resp.Header.Get("Content-Length") == "" {
		resp.Header.Set("Content-Length", strconv.Itoa(len(data)))
	}
	return nil
}

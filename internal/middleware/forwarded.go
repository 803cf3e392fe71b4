package middleware

import (
	"net"

	"github.com/labstack/echo/v4"
)

// ForwardedHeaders returns an Echo middleware that records the client hop in
// X-Forwarded-For, X-Forwarded-Host and X-Forwarded-Proto before the request
// is forwarded to its origin.
func ForwardedHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if ip, _, err := net.SplitHostPort(req.RemoteAddr); err == nil && ip != "" {
				if prior := req.Header.Get(echo.HeaderXForwardedFor); prior != "" {
					req.Header.Set(echo.HeaderXForwardedFor, prior+", "+ip)
				} else {
					req.Header.Set(echo.HeaderXForwardedFor, ip)
				}
			}
			if req.Header.Get("X-Forwarded-Host") == "" {
				req.Header.Set("X-Forwarded-Host", req.Host)
			}
			if req.Header.Get(echo.HeaderXForwardedProto) == "" {
				req.Header.Set(echo.HeaderXForwardedProto, c.Scheme())
			}

			return next(c)
		}
	}
}

// Package middleware holds the Kratos middleware of the HTTP server.
package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// RequestIDHeader carries a caller supplied request id.
const RequestIDHeader = "X-Request-ID"

// Logging returns a middleware that injects a request context and logs every request.
//
// Example output:
//
//	🟢 GET /v1/connections/dropbox/42/health - 200 (38ms) | RequestID: mgrn0zfqda
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				userAgent string
				requestID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Kind().String()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}
					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")
					requestID = httpReq.Header.Get(RequestIDHeader)
				}
			}

			ctx = pkglog.WithRequestContext(ctx, requestID)
			if tr, ok := transport.FromServerContext(ctx); ok {
				tr.ReplyHeader().Set(RequestIDHeader, pkglog.GetRequestContext(ctx).RequestID)
			}

			reply, err := handler(ctx, req)

			logger.RequestWithContext(ctx, method, path, extractHTTPStatus(err), time.Since(startTime).Milliseconds(),
				"ip", ip,
				"user_agent", userAgent,
			)

			return reply, err
		}
	}
}

// extractClientIP prefers X-Real-IP, then the first X-Forwarded-For hop, then RemoteAddr.
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	return req.RemoteAddr
}

func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.FromError(err).Code)
}

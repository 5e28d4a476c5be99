package server

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"time"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/data"
	"CloudRelay/internal/server/middleware"
	pkglog "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 500 * time.Millisecond

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, api *ConnectionAPI, d *data.Data, reg *prometheus.Registry, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
		),
	}
	if c != nil && c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, http.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.Timeout > 0 {
			opts = append(opts, http.Timeout(c.Http.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	srv.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv.HandleFunc("/healthz", readiness(d))
	api.Register(srv)

	return srv
}

// readiness reports ok while the shared store answers. MySQL failures surface on the API routes.
func readiness(d *data.Data) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		status, redisState := nethttp.StatusOK, "ok"

		if d == nil || d.GetRedisClient() == nil {
			status, redisState = nethttp.StatusServiceUnavailable, "unavailable"
		} else {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := d.GetRedisClient().Ping(ctx).Err(); err != nil {
				status, redisState = nethttp.StatusServiceUnavailable, "unreachable"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": nethttp.StatusText(status), "redis": redisState})
	}
}

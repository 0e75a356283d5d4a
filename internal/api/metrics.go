package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qexec_http_requests_total",
			Help: "HTTP requests by route and status code.",
		},
		[]string{"method", "path", "status"},
	)

	httpErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qexec_http_errors_total",
			Help: "Error responses by route and error kind.",
		},
		[]string{"method", "path", "kind"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qexec_http_request_duration_seconds",
			Help:    "HTTP request latency. Waiting submissions and event streams run long.",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 30, 120},
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpErrorsTotal, httpRequestDuration)
}

// metricsWriter carries the error kind written by writeError back to the
// middleware.
type metricsWriter struct {
	middleware.WrapResponseWriter
	kind string
}

func (m *metricsWriter) setErrorKind(kind string) { m.kind = kind }

// Flush keeps event streams working through the wrapper.
func (m *metricsWriter) Flush() {
	if f, ok := m.WrapResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// errorKindSetter is implemented by writers that record error kinds.
type errorKindSetter interface {
	setErrorKind(kind string)
}

// metricsMiddleware records count, latency and error kind per chi route
// pattern, never the raw path.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mw := &metricsWriter{WrapResponseWriter: middleware.NewWrapResponseWriter(w, r.ProtoMajor)}

		next.ServeHTTP(mw, r)

		status := mw.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		if mw.kind != "" {
			httpErrorsTotal.WithLabelValues(r.Method, path, mw.kind).Inc()
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

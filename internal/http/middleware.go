package http

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
)

// Metrics records request counts and latency.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := normalizePath(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status(ww))).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// LogRequests logs every request once it completes.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			args := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status(ww),
				"latency", time.Since(start),
				"requestID", chimw.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			}
			// scrapes and probes are noise at info
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				L_trace("http: request", args...)
				return
			}
			L_info("http: request", args...)
		}()

		next.ServeHTTP(ww, r)
	})
}

// stripHeaders removes fingerprinting headers
func stripHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")
		next.ServeHTTP(w, r)
	})
}

func status(ww chimw.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}

// normalizePath keeps metric label cardinality bounded.
func normalizePath(path string) string {
	switch path {
	case "/webhook", "/webhook/", "/metrics", "/health":
		return path
	}
	return "other"
}

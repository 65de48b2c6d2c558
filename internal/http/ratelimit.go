package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
)

// RateLimiter tracks failed webhook verifications and blocks peers temporarily
type RateLimiter struct {
	failures map[string]time.Time // IP -> time of last failure
	mu       sync.RWMutex
	delay    time.Duration // How long to block after failure
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(delay time.Duration) *RateLimiter {
	return &RateLimiter{
		failures: make(map[string]time.Time),
		delay:    delay,
	}
}

// RecordFailure records a failed attempt for an IP
func (r *RateLimiter) RecordFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[ip] = time.Now()
	r.pruneLocked()
}

// ClearFailure clears the failure record for an IP
func (r *RateLimiter) ClearFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, ip)
}

// IsLimited returns true if the IP is currently rate limited
func (r *RateLimiter) IsLimited(ip string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	failTime, exists := r.failures[ip]
	if !exists {
		return false
	}
	return time.Since(failTime) <= r.delay
}

func (r *RateLimiter) pruneLocked() {
	for ip, t := range r.failures {
		if time.Since(t) > r.delay {
			delete(r.failures, ip)
		}
	}
}

// Middleware refuses limited IPs and records 403 responses as failures.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ip := clientIP(req)
		if r.IsLimited(ip) {
			L_debug("http: rate limited", "ip", ip, "path", req.URL.Path)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		ww := chimw.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		switch ww.Status() {
		case http.StatusForbidden:
			r.RecordFailure(ip)
		case http.StatusOK:
			r.ClearFailure(ip)
		}
	})
}

type peerAddrKey struct{}

// peerAddr remembers the TCP peer before RealIP rewrites RemoteAddr from
// client-supplied headers.
func peerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP returns the peer host. Forwarding headers are ignored.
func clientIP(r *http.Request) string {
	addr, ok := r.Context().Value(peerAddrKey{}).(string)
	if !ok {
		addr = r.RemoteAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Package http provides the HTTP server for the webhook, health and metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/store"
)

// DefaultFailureDelay is how long an address is refused after a failed
// verification or signature check.
const DefaultFailureDelay = 2 * time.Second

// Server represents the HTTP server
type Server struct {
	server      *http.Server
	listener    net.Listener
	store       store.Store
	webhook     http.Handler
	rateLimiter *RateLimiter
	wg          sync.WaitGroup
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen       string        // Address to listen on (e.g., ":3000", "127.0.0.1:3000")
	FailureDelay time.Duration // 0 means DefaultFailureDelay, negative disables
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *ServerConfig, webhook http.Handler, st store.Store) *Server {
	listen := cfg.Listen
	if listen == "" {
		listen = ":3000"
	}
	delay := cfg.FailureDelay
	if delay == 0 {
		delay = DefaultFailureDelay
	}

	s := &Server{
		store:   st,
		webhook: webhook,
	}
	if delay > 0 {
		s.rateLimiter = NewRateLimiter(delay)
	}

	s.server = &http.Server{
		Addr:              listen,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// replies are sent before the webhook is acknowledged
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(peerAddr)
	r.Use(chimw.RealIP)
	r.Use(LogRequests)
	r.Use(chimw.Recoverer)
	r.Use(stripHeaders)

	r.Route("/webhook", func(r chi.Router) {
		// only verification backs off; deliveries must always be acknowledged
		if s.rateLimiter != nil {
			r.With(s.rateLimiter.Middleware).Get("/", s.webhook.ServeHTTP)
		} else {
			r.Get("/", s.webhook.ServeHTTP)
		}
		r.Post("/", s.webhook.ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)

	return r
}

type healthResponse struct {
	Status      string `json:"status"`
	Members     int    `json:"members"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.store != nil {
		resp.Members = s.store.MemberCount()
		resp.Subscribers = s.store.SubscriberCount()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		L_warn("http: failed to write health response", "error", err)
	}
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", ln.Addr().String())

		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

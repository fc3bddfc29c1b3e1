// Package api provides the HTTP API for driving review sessions remotely.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wesm/inboxsweep/internal/config"
	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/session"
	"github.com/wesm/inboxsweep/internal/store"
)

// Sessions is the registry of per-mode review sessions.
type Sessions interface {
	Get(mode mail.Mode) (*session.Controller, error)
	Lookup(mode mail.Mode) (*session.Controller, bool)
	Dispose(mode mail.Mode) bool
}

// BodyFetcher loads full message bodies for the detail view.
type BodyFetcher interface {
	GetMessageBody(ctx context.Context, id string) (*gateway.Body, error)
}

// JournalReader reads the commit journal.
type JournalReader interface {
	ListCommits(ctx context.Context, opts store.ListOptions) ([]*store.CommitRecord, error)
	CommitMessages(ctx context.Context, commitID string) (succeeded, failed []string, err error)
	GetStats(ctx context.Context) (*store.Stats, error)
}

// Server represents the HTTP API server.
type Server struct {
	cfg         config.ServerConfig
	sessions    Sessions
	bodies      BodyFetcher
	journal     JournalReader
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. journal may be nil when no journal is
// configured.
func NewServer(cfg config.ServerConfig, sessions Sessions, bodies BodyFetcher, journal JournalReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		bodies:   bodies,
		journal:  journal,
		logger:   logger,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)

	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(CORSMiddleware(NewCORSConfig(s.cfg.CORSOrigins)))
	}

	// 10 req/sec per client with a burst of 20
	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/sessions/{mode}", func(r chi.Router) {
			r.Use(modeCtx)
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDisposeSession)
			r.Post("/select-all", s.withSession(s.handleSelectAll))
			r.Post("/deselect-all", s.withSession(s.handleDeselectAll))
			r.Post("/toggle", s.withSession(s.handleToggle))
			r.Post("/skip", s.withSession(s.handleSkip))
			r.Post("/process", s.withSession(s.handleProcess))
			r.Post("/start-over", s.withSession(s.handleStartOver))
		})

		r.Get("/messages/{id}/body", s.handleMessageBody)

		r.Get("/journal", s.handleListJournal)
		r.Get("/journal/{id}", s.handleGetCommit)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// Start begins listening for HTTP requests. It refuses to expose the API
// beyond loopback without an API key.
func (s *Server) Start() error {
	if err := s.cfg.ValidateSecure(); err != nil {
		return err
	}

	bindAddr := s.cfg.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.APIPort))

	if s.cfg.APIKey == "" {
		s.logger.Warn("API server running without authentication; set [server] api_key in config.toml")
	}

	// Commits can outlast a typical write timeout when unsubscribing from
	// many senders, so WriteTimeout is generous.
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key from the Authorization (optionally
// "Bearer "-prefixed) or X-API-Key header.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var (
	_ Sessions      = (*session.Registry)(nil)
	_ JournalReader = (*store.Store)(nil)
)

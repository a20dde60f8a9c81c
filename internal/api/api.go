// Package api provides the HTTP server for Kiko.
//
// It exposes the chat endpoint used by the web front-end together with the
// read-only directory endpoints, appointment booking, rate-limit usage,
// the security event log, Prometheus metrics and the Twilio inbound webhook.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/ratelimit"
	"github.com/BTreeMap/Kiko/internal/store"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	// IdentityHeader lets API clients supply their own identity.
	IdentityHeader = "X-Kiko-Identity"
	// IdentityCookie carries the generated identity for browser sessions.
	IdentityCookie = "kiko_identity"
	maxBodyBytes   = 64 << 10
)

// ChatHandler answers one chat turn.
type ChatHandler interface {
	Handle(ctx context.Context, id models.Identity, text string) (models.IntentReply, error)
}

// Directory is the read side of the doctor directory.
type Directory interface {
	Doctors() []models.Doctor
	FAQ(topic string) (string, bool)
}

// UsageReporter reports per-identity rate-limit usage.
type UsageReporter interface {
	Stats(id models.Identity) ratelimit.Stats
}

// Opts holds the optional collaborators of a Server.
type Opts struct {
	Addr          string
	Version       string
	Appointments  store.AppointmentStore
	SecurityLog   store.SecurityLogStore
	Usage         UsageReporter
	Gatherer      prometheus.Gatherer
	TwilioWebhook http.Handler
	EdgeLimiter   *EdgeLimiter
	AdminToken    string
	TrustProxy    bool
	Logger        *slog.Logger
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option { return func(o *Opts) { o.Addr = addr } }

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option { return func(o *Opts) { o.Version = v } }

// WithAppointments enables POST /api/book_appointment.
func WithAppointments(s store.AppointmentStore) Option {
	return func(o *Opts) { o.Appointments = s }
}

// WithSecurityLog enables GET /api/security/events when an admin token is set.
func WithSecurityLog(s store.SecurityLogStore) Option {
	return func(o *Opts) { o.SecurityLog = s }
}

// WithUsage enables GET /api/ratelimit/{identity}. Like the security log it
// is only mounted when an admin token is set.
func WithUsage(u UsageReporter) Option { return func(o *Opts) { o.Usage = u } }

// WithGatherer mounts /metrics for the given registry.
func WithGatherer(g prometheus.Gatherer) Option { return func(o *Opts) { o.Gatherer = g } }

// WithTwilioWebhook mounts the Twilio inbound webhook at /webhook/twilio.
func WithTwilioWebhook(h http.Handler) Option { return func(o *Opts) { o.TwilioWebhook = h } }

// WithEdgeLimiter puts a per-IP limiter in front of every route.
func WithEdgeLimiter(l *EdgeLimiter) Option { return func(o *Opts) { o.EdgeLimiter = l } }

// WithAdminToken sets the bearer token required by the admin routes.
func WithAdminToken(token string) Option { return func(o *Opts) { o.AdminToken = token } }

// WithTrustProxy takes the client address from X-Forwarded-For and X-Real-IP.
// Only enable it when every request arrives through a proxy that sets them.
func WithTrustProxy(trust bool) Option { return func(o *Opts) { o.TrustProxy = trust } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Opts) { o.Logger = l } }

// Server is the Kiko HTTP API.
type Server struct {
	chat   ChatHandler
	dir    Directory
	opts   Opts
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the router. chat and dir are required.
func NewServer(chat ChatHandler, dir Directory, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, Version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	s := &Server{chat: chat, dir: dir, opts: o, logger: o.Logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	if s.opts.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(chiMiddleware.Recoverer)
	if s.opts.EdgeLimiter != nil {
		r.Use(s.opts.EdgeLimiter.Middleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.healthHandler)
		r.Get("/doctors", s.doctorsHandler)
		r.Get("/faq", s.faqHandler)
		r.Post("/chat", s.chatHandler)
		if s.opts.Appointments != nil {
			r.Post("/book_appointment", s.bookAppointmentHandler)
		}
		if s.opts.AdminToken == "" {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			if s.opts.Usage != nil {
				r.Get("/ratelimit/{identity}", s.rateLimitHandler)
			}
			if s.opts.SecurityLog != nil {
				r.Get("/security/events", s.securityEventsHandler)
			}
		})
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.TwilioWebhook != nil {
		r.Post("/webhook/twilio", s.opts.TwilioWebhook.ServeHTTP)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// requireAdmin rejects requests without the admin bearer token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	want := []byte(s.opts.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			s.logger.Warn("Server.requireAdmin: unauthorized admin request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server.Run: API server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	s.logger.Info("Server.Run: API server stopped")
	return nil
}

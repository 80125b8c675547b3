// Package server implements the orchestrator's HTTP API: the
// Job Controller's create/status/tick/cancel operations plus manuscript
// and checkpoint retrieval, fronted by go-chi/chi with bearer-JWT auth.
// The server lifecycle (Options struct, graceful Start/Shutdown over
// os/signal) carries over from an agent-chat transport to this
// project's job-control surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/inkforge/orchestrator/pkg/auth"
	"github.com/inkforge/orchestrator/pkg/config"
	"github.com/inkforge/orchestrator/pkg/control"
	"github.com/inkforge/orchestrator/pkg/manuscript"
	"github.com/inkforge/orchestrator/pkg/observability"
	"github.com/inkforge/orchestrator/pkg/ratelimit"
	"github.com/inkforge/orchestrator/pkg/share"
)

// Manuscripts is the read surface GET /jobs/{id}/manuscript serves from,
// satisfied by (*store.ManuscriptsRepo).
type Manuscripts interface {
	Get(ctx context.Context, jobID string) (*manuscript.Manuscript, error)
}

// Options wires a Server's collaborators and HTTP tuning.
type Options struct {
	Config        config.ServerConfig
	Controller    *control.Controller
	Manuscripts   Manuscripts
	Checkpoints   CheckpointLister
	Share         *share.Service
	Observability *observability.Manager
	RateLimiter   ratelimit.RateLimiter
	RateScope     ratelimit.Scope
}

// Server hosts the HTTP API over one *control.Controller.
type Server struct {
	opts   Options
	http   *http.Server
	router chi.Router
}

// New builds a Server and its route table. The returned Server is not
// listening yet; call Start.
func New(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("server: controller is required")
	}
	opts.Config.SetDefaults()

	s := &Server{opts: opts}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:         opts.Config.Addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(opts.Config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(opts.Config.WriteTimeout) * time.Second,
	}
	return s, nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(slogLogger)
	r.Use(middleware.Recoverer)

	if len(s.opts.Config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.Config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metricsHandler(s.opts.Observability))
	r.Get("/api/schema", s.handleSchema)
	r.Get("/share/{token}", s.handleShare)

	r.Group(func(pr chi.Router) {
		if !s.opts.Config.AuthDisabled {
			validator, err := auth.NewJWTValidator(s.opts.Config.JWKSURL, s.opts.Config.JWTIssuer, s.opts.Config.JWTAudience)
			if err != nil {
				// A misconfigured validator fails every request rather
				// than silently running unauthenticated.
				pr.Use(failingAuthMiddleware(err))
			} else {
				pr.Use(validator.HTTPMiddleware)
			}
		}
		if s.opts.RateLimiter != nil {
			pr.Use(ratelimit.Middleware(ratelimit.MiddlewareConfig{
				Limiter:        s.opts.RateLimiter,
				IdentifierFunc: s.rateLimitIdentifier,
			}))
		}
		pr.Post("/jobs", s.handleCreate)
		pr.Get("/jobs/{id}", s.handleStatus)
		pr.Post("/jobs/{id}/tick", s.handleTick)
		pr.Post("/jobs/{id}/cancel", s.handleCancel)
		pr.Get("/jobs/{id}/manuscript", s.handleManuscript)
		pr.Get("/jobs/{id}/checkpoints", s.handleCheckpoints)
	})

	return r
}

// rateLimitIdentifier keys the rate limiter off the authenticated
// subject when auth is enabled, falling back to the remote address
// for auth-disabled deployments.
func (s *Server) rateLimitIdentifier(r *http.Request) (string, ratelimit.Scope) {
	if claims := auth.GetClaims(r); claims != nil && claims.Subject != "" {
		return claims.Subject, s.opts.RateScope
	}
	return ratelimit.DefaultIdentifierFunc(r)
}

func failingAuthMiddleware(cause error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slog.Error("server: auth validator unavailable", "err", cause)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "authentication is unavailable")
		})
	}
}

func slogLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		slog.Info("server: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Start listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", s.opts.Config.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listen address, for tests and logging.
func (s *Server) Addr() string { return s.opts.Config.Addr }

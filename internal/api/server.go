// Package api exposes the audience engine over HTTP. The surface is
// deliberately thin: tenant resolution, JSON plumbing, and error mapping;
// all behavior lives in the segment, scoring, and contacts packages.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/config"
	"github.com/ignite/audience-engine/internal/contacts"
	"github.com/ignite/audience-engine/internal/pkg/httputil"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/scoring"
	"github.com/ignite/audience-engine/internal/segment"
)

// Server wires the engine components behind a chi router.
type Server struct {
	cfg       config.ServerConfig
	router    *chi.Mux
	server    *http.Server
	segments  *segment.Store
	evaluator *segment.Evaluator
	scores    *scoring.Engine
	contacts  *contacts.Store
}

// NewServer creates an API server over the given engine components.
func NewServer(cfg config.ServerConfig, segments *segment.Store, evaluator *segment.Evaluator, scores *scoring.Engine, contactStore *contacts.Store) *Server {
	s := &Server{
		cfg:       cfg,
		segments:  segments,
		evaluator: evaluator,
		scores:    scores,
		contacts:  contactStore,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Tenant-ID", "X-User-ID"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(tenantContext)

		r.Route("/segments", func(r chi.Router) {
			r.Get("/", s.handleListSegments)
			r.Post("/", s.handleCreateSegment)
			r.Post("/preview", s.handlePreview)
			r.Post("/count", s.handleCount)
			r.Post("/contact-ids", s.handleContactIDs)
			r.Get("/fields", s.handleFields)

			r.Route("/{segmentID}", func(r chi.Router) {
				r.Get("/", s.handleGetSegment)
				r.Put("/", s.handleUpdateSegment)
				r.Delete("/", s.handleDeactivateSegment)
				r.Post("/clone", s.handleCloneSegment)
				r.Post("/evaluate", s.handleEvaluateSegment)
				r.Get("/usage", s.handleSegmentUsage)
			})
		})

		r.Route("/scores", func(r chi.Router) {
			r.Get("/distribution", s.handleDistribution)
			r.Get("/range", s.handleScoreRange)
			r.Post("/recompute", s.handleRecomputeAll)
			r.Post("/contacts/{contactID}/recompute", s.handleRecomputeOne)
		})

		r.Route("/contacts/{contactID}", func(r chi.Router) {
			r.Get("/", s.handleGetContact)
			r.Put("/", s.handleUpdateContact)
			r.Post("/tags/{tag}", s.handleAddTag)
			r.Delete("/tags/{tag}", s.handleRemoveTag)
		})
	})

	return r
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ==========================================
// TENANT CONTEXT
// ==========================================

type tenantKey struct{}

// tenantContext requires a valid X-Tenant-ID header on every API call.
// Tenancy is resolved upstream by the auth layer; this service only trusts
// the already-authenticated header.
func tenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Tenant-ID")
		tenantID, err := uuid.Parse(raw)
		if err != nil || tenantID == uuid.Nil {
			httputil.Error(w, http.StatusUnauthorized, "missing or invalid X-Tenant-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenantID)))
	})
}

func tenantFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(tenantKey{}).(uuid.UUID)
	return id
}

func userFrom(r *http.Request) *uuid.UUID {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

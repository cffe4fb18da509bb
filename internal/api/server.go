package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dgallion1/docreview/internal/artifacts"
	"github.com/dgallion1/docreview/internal/config"
	"github.com/dgallion1/docreview/internal/drafting"
	"github.com/dgallion1/docreview/internal/metrics"
	"github.com/dgallion1/docreview/internal/pipeline"
	"github.com/dgallion1/docreview/internal/review"
	"github.com/dgallion1/docreview/internal/store"
)

// Deps are the collaborators the HTTP API needs. Mirror, Metrics and
// Drafts may be nil.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Service      *review.Service
	Store        store.Store
	Files        *artifacts.Local
	Mirror       artifacts.Mirror
	Metrics      *metrics.Metrics
	Drafts       *drafting.Generator
}

// Server is the HTTP API server for docreview.
type Server struct {
	router chi.Router
	deps   Deps
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Deps, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		deps: deps,
		log:  log,
		cfg:  cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.deps.Metrics.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.DocreviewAPIKey, s.log))

		r.Route("/api/reviews", func(r chi.Router) {
			r.Post("/upload", s.handleUpload)

			r.Get("/contracts", s.handleListContracts)
			r.Get("/contracts/{contractID}", s.handleGetContract)
			r.Delete("/contracts/{contractID}", s.handleDeleteContract)

			r.Post("/{contractID}/start", s.handleStartReview)
			r.Get("/{reviewID}", s.handleGetReview)
			r.Get("/{reviewID}/download", s.handleDownload)
			r.Get("/{reviewID}/report", s.handleReport)
		})

		r.Route("/api/writing/drafts", func(r chi.Router) {
			r.Post("/", s.handleCreateDraft)
			r.Get("/", s.handleListDrafts)

			r.Route("/{draftID}", func(r chi.Router) {
				r.Get("/", s.handleGetDraft)
				r.Put("/content", s.handleUpdateDraft)
				r.Delete("/", s.handleDeleteDraft)
				r.Post("/generate", s.handleGenerateDraft)
				r.Post("/regenerate", s.handleRegenerateDraft)
				r.Post("/refine", s.handleRefineDraft)
				r.Get("/download", s.handleDownloadDraft)
				r.Post("/finalize", s.handleFinalizeDraft)
				r.Post("/to-review", s.handleDraftToReview)
			})
		})

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

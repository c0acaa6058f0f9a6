package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"

	"github.com/refinelab/textora/internal/api/handlers"
	"github.com/refinelab/textora/internal/config"
	"github.com/refinelab/textora/internal/core"
	"github.com/refinelab/textora/internal/core/ingest"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, db core.DbClient, obj core.ObjectClient, manager *ingest.Manager, backends map[string]core.EmbeddingBackend, llm core.LLMProvider) *Server {
	ingestHandler := handlers.NewIngestHandler(manager)
	docHandler := handlers.NewDocumentHandler(db, obj, cfg)
	searchHandler := handlers.NewSearchHandler(db, backends, llm)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// Batches run for as long as the OCR and LLM calls take; only the
		// non-streaming endpoints get the request timeout.
		api.Group(func(timed chi.Router) {
			timed.Use(middleware.Timeout(60 * time.Second))
			timed.Post("/ingest", ingestHandler.Submit)
			timed.Post("/ingest/{job_id}/cancel", ingestHandler.Cancel)
			timed.Post("/documents/upload", docHandler.Upload)
			timed.Get("/documents", docHandler.List)
			timed.Get("/documents/{file_id}", docHandler.Get)
			timed.Post("/search", searchHandler.Query)
		})
		api.Get("/ingest/{job_id}/events", ingestHandler.Stream)
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

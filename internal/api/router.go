package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func NewRouter(apiHandler *APIHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(RequestMetrics(logger))

	r.Handle("/metrics", promhttp.Handler())

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Post("/clone", apiHandler.CloneHandler)
		r.Post("/analyse_repository", apiHandler.AnalyseRepositoryHandler)
		r.Post("/analyze", apiHandler.AnalyzeFileHandler)
		r.Post("/analyze_repo", apiHandler.AnalyzeRepoHandler)
		r.Get("/files", apiHandler.ListFilesHandler)

		r.Post("/conversations", apiHandler.CreateConversationHandler)
		r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
		r.Post("/conversations/{conversationID}/messages", apiHandler.PostMessageHandler)
		r.Delete("/conversations/{conversationID}", apiHandler.DeleteConversationHandler)
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Conversation routes, keyed by the front-end's user id
		r.Route("/users/{externalID}", func(r chi.Router) {
			r.Use(apiHandler.UserMiddleware)

			r.Post("/start", apiHandler.StartHandler)
			r.Post("/messages", apiHandler.PostMessageHandler)
			r.Get("/history", apiHandler.GetHistoryHandler)
			r.Delete("/history", apiHandler.ClearHistoryHandler)
			r.Get("/stats", apiHandler.StatsHandler)
		})

		// Knowledge base routes
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", apiHandler.CreateDocumentHandler)
			r.Get("/", apiHandler.ListDocumentsHandler)
			r.Get("/search", apiHandler.SearchDocumentsHandler)
			r.Delete("/{documentID}", apiHandler.DeleteDocumentHandler)
		})
	})

	return r
}

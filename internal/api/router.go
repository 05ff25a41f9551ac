package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Session-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			// Retrieval
			r.Post("/query", h.QueryHandler)
			r.Post("/index", h.IndexHandler)

			// Long-term memory
			r.Post("/memory/update", h.MemoryUpdateHandler)
			r.Get("/memory", h.GetMemoryHandler)

			// Conversations
			r.Post("/conversations", h.CreateConversationHandler)
			r.Get("/conversations", h.ListConversationsHandler)
			r.Get("/conversations/{conversationID}", h.GetConversationDetailsHandler)
			r.Post("/conversations/{conversationID}/messages", h.PostMessageHandler)
		})
	})

	return r
}

package operator

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwork/chat-governor/internal/middleware"
)

// Routes returns the chat operator router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		// Read-only
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireViewer())
			r.Get("/banned", h.ListBanned)
			r.Get("/{id}", h.Get)
			r.Get("/{id}/admission", h.Admission)
		})

		// State changes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator())
			r.Post("/{id}/ban", h.Ban)
			r.Post("/{id}/unban", h.Unban)
		})
	})

	return r
}

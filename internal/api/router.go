package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/chatservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *chatservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Sessions CRUD.
	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions/{id}", h.GetSession)
	r.Delete("/sessions/{id}", h.DeleteSession)

	// Graph reads.
	r.Get("/sessions/{id}/thread", h.GetThread)
	r.Get("/sessions/{id}/tree", h.GetTree)

	// Turns.
	r.Post("/sessions/{id}/messages", h.SendMessage)
	r.Post("/sessions/{id}/messages/{mid}/edit", h.EditMessage)

	// Memory links.
	r.Post("/sessions/{id}/connections", h.Connect)
	r.Delete("/sessions/{id}/connections", h.Disconnect)

	// Focus and layout.
	r.Put("/sessions/{id}/head", h.SetHead)
	r.Put("/sessions/{id}/positions/{mid}", h.SetPosition)

	// Active session pointer.
	r.Get("/active", h.GetActive)
	r.Put("/active", h.SetActive)

	// Settings.
	r.Get("/settings/{key}", h.GetSetting)
	r.Put("/settings/{key}", h.SetSetting)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

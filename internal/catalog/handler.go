// internal/catalog/handler.go
package catalog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fitjourney/internal/apperr"
	"fitjourney/internal/httpx"
	"fitjourney/internal/identity"
	"fitjourney/internal/logging"
)

type Handler struct {
	service Service
	log     *logging.Logger
}

func NewHandler(service Service, log *logging.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// TrainerRoutes mounts session management under /trainer/classes.
func (h *Handler) TrainerRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleListOwn)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
}

// MemberRoutes mounts the member view of the catalog under /member/classes.
func (h *Handler) MemberRoutes(r chi.Router) {
	r.Get("/available", h.handleAvailable)
}

func principal(w http.ResponseWriter, r *http.Request) (*identity.Principal, bool) {
	p, ok := identity.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.ErrTokenInvalid, "missing identity"))
	}
	return p, ok
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var in SessionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}

	session, err := h.service.CreateSession(r.Context(), p.UserID, in)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleListOwn(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	sessions, err := h.service.ListByTrainer(r.Context(), p.UserID)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	session, err := h.service.OwnedSession(r.Context(), p.UserID, id)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var in SessionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}

	session, err := h.service.UpdateSession(r.Context(), p.UserID, id, in)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	if err := h.service.DeleteSession(r.Context(), p.UserID, id); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListUpcoming(r.Context(), time.Now())
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessions)
}

// internal/revenue/handler.go
package revenue

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fitjourney/internal/httpx"
	"fitjourney/internal/logging"
)

type Handler struct {
	service Service
	log     *logging.Logger
}

func NewHandler(service Service, log *logging.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// AdminRoutes mounts revenue bookkeeping under /admin/revenue.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/date/{date}", h.handleGetByDate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
}

func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	day, err := ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	records, err := h.service.ListRecords(r.Context(), Range{From: from, To: to})
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGetByDate(w http.ResponseWriter, r *http.Request) {
	day, err := ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	record, err := h.service.GetByDate(r.Context(), day)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	record, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}

	record, err := h.service.CreateRecord(r.Context(), in)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}

	record, err := h.service.UpdateRecord(r.Context(), id, in)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.service.DeleteRecord(r.Context(), id); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

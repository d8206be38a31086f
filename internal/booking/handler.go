// internal/booking/handler.go
package booking

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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

// MemberClassRoutes mounts class booking under /member/classes.
func (h *Handler) MemberClassRoutes(r chi.Router) {
	r.Post("/book", h.handleBookClass)
	r.Get("/bookings", h.handleListMine)
	r.Delete("/bookings/{id}", h.handleCancel)
	r.Get("/bookings/{id}/history", h.handleHistory)
}

// MemberPlanRoutes mounts plan booking under /member/plans.
func (h *Handler) MemberPlanRoutes(r chi.Router) {
	r.Post("/book", h.handleBookPlan)
	r.Get("/bookings", h.handleListMyPlans)
	r.Delete("/bookings/{id}", h.handleCancelPlan)
}

// TrainerRoutes mounts the trainer view of bookings under /trainer/classes.
func (h *Handler) TrainerRoutes(r chi.Router) {
	r.Get("/{id}/bookings", h.handleListForSession)
	r.Patch("/{id}/bookings/{bookingId}/attendance", h.handleAttendance)
}

func caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	p, ok := identity.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.ErrTokenInvalid, "missing identity"))
		return uuid.Nil, false
	}
	return p.UserID, true
}

func (h *Handler) handleBookClass(w http.ResponseWriter, r *http.Request) {
	memberID, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		SessionID      uuid.UUID `json:"session_id"`
		SessionIDCamel uuid.UUID `json:"sessionId"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	sessionID := req.SessionID
	if sessionID == uuid.Nil {
		sessionID = req.SessionIDCamel
	}
	if sessionID == uuid.Nil {
		httpx.WriteError(w, apperr.New(apperr.ErrValidation, "session_id is required"))
		return
	}

	booking, err := h.service.BookClass(r.Context(), memberID, sessionID)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, booking)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	memberID, ok := caller(w, r)
	if !ok {
		return
	}

	bookings, err := h.service.ListMemberBookings(r.Context(), memberID)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bookings)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	memberID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	if _, err := h.service.CancelBooking(r.Context(), memberID, id); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	memberID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	events, err := h.service.BookingHistory(r.Context(), memberID, id)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) handleListForSession(w http.ResponseWriter, r *http.Request) {
	trainerID, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	bookings, err := h.service.ListBookingsForSession(r.Context(), trainerID, sessionID)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bookings)
}

func (h *Handler) handleAttendance(w http.ResponseWriter, r *http.Request) {
	trainerID, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	bookingID, err := httpx.PathUUID(r, "bookingId")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req struct {
		Present *bool `json:"present"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if req.Present == nil {
		httpx.WriteError(w, apperr.New(apperr.ErrValidation, "present is required"))
		return
	}

	booking, err := h.service.MarkAttendance(r.Context(), trainerID, sessionID, bookingID, *req.Present)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, booking)
}

// planRequestBody also accepts the camelCase spellings of PlanRequest.
type planRequestBody struct {
	PlanRequest
	PlanIDCamel           uuid.UUID `json:"planId"`
	PaymentCompletedCamel *bool     `json:"paymentCompleted"`
	PaymentReferenceCamel string    `json:"paymentReference"`
}

func (b planRequestBody) request() PlanRequest {
	req := b.PlanRequest
	if req.PlanID == uuid.Nil {
		req.PlanID = b.PlanIDCamel
	}
	if req.PaymentCompleted == nil {
		req.PaymentCompleted = b.PaymentCompletedCamel
	}
	if req.PaymentReference == "" {
		req.PaymentReference = b.PaymentReferenceCamel
	}
	return req
}

func (h *Handler) handleBookPlan(w http.ResponseWriter, r *http.Request) {
	memberID, ok := caller(w, r)
	if !ok {
		return
	}

	var body planRequestBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}
	req := body.request()
	if req.PlanID == uuid.Nil {
		httpx.WriteError(w, apperr.New(apperr.ErrValidation, "plan_id is required"))
		return
	}

	booking, err := h.service.BookPlan(r.Context(), memberID, req)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, booking)
}

func (h *Handler) handleListMyPlans(w http.ResponseWriter, r *http.Request) {
	memberID, ok := caller(w, r)
	if !ok {
		return
	}

	bookings, err := h.service.ListMemberPlanBookings(r.Context(), memberID)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bookings)
}

func (h *Handler) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	memberID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	if _, err := h.service.CancelPlanBooking(r.Context(), memberID, id); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

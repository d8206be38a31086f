// internal/identity/handler.go
package identity

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fitjourney/internal/apperr"
	"fitjourney/internal/httpx"
	"fitjourney/internal/logging"
)

type Handler struct {
	service       Service
	log           *logging.Logger
	photos        PhotoStore
	maxPhotoBytes int64
}

func NewHandler(service Service, log *logging.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// WithPhotos enables photo uploads of at most maxBytes through store.
func (h *Handler) WithPhotos(store PhotoStore, maxBytes int64) *Handler {
	h.photos = store
	h.maxPhotoBytes = maxBytes
	return h
}

// PublicRoutes mounts the login and registration endpoints under /auth.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/register", h.handleRegister)
}

// AdminRoutes mounts identity administration under /admin/users.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Patch("/{id}/active", h.handleSetActive)
	r.Patch("/{id}/role", h.handleSetRole)
	r.Delete("/{id}", h.handleDelete)
	if h.photos != nil {
		r.Post("/{id}/photo", h.handleUploadPhoto)
	}
	r.Delete("/{id}/photo", h.handleClearPhoto)
}

// TrainerAdminRoutes mounts trainer management under /admin/trainers. Every
// route only sees identities whose role is TRAINER.
func (h *Handler) TrainerAdminRoutes(r chi.Router) {
	r.Get("/", h.handleListTrainers)
	r.Post("/", h.handleCreateTrainer)
	r.Get("/{id}", h.handleGetTrainer)
	r.Put("/{id}", h.handleUpdateTrainer)
	r.Delete("/{id}", h.handleDeleteTrainer)
}

// SelfRoutes mounts endpoints any authenticated identity may call under /me.
func (h *Handler) SelfRoutes(r chi.Router) {
	r.Get("/", h.handleMe)
	r.Put("/password", h.handleChangePassword)
}

// loginRequest accepts username/password as well as identifier/secret.
type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// registerRequest accepts the snake_case registration body as well as the
// identifier/secret/fullName spelling.
type registerRequest struct {
	Registration
	Identifier    string `json:"identifier"`
	Secret        string `json:"secret"`
	FullNameCamel string `json:"fullName"`
}

func (req registerRequest) registration() Registration {
	reg := req.Registration
	reg.Username = firstNonEmpty(reg.Username, req.Identifier)
	reg.Password = firstNonEmpty(reg.Password, req.Secret)
	reg.FullName = firstNonEmpty(reg.FullName, req.FullNameCamel)
	return reg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	// Missing credentials get the same 401 as wrong ones.
	username := firstNonEmpty(req.Username, req.Identifier)
	password := firstNonEmpty(req.Password, req.Secret)
	token, err := h.service.IssueToken(r.Context(), username, password)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, token)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	identity, err := h.service.Register(r.Context(), req.registration())
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.ErrTokenInvalid, "missing identity"))
		return
	}

	identity, err := h.service.GetIdentity(r.Context(), p.UserID)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.ErrTokenInvalid, "missing identity"))
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var filter *Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		role, ok := ParseRole(raw)
		if !ok {
			httpx.WriteError(w, apperr.New(apperr.ErrValidation, "unknown role"))
			return
		}
		filter = &role
	}

	identities, err := h.service.ListIdentities(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, identities)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	identity, err := h.service.GetIdentity(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req struct {
		Active *bool `json:"active"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if req.Active == nil {
		httpx.WriteError(w, apperr.New(apperr.ErrValidation, "active is required"))
		return
	}

	identity, err := h.service.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	role, ok := ParseRole(req.Role)
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.ErrValidation, "unknown role"))
		return
	}

	identity, err := h.service.SetRole(r.Context(), id, role)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	if err := h.service.DeleteIdentity(r.Context(), id); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	identity, err := h.service.CreateIdentity(r.Context(), req.registration())
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, identity)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req ProfileUpdate
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	identity, err := h.service.UpdateProfile(r.Context(), id, req)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	identity, err := h.service.GetIdentity(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	// Room for the multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPhotoBytes+64<<10)
	file, _, err := r.FormFile("photo")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, apperr.New(apperr.ErrValidation, "photo is too large"))
			return
		}
		httpx.WriteError(w, apperr.New(apperr.ErrValidation, "photo file is required"))
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		httpx.Fail(w, r, h.log, err)
		return
	}
	if n == 0 {
		httpx.WriteError(w, apperr.New(apperr.ErrValidation, "photo is empty"))
		return
	}

	content := io.LimitReader(io.MultiReader(bytes.NewReader(head[:n]), file), h.maxPhotoBytes+1)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(content); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	if int64(buf.Len()) > h.maxPhotoBytes {
		httpx.WriteError(w, apperr.New(apperr.ErrValidation, "photo is too large"))
		return
	}

	url, err := h.photos.SavePhoto(r.Context(), photoKey(identity), http.DetectContentType(head[:n]), &buf)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	updated, err := h.service.SetPhotoURL(r.Context(), id, &url)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleClearPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	identity, err := h.service.SetPhotoURL(r.Context(), id, nil)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) trainer(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return nil, false
	}

	identity, err := h.service.GetIdentity(r.Context(), id)
	if err == nil && identity.Role != RoleTrainer {
		err = apperr.New(apperr.ErrNotFound, "trainer not found")
	}
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return nil, false
	}
	return identity, true
}

func (h *Handler) handleListTrainers(w http.ResponseWriter, r *http.Request) {
	role := RoleTrainer
	trainers, err := h.service.ListIdentities(r.Context(), &role)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, trainers)
}

func (h *Handler) handleGetTrainer(w http.ResponseWriter, r *http.Request) {
	trainer, ok := h.trainer(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, trainer)
}

func (h *Handler) handleCreateTrainer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	reg := req.registration()
	reg.Role = string(RoleTrainer)
	trainer, err := h.service.CreateIdentity(r.Context(), reg)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, trainer)
}

func (h *Handler) handleUpdateTrainer(w http.ResponseWriter, r *http.Request) {
	trainer, ok := h.trainer(w, r)
	if !ok {
		return
	}

	var req ProfileUpdate
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	req.Role = ""

	updated, err := h.service.UpdateProfile(r.Context(), trainer.ID, req)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteTrainer(w http.ResponseWriter, r *http.Request) {
	trainer, ok := h.trainer(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteIdentity(r.Context(), trainer.ID); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

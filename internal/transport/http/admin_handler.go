package http

import (
	"net/http"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/gateway"
	"github.com/cwrk-planet/aidchat/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

// GET /api/admin/users
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.ListUsers(r.Context())
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	out := make([]UserDTO, 0, len(users))
	for i := range users {
		out = append(out, toUserDTO(&users[i], true))
	}
	httputil.OK(w, out)
}

// PUT /api/admin/users/{id}
func (h *Handler) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	var req ProfileRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	u, err := h.admin.UpdateUser(r.Context(), id, req.patch())
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, toUserDTO(u, true))
}

// DELETE /api/admin/users/{id}
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	if err := h.admin.DeleteUser(r.Context(), id); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/admin/messages
func (h *Handler) AdminListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.admin.ListMessages(r.Context())
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, gateway.MessagesToWire(msgs))
}

// DELETE /api/admin/messages/{id}
func (h *Handler) AdminDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseMessageID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	if err := h.admin.DeleteMessage(r.Context(), id); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/admin/reset
func (h *Handler) AdminReset(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Reset(r.Context()); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "reset"})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dispatch-auth/internal/auth"
)

type setActiveRequest struct {
	IsActive *bool `json:"isActive"`
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.manager.ListUsers(r.Context())
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleSetUserActive activates or deactivates an account. Deactivation
// signs the user out of every device immediately.
func (s *Server) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	ac := auth.AuthContextFrom(r.Context())
	id := chi.URLParam(r, "id")

	var req setActiveRequest
	if !decodeJSON(r, &req) || req.IsActive == nil {
		writeBadRequest(w, "body must be {\"isActive\": bool}")
		return
	}

	user, err := s.manager.SetActive(r.Context(), ac.UserID, id, *req.IsActive)
	observeAuth("set_active", err)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.logger.Info("account status updated", "user_id", user.ID, "active", user.IsActive, "by", ac.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dispatch-auth/internal/auth"
)

// handleListSessions returns the caller's signed-in devices.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ac := auth.AuthContextFrom(r.Context())

	sessions, err := s.manager.ListSessions(r.Context(), ac.UserID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []auth.Session{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleRevokeSession signs out one of the caller's devices.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	ac := auth.AuthContextFrom(r.Context())
	id := chi.URLParam(r, "id")

	err := s.manager.RevokeSession(r.Context(), ac.UserID, id)
	observeAuth("revoke_session", err)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "session revoked"})
}

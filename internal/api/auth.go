package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/dispatch-auth/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenRequest carries a refresh token for /auth/refresh and /auth/logout.
type tokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type authResponse struct {
	User                 *auth.User `json:"user"`
	AccessToken          string     `json:"accessToken"`
	AccessTokenExpiresAt time.Time  `json:"accessTokenExpiresAt"`
	RefreshToken         string     `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
	// RefreshToken is set only when the presented token was rotated.
	RefreshToken string `json:"refreshToken,omitempty"`
}

type meResponse struct {
	User        *auth.User       `json:"user"`
	Preferences auth.Preferences `json:"preferences"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleRegister creates an account and signs the new user in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(r, &req) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	result, err := s.manager.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	}, clientInfo(r))
	observeAuth("register", err)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		User:                 result.User,
		AccessToken:          result.AccessToken,
		AccessTokenExpiresAt: result.AccessTokenExpiresAt,
		RefreshToken:         result.RefreshToken,
	})
}

// handleLogin verifies credentials and opens a new session for this device.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(r, &req) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	result, err := s.manager.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	observeAuth("login", err)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		User:                 result.User,
		AccessToken:          result.AccessToken,
		AccessTokenExpiresAt: result.AccessTokenExpiresAt,
		RefreshToken:         result.RefreshToken,
	})
}

// handleRefresh exchanges a refresh token for a new access token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(r, &req) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.manager.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	observeAuth("refresh", err)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:          result.AccessToken,
		AccessTokenExpiresAt: result.AccessTokenExpiresAt,
		RefreshToken:         result.RefreshToken,
	})
}

// handleLogout ends the session of the presented refresh token. It answers
// 200 for every input, including a missing or unknown token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	//nolint:errcheck // a malformed body is treated as an empty token
	json.NewDecoder(r.Body).Decode(&req)

	if ac := auth.AuthContextFrom(r.Context()); ac != nil {
		s.logger.Debug("logout", "user_id", ac.UserID)
	}

	//nolint:errcheck // Logout never fails
	s.manager.Logout(r.Context(), req.RefreshToken)
	observeAuth("logout", nil)

	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

// handleMe returns the caller's account and preferences.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ac := auth.AuthContextFrom(r.Context())

	user, prefs, err := s.manager.Me(r.Context(), ac.UserID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	if prefs == nil {
		prefs = auth.Preferences{}
	}

	writeJSON(w, http.StatusOK, meResponse{User: user, Preferences: prefs})
}

// handleChangePassword replaces the caller's password and signs out every
// device. The access token used for this call stays valid until it expires.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ac := auth.AuthContextFrom(r.Context())

	var req changePasswordRequest
	if !decodeJSON(r, &req) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "currentPassword and newPassword are required")
		return
	}

	err := s.manager.ChangePassword(r.Context(), ac.UserID, req.CurrentPassword, req.NewPassword)
	observeAuth("change_password", err)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "password changed; all sessions have been signed out"})
}

// handleUpdatePreferences replaces the caller's preferences document.
func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ac := auth.AuthContextFrom(r.Context())

	var prefs auth.Preferences
	if !decodeJSON(r, &prefs) {
		writeBadRequest(w, "preferences must be a JSON object")
		return
	}

	saved, err := s.manager.UpdatePreferences(r.Context(), ac.UserID, prefs)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"preferences": saved})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/dispatch-auth/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes. Clients key on these, not on messages.
const (
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeTokenExpired        = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid        = "TOKEN_INVALID"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeAccountDeactivated  = "ACCOUNT_DEACTIVATED"
	ErrCodeDuplicateEmail      = "DUPLICATE_EMAIL"
	ErrCodeWeakPassword        = "WEAK_PASSWORD"
	ErrCodeInvalidEmail        = "INVALID_EMAIL"
	ErrCodeWrongPassword       = "WRONG_PASSWORD"
	ErrCodeRefreshTokenInvalid = "REFRESH_TOKEN_INVALID"
	ErrCodeSelfModification    = "SELF_MODIFICATION"
	ErrCodeTransient           = "TRANSIENT"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthenticated writes a 401 error response.
func writeUnauthenticated(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthenticated, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// authErrorResponse maps an auth package error to its HTTP status and code.
// Messages are fixed strings so internal detail never reaches the client.
func authErrorResponse(err error) Error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return Error{http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password"}
	case errors.Is(err, auth.ErrAccountDeactivated):
		return Error{http.StatusForbidden, ErrCodeAccountDeactivated, "account is deactivated"}
	case errors.Is(err, auth.ErrDuplicateEmail):
		return Error{http.StatusConflict, ErrCodeDuplicateEmail, "email is already registered"}
	case errors.Is(err, auth.ErrWeakPassword):
		return Error{http.StatusBadRequest, ErrCodeWeakPassword, err.Error()}
	case errors.Is(err, auth.ErrInvalidEmail):
		return Error{http.StatusBadRequest, ErrCodeInvalidEmail, "email address is not valid"}
	case errors.Is(err, auth.ErrWrongCurrentPassword):
		return Error{http.StatusUnauthorized, ErrCodeWrongPassword, "current password is incorrect"}
	case errors.Is(err, auth.ErrTokenExpired):
		return Error{http.StatusUnauthorized, ErrCodeTokenExpired, "access token has expired"}
	case errors.Is(err, auth.ErrTokenInvalid):
		return Error{http.StatusUnauthorized, ErrCodeTokenInvalid, "access token is invalid"}
	case errors.Is(err, auth.ErrRefreshTokenInvalid):
		return Error{http.StatusUnauthorized, ErrCodeRefreshTokenInvalid, "refresh token is invalid or expired"}
	case errors.Is(err, auth.ErrUserNotFound):
		return Error{http.StatusNotFound, ErrCodeNotFound, "user not found"}
	case errors.Is(err, auth.ErrSessionNotFound):
		return Error{http.StatusNotFound, ErrCodeNotFound, "session not found"}
	case errors.Is(err, auth.ErrSelfModification):
		return Error{http.StatusBadRequest, ErrCodeSelfModification, "cannot change your own account status"}
	case errors.Is(err, auth.ErrTransient):
		return Error{http.StatusServiceUnavailable, ErrCodeTransient, "temporarily unavailable, retry later"}
	default:
		return Error{http.StatusInternalServerError, ErrCodeInternal, "internal server error"}
	}
}

// writeAuthError translates an auth package error into the HTTP error contract.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	resp := authErrorResponse(err)
	if resp.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, resp.Status, resp)
}

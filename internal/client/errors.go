package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrUnauthenticated means the session is gone and the user must sign in again.
	ErrUnauthenticated = errors.New("client: unauthenticated")

	// ErrTransient means the call failed on the network, timed out or hit a
	// server-side outage. Retrying the same call is safe; a refresh whose
	// rotated token was lost is honoured within the server's reuse grace period.
	ErrTransient = errors.New("client: transient failure")

	// ErrNoBaseURL is returned by New when Options.BaseURL is empty.
	ErrNoBaseURL = errors.New("client: base URL is required")
)

// Server error codes the agent reacts to.
const (
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeRefreshTokenInvalid = "REFRESH_TOKEN_INVALID"
)

// APIError is a decoded error response from the auth API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// decodeAPIError reads an error response. Bodies that are not in the API
// error format still yield an APIError carrying the HTTP status.
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // partial body is fine for diagnostics
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Message = string(body)
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}

// IsAPIError reports whether err carries an APIError with the given code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

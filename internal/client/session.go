package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// User is the account returned by the API.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Role      string     `json:"role"`
	IsActive  bool       `json:"isActive"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

// Session is the result of Login and Register.
type Session struct {
	User                 User      `json:"user"`
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
	RefreshToken         string    `json:"refreshToken"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Login signs in and stores the returned tokens in the holder.
// Rejected credentials are returned as *APIError; the holder is unchanged.
func (a *Agent) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	if err := a.postJSON(ctx, "/auth/login", loginRequest{Email: email, Password: password}, &s); err != nil {
		return nil, err
	}
	a.holder.SetTokens(s.AccessToken, s.RefreshToken)
	return &s, nil
}

// Register creates an account and stores the returned tokens in the holder.
func (a *Agent) Register(ctx context.Context, in RegisterRequest) (*Session, error) {
	var s Session
	if err := a.postJSON(ctx, "/auth/register", in, &s); err != nil {
		return nil, err
	}
	a.holder.SetTokens(s.AccessToken, s.RefreshToken)
	return &s, nil
}

// Logout ends the server session and clears the holder. The holder is
// cleared even when the call fails; the error only reports that the server
// may still hold the session until it expires.
func (a *Agent) Logout(ctx context.Context) error {
	_, refreshToken := a.holder.Tokens()
	a.holder.Clear()
	if refreshToken == "" {
		return nil
	}
	return a.postJSON(ctx, "/auth/logout", tokenRequest{RefreshToken: refreshToken}, nil)
}

// postJSON sends one bounded JSON call. Network errors, timeouts and 5xx
// responses are wrapped in ErrTransient; other non-2xx responses are
// returned as *APIError.
func (a *Agent) postJSON(ctx context.Context, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s timed out after %v", ErrTransient, path, a.timeout)
		}
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %w", ErrTransient, decodeAPIError(resp))
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s timed out after %v", ErrTransient, path, a.timeout)
		}
		return fmt.Errorf("%w: decoding %s response: %w", ErrTransient, path, err)
	}
	return nil
}

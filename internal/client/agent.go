package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
)

// Defaults applied by New.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultRefreshPath = "/auth/refresh"

	refreshKey = "refresh"
)

// Options configures an Agent.
type Options struct {
	// BaseURL is the API prefix, e.g. "http://localhost:8080/api/v1".
	BaseURL string
	// HTTPClient defaults to a client without its own timeout; calls are
	// bounded by Timeout instead.
	HTTPClient *http.Client
	// Holder defaults to a new MemoryHolder.
	Holder TokenHolder
	// Timeout bounds each login, register, refresh and logout call.
	Timeout     time.Duration
	RefreshPath string
	Logger      *logging.Logger
}

// Agent attaches access tokens to requests and refreshes them on expiry.
// It is safe for concurrent use.
type Agent struct {
	baseURL     string
	http        *http.Client
	holder      TokenHolder
	timeout     time.Duration
	refreshPath string
	logger      *logging.Logger

	group singleflight.Group
}

// New creates an Agent.
func New(opts Options) (*Agent, error) {
	if opts.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	a := &Agent{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.HTTPClient,
		holder:      opts.Holder,
		timeout:     opts.Timeout,
		refreshPath: opts.RefreshPath,
		logger:      opts.Logger,
	}
	if a.http == nil {
		a.http = &http.Client{}
	}
	if a.holder == nil {
		a.holder = NewMemoryHolder()
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.refreshPath == "" {
		a.refreshPath = DefaultRefreshPath
	}
	if a.logger == nil {
		a.logger = logging.Discard()
	}
	return a, nil
}

// Holder returns the token holder used by the agent.
func (a *Agent) Holder() TokenHolder {
	return a.holder
}

// Do sends req with the current access token. If the server reports
// TOKEN_EXPIRED the agent refreshes (sharing one refresh among concurrent
// callers) and replays req once with the new token. Any other response,
// including a second TOKEN_EXPIRED, is returned to the caller unchanged.
// If another caller already refreshed, the replay uses the holder's newer
// token as is; a caller delayed past that token's expiry gets TOKEN_EXPIRED
// back without a further refresh.
func (a *Agent) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	used, _ := a.holder.Tokens()
	resp, err := a.send(ctx, req, body, used)
	if err != nil {
		return nil, err
	}
	if !isTokenExpired(resp) {
		return resp, nil
	}
	resp.Body.Close()

	access, err := a.refreshAfter(ctx, used)
	if err != nil {
		return nil, err
	}
	return a.send(ctx, req, body, access)
}

// Refresh exchanges the held refresh token for a new access token.
func (a *Agent) Refresh(ctx context.Context) (string, error) {
	used, _ := a.holder.Tokens()
	return a.refreshAfter(ctx, used)
}

// refreshAfter returns an access token newer than used. If another caller
// has already replaced used, that token is returned without a server call;
// otherwise one refresh is shared by everyone waiting.
func (a *Agent) refreshAfter(ctx context.Context, used string) (string, error) {
	if current, _ := a.holder.Tokens(); current != "" && current != used {
		return current, nil
	}

	// The flight outlives any single caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := a.group.Do(refreshKey, func() (any, error) {
		if current, _ := a.holder.Tokens(); current != "" && current != used {
			return current, nil
		}
		return a.refresh(flightCtx)
	})
	if shared {
		a.logger.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil //nolint:forcetypeassert // the flight only returns strings
}

// refresh performs the refresh call and updates the holder.
func (a *Agent) refresh(ctx context.Context) (string, error) {
	_, refreshToken := a.holder.Tokens()
	if refreshToken == "" {
		a.holder.Clear()
		return "", fmt.Errorf("%w: no refresh token", ErrUnauthenticated)
	}

	var out refreshResponse
	err := a.postJSON(ctx, a.refreshPath, tokenRequest{RefreshToken: refreshToken}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			a.holder.Clear()
			a.logger.Info("session ended by server", "code", apiErr.Code)
			return "", fmt.Errorf("%w: %w", ErrUnauthenticated, apiErr)
		}
		a.logger.Warn("token refresh failed", "error", err)
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh response without access token", ErrTransient)
	}

	if out.RefreshToken != "" {
		a.holder.SetTokens(out.AccessToken, out.RefreshToken)
	} else {
		a.holder.SetAccessToken(out.AccessToken)
	}
	return out.AccessToken, nil
}

// send dispatches one attempt of req with the given access token.
func (a *Agent) send(ctx context.Context, req *http.Request, body []byte, access string) (*http.Response, error) {
	attempt := req.Clone(ctx)
	if body != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(body))
		attempt.ContentLength = int64(len(body))
	}
	if access != "" {
		attempt.Header.Set("Authorization", "Bearer "+access)
	} else {
		attempt.Header.Del("Authorization")
	}

	resp, err := a.http.Do(attempt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return resp, nil
}

// bufferBody reads the request body so it can be sent twice.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	return body, nil
}

// isTokenExpired reports whether resp is 401 TOKEN_EXPIRED. The body is
// restored so callers can still read it.
func isTokenExpired(resp *http.Response) bool {
	if resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // a short read just means "not expired"
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var apiErr APIError
	return json.Unmarshal(body, &apiErr) == nil && apiErr.Code == CodeTokenExpired
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a scripted auth server. /data accepts only the current access
// token; any other token gets 401 TOKEN_EXPIRED.
type fakeAPI struct {
	refreshCalls atomic.Int32
	dataCalls    atomic.Int32

	mu            sync.Mutex
	validAccess   string
	refreshStatus int
	refreshCode   string
	refreshDelay  time.Duration
	alwaysExpired bool
	lastLogout    string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{validAccess: "fresh-access", refreshStatus: http.StatusOK}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

// configure mutates the script under the server's lock.
func (f *fakeAPI) configure(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) loggedOut() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLogout
}

func writeAPIError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{Status: status, Code: code, Message: code}) //nolint:errcheck // test server
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/refresh":
		f.refreshCalls.Add(1)
		f.mu.Lock()
		status, code, delay := f.refreshStatus, f.refreshCode, f.refreshDelay
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if status != http.StatusOK {
			writeAPIError(w, status, code)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck // test server
			"accessToken":  "fresh-access",
			"refreshToken": "rotated-refresh",
		})

	case "/auth/login":
		var req loginRequest
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // test server
		if req.Password != "right-password" {
			writeAPIError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
			return
		}
		json.NewEncoder(w).Encode(Session{ //nolint:errcheck // test server
			User:         User{ID: "usr-1", Email: req.Email, Role: "user", IsActive: true},
			AccessToken:  "login-access",
			RefreshToken: "login-refresh",
		})

	case "/auth/logout":
		var req tokenRequest
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // test server
		f.mu.Lock()
		f.lastLogout = req.RefreshToken
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	case "/data":
		f.dataCalls.Add(1)
		f.mu.Lock()
		valid, alwaysExpired := f.validAccess, f.alwaysExpired
		f.mu.Unlock()
		switch {
		case r.Header.Get("Authorization") == "Bearer bad-signature":
			writeAPIError(w, http.StatusUnauthorized, "TOKEN_INVALID")
		case alwaysExpired || r.Header.Get("Authorization") != "Bearer "+valid:
			writeAPIError(w, http.StatusUnauthorized, CodeTokenExpired)
		default:
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			w.Write(append([]byte("ok:"), body...)) //nolint:errcheck // test server
		}

	default:
		http.NotFound(w, r)
	}
}

func newAgent(t *testing.T, srv *httptest.Server, holder TokenHolder) *Agent {
	t.Helper()
	a, err := New(Options{BaseURL: srv.URL, Holder: holder, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return a
}

func get(t *testing.T, a *Agent, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return a.Do(t.Context(), req)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoBaseURL)
}

func TestDo_ValidTokenNoRefresh(t *testing.T) {
	api, srv := newFakeAPI(t)
	holder := NewMemoryHolder()
	holder.SetTokens("fresh-access", "refresh-1")
	a := newAgent(t, srv, holder)

	resp, err := get(t, a, srv.URL+"/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(0), api.refreshCalls.Load())
}

func TestDo_ConcurrentExpiredCallsShareOneRefresh(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.configure(func(f *fakeAPI) { f.refreshDelay = 100 * time.Millisecond })
	holder := NewMemoryHolder()
	holder.SetTokens("stale-access", "refresh-1")
	a := newAgent(t, srv, holder)

	const callers = 5
	var wg sync.WaitGroup
	statuses := make([]int, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/data", nil) //nolint:errcheck // static URL
			resp, err := a.Do(context.Background(), req)
			errs[i] = err
			if err == nil {
				statuses[i] = resp.StatusCode
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, http.StatusOK, statuses[i], "caller %d", i)
	}
	assert.Equal(t, int32(1), api.refreshCalls.Load(), "exactly one refresh for concurrent expiries")

	access, refresh := holder.Tokens()
	assert.Equal(t, "fresh-access", access)
	assert.Equal(t, "rotated-refresh", refresh)
}

func TestDo_RetriesExactlyOnce(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.configure(func(f *fakeAPI) { f.alwaysExpired = true })
	holder := NewMemoryHolder()
	holder.SetTokens("stale-access", "refresh-1")
	a := newAgent(t, srv, holder)

	resp, err := get(t, a, srv.URL+"/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), api.dataCalls.Load(), "original plus one replay")
	assert.Equal(t, int32(1), api.refreshCalls.Load())

	var apiErr APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, CodeTokenExpired, apiErr.Code)
}

func TestDo_ReplaysBody(t *testing.T) {
	_, srv := newFakeAPI(t)
	holder := NewMemoryHolder()
	holder.SetTokens("stale-access", "refresh-1")
	a := newAgent(t, srv, holder)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/data", strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := a.Do(t.Context(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok:payload", string(body))
}

func TestDo_InvalidTokenIsNotRefreshed(t *testing.T) {
	api, srv := newFakeAPI(t)
	holder := NewMemoryHolder()
	holder.SetTokens("bad-signature", "refresh-1")
	a := newAgent(t, srv, holder)

	resp, err := get(t, a, srv.URL+"/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), api.refreshCalls.Load())
	access, _ := holder.Tokens()
	assert.Equal(t, "bad-signature", access, "holder untouched")
}

func TestDo_RefreshRejectedClearsHolder(t *testing.T) {
	for _, tc := range []struct {
		status int
		code   string
	}{
		{http.StatusUnauthorized, CodeRefreshTokenInvalid},
		{http.StatusForbidden, "ACCOUNT_DEACTIVATED"},
	} {
		t.Run(tc.code, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.configure(func(f *fakeAPI) { f.refreshStatus = tc.status })
			api.configure(func(f *fakeAPI) { f.refreshCode = tc.code })
			holder := NewMemoryHolder()
			holder.SetTokens("stale-access", "refresh-1")
			a := newAgent(t, srv, holder)

			resp, err := get(t, a, srv.URL+"/data")
			assert.Nil(t, resp)
			require.ErrorIs(t, err, ErrUnauthenticated)
			assert.True(t, IsAPIError(err, tc.code))

			access, refresh := holder.Tokens()
			assert.Empty(t, access)
			assert.Empty(t, refresh)
		})
	}
}

func TestDo_RefreshServerErrorIsTransient(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.configure(func(f *fakeAPI) { f.refreshStatus = http.StatusServiceUnavailable })
	api.configure(func(f *fakeAPI) { f.refreshCode = "TRANSIENT" })
	holder := NewMemoryHolder()
	holder.SetTokens("stale-access", "refresh-1")
	a := newAgent(t, srv, holder)

	_, err := get(t, a, srv.URL+"/data")
	require.ErrorIs(t, err, ErrTransient)
	assert.False(t, errors.Is(err, ErrUnauthenticated))

	access, refresh := holder.Tokens()
	assert.Equal(t, "stale-access", access)
	assert.Equal(t, "refresh-1", refresh)
}

func TestDo_RefreshTimeoutIsTransient(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.configure(func(f *fakeAPI) { f.refreshDelay = 500 * time.Millisecond })
	holder := NewMemoryHolder()
	holder.SetTokens("stale-access", "refresh-1")
	a, err := New(Options{BaseURL: srv.URL, Holder: holder, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = get(t, a, srv.URL+"/data")
	require.ErrorIs(t, err, ErrTransient)

	_, refresh := holder.Tokens()
	assert.Equal(t, "refresh-1", refresh)
}

func TestDo_NoRefreshToken(t *testing.T) {
	api, srv := newFakeAPI(t)
	holder := NewMemoryHolder()
	holder.SetAccessToken("stale-access")
	a := newAgent(t, srv, holder)

	_, err := get(t, a, srv.URL+"/data")
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(0), api.refreshCalls.Load())
}

func TestDo_NetworkErrorIsTransient(t *testing.T) {
	_, srv := newFakeAPI(t)
	a := newAgent(t, srv, nil)
	srv.Close()

	_, err := get(t, a, srv.URL+"/data")
	require.ErrorIs(t, err, ErrTransient)
}

func TestLogin(t *testing.T) {
	_, srv := newFakeAPI(t)
	a := newAgent(t, srv, nil)

	_, err := a.Login(t.Context(), "a@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, IsAPIError(err, "INVALID_CREDENTIALS"))
	access, _ := a.Holder().Tokens()
	assert.Empty(t, access)

	s, err := a.Login(t.Context(), "a@example.com", "right-password")
	require.NoError(t, err)
	assert.Equal(t, "usr-1", s.User.ID)

	access, refresh := a.Holder().Tokens()
	assert.Equal(t, "login-access", access)
	assert.Equal(t, "login-refresh", refresh)
}

func TestLogout(t *testing.T) {
	api, srv := newFakeAPI(t)
	holder := NewMemoryHolder()
	holder.SetTokens("access", "refresh-to-drop")
	a := newAgent(t, srv, holder)

	require.NoError(t, a.Logout(t.Context()))
	assert.Equal(t, "refresh-to-drop", api.loggedOut())

	access, refresh := holder.Tokens()
	assert.Empty(t, access)
	assert.Empty(t, refresh)

	// Logging out again without tokens is a no-op.
	require.NoError(t, a.Logout(t.Context()))
}

func TestRefresh_Explicit(t *testing.T) {
	api, srv := newFakeAPI(t)
	holder := NewMemoryHolder()
	holder.SetTokens("stale-access", "refresh-1")
	a := newAgent(t, srv, holder)

	access, err := a.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", access)
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestMemoryHolder(t *testing.T) {
	h := NewMemoryHolder()
	h.SetTokens("a1", "r1")
	h.SetAccessToken("a2")

	access, refresh := h.Tokens()
	assert.Equal(t, "a2", access)
	assert.Equal(t, "r1", refresh)

	h.Clear()
	access, refresh = h.Tokens()
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

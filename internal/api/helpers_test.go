package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/dispatch-auth/internal/audit"
	"github.com/nerrad567/dispatch-auth/internal/auth"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/config"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/database"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
	_ "github.com/nerrad567/dispatch-auth/migrations"
)

const (
	testSecret   = "test-secret-key-at-least-32-characters-long"
	testPassword = "correct-horse-battery"
)

// testClock is a settable clock shared by the issuer and the manager.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv is a fully wired server over a temporary SQLite database.
type testEnv struct {
	srv     *Server
	handler http.Handler
	db      *database.DB
	clock   *testClock
	users   *auth.SQLiteUserRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := logging.Discard()

	issuer := auth.NewIssuer(auth.IssuerConfig{
		Secret:    testSecret,
		AccessTTL: 15 * time.Minute,
		Issuer:    "dispatch-auth",
		Now:       clock.Now,
	})
	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log)
	users := auth.NewUserRepository(db.DB)

	manager := auth.NewManager(auth.ManagerDeps{
		Users:       users,
		Sessions:    auth.NewSessionRepository(db.DB),
		Preferences: auth.NewPreferencesRepository(db.DB),
		Issuer:      issuer,
		Tx:          database.NewTransactor(db.DB),
		Events:      recorder,
		Logger:      log.Logger,
	}, auth.ManagerConfig{
		RefreshTTL:          7 * 24 * time.Hour,
		RotateRefreshTokens: true,
		Now:                 clock.Now,
	})

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:  log,
		Manager: manager,
		Audit:   recorder,
		Checks:  map[string]HealthChecker{"database": db},
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{srv: srv, handler: srv.Handler(), db: db, clock: clock, users: users}
}

// do sends a request through the router. token may be empty.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// createUser inserts an active account with testPassword and the given role.
func (e *testEnv) createUser(t *testing.T, email string, role auth.Role) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &auth.User{
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating user %s: %v", email, err)
	}
	return user
}

// login signs in and returns the decoded tokens.
func (e *testEnv) login(t *testing.T, email string) authResponse {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Email: email, Password: testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d; body: %s", email, w.Code, w.Body.String())
	}
	return decode[authResponse](t, w)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// expectError asserts the status and machine-readable code of an error response.
func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	if w.Code != status {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, status, w.Body.String())
	}
	e := decode[Error](t, w)
	if e.Code != code {
		t.Errorf("code = %q, want %q", e.Code, code)
	}
	if e.Status != status {
		t.Errorf("body status = %d, want %d", e.Status, status)
	}
}

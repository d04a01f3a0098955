package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultRefreshTTL is the session lifetime used when ManagerConfig.RefreshTTL is not positive.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// TxRunner runs fn atomically. database.Transactor satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ManagerDeps are the collaborators of a Manager.
type ManagerDeps struct {
	Users       UserRepository
	Sessions    SessionRepository
	Preferences PreferencesRepository
	Issuer      *Issuer
	// Tx makes multi-row writes atomic. nil runs them without a transaction.
	Tx     TxRunner
	Events EventSink
	Logger *slog.Logger
}

// ManagerConfig tunes session behaviour.
type ManagerConfig struct {
	RefreshTTL time.Duration
	// RotateRefreshTokens replaces the refresh token on every Refresh and
	// revokes the whole family when a retired token is presented again.
	RotateRefreshTokens bool
	// ReuseGrace is how long after a rotation the retired token may still be
	// presented, provided its successor is live and unused. The retry then
	// rotates the successor instead of revoking the family. 0 disables it.
	ReuseGrace time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User                 *User
	Session              *Session
	AccessToken          string
	AccessTokenExpiresAt time.Time
	RefreshToken         string
}

// RefreshResult is returned by Refresh. RefreshToken is empty unless the
// presented token was rotated.
type RefreshResult struct {
	AccessToken          string
	AccessTokenExpiresAt time.Time
	RefreshToken         string
}

// Manager implements the account and session lifecycle: register, login,
// refresh, logout, password change and account administration.
// It is safe for concurrent use.
type Manager struct {
	users    UserRepository
	sessions SessionRepository
	prefs    PreferencesRepository
	issuer   *Issuer
	tx       TxRunner
	events   EventSink
	logger   *slog.Logger

	refreshTTL time.Duration
	rotate     bool
	reuseGrace time.Duration
	now        func() time.Time
}

// NewManager creates a Manager.
func NewManager(deps ManagerDeps, cfg ManagerConfig) *Manager {
	m := &Manager{
		users:      deps.Users,
		sessions:   deps.Sessions,
		prefs:      deps.Preferences,
		issuer:     deps.Issuer,
		tx:         deps.Tx,
		events:     deps.Events,
		logger:     deps.Logger,
		refreshTTL: cfg.RefreshTTL,
		rotate:     cfg.RotateRefreshTokens,
		reuseGrace: cfg.ReuseGrace,
		now:        cfg.Now,
	}
	if m.tx == nil {
		m.tx = noTx{}
	}
	if m.events == nil {
		m.events = NopSink{}
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = DefaultRefreshTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Issuer returns the token issuer used by the manager.
func (m *Manager) Issuer() *Issuer {
	return m.issuer
}

// Register creates a user account and its first session.
// Nothing is persisted unless every step succeeds.
func (m *Manager) Register(ctx context.Context, in RegisterInput, client ClientInfo) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)
	if !IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, m.transient("hashing password", err)
	}

	now := m.clock()
	user := &User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         RoleUser,
		IsActive:     true,
		CreatedAt:    now,
	}

	var result *AuthResult
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := m.users.Create(ctx, user); err != nil {
			return err
		}
		var err error
		result, err = m.openSession(ctx, user, client, now)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateEmail):
		return nil, ErrDuplicateEmail
	case errors.Is(err, ErrSigningKeyUnavailable):
		m.logger.Error("access token signing failed", "error", err)
		return nil, err
	default:
		return nil, m.transient("registering user", err)
	}

	m.logger.Info("user registered", "user_id", user.ID)
	m.emit(ctx, Event{Type: EventRegistered, UserID: user.ID, SessionID: result.Session.ID, IP: client.IP,
		Details: map[string]any{"role": string(user.Role)}})
	return result, nil
}

// Login verifies credentials and opens a new session. Existing sessions of
// the user are left untouched. Unknown email and wrong password both yield
// ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, email, password string, client ClientInfo) (*AuthResult, error) {
	email = NormalizeEmail(email)

	user, err := m.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			burnPasswordCheck(password)
			m.emit(ctx, Event{Type: EventLoginFailed, IP: client.IP, Details: map[string]any{"email": email}})
			return nil, ErrInvalidCredentials
		}
		return nil, m.transient("loading user", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		m.logger.Error("stored password hash is unreadable", "user_id", user.ID, "error", err)
	}
	if !ok {
		m.emit(ctx, Event{Type: EventLoginFailed, UserID: user.ID, IP: client.IP, Details: map[string]any{"email": email}})
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	now := m.clock()
	result, err := m.openSession(ctx, user, client, now)
	if err != nil {
		if errors.Is(err, ErrSigningKeyUnavailable) {
			m.logger.Error("access token signing failed", "error", err)
			return nil, err
		}
		return nil, m.transient("creating session", err)
	}

	// last_login is bookkeeping; the session is already valid.
	if err := m.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		m.logger.Warn("failed to update last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = &now
	}

	m.logger.Info("user logged in", "user_id", user.ID, "session_id", result.Session.ID)
	m.emit(ctx, Event{Type: EventLogin, UserID: user.ID, SessionID: result.Session.ID, IP: client.IP,
		Details: map[string]any{"role": string(user.Role)}})
	return result, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// account is re-checked because it may have been deactivated since login.
// A failed refresh never modifies the session.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrRefreshTokenInvalid
	}
	hash := HashToken(refreshToken)
	now := m.clock()

	sess, err := m.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, m.transient("loading session", err)
		}
		if !m.rotate {
			return nil, ErrRefreshTokenInvalid
		}
		return m.refreshRetired(ctx, hash, client, now)
	}
	return m.refreshSession(ctx, sess, "", client, now)
}

// refreshRetired handles a token already consumed by rotation. Within the
// reuse grace period, a token whose successor is still live was never
// followed by the client (the rotation's response was lost), so the
// successor is rotated on its behalf. Anything else revokes the family.
func (m *Manager) refreshRetired(ctx context.Context, hash string, client ClientInfo, now time.Time) (*RefreshResult, error) {
	rt, err := m.sessions.GetRetired(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, m.transient("loading retired token", err)
	}

	if m.reuseGrace > 0 && rt.SuccessorID != "" && now.Sub(rt.RetiredAt) <= m.reuseGrace {
		successor, err := m.sessions.GetByID(ctx, rt.SuccessorID)
		switch {
		case err == nil && successor.ValidAt(now):
			m.logger.Info("refresh retried with rotated token",
				"family_id", rt.FamilyID, "session_id", successor.ID, "ip", client.IP)
			return m.refreshSession(ctx, successor, hash, client, now)
		case err != nil && !errors.Is(err, ErrSessionNotFound):
			return nil, m.transient("loading successor session", err)
		}
	}

	m.revokeFamily(ctx, rt.FamilyID, client)
	return nil, ErrRefreshTokenInvalid
}

// refreshSession issues tokens for sess. retiredHash is set when sess is
// being rotated on behalf of an earlier, already retired token; that token
// is repointed at the new session in the same transaction.
func (m *Manager) refreshSession(ctx context.Context, sess *Session, retiredHash string, client ClientInfo, now time.Time) (*RefreshResult, error) {
	if !sess.ValidAt(now) {
		return nil, ErrRefreshTokenInvalid
	}

	user, err := m.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, m.transient("loading user", err)
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	access, accessExp, err := m.issuer.IssueAccessToken(user)
	if err != nil {
		m.logger.Error("access token signing failed", "error", err)
		return nil, err
	}
	result := &RefreshResult{AccessToken: access, AccessTokenExpiresAt: accessExp}

	sessionID := sess.ID
	if m.rotate {
		raw, err := IssueRefreshToken()
		if err != nil {
			return nil, m.transient("generating refresh token", err)
		}
		next := &Session{
			TokenHash: HashToken(raw),
			IssuingIP: client.IP,
			UserAgent: client.UserAgent,
			ExpiresAt: now.Add(m.refreshTTL),
			CreatedAt: now,
		}
		err = m.tx.WithTx(ctx, func(ctx context.Context) error {
			if err := m.sessions.Rotate(ctx, sess, next, now); err != nil {
				return err
			}
			if retiredHash == "" {
				return nil
			}
			return m.sessions.SetSuccessor(ctx, retiredHash, next.ID)
		})
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// A concurrent refresh consumed the token first.
				return nil, ErrRefreshTokenInvalid
			}
			return nil, m.transient("rotating session", err)
		}
		result.RefreshToken = raw
		sessionID = next.ID
	}

	e := Event{Type: EventRefresh, UserID: user.ID, SessionID: sessionID, IP: client.IP}
	if retiredHash != "" {
		e.Details = map[string]any{"retried": true}
	}
	m.emit(ctx, e)
	return result, nil
}

// revokeFamily deletes every session descended from a replayed token.
func (m *Manager) revokeFamily(ctx context.Context, familyID string, client ClientInfo) {
	n, err := m.sessions.DeleteFamily(ctx, familyID)
	if err != nil {
		m.logger.Error("revoking session family", "family_id", familyID, "error", err)
		return
	}
	m.logger.Warn("refresh token reuse detected, session family revoked",
		"family_id", familyID, "sessions_revoked", n, "ip", client.IP)
	m.emit(ctx, Event{
		Type:    EventRefreshReuse,
		IP:      client.IP,
		Details: map[string]any{"family_id": familyID, "sessions_revoked": n},
	})
}

// Logout deletes the session for refreshToken. It always succeeds so the
// response reveals nothing about the token's validity.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	hash := HashToken(refreshToken)

	sess, err := m.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("logout lookup failed", "error", err)
		}
		return nil
	}

	deleted, err := m.sessions.DeleteByTokenHash(ctx, hash)
	if err != nil {
		m.logger.Warn("logout delete failed", "session_id", sess.ID, "error", err)
		return nil
	}
	if deleted {
		m.emit(ctx, Event{Type: EventLogout, UserID: sess.UserID, SessionID: sess.ID})
	}
	return nil
}

// ChangePassword verifies the current password, stores the new one and
// deletes every session of the user. Access tokens already issued remain
// valid until they expire.
func (m *Manager) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return m.transient("loading user", err)
	}

	ok, err := VerifyPassword(current, user.PasswordHash)
	if err != nil {
		m.logger.Error("stored password hash is unreadable", "user_id", user.ID, "error", err)
	}
	if !ok {
		return ErrWrongCurrentPassword
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}

	hash, err := HashPassword(next)
	if err != nil {
		return m.transient("hashing password", err)
	}

	now := m.clock()
	var revoked int64
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := m.users.UpdatePassword(ctx, userID, hash, now); err != nil {
			return err
		}
		var err error
		revoked, err = m.sessions.DeleteAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		return m.transient("changing password", err)
	}

	m.logger.Info("password changed", "user_id", userID, "sessions_revoked", revoked)
	m.emit(ctx, Event{Type: EventPasswordChanged, UserID: userID, Details: map[string]any{"sessions_revoked": revoked}})
	return nil
}

// Me returns the user and their preferences.
func (m *Manager) Me(ctx context.Context, userID string) (*User, Preferences, error) {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, m.transient("loading user", err)
	}

	prefs, err := m.prefs.Get(ctx, userID)
	if err != nil {
		return nil, nil, m.transient("loading preferences", err)
	}
	return user, prefs, nil
}

// UpdatePreferences replaces the user's preferences.
func (m *Manager) UpdatePreferences(ctx context.Context, userID string, prefs Preferences) (Preferences, error) {
	if _, err := m.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, m.transient("loading user", err)
	}
	if prefs == nil {
		prefs = Preferences{}
	}
	if err := m.prefs.Put(ctx, userID, prefs, m.clock()); err != nil {
		return nil, m.transient("saving preferences", err)
	}
	return prefs, nil
}

// ListSessions returns the user's sessions that are still valid.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := m.sessions.ListActiveByUser(ctx, userID, m.clock())
	if err != nil {
		return nil, m.transient("listing sessions", err)
	}
	return sessions, nil
}

// RevokeSession signs out one of the user's own sessions.
// Sessions of other users are reported as ErrSessionNotFound.
func (m *Manager) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sessions, err := m.ListSessions(ctx, userID)
	if err != nil {
		return err
	}

	owned := false
	for i := range sessions {
		if sessions[i].ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		return ErrSessionNotFound
	}

	deleted, err := m.sessions.Delete(ctx, sessionID)
	if err != nil {
		return m.transient("revoking session", err)
	}
	if !deleted {
		return ErrSessionNotFound
	}

	m.emit(ctx, Event{Type: EventSessionRevoked, UserID: userID, SessionID: sessionID})
	return nil
}

// ListUsers returns every account.
func (m *Manager) ListUsers(ctx context.Context) ([]User, error) {
	users, err := m.users.List(ctx)
	if err != nil {
		return nil, m.transient("listing users", err)
	}
	return users, nil
}

// SetActive activates or deactivates userID on behalf of actorID.
// Deactivation deletes all of the user's sessions in the same transaction.
func (m *Manager) SetActive(ctx context.Context, actorID, userID string, active bool) (*User, error) {
	if actorID == userID {
		return nil, ErrSelfModification
	}

	if _, err := m.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, m.transient("loading user", err)
	}

	now := m.clock()
	var revoked int64
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := m.users.SetActive(ctx, userID, active, now); err != nil {
			return err
		}
		if active {
			return nil
		}
		var err error
		revoked, err = m.sessions.DeleteAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, m.transient("updating account status", err)
	}

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, m.transient("loading user", err)
	}

	eventType := EventReactivated
	if !active {
		eventType = EventDeactivated
	}
	m.logger.Info("account status changed", "user_id", userID, "active", active, "by", actorID, "sessions_revoked", revoked)
	m.emit(ctx, Event{Type: eventType, UserID: userID, Details: map[string]any{"by": actorID, "sessions_revoked": revoked}})
	return user, nil
}

// PurgeExpired deletes expired sessions and retired token hashes.
// Expired sessions are already unusable; this only reclaims space.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.DeleteExpired(ctx, m.clock())
	if err != nil {
		return 0, m.transient("purging expired sessions", err)
	}
	if n > 0 {
		m.logger.Info("expired sessions purged", "count", n)
	}
	return n, nil
}

// openSession issues an access token and a refresh token for user and
// stores the session backing the refresh token.
func (m *Manager) openSession(ctx context.Context, user *User, client ClientInfo, now time.Time) (*AuthResult, error) {
	access, accessExp, err := m.issuer.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	raw, err := IssueRefreshToken()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		IssuingIP: client.IP,
		UserAgent: client.UserAgent,
		ExpiresAt: now.Add(m.refreshTTL),
		CreatedAt: now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	return &AuthResult{
		User:                 user,
		Session:              sess,
		AccessToken:          access,
		AccessTokenExpiresAt: accessExp,
		RefreshToken:         raw,
	}, nil
}

// clock returns the current time at storage precision.
func (m *Manager) clock() time.Time {
	return m.now().UTC().Truncate(time.Second)
}

func (m *Manager) emit(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = m.now().UTC()
	}
	m.events.Emit(ctx, e)
}

func (m *Manager) transient(op string, err error) error {
	m.logger.Error("auth storage failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

type noTx struct{}

func (noTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

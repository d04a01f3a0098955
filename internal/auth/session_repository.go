package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/dispatch-auth/internal/infrastructure/database"
)

// SessionRepository persists sessions keyed by the hash of their refresh token.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteFamily(ctx context.Context, familyID string) (int64, error)
	Rotate(ctx context.Context, old, next *Session, at time.Time) error
	GetRetired(ctx context.Context, tokenHash string) (*RetiredToken, error)
	SetSuccessor(ctx context.Context, tokenHash, successorID string) error
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RetiredToken is a refresh token consumed by rotation. SuccessorID is the
// session the rotation created.
type RetiredToken struct {
	TokenHash   string
	FamilyID    string
	UserID      string
	SuccessorID string
	ExpiresAt   time.Time
	RetiredAt   time.Time
}

// HashToken returns the SHA-256 hex digest of a raw refresh token.
// Only this digest is ever stored.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
	tx *database.Transactor
}

// NewSessionRepository creates a new SQLite-backed session repository.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db, tx: database.NewTransactor(db)}
}

const sessionColumns = "id, user_id, family_id, token_hash, issuing_ip, user_agent, expires_at, created_at"

// Create inserts a session. ID and FamilyID are generated if empty.
func (r *SQLiteSessionRepository) Create(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = "ses-" + uuid.NewString()
	}
	if s.FamilyID == "" {
		s.FamilyID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.CreatedAt = s.CreatedAt.UTC().Truncate(time.Second)
	s.ExpiresAt = s.ExpiresAt.UTC().Truncate(time.Second)

	_, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.FamilyID, s.TokenHash,
		nullString(s.IssuingIP), nullString(s.UserAgent),
		formatTime(s.ExpiresAt), formatTime(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetByID finds a session by ID regardless of expiry.
func (r *SQLiteSessionRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	return scanSession(row)
}

// GetByTokenHash finds a session by refresh token hash regardless of expiry.
// Callers decide validity with Session.ValidAt.
func (r *SQLiteSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE token_hash = ?", tokenHash)
	return scanSession(row)
}

// Delete removes one session by ID.
func (r *SQLiteSessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.exec(ctx, "deleting session", "DELETE FROM sessions WHERE id = ?", id)
	return n > 0, err
}

// DeleteByTokenHash removes the session for a refresh token hash.
func (r *SQLiteSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.exec(ctx, "deleting session by token", "DELETE FROM sessions WHERE token_hash = ?", tokenHash)
	return n > 0, err
}

// DeleteAllForUser removes every session of a user.
func (r *SQLiteSessionRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.exec(ctx, "deleting user sessions", "DELETE FROM sessions WHERE user_id = ?", userID)
}

// DeleteFamily removes every session descended from one login.
func (r *SQLiteSessionRepository) DeleteFamily(ctx context.Context, familyID string) (int64, error) {
	return r.exec(ctx, "deleting session family", "DELETE FROM sessions WHERE family_id = ?", familyID)
}

// Rotate replaces old with next in one transaction and records the old
// token hash as retired, pointing at next. next inherits old's family. If old no longer
// exists (a concurrent rotation won), ErrSessionNotFound is returned and
// nothing is written.
func (r *SQLiteSessionRepository) Rotate(ctx context.Context, old, next *Session, at time.Time) error {
	next.UserID = old.UserID
	next.FamilyID = old.FamilyID
	if next.ID == "" {
		next.ID = "ses-" + uuid.NewString()
	}

	return r.tx.WithTx(ctx, func(ctx context.Context) error {
		deleted, err := r.DeleteByTokenHash(ctx, old.TokenHash)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrSessionNotFound
		}

		if _, err := database.Conn(ctx, r.db).ExecContext(ctx,
			`INSERT OR REPLACE INTO retired_refresh_tokens (token_hash, family_id, user_id, successor_id, expires_at, retired_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			old.TokenHash, old.FamilyID, old.UserID, next.ID, formatTime(old.ExpiresAt), formatTime(at),
		); err != nil {
			return fmt.Errorf("retiring refresh token: %w", err)
		}

		return r.Create(ctx, next)
	})
}

// GetRetired looks up a token consumed by rotation. It returns
// ErrSessionNotFound when tokenHash was never retired.
func (r *SQLiteSessionRepository) GetRetired(ctx context.Context, tokenHash string) (*RetiredToken, error) {
	var rt RetiredToken
	var successor sql.NullString
	var expiresAt, retiredAt string
	err := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT token_hash, family_id, user_id, successor_id, expires_at, retired_at
		 FROM retired_refresh_tokens WHERE token_hash = ?`, tokenHash).
		Scan(&rt.TokenHash, &rt.FamilyID, &rt.UserID, &successor, &expiresAt, &retiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading retired token: %w", err)
	}
	rt.SuccessorID = successor.String
	rt.ExpiresAt = parseTime(expiresAt)
	rt.RetiredAt = parseTime(retiredAt)
	return &rt, nil
}

// SetSuccessor repoints a retired token at a newer session.
func (r *SQLiteSessionRepository) SetSuccessor(ctx context.Context, tokenHash, successorID string) error {
	n, err := r.exec(ctx, "updating retired token successor",
		"UPDATE retired_refresh_tokens SET successor_id = ? WHERE token_hash = ?", successorID, tokenHash)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListActiveByUser returns the user's sessions that are still valid at now,
// newest first.
func (r *SQLiteSessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id = ? AND expires_at > ? ORDER BY created_at DESC, id ASC",
		userID, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpired removes sessions and retired hashes whose expiry is at or
// before now. It returns the number of sessions removed.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := formatTime(now)
	var n int64
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.exec(ctx, "deleting expired sessions", "DELETE FROM sessions WHERE expires_at <= ?", cutoff)
		if err != nil {
			return err
		}
		_, err = r.exec(ctx, "deleting expired retired tokens", "DELETE FROM retired_refresh_tokens WHERE expires_at <= ?", cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SQLiteSessionRepository) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

func scanSession(s scanner) (*Session, error) {
	var sess Session
	var ip, ua sql.NullString
	var expiresAt, createdAt string

	err := s.Scan(&sess.ID, &sess.UserID, &sess.FamilyID, &sess.TokenHash,
		&ip, &ua, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.IssuingIP = ip.String
	sess.UserAgent = ua.String
	sess.ExpiresAt = parseTime(expiresAt)
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}

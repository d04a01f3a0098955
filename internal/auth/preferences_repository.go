package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/dispatch-auth/internal/infrastructure/database"
)

// PreferencesRepository stores per-user dashboard preferences as a JSON document.
type PreferencesRepository interface {
	Get(ctx context.Context, userID string) (Preferences, error)
	Put(ctx context.Context, userID string, prefs Preferences, at time.Time) error
}

// SQLitePreferencesRepository implements PreferencesRepository using SQLite.
type SQLitePreferencesRepository struct {
	db *sql.DB
}

// NewPreferencesRepository creates a new SQLite-backed preferences repository.
func NewPreferencesRepository(db *sql.DB) *SQLitePreferencesRepository {
	return &SQLitePreferencesRepository{db: db}
}

// Get returns the stored preferences, or an empty set when none were saved.
func (r *SQLitePreferencesRepository) Get(ctx context.Context, userID string) (Preferences, error) {
	var raw string
	err := database.Conn(ctx, r.db).QueryRowContext(ctx,
		"SELECT preferences FROM user_preferences WHERE user_id = ?", userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Preferences{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading preferences: %w", err)
	}

	prefs := Preferences{}
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return nil, fmt.Errorf("decoding preferences: %w", err)
	}
	return prefs, nil
}

// Put replaces the user's preferences.
func (r *SQLitePreferencesRepository) Put(ctx context.Context, userID string, prefs Preferences, at time.Time) error {
	if prefs == nil {
		prefs = Preferences{}
	}
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}

	_, err = database.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, preferences, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET preferences = excluded.preferences, updated_at = excluded.updated_at`,
		userID, string(raw), formatTime(at))
	if err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	return nil
}

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 16

// DefaultSeedAdminEmail is used when no seed email is configured.
const DefaultSeedAdminEmail = "admin@dispatch.local"

// SeedAdmin creates the initial admin account on first boot if no users exist.
// The generated password is logged once and must be changed immediately.
// Returns the generated password (empty string if seeding was skipped).
func SeedAdmin(ctx context.Context, userRepo UserRepository, email string, logger *slog.Logger) (string, error) {
	count, err := userRepo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}

	if count > 0 {
		logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	email = NormalizeEmail(email)
	if email == "" {
		email = DefaultSeedAdminEmail
	}
	if !IsValidEmail(email) {
		return "", fmt.Errorf("seed admin email %q: %w", email, ErrInvalidEmail)
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Email:        email,
		FirstName:    "System",
		LastName:     "Administrator",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}

	if err := userRepo.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	// The logger redacts the "password" key, so the one-time password goes
	// out under a dedicated key.
	logger.Warn("seed admin account created",
		"email", email,
		"initial_secret", password,
		"action_required", "change this password immediately",
	)

	return password, nil
}

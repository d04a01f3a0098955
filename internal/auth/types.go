package auth

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Role represents an authorisation tier.
type Role string

const (
	// RoleUser is a regular dashboard account. Registration always creates users.
	RoleUser Role = "user"

	// RoleDispatcher can read operational views such as the auth audit trail.
	RoleDispatcher Role = "dispatcher"

	// RoleAdmin manages accounts: listing users and (de)activating them.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles an account may hold.
var ValidRoles = []Role{RoleUser, RoleDispatcher, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// User is an identity record. Users are never physically deleted here.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never serialised
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Role         Role       `json:"role"`
	IsActive     bool       `json:"isActive"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Session is the server-side record backing one refresh token.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	FamilyID  string    `json:"-"`
	TokenHash string    `json:"-"` // never serialised
	IssuingIP string    `json:"issuingIp,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// ValidAt reports whether the session can still be used at now.
// Expiry is strict: a session whose expires_at equals now is expired.
func (s *Session) ValidAt(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// Preferences holds per-user dashboard settings returned by /auth/me.
type Preferences map[string]any

// ClientInfo describes the device a session is issued to.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// AuthContext is the verified identity attached to one request.
// It is read-only after construction.
type AuthContext struct {
	UserID    string
	Email     string
	Role      Role
	FirstName string
	LastName  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NormalizeEmail lowercases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// maxEmailLength bounds stored addresses (RFC 5321 path limit).
const maxEmailLength = 254

// IsValidEmail checks an already-normalised email address.
func IsValidEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountDeactivated    = errors.New("account is deactivated")
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrWeakPassword          = errors.New("password does not meet policy")
	ErrWrongCurrentPassword  = errors.New("current password is incorrect")
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenInvalid          = errors.New("invalid token")
	ErrRefreshTokenInvalid   = errors.New("refresh token is invalid or expired")
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
	ErrTransient             = errors.New("temporary failure, retry later")
	ErrUserNotFound          = errors.New("user not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSelfModification      = errors.New("cannot modify own account in this way")
)

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer defaults.
const (
	// DefaultAccessTTL is used when IssuerConfig.AccessTTL is not positive.
	DefaultAccessTTL = 15 * time.Minute

	// MinSecretLength is the shortest HMAC key the issuer will sign with.
	MinSecretLength = 32

	// refreshTokenBytes gives refresh tokens 256 bits of entropy.
	refreshTokenBytes = 32
)

// Claims is the signed payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	Secret    string
	AccessTTL time.Duration
	Issuer    string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Issuer mints and verifies tokens. It holds no mutable state and is safe
// for concurrent use.
type Issuer struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
	now       func() time.Time
}

// NewIssuer creates an Issuer. A missing or short secret is not rejected
// here; IssueAccessToken reports ErrSigningKeyUnavailable instead so the
// failure surfaces on the request that needed it.
func NewIssuer(cfg IssuerConfig) *Issuer {
	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret:    []byte(cfg.Secret),
		accessTTL: ttl,
		issuer:    cfg.Issuer,
		now:       now,
	}
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// IssueAccessToken signs an access token for user and returns it with its expiry.
func (i *Issuer) IssueAccessToken(user *User) (string, time.Time, error) {
	if len(i.secret) < MinSecretLength {
		return "", time.Time{}, ErrSigningKeyUnavailable
	}

	now := i.now()
	expiresAt := now.Add(i.accessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Email:     user.Email,
		Role:      user.Role,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrSigningKeyUnavailable, err)
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken creates an opaque, cryptographically random refresh token.
// The raw value goes to the client; only HashToken of it is stored.
func IssueRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// VerifyAccessToken checks the signature, then expiry, and returns the
// identity the token carries. Expiry yields ErrTokenExpired; every other
// failure yields ErrTokenInvalid.
func (i *Issuer) VerifyAccessToken(tokenString string) (*AuthContext, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, i.keyFunc, opts...)
	if err != nil {
		// Only a correctly signed token may be reported as expired.
		if onlyExpired(err) && i.signatureValid(tokenString) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("%w: missing role", ErrTokenInvalid)
	}

	ac := &AuthContext{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}
	if claims.IssuedAt != nil {
		ac.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		ac.ExpiresAt = claims.ExpiresAt.Time
	}
	return ac, nil
}

// otherClaimFailures make a token invalid even when it has also expired.
// jwt joins every failed claim check into one error.
var otherClaimFailures = []error{
	jwt.ErrTokenInvalidIssuer,
	jwt.ErrTokenInvalidAudience,
	jwt.ErrTokenInvalidSubject,
	jwt.ErrTokenInvalidId,
	jwt.ErrTokenNotValidYet,
	jwt.ErrTokenUsedBeforeIssued,
	jwt.ErrTokenRequiredClaimMissing,
	jwt.ErrInvalidType,
}

func onlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	for _, other := range otherClaimFailures {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}

func (i *Issuer) keyFunc(_ *jwt.Token) (any, error) {
	return i.secret, nil
}

// signatureValid checks the signature alone, ignoring every claim.
func (i *Issuer) signatureValid(tokenString string) bool {
	_, err := jwt.ParseWithClaims(tokenString, &Claims{}, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return err == nil
}

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testIssuer(clock *fakeClock) *Issuer {
	return NewIssuer(IssuerConfig{
		Secret:    testSecret,
		AccessTTL: 15 * time.Minute,
		Issuer:    "dispatch-auth",
		Now:       clock.Now,
	})
}

func TestIssuer_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	issuer := testIssuer(clock)
	user := &User{ID: "usr-1", Email: "a@example.com", Role: RoleDispatcher, FirstName: "Ada", LastName: "L"}

	token, exp, err := issuer.IssueAccessToken(user)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if !exp.Equal(clock.Now().Add(15 * time.Minute)) {
		t.Errorf("expiry = %v, want now+15m", exp)
	}

	ac, err := issuer.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if ac.UserID != "usr-1" || ac.Email != "a@example.com" || ac.Role != RoleDispatcher {
		t.Errorf("AuthContext = %+v", ac)
	}
	if ac.FirstName != "Ada" || ac.LastName != "L" {
		t.Errorf("names = %q %q", ac.FirstName, ac.LastName)
	}
}

func TestIssuer_ExpiredVersusInvalid(t *testing.T) {
	clock := newFakeClock()
	issuer := testIssuer(clock)
	token, _, err := issuer.IssueAccessToken(&User{ID: "usr-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	t.Run("expired exactly at exp", func(t *testing.T) {
		c := newFakeClock()
		c.Set(clock.Now().Add(15 * time.Minute))
		_, err := testIssuer(c).VerifyAccessToken(token)
		if !errors.Is(err, ErrTokenExpired) {
			t.Errorf("error = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("tampered signature is invalid", func(t *testing.T) {
		parts := strings.Split(token, ".")
		tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
		_, err := issuer.VerifyAccessToken(tampered)
		if !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("error = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("expired with wrong key is invalid not expired", func(t *testing.T) {
		c := newFakeClock()
		c.Set(clock.Now().Add(time.Hour))
		other := NewIssuer(IssuerConfig{Secret: strings.Repeat("x", 40), Issuer: "dispatch-auth", Now: c.Now})
		_, err := other.VerifyAccessToken(token)
		if !errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenExpired) {
			t.Errorf("error = %v, want only ErrTokenInvalid", err)
		}
	})

	t.Run("expired with wrong issuer is invalid not expired", func(t *testing.T) {
		c := newFakeClock()
		c.Set(clock.Now().Add(time.Hour))
		other := NewIssuer(IssuerConfig{Secret: testSecret, Issuer: "someone-else", Now: c.Now})
		_, err := other.VerifyAccessToken(token)
		if !errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenExpired) {
			t.Errorf("error = %v, want only ErrTokenInvalid", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
			if _, err := issuer.VerifyAccessToken(tok); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("VerifyAccessToken(%q) error = %v, want ErrTokenInvalid", tok, err)
			}
		}
	})

	t.Run("alg none rejected", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-1",
			Issuer:    "dispatch-auth",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		}, Role: RoleAdmin}
		unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if _, err := issuer.VerifyAccessToken(unsigned); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("error = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewIssuer(IssuerConfig{Secret: testSecret, Issuer: "someone-else", Now: clock.Now})
		if _, err := other.VerifyAccessToken(token); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("error = %v, want ErrTokenInvalid", err)
		}
	})
}

func TestIssuer_SigningKeyUnavailable(t *testing.T) {
	issuer := NewIssuer(IssuerConfig{Secret: "short"})
	if _, _, err := issuer.IssueAccessToken(&User{ID: "usr-1", Role: RoleUser}); !errors.Is(err, ErrSigningKeyUnavailable) {
		t.Errorf("IssueAccessToken() error = %v, want ErrSigningKeyUnavailable", err)
	}
}

func TestIssueRefreshToken(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		tok, err := IssueRefreshToken()
		if err != nil {
			t.Fatalf("IssueRefreshToken() error = %v", err)
		}
		if len(tok) != 64 {
			t.Fatalf("refresh token length = %d, want 64 hex chars (256 bits)", len(tok))
		}
		if seen[tok] {
			t.Fatal("IssueRefreshToken() produced a duplicate")
		}
		seen[tok] = true
	}
}

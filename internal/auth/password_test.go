package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/argon2"
)

func TestVerifyPassword(t *testing.T) {
	stored, err := HashPassword("correct-horse-battery")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name      string
		password  string
		hash      string
		wantMatch bool
		wantErr   bool
	}{
		{"correct password", "correct-horse-battery", stored, true, false},
		{"wrong password", "correct-horse-battera", stored, false, false},
		{"empty password", "", stored, false, false},
		{"empty hash", "x", "", false, true},
		{"plaintext stored", "x", "plaintext", false, true},
		{"bcrypt stored", "x", "$2a$10$abcdefghijklmnopqrstuu", false, true},
		{"truncated PHC", "x", "$argon2id$v=19$m=65536,t=3,p=1", false, true},
		{"future version", "x", strings.Replace(stored, "v=19", "v=20", 1), false, true},
		{"bad salt encoding", "x", "$argon2id$v=19$m=65536,t=3,p=1$!!!$AAAA", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := VerifyPassword(tt.password, tt.hash)
			if tt.wantErr {
				if !errors.Is(err, errMalformedHash) {
					t.Errorf("VerifyPassword() error = %v, want errMalformedHash", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyPassword() error = %v", err)
			}
			if ok != tt.wantMatch {
				t.Errorf("VerifyPassword() = %v, want %v", ok, tt.wantMatch)
			}
		})
	}
}

func TestHashPassword_Format(t *testing.T) {
	a, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	b, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if a == b {
		t.Error("hashes of the same password share a salt")
	}

	want := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$", argon2.Version, argonMemory, argonTime, argonThreads)
	if !strings.HasPrefix(a, want) {
		t.Errorf("hash = %q, want prefix %q", a, want)
	}
}

// Stored hashes carry their own cost parameters, so raising the defaults
// later must not lock out existing accounts.
func TestVerifyPassword_UsesStoredParameters(t *testing.T) {
	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte("legacy-password"), salt, 1, 8*1024, 1, 32)
	legacy := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, 8*1024, 1, 1,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	ok, err := VerifyPassword("legacy-password", legacy)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("hash with non-default parameters did not verify")
	}
}

func TestBurnPasswordCheck(t *testing.T) {
	// Must neither panic nor depend on any stored account.
	burnPasswordCheck("anything")
	burnPasswordCheck("")
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"empty", "", true},
		{"seven chars", "1234567", true},
		{"exactly eight", "12345678", false},
		{"multibyte counted as characters", "ääääääää", false},
		{"seven multibyte", "äääääää", true},
		{"at max", strings.Repeat("a", MaxPasswordLength), false},
		{"over max", strings.Repeat("a", MaxPasswordLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				if !errors.Is(err, ErrWeakPassword) {
					t.Errorf("ValidatePassword() error = %v, want ErrWeakPassword", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidatePassword() error = %v, want nil", err)
			}
		})
	}
}

package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndCompare(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher(bcrypt.MinCost)
	hash, err := h.Hash("password1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if hash == "password1" {
		t.Fatalf("hash must not equal the plaintext")
	}
	if err := h.Compare(hash, "password1"); err != nil {
		t.Fatalf("Compare with correct password: %v", err)
	}
	if err := h.Compare(hash, "password2"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestPasswordHasher_SaltedHashesDiffer(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher(bcrypt.MinCost)
	first, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	second, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct salted hashes")
	}
}

func TestPasswordHasher_MalformedHash(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher(bcrypt.MinCost)
	if err := h.Compare("not-a-hash", "password1"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestNewPasswordHasher_ClampsCost(t *testing.T) {
	t.Parallel()

	if got := NewPasswordHasher(0).Cost(); got != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d", got)
	}
	if got := NewPasswordHasher(99).Cost(); got != bcrypt.MaxCost {
		t.Fatalf("expected max cost, got %d", got)
	}
	if got := NewPasswordHasher(12).Cost(); got != 12 {
		t.Fatalf("expected cost 12, got %d", got)
	}
}

func TestPasswordHasher_RejectsPasswordsOverByteLimit(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher(bcrypt.MinCost)
	// 40 runes, 80 bytes.
	if _, err := h.Hash(strings.Repeat("é", 40)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", MaxPasswordBytes)); err != nil {
		t.Fatalf("a password of exactly %d bytes must hash: %v", MaxPasswordBytes, err)
	}
}

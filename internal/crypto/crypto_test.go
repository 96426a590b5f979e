package crypto

import (
	"strings"
	"testing"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if err := CheckPassword(hash, "secret"); err != nil {
		t.Fatalf("expected password to match")
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected password mismatch")
	}
}

func TestInviteTokenShape(t *testing.T) {
	token, err := NewInviteToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}
	other, err := NewInviteToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if token == other {
		t.Fatalf("expected distinct tokens")
	}
}

func TestRandomCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := RandomCode()
		if err != nil {
			t.Fatalf("code error: %v", err)
		}
		if len(code) != 6 || code[0] == '0' {
			t.Fatalf("expected 6-digit code without leading zero, got %q", code)
		}
	}
}

func TestHashCodeUsesSalt(t *testing.T) {
	if HashCode("123456", "a") == HashCode("123456", "b") {
		t.Fatalf("expected salt to change the hash")
	}
	if HashCode("123456", "a") != HashCode("123456", "a") {
		t.Fatalf("expected hash to be deterministic")
	}
}

func TestResetDocIDNormalizesEmail(t *testing.T) {
	a := ResetDocID(" User@Example.COM ")
	b := ResetDocID("user@example.com")
	if a != b {
		t.Fatalf("expected normalized emails to share an id")
	}
	if len(a) != 40 || strings.ToLower(a) != a {
		t.Fatalf("expected lowercase sha1 hex, got %q", a)
	}
}

package auth

import (
	"strings"
	"testing"
	"time"
)

// newTestTokenService creates a TokenService with a fixed, known secret
// so tests are deterministic.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", 0)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// TOKEN SERVICE CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService("short", 0)
	if err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ZeroTTLUsesDefault(t *testing.T) {
	ts, err := NewTokenService("this-is-16-chars", 0)
	if err != nil {
		t.Fatalf("NewTokenService() unexpected error: %v", err)
	}
	if ts.ttl != DefaultTokenTTL {
		t.Errorf("ttl = %v, want %v", ts.ttl, DefaultTokenTTL)
	}
}

// =========================================================================
// ISSUE TESTS
// =========================================================================

func TestIssue_ReturnsWellFormedToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue("user-123", "a@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token == "" {
		t.Fatal("Issue() returned empty token")
	}

	// JWTs have 3 dot-separated parts: header.payload.signature
	if parts := strings.Count(token, "."); parts != 2 {
		t.Errorf("Issue() token doesn't look like a JWT (expected 2 dots, got %d)", parts)
	}
}

func TestIssue_DifferentUsersGetDifferentTokens(t *testing.T) {
	ts := newTestTokenService(t)

	token1, _ := ts.Issue("user-aaa", "a@example.com")
	token2, _ := ts.Issue("user-bbb", "b@example.com")

	if token1 == token2 {
		t.Error("Issue() returned identical tokens for different users")
	}
}

// =========================================================================
// VERIFY TESTS
// =========================================================================

func TestVerify_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue("user-abc-123", "abc@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.UserID() != "user-abc-123" {
		t.Errorf("Verify() userID = %q, want %q", claims.UserID(), "user-abc-123")
	}
	if claims.Email != "abc@example.com" {
		t.Errorf("Verify() email = %q, want %q", claims.Email, "abc@example.com")
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", time.Nanosecond)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	token, err := ts.Issue("user-123", "a@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := ts.Verify(token); err == nil {
		t.Fatal("Verify() should return an error for an expired token")
	}
}

func TestVerify_TamperedToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, _ := ts.Issue("user-123", "a@example.com")

	// Flip the end of the signature.
	tampered := token[:len(token)-3] + "xxx"

	if _, err := ts.Verify(tampered); err == nil {
		t.Fatal("Verify() should return an error for a tampered token")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	ts1, _ := NewTokenService("correct-secret-32-chars-long!!!!", 0)
	ts2, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!", 0)

	token, _ := ts1.Issue("user-123", "a@example.com")

	if _, err := ts2.Verify(token); err == nil {
		t.Fatal("Verify() should fail when using a different secret")
	}
}

func TestVerify_EmptyToken(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Verify(""); err == nil {
		t.Fatal("Verify() should return an error for an empty string")
	}
}

func TestVerify_GarbageString(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Verify("not.a.jwt.token"); err == nil {
		t.Fatal("Verify() should return an error for a garbage string")
	}
}

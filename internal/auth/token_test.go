// ABOUTME: Unit tests for relay credential checks
// ABOUTME: Covers shared secrets, signed tokens, expiry and header parsing

package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestJWTVerifier_RoundTrip(t *testing.T) {
	verifier := NewJWTVerifier([]byte(testSecret))

	for _, subject := range []string{"clock", "echo", "logger"} {
		token, err := verifier.Generate(subject, time.Hour)
		if err != nil {
			t.Fatalf("Generate(%q) error = %v", subject, err)
		}
		got, err := verifier.Verify(token)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if got != subject {
			t.Errorf("Verify() = %q, want %q", got, subject)
		}
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte(testSecret))

	otherToken, err := NewJWTVerifier([]byte("different-secret")).Generate("clock", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", otherToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte(testSecret))

	token, err := verifier.Generate("clock", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestCredential_Authorize(t *testing.T) {
	cred := NewCredential(testSecret)
	token, err := cred.Issue("clock", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name    string
		header  string
		subject string
		wantErr error
	}{
		{"shared secret", "Bearer " + testSecret, SharedSecretSubject, nil},
		{"signed token", "Bearer " + token, "clock", nil},
		{"missing header", "", "", ErrMissingCredential},
		{"empty bearer", "Bearer ", "", ErrMissingCredential},
		{"basic auth", "Basic Zm9vOmJhcg==", "", ErrInvalidToken},
		{"wrong secret", "Bearer nope", "", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cred.Authorize(tt.header)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authorize() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if got != tt.subject {
				t.Errorf("Authorize() = %q, want %q", got, tt.subject)
			}
		})
	}
}

func TestCredential_Disabled(t *testing.T) {
	cred := NewCredential("")
	if cred.Enabled() {
		t.Fatal("Enabled() = true for empty secret")
	}
	if _, err := cred.Authorize(""); err != nil {
		t.Errorf("Authorize() error = %v, want nil", err)
	}
	if _, err := cred.Issue("clock", time.Hour); err == nil {
		t.Error("Issue() should fail without a secret")
	}
}

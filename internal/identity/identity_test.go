package identity

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "relay-test-secret"

func TestDisabledVerifier(t *testing.T) {
	v := NewVerifier("")
	if v.Enabled() {
		t.Fatal("Expected verifier to be disabled without a secret")
	}

	name, err := v.Authenticate(httptest.NewRequest("GET", "/ws", nil))
	if err != nil || name != "" {
		t.Errorf("Expected anonymous pass-through, got %q, %v", name, err)
	}
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	withName, _ := Sign(testSecret, "alice", jwt.RegisteredClaims{ExpiresAt: future})
	subjectOnly, _ := Sign(testSecret, "", jwt.RegisteredClaims{Subject: "user-42", ExpiresAt: future})
	expired, _ := Sign(testSecret, "alice", jwt.RegisteredClaims{ExpiresAt: past})
	wrongKey, _ := Sign("other-secret", "alice", jwt.RegisteredClaims{ExpiresAt: future})
	anonymous, _ := Sign(testSecret, "", jwt.RegisteredClaims{ExpiresAt: future})

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{"username claim", withName, "alice", nil},
		{"subject fallback", subjectOnly, "user-42", nil},
		{"expired", expired, "", ErrExpiredToken},
		{"wrong key", wrongKey, "", ErrInvalidToken},
		{"no name", anonymous, "", ErrInvalidToken},
		{"garbage", "not.a.token", "", ErrInvalidToken},
		{"empty", "", "", ErrMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAuthenticateReadsQueryAndHeader(t *testing.T) {
	v := NewVerifier(testSecret)
	token, _ := Sign(testSecret, "bob", jwt.RegisteredClaims{})

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	if name, err := v.Authenticate(r); err != nil || name != "bob" {
		t.Errorf("Query token: got %q, %v", name, err)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	if name, err := v.Authenticate(r); err != nil || name != "bob" {
		t.Errorf("Header token: got %q, %v", name, err)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	if _, err := v.Authenticate(r); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
}

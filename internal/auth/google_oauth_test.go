package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTokenInfoServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_token") == "" {
			t.Error("id_token query parameter should be set")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func validTokenInfo() map[string]any {
	return map[string]any{
		"iss":            "https://accounts.google.com",
		"aud":            "client-123",
		"sub":            "google-sub-1",
		"email":          "Carol@Example.com",
		"email_verified": "true",
		"name":           "Carol",
		"picture":        "https://example.com/p.png",
		"exp":            "4102444800",
	}
}

func TestGoogleIDTokenVerifier_Verify_Success(t *testing.T) {
	server := newTokenInfoServer(t, http.StatusOK, validTokenInfo())
	v := NewGoogleIDTokenVerifier(GoogleOAuthConfig{ClientID: "client-123", TokenInfoURL: server.URL})

	identity, err := v.Verify(context.Background(), "id-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.Subject != "google-sub-1" {
		t.Errorf("expected sub google-sub-1, got %s", identity.Subject)
	}
	if identity.Email != "carol@example.com" {
		t.Errorf("expected lowercase email, got %s", identity.Email)
	}
	if identity.Name != "Carol" {
		t.Errorf("expected name Carol, got %s", identity.Name)
	}
}

func TestGoogleIDTokenVerifier_Verify_AcceptsBooleanEmailVerified(t *testing.T) {
	info := validTokenInfo()
	info["email_verified"] = true
	server := newTokenInfoServer(t, http.StatusOK, info)
	v := NewGoogleIDTokenVerifier(GoogleOAuthConfig{ClientID: "client-123", TokenInfoURL: server.URL})

	if _, err := v.Verify(context.Background(), "id-token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGoogleIDTokenVerifier_Verify_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"audience mismatch", func(m map[string]any) { m["aud"] = "other-client" }},
		{"unverified email", func(m map[string]any) { m["email_verified"] = "false" }},
		{"missing email", func(m map[string]any) { delete(m, "email") }},
		{"foreign issuer", func(m map[string]any) { m["iss"] = "https://evil.example.com" }},
		{"expired", func(m map[string]any) { m["exp"] = "1000" }},
		{"missing sub", func(m map[string]any) { delete(m, "sub") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := validTokenInfo()
			tt.mutate(info)
			server := newTokenInfoServer(t, http.StatusOK, info)
			v := NewGoogleIDTokenVerifier(GoogleOAuthConfig{ClientID: "client-123", TokenInfoURL: server.URL})
			v.now = func() time.Time { return time.Unix(2000, 0) }

			_, err := v.Verify(context.Background(), "id-token")
			if !errors.Is(err, ErrGoogleTokenRejected) {
				t.Errorf("expected ErrGoogleTokenRejected, got %v", err)
			}
		})
	}
}

func TestGoogleIDTokenVerifier_Verify_BadRequestIsRejection(t *testing.T) {
	server := newTokenInfoServer(t, http.StatusBadRequest, map[string]any{"error": "invalid_token"})
	v := NewGoogleIDTokenVerifier(GoogleOAuthConfig{ClientID: "client-123", TokenInfoURL: server.URL})

	_, err := v.Verify(context.Background(), "id-token")
	if !errors.Is(err, ErrGoogleTokenRejected) {
		t.Errorf("expected ErrGoogleTokenRejected, got %v", err)
	}
}

func TestGoogleIDTokenVerifier_Verify_ServerErrorIsNotRejection(t *testing.T) {
	server := newTokenInfoServer(t, http.StatusInternalServerError, map[string]any{})
	v := NewGoogleIDTokenVerifier(GoogleOAuthConfig{ClientID: "client-123", TokenInfoURL: server.URL})

	_, err := v.Verify(context.Background(), "id-token")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrGoogleTokenRejected) {
		t.Error("server failures should not be reported as token rejection")
	}
}

func TestGoogleIDTokenVerifier_Verify_EmptyToken(t *testing.T) {
	v := NewGoogleIDTokenVerifier(GoogleOAuthConfig{ClientID: "client-123", TokenInfoURL: "http://127.0.0.1:1"})

	_, err := v.Verify(context.Background(), "")
	if !errors.Is(err, ErrGoogleTokenRejected) {
		t.Errorf("expected ErrGoogleTokenRejected, got %v", err)
	}
}

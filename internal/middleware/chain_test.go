package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

// buildChain はルーターと同じ順序でミドルウェアを組み立てる。
func buildChain(authn Authenticator, final http.Handler, buf *bytes.Buffer) http.Handler {
	h := RequireRole(model.RoleAdmin)(final)
	h = NewAuthMiddleware(authn)(h)
	h = NewLoggingMiddleware(newTestLogger(buf))(h)
	h = NewSecurityHeadersMiddleware()(h)
	h = NewCORSMiddleware("http://localhost:5500")(h)
	return NewRecoveryMiddleware(newTestLogger(buf))(h)
}

// TestMiddlewareChain_AdminAllowed は管理者のリクエストが最終ハンドラーまで届くことを検証する。
func TestMiddlewareChain_AdminAllowed(t *testing.T) {
	var buf bytes.Buffer
	authn := &mockAuthenticator{principal: &model.Principal{Username: "root", Role: model.RoleAdmin}}

	called := false
	handler := buildChain(authn, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &buf)

	req := httptest.NewRequest(http.MethodGet, "/admin/pending", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !called {
		t.Fatalf("status = %d called = %v, want 200 and called", w.Code, called)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5500" {
		t.Error("CORS header missing")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security header missing")
	}
	if entry := decodeLogEntry(t, &buf); entry["username"] != "root" {
		t.Errorf("logged username = %v, want root", entry["username"])
	}
}

// TestMiddlewareChain_UserForbidden は一般ユーザーが403で拒否されることを検証する。
func TestMiddlewareChain_UserForbidden(t *testing.T) {
	var buf bytes.Buffer
	handler := buildChain(&mockAuthenticator{principal: alicePrincipal()}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}), &buf)

	req := httptest.NewRequest(http.MethodGet, "/admin/pending", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	entry := decodeLogEntry(t, &buf)
	if entry["status"] != float64(http.StatusForbidden) || entry["username"] != "alice" {
		t.Errorf("log entry = %v", entry)
	}
}

// TestMiddlewareChain_PreflightSkipsAuth はOPTIONSが認証なしで204を返すことを検証する。
func TestMiddlewareChain_PreflightSkipsAuth(t *testing.T) {
	var buf bytes.Buffer
	handler := buildChain(&mockAuthenticator{err: model.NewInvalidTokenError()}, okHandler(), &buf)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/admin/pending", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

// TestMiddlewareChain_PanicRecovered はハンドラー内のpanicが500に変換されることを検証する。
func TestMiddlewareChain_PanicRecovered(t *testing.T) {
	var buf bytes.Buffer
	authn := &mockAuthenticator{principal: &model.Principal{Username: "root", Role: model.RoleAdmin}}
	handler := buildChain(authn, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), &buf)

	req := httptest.NewRequest(http.MethodGet, "/admin/pending", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeErrorBody(t, w); body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %s, want INTERNAL_ERROR", body.Code)
	}
	if !bytes.Contains(buf.Bytes(), []byte("panic recovered")) {
		t.Errorf("panic should be logged: %s", buf.String())
	}
}

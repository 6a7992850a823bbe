package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/sellergate/internal/auth"
	"github.com/hitoshi/sellergate/internal/model"
)

// --- モック定義 ---

type mockResolver struct {
	currentUserFn func(ctx context.Context, secret string) (*model.User, error)
}

func (m *mockResolver) CurrentUser(ctx context.Context, secret string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, secret)
	}
	return nil, nil
}

type mockCookieReader struct {
	secret string
}

func (m *mockCookieReader) Read(_ *http.Request) string {
	return m.secret
}

func sellerUser() *model.User {
	return &model.User{ID: "u1", Roles: []string{model.RoleSeller}}
}

// --- SessionContext ---

func TestSessionContextMiddleware_InjectsUserAndHash(t *testing.T) {
	resolver := &mockResolver{
		currentUserFn: func(_ context.Context, secret string) (*model.User, error) {
			if secret == "valid-secret" {
				return sellerUser(), nil
			}
			return nil, nil
		},
	}
	mw := NewSessionContextMiddleware(&mockCookieReader{secret: "valid-secret"}, resolver)

	var gotUser *model.User
	var gotHash string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		gotHash = SessionHashFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if gotUser == nil || gotUser.ID != "u1" {
		t.Errorf("user in context = %v, want u1", gotUser)
	}
	if gotHash != auth.HashSessionSecret("valid-secret") {
		t.Errorf("session hash = %q, want hash of secret", gotHash)
	}
}

func TestSessionContextMiddleware_AnonymousPassesThrough(t *testing.T) {
	// Cookieなし: ユーザーもハッシュも注入されないがリクエストは通る
	mw := NewSessionContextMiddleware(&mockCookieReader{}, &mockResolver{})

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := UserFromContext(r.Context()); ok {
			t.Error("no user should be in context without cookie")
		}
		if SessionHashFromContext(r.Context()) != "" {
			t.Error("no session hash should be in context without cookie")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("handler should be called for anonymous request")
	}
}

func TestSessionContextMiddleware_UnknownSecretKeepsHash(t *testing.T) {
	// 無効なCookieでも匿名セッションハッシュとしては有効（会話の所有権に使う）
	mw := NewSessionContextMiddleware(&mockCookieReader{secret: "anon-secret"}, &mockResolver{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); ok {
			t.Error("unknown secret must not resolve to a user")
		}
		if SessionHashFromContext(r.Context()) != auth.HashSessionSecret("anon-secret") {
			t.Error("session hash should still be derived from the cookie")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

// --- RequireRole ---

func TestRequireRoleMiddleware_RedirectsAnonymousToLogin(t *testing.T) {
	mw := NewRequireRoleMiddleware(model.RoleSeller, "/seller/login")

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/seller/dashboard", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	// 元のパスがredirectパラメータで引き継がれること
	loc := resp.Header.Get("Location")
	if loc != "/seller/login?redirect=%2Fseller%2Fdashboard" {
		t.Errorf("Location = %q, want login with redirect param", loc)
	}
}

func TestRequireRoleMiddleware_RedirectsMissingRoleToTop(t *testing.T) {
	mw := NewRequireRoleMiddleware(model.RoleSeller, "/seller/login")

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	user := &model.User{ID: "u2", Roles: []string{"buyer"}}
	req := httptest.NewRequest(http.MethodGet, "/seller/dashboard", nil)
	req = req.WithContext(ContextWithUser(req.Context(), user))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	// ロール不足はエラーページではなくトップへ
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestRequireRoleMiddleware_AllowsSeller(t *testing.T) {
	mw := NewRequireRoleMiddleware(model.RoleSeller, "/seller/login")

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/seller/dashboard", nil)
	req = req.WithContext(ContextWithUser(req.Context(), sellerUser()))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("seller should pass the guard")
	}
}

// --- RequireUserJSON ---

func TestRequireUserJSON(t *testing.T) {
	handler := RequireUserJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 未認証は401のJSON
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
	if ct := w.Result().Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	// 認証済みは通る
	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req = req.WithContext(ContextWithUser(req.Context(), sellerUser()))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Result().StatusCode)
	}
}

// --- コンテキスト補助 ---

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}

	ctx := ContextWithUser(context.Background(), sellerUser())
	id, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext() error = %v", err)
	}
	if id != "u1" {
		t.Errorf("id = %q, want u1", id)
	}
}

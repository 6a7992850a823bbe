// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/sellergate/internal/auth"
	"github.com/hitoshi/sellergate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey        = contextKey("user")
	sessionHashContextKey = contextKey("session_hash")
)

// UserResolver はCookieシークレットからユーザーを解決するインターフェース。
// auth.Serviceの部分集合として定義する。
type UserResolver interface {
	CurrentUser(ctx context.Context, secret string) (*model.User, error)
}

// CookieReader はリクエストからセッションシークレットを読み取るインターフェース。
type CookieReader interface {
	Read(r *http.Request) string
}

// NewSessionContextMiddleware はセッションCookieを読み取り、
// セッションハッシュと（認証済みであれば）ユーザーをコンテキストに注入する。
// Cookieがない・セッションが無効でもリクエストは拒否しない。
// 匿名アクセスを許可するルートと認可ガードの前段で共通に使用する。
func NewSessionContextMiddleware(cookies CookieReader, resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := cookies.Read(r)
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), sessionHashContextKey, auth.HashSessionSecret(secret))

			user, err := resolver.CurrentUser(ctx, secret)
			if err != nil {
				slog.Error("failed to resolve session user", slog.String("error", err.Error()))
			} else if user != nil {
				ctx = context.WithValue(ctx, userContextKey, user)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireRoleMiddleware は指定ロールを持つ認証済みユーザーのみを通すガードを返す。
// 未認証の場合はログインページへリダイレクトし、元のパスをredirectパラメータで引き継ぐ。
// 認証済みだがロール不足の場合はエラーページではなくトップへ戻す。
func NewRequireRoleMiddleware(role, loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				target := loginPath + "?redirect=" + url.QueryEscape(r.URL.Path)
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			if !user.HasRole(role) {
				slog.Warn("role check failed",
					slog.String("user_id", user.ID),
					slog.String("required_role", role),
					slog.String("path", r.URL.Path),
				)
				http.Redirect(w, r, "/", http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireUserJSON は認証済みユーザーを必須とするAPI用のガードを返す。
// 未認証の場合はリダイレクトではなく401のJSONエラーを返す。
func RequireUserJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// SessionHashFromContext はリクエストコンテキストからセッションハッシュを取得する。
// Cookieを持たないリクエストでは空文字列を返す。
func SessionHashFromContext(ctx context.Context) string {
	hash, _ := ctx.Value(sessionHashContextKey).(string)
	return hash
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ログやレート制限のキー用。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。テスト用の補助。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// ContextWithSessionHash はコンテキストにセッションハッシュを注入する。テスト用の補助。
func ContextWithSessionHash(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, sessionHashContextKey, hash)
}

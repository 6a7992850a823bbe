// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/hitoshi/sellergate/internal/auth"
	"github.com/hitoshi/sellergate/internal/middleware"
	"github.com/hitoshi/sellergate/internal/model"
)

// defaultPostLoginPath はredirect指定がない場合のログイン後の遷移先。
const defaultPostLoginPath = "/seller/dashboard"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	InitiateLogin(ctx context.Context, sessionHash, redirectURL string) (string, error)
	HandleCallback(ctx context.Context, input auth.CallbackInput) (*auth.CallbackResult, error)
	Logout(ctx context.Context, secret string) error
	CurrentUser(ctx context.Context, secret string) (*model.User, error)
}

// SessionCookies はセッションCookieの操作インターフェース。
// auth.CookieManagerの部分集合として定義する。
type SessionCookies interface {
	Set(w http.ResponseWriter, secret string)
	Read(r *http.Request) string
	Clear(w http.ResponseWriter)
}

// WithdrawServiceInterface は退会処理のインターフェース。
type WithdrawServiceInterface interface {
	Withdraw(ctx context.Context, userID string) error
}

// AuthHandler はOIDC認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	cookies  SessionCookies
	withdraw WithdrawServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies SessionCookies, withdraw WithdrawServiceInterface) *AuthHandler {
	return &AuthHandler{
		service:  service,
		cookies:  cookies,
		withdraw: withdraw,
	}
}

// Login はOIDC認可コードフローを開始する。
// GET /seller/login?redirect=/path
//
// Cookieがない訪問者にはこの時点で匿名セッションを発行する。
// CSRFトークン（stateパラメータ）はそのセッションに束縛されるため、
// コールバックは同じブラウザでしか成立しない。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	redirectURL := sanitizeRedirectPath(r.URL.Query().Get("redirect"))

	secret := h.cookies.Read(r)
	if secret == "" {
		var err error
		secret, err = auth.GenerateSessionSecret()
		if err != nil {
			slog.Error("failed to mint anonymous session", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
		h.cookies.Set(w, secret)
	}

	authURL, err := h.service.InitiateLogin(r.Context(), auth.HashSessionSecret(secret), redirectURL)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback はIdPからのリダイレクトを処理する。
// GET /seller/login/callback?code&state[&error&error_description]
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	secret := h.cookies.Read(r)
	input := auth.CallbackInput{
		Code:          query.Get("code"),
		State:         query.Get("state"),
		ProviderError: query.Get("error"),
		UserAgent:     r.UserAgent(),
		IP:            clientIP(r),
	}
	if secret != "" {
		input.SessionHash = auth.HashSessionSecret(secret)
	}

	result, err := h.service.HandleCallback(r.Context(), input)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	// ローテーション後の新しいシークレットでCookieを張り替える
	h.cookies.Set(w, result.SessionSecret)

	target := sanitizeRedirectPath(result.RedirectURL)
	if target == "" {
		target = defaultPostLoginPath
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Me は現在のユーザーを返す。未認証の場合はuser: nullを返す（401にしない）。
// GET /api/auth/seller/user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		json.NewEncoder(w).Encode(map[string]any{"user": nil})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"user": user.DTO()})
}

// Logout はセッションを破棄し、Cookieを失効させてトップへリダイレクトする。
// POST /api/auth/seller/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	secret := h.cookies.Read(r)

	if err := h.service.Logout(r.Context(), secret); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.cookies.Clear(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Withdraw は退会処理を実行し、Cookieを失効させる。
// DELETE /api/auth/seller/user
func (h *AuthHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return
	}

	if err := h.withdraw.Withdraw(r.Context(), user.ID); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			middleware.WriteErrorResponse(w, middleware.StatusForAPIError(apiErr), apiErr)
			return
		}
		slog.Error("failed to withdraw user",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	h.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// writeAuthError は認証フローのエラーを統一フォーマットで書き込む。
// 想定内のエラーはAPIErrorとして分類済み。それ以外は詳細をログのみに残す。
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusForAPIError(apiErr), apiErr)
		return
	}
	slog.Error("login flow failed", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// sanitizeRedirectPath はログイン後の遷移先をサイト内パスに限定する。
// 外部URLやプロトコル相対URL（//host）はオープンリダイレクト防止のため破棄する。
func sanitizeRedirectPath(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return ""
	}
	return p
}

// clientIP はリクエスト元のIPアドレスを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// 診断詳細はサーバーログのみに出力し、クライアントには汎用メッセージを返す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, security, policy, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	// IdP・ネットワーク起因（汎用の「再試行してください」ページで表示）
	ErrCodeDiscovery        = "DISCOVERY_ERROR"
	ErrCodeTokenExchange    = "TOKEN_EXCHANGE_ERROR"
	ErrCodeUserInfo         = "USERINFO_ERROR"
	ErrCodeIncompleteClaims = "INCOMPLETE_CLAIMS"
	ErrCodeProviderError    = "PROVIDER_ERROR"

	// セキュリティ起因（HTTP 403。試行メタデータのみログに残す）
	ErrCodeInvalidCsrf    = "INVALID_CSRF"
	ErrCodeMalformedToken = "MALFORMED_TOKEN"
	ErrCodeTokenExpired   = "TOKEN_EXPIRED"

	// ポリシー起因（HTTP 403）
	ErrCodeNotAllowed = "NOT_ALLOWED"

	// 運用起因（HTTP 500。オペレーターへのアラート対象）
	ErrCodeSessionCollision = "SESSION_COLLISION"

	// 認証済みだが権限不足（エラーページではなくリダイレクト）
	ErrCodeForbidden = "FORBIDDEN"

	ErrCodeUserNotFound = "USER_NOT_FOUND"

	// リクエスト内容の不備（HTTP 400）
	ErrCodeValidation = "VALIDATION_ERROR"
)

// NewDiscoveryError はIdPディスカバリ失敗エラーを生成する。
func NewDiscoveryError() *APIError {
	return &APIError{
		Code:     ErrCodeDiscovery,
		Message:  "認証プロバイダーへの接続に失敗しました。",
		Category: "provider",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewTokenExchangeError は認可コード交換失敗エラーを生成する。
func NewTokenExchangeError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExchange,
		Message:  "認証プロバイダーとのトークン交換に失敗しました。",
		Category: "provider",
		Action:   "お手数ですが最初からログインをやり直してください。",
	}
}

// NewUserInfoError はユーザー情報取得失敗エラーを生成する。
func NewUserInfoError() *APIError {
	return &APIError{
		Code:     ErrCodeUserInfo,
		Message:  "認証プロバイダーからのユーザー情報取得に失敗しました。",
		Category: "provider",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewIncompleteClaimsError は必須クレーム欠落エラーを生成する。
func NewIncompleteClaimsError() *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteClaims,
		Message:  "認証プロバイダーの応答に必要な情報が含まれていません。",
		Category: "provider",
		Action:   "プロバイダー側のアカウント設定（ユーザー名またはメールアドレス）を確認してください。",
	}
}

// NewProviderError はIdPがコールバックにエラーを返した場合のエラーを生成する。
func NewProviderError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderError,
		Message:  "認証プロバイダーでエラーが発生しました。",
		Category: "provider",
		Action:   "お手数ですが最初からログインをやり直してください。",
	}
}

// NewMalformedTokenError は構文不正なCSRFトークンのエラーを生成する。
func NewMalformedTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMalformedToken,
		Message:  "ログインリクエストの形式が不正です。",
		Category: "security",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewTokenExpiredError はCSRFトークン期限切れのエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "ログインリクエストの有効期限が切れています。",
		Category: "security",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewInvalidCsrfError はCSRF検証失敗エラーを生成する。
func NewInvalidCsrfError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCsrf,
		Message:  "ログインリクエストの検証に失敗しました。",
		Category: "security",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewNotAllowedError は許可リスト外メールのログイン拒否エラーを生成する。
func NewNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAllowed,
		Message:  "このアカウントではログインできません。",
		Category: "policy",
		Action:   "許可されたメールアドレスのアカウントでログインしてください。",
	}
}

// NewSessionCollisionError はセッションID衝突エラーを生成する。
// 乱数生成の欠陥または攻撃パターンを示すため、発生時はアラート対象。
func NewSessionCollisionError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionCollision,
		Message:  "セッションの発行に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作には %s ロールが必要です。", role),
		Category: "auth",
		Action:   "アカウントの権限について管理者に確認してください。",
	}
}

// NewValidationError はリクエスト検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "system",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

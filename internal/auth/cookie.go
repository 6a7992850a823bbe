package auth

import (
	"net/http"
	"time"
)

// CookieConfig はセッションCookieの属性を決める設定。
type CookieConfig struct {
	Name   string
	Domain string
	// Development は開発環境フラグ。SameSite=Lax、Secureなしで発行する。
	Development bool
	// AllowInsecure は本番相当環境でのローカル検証用。SameSite=Laxにする。
	AllowInsecure bool
	// Lifetime はCookieの有効期間。セッションの有効期間と揃える。
	Lifetime time.Duration
}

// CookieManager はセッションCookieの発行・読み取り・失効を行う。
// Cookieにはセッションシークレット（DBにはハッシュのみ保存）を格納する。
type CookieManager struct {
	config CookieConfig
	now    func() time.Time
}

// NewCookieManager はCookieManagerを生成する。
func NewCookieManager(config CookieConfig) *CookieManager {
	return &CookieManager{
		config: config,
		now:    time.Now,
	}
}

// Set はセッションシークレットをCookieとして発行する。
// HttpOnlyは常に有効。SameSiteは開発環境またはAllowInsecure時のみLax、
// それ以外はクロスサイト遷移後のコールバックでも送信されるようNoneとする。
// SameSite=NoneにはSecureが必須のため、その場合はSecureも有効化する。
func (m *CookieManager) Set(w http.ResponseWriter, secret string) {
	http.SetCookie(w, m.build(secret, m.now().Add(m.config.Lifetime)))
}

// Read はリクエストからセッションシークレットを読み取る。
// Cookieが存在しない場合は空文字列を返す。
func (m *CookieManager) Read(r *http.Request) string {
	cookie, err := r.Cookie(m.config.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Clear はセッションCookieを失効させる。
func (m *CookieManager) Clear(w http.ResponseWriter) {
	cookie := m.build("", time.Unix(0, 0))
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

func (m *CookieManager) build(value string, expires time.Time) *http.Cookie {
	lax := m.config.Development || m.config.AllowInsecure

	sameSite := http.SameSiteNoneMode
	if lax {
		sameSite = http.SameSiteLaxMode
	}

	return &http.Cookie{
		Name:     m.config.Name,
		Value:    value,
		Path:     "/",
		Domain:   m.config.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   !m.config.Development && !m.config.AllowInsecure,
		SameSite: sameSite,
	}
}

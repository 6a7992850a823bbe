package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OIDC
	OIDCClientID     string
	OIDCClientSecret string
	OIDCProviderURL  string
	OIDCScopes       []string
	OIDCNameClaim    string        // 表示名に使うクレーム名
	OIDCTolerance    time.Duration // IdPとのクロックスキュー許容値

	// ログインを許可するメールアドレスの許可リスト。
	// 空の場合は制限なし。
	AllowedUserEmails []string

	// IdPのorgsクレームと突き合わせる組織ID
	AdminOrgID       string
	EarlyAccessOrgID string

	// Session
	SessionDuration time.Duration

	// Cookie
	CookieName           string
	CookieDomain         string
	AllowInsecureCookies bool

	// 実行環境: "development" または "production"
	Environment string

	// Provider HTTP
	ProviderTimeout      time.Duration
	AllowPrivateProvider bool // ローカル開発用: プライベートIP上のIdPを許可する

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitLogin   int

	// Worker
	CleanupInterval       time.Duration
	ConversationRetention time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// IsDevelopment は開発環境かどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.OIDCClientID = os.Getenv("OPENID_CLIENT_ID")
	if cfg.OIDCClientID == "" {
		missing = append(missing, "OPENID_CLIENT_ID")
	}

	cfg.OIDCClientSecret = os.Getenv("OPENID_CLIENT_SECRET")
	if cfg.OIDCClientSecret == "" {
		missing = append(missing, "OPENID_CLIENT_SECRET")
	}

	cfg.OIDCProviderURL = os.Getenv("OPENID_PROVIDER_URL")
	if cfg.OIDCProviderURL == "" {
		missing = append(missing, "OPENID_PROVIDER_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.OIDCScopes = strings.Fields(getEnvString("OPENID_SCOPES", "openid profile email"))
	cfg.OIDCNameClaim = getEnvString("OPENID_NAME_CLAIM", "name")
	cfg.OIDCTolerance = getEnvDuration("OPENID_TOLERANCE", 0)
	cfg.AllowedUserEmails = splitCommaList(os.Getenv("ALLOWED_USER_EMAILS"))
	cfg.AdminOrgID = os.Getenv("ADMIN_ORG_ID")
	cfg.EarlyAccessOrgID = os.Getenv("EARLY_ACCESS_ORG_ID")
	cfg.SessionDuration = getEnvDuration("SESSION_DURATION", 14*24*time.Hour)
	cfg.CookieName = getEnvString("COOKIE_NAME", "sellergate_session")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.AllowInsecureCookies = getEnvBool("ALLOW_INSECURE_COOKIES", false)
	cfg.Environment = getEnvString("APP_ENV", "production")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.AllowPrivateProvider = getEnvBool("ALLOW_PRIVATE_PROVIDER", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 1*time.Hour)
	cfg.ConversationRetention = getEnvDuration("CONVERSATION_RETENTION", 30*24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// splitCommaList はカンマ区切りの文字列を空白トリム済みのスライスに変換する。
func splitCommaList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

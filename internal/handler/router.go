package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/sellergate/internal/middleware"
	"github.com/hitoshi/sellergate/internal/repository"
)

// Pinger はヘルスチェックで使う疎通確認インターフェース。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	UserResolver      middleware.UserResolver
	Metrics           middleware.HTTPStatusRecorder

	// セッションCookie（読み取りはミドルウェア、発行・失効はハンドラーが使う）
	Cookies SessionCookies

	// サービス
	AuthService         AuthServiceInterface
	WithdrawService     WithdrawServiceInterface
	ConversationService ConversationServiceInterface
	SettingsRepo        repository.SettingsRepository

	// 運用エンドポイント
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → HTTPMetrics → SessionContext
//
// ログインフロー（/seller/login*）にはログイン専用レート制限、
// /api/* には一般レート制限とCSRF検証を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewHTTPMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewSessionContextMiddleware(deps.Cookies, deps.UserResolver))

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies, deps.WithdrawService)
	convHandler := NewConversationHandler(deps.ConversationService, deps.Cookies)
	dashboardHandler := NewDashboardHandler(deps.SettingsRepo)

	// --- ログインフロー ---
	// コールバックも含めブルートフォース対策のレート制限を適用する
	r.Route("/seller/login", func(r chi.Router) {
		r.Use(deps.RateLimiter.LoginMiddleware())
		r.Get("/", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
	})

	// --- セラー専用ページ ---
	r.With(middleware.NewRequireRoleMiddleware("seller", "/seller/login")).
		Get("/seller/dashboard", dashboardHandler.Show)

	// --- API ---
	// ミドルウェアスタック: RateLimit(General) → CSRF
	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Route("/auth/seller", func(r chi.Router) {
			r.Get("/user", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
			r.With(middleware.RequireUserJSON).Delete("/user", authHandler.Withdraw)
		})

		// 会話は匿名セッションでも利用可能
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", convHandler.Create)
			r.Get("/", convHandler.List)
		})
	})

	// --- 運用エンドポイント ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.DB != nil {
			if err := deps.DB.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	return r
}

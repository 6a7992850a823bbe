package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/sellergate/internal/auth"
	"github.com/hitoshi/sellergate/internal/config"
	"github.com/hitoshi/sellergate/internal/conversation"
	"github.com/hitoshi/sellergate/internal/database"
	"github.com/hitoshi/sellergate/internal/handler"
	"github.com/hitoshi/sellergate/internal/logger"
	"github.com/hitoshi/sellergate/internal/metrics"
	"github.com/hitoshi/sellergate/internal/middleware"
	"github.com/hitoshi/sellergate/internal/repository"
	"github.com/hitoshi/sellergate/internal/security"
	"github.com/hitoshi/sellergate/internal/user"
	"github.com/hitoshi/sellergate/internal/worker/cleanup"
)

// providerMaxResponseSize はIdPレスポンスの最大サイズ（JWKSやuserinfoを想定）。
const providerMaxResponseSize = 1 << 20

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しない場合は無視）
	_ = godotenv.Load()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	convRepo := repository.NewPostgresConversationRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. IdPクライアントの構築
	// 本番ではSSRF防止付きクライアントを使う。ローカルIdP（Keycloak等）を
	// 使う開発環境のみALLOW_PRIVATE_PROVIDERで素のクライアントに切り替える。
	ssrfGuard := security.NewSSRFGuard()
	var providerClient *http.Client
	if cfg.AllowPrivateProvider {
		providerClient = &http.Client{Timeout: cfg.ProviderTimeout}
	} else {
		if err := ssrfGuard.ValidateURL(cfg.OIDCProviderURL); err != nil {
			return fmt.Errorf("unsafe OIDC provider URL: %w", err)
		}
		providerClient = ssrfGuard.NewSafeClient(cfg.ProviderTimeout, providerMaxResponseSize)
	}

	identity := auth.NewOIDCProvider(auth.OIDCProviderConfig{
		IssuerURL:    cfg.OIDCProviderURL,
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		RedirectURL:  cfg.BaseURL + "/seller/login/callback",
		Scopes:       cfg.OIDCScopes,
	}, providerClient)

	// 5. ドメインサービスの初期化
	authService := auth.NewService(
		identity, auth.NewCSRFCodecWithTolerance(cfg.OIDCTolerance), userRepo, sessionRepo, convRepo, collector,
		auth.ServiceConfig{
			SessionDuration:   cfg.SessionDuration,
			AllowedUserEmails: cfg.AllowedUserEmails,
			AdminOrgID:        cfg.AdminOrgID,
			EarlyAccessOrgID:  cfg.EarlyAccessOrgID,
			NameClaim:         cfg.OIDCNameClaim,
		},
	)
	convService := conversation.NewService(convRepo, security.NewContentSanitizer())
	userService := user.NewService(userRepo, sessionRepo, convRepo)

	cookieManager := auth.NewCookieManager(auth.CookieConfig{
		Name:          cfg.CookieName,
		Domain:        cfg.CookieDomain,
		Development:   cfg.IsDevelopment(),
		AllowInsecure: cfg.AllowInsecureCookies,
		Lifetime:      cfg.SessionDuration,
	})

	// 6. レート制限の構築（configの単位はreq/min）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
	rateLimiterCfg.LoginBurst = cfg.RateLimitLogin
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 7. ルーターの構築
	cookieSecure := !cfg.IsDevelopment() && !cfg.AllowInsecureCookies
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:  rateLimiter,
		UserResolver: authService,
		Metrics:      collector,
		Cookies:      cookieManager,

		AuthService:         authService,
		WithdrawService:     userService,
		ConversationService: convService,
		SettingsRepo:        settingsRepo,

		DB:             db,
		MetricsHandler: metrics.Handler(registry),
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、セッション・会話クリーンアップのスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリとメトリクスの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	convRepo := repository.NewPostgresConversationRepo(db)
	collector := metrics.NewCollector(prometheus.NewRegistry())

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, convRepo, collector, slog.Default())
	cleanupJob.OrphanRetention = cfg.ConversationRetention

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("conversation_retention", cfg.ConversationRetention),
	)

	// クリーンアップスケジューラをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// Package auth はOIDC認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/sellergate/internal/metrics"
	"github.com/hitoshi/sellergate/internal/model"
	"github.com/hitoshi/sellergate/internal/repository"
)

// sessionCollisionRetries はセッションID衝突時の再試行回数の上限。
// 32バイト乱数で衝突が続くことは統計的にあり得ないため、
// 上限到達は乱数生成の欠陥または攻撃の兆候として扱う。
const sessionCollisionRetries = 3

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionDuration   time.Duration
	AllowedUserEmails []string
	AdminOrgID        string
	EarlyAccessOrgID  string
	NameClaim         string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	identity    IdentityProvider
	csrf        *CSRFCodec
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	convRepo    repository.ConversationRepository
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	identity IdentityProvider,
	csrf *CSRFCodec,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	convRepo repository.ConversationRepository,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		identity:    identity,
		csrf:        csrf,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		convRepo:    convRepo,
		metrics:     collector,
		config:      config,
		now:         time.Now,
	}
}

// GenerateSessionSecret はブラウザCookieに格納するセッションシークレットを生成する。
// 32バイトの暗号乱数を16進数文字列にしたもの。DBには保存しない。
func GenerateSessionSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSessionSecret はシークレットからサーバー側セッションIDを導出する。
// DBに保存されるのはこのハッシュのみ。DB漏洩時もCookie値は復元できない。
func HashSessionSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// InitiateLogin はログイン開始処理を行い、IdPの認可URLを返す。
// sessionHashは現在のセッション（匿名を含む）のハッシュで、
// CSRFトークンをこのセッションに束縛する。
func (s *Service) InitiateLogin(ctx context.Context, sessionHash, redirectURL string) (string, error) {
	state, err := s.csrf.Generate(sessionHash, redirectURL)
	if err != nil {
		return "", fmt.Errorf("failed to generate login state: %w", err)
	}

	authURL, err := s.identity.AuthCodeURL(ctx, state)
	if err != nil {
		s.metrics.RecordLoginFailure("discovery")
		slog.Error("OIDCディスカバリに失敗", slog.String("error", err.Error()))
		return "", model.NewDiscoveryError()
	}

	return authURL, nil
}

// CallbackInput はコールバック処理の入力。
type CallbackInput struct {
	Code          string
	State         string
	ProviderError string // IdPがerrorクエリパラメータを返した場合の値
	SessionHash   string // コールバック時点のセッションハッシュ（CSRF検証に使用）
	UserAgent     string
	IP            string
}

// CallbackResult はコールバック処理の結果。
type CallbackResult struct {
	User          *model.User
	SessionSecret string // 新しいセッションのシークレット（Cookieに設定する）
	RedirectURL   string // CSRFトークンに埋め込まれていた遷移先
}

// HandleCallback はIdPからのコールバックを処理する。
// 検証は安価なものから順に行う: CSRF検証、IdPエラー、コード交換、
// クレーム取得・検証、許可リスト、ユーザー確定、セッションローテーション。
// CSRF検証前には外部リクエストを一切発行しない。
func (s *Service) HandleCallback(ctx context.Context, input CallbackInput) (*CallbackResult, error) {
	// 1. CSRF検証。失敗した場合、認可コードは未使用のまま破棄される。
	redirectURL, err := s.csrf.Validate(input.State, input.SessionHash)
	if err != nil {
		s.metrics.RecordLoginFailure("invalid_csrf")
		slog.Warn("CSRF検証に失敗",
			slog.String("reason", err.Error()),
			slog.String("ip", input.IP),
			slog.String("user_agent", input.UserAgent),
		)
		switch {
		case errors.Is(err, ErrMalformedToken):
			return nil, model.NewMalformedTokenError()
		case errors.Is(err, ErrTokenExpired):
			return nil, model.NewTokenExpiredError()
		default:
			return nil, model.NewInvalidCsrfError()
		}
	}

	// 2. IdPがエラーを返している場合はコード交換に進まない
	if input.ProviderError != "" {
		s.metrics.RecordLoginFailure("provider_error")
		slog.Warn("IdPがエラーを返却", slog.String("provider_error", input.ProviderError))
		return nil, model.NewProviderError()
	}

	// 3. 認可コードをトークンに交換。コードは使い捨てのため再試行しない。
	exchangeStart := s.now()
	token, err := s.identity.Exchange(ctx, input.Code)
	s.metrics.RecordExchangeLatency(s.now().Sub(exchangeStart))
	if err != nil {
		if errors.Is(err, ErrDiscovery) {
			s.metrics.RecordLoginFailure("discovery")
			slog.Error("OIDCディスカバリに失敗", slog.String("error", err.Error()))
			return nil, model.NewDiscoveryError()
		}
		s.metrics.RecordLoginFailure("token_exchange")
		slog.Error("認可コードの交換に失敗", slog.String("error", err.Error()))
		return nil, model.NewTokenExchangeError()
	}

	// 4. UserInfoエンドポイントからクレームを取得
	claims, err := s.identity.FetchUserInfo(ctx, token)
	if err != nil {
		s.metrics.RecordLoginFailure("userinfo")
		slog.Error("ユーザー情報の取得に失敗", slog.String("error", err.Error()))
		return nil, model.NewUserInfoError()
	}

	// 5. 必須クレームの検証。usernameはpreferred_username、なければemail。
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	if claims.Sub == "" || username == "" {
		s.metrics.RecordLoginFailure("incomplete_claims")
		slog.Error("必須クレームが欠落",
			slog.Bool("has_sub", claims.Sub != ""),
			slog.Bool("has_username", claims.PreferredUsername != ""),
			slog.Bool("has_email", claims.Email != ""),
		)
		return nil, model.NewIncompleteClaimsError()
	}

	// 6. 許可リスト検証（設定されている場合のみ）
	if !s.isAllowedEmail(claims) {
		s.metrics.RecordLoginFailure("not_allowed")
		slog.Warn("許可リスト外のログイン試行", slog.String("sub", claims.Sub))
		return nil, model.NewNotAllowedError()
	}

	// 7. ユーザーの確定（新規作成またはプロフィール更新）
	user, err := s.upsertUser(ctx, claims, username)
	if err != nil {
		s.metrics.RecordLoginFailure("storage")
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 8. セッションローテーション。旧セッションを削除してから新規発行する。
	secret, err := s.rotateSession(ctx, input, user.ID)
	if err != nil {
		return nil, err
	}

	// 9. 匿名時代の会話をユーザーへ移行。失敗してもログイン自体は成立させる。
	if migrated, err := s.convRepo.ReassignSessionToUser(ctx, input.SessionHash, user.ID); err != nil {
		slog.Warn("会話の移行に失敗",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else if migrated > 0 {
		slog.Info("匿名会話をユーザーへ移行",
			slog.String("user_id", user.ID),
			slog.Int64("count", migrated),
		)
	}

	s.metrics.RecordLoginSuccess()
	slog.Info("ログイン成功", slog.String("user_id", user.ID))

	return &CallbackResult{
		User:          user,
		SessionSecret: secret,
		RedirectURL:   redirectURL,
	}, nil
}

// isAllowedEmail は許可リスト検証を行う。リストが空なら制限なし。
// リスト設定時は、メールが存在し、プロバイダーで検証済みで、
// かつリストに含まれる場合のみ許可する。
func (s *Service) isAllowedEmail(claims *Claims) bool {
	if len(s.config.AllowedUserEmails) == 0 {
		return true
	}
	if claims.Email == "" || !claims.EmailVerified {
		return false
	}
	for _, allowed := range s.config.AllowedUserEmails {
		if claims.Email == allowed {
			return true
		}
	}
	return false
}

// upsertUser はsubクレームをキーにユーザーを検索し、
// 存在すればプロフィールを更新、存在しなければ既定値で新規作成する。
func (s *Service) upsertUser(ctx context.Context, claims *Claims, username string) (*model.User, error) {
	existing, err := s.userRepo.FindByProviderSubjectID(ctx, claims.Sub)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	now := s.now()

	if existing != nil {
		s.mergeProfile(existing, claims, username, now)
		if err := s.userRepo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
		slog.Info("既存ユーザーがログイン", slog.String("user_id", existing.ID))
		return existing, nil
	}

	user := &model.User{
		ID:                 uuid.New().String(),
		ProviderSubjectID:  claims.Sub,
		Username:           username,
		Name:               claims.DisplayName(s.config.NameClaim),
		Email:              claims.Email,
		AvatarURL:          claims.Picture,
		IsAdmin:            claims.HasOrg(s.config.AdminOrgID),
		IsEarlyAccess:      claims.HasOrg(s.config.EarlyAccessOrgID),
		Roles:              []string{model.RoleSeller},
		SubscriptionStatus: "inactive",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	settings := &model.Settings{
		UserID:               user.ID,
		EthicsModalAccepted:  false,
		NotificationsEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.userRepo.CreateWithSettings(ctx, user, settings); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("新規ユーザーを作成", slog.String("user_id", user.ID))
	return user, nil
}

// mergeProfile はIdP由来のプロフィール項目のみを更新し、
// アカウント状態（ロール、ポイント、課金情報、ストア情報）は保持する。
func (s *Service) mergeProfile(user *model.User, claims *Claims, username string, now time.Time) {
	user.Username = username
	user.Name = claims.DisplayName(s.config.NameClaim)
	user.Email = claims.Email
	user.AvatarURL = claims.Picture
	user.IsAdmin = claims.HasOrg(s.config.AdminOrgID)
	user.IsEarlyAccess = claims.HasOrg(s.config.EarlyAccessOrgID)
	user.UpdatedAt = now
}

// rotateSession は旧セッションを削除し、新しいセッションを発行する。
// session_idの衝突を検出した場合は新しいシークレットで再試行し、
// 上限に達したらSESSION_COLLISIONを返す。
func (s *Service) rotateSession(ctx context.Context, input CallbackInput, userID string) (string, error) {
	// 旧セッションの削除が先。削除後に失敗してもセッションが重複して
	// 生き残ることはない。匿名セッションはDBに存在しないため no-op になる。
	if err := s.sessionRepo.DeleteBySessionID(ctx, input.SessionHash); err != nil {
		s.metrics.RecordLoginFailure("storage")
		return "", fmt.Errorf("failed to delete previous session: %w", err)
	}

	now := s.now()
	for attempt := 0; attempt < sessionCollisionRetries; attempt++ {
		secret, err := GenerateSessionSecret()
		if err != nil {
			s.metrics.RecordLoginFailure("storage")
			return "", err
		}

		session := &model.Session{
			ID:        uuid.New().String(),
			SessionID: HashSessionSecret(secret),
			UserID:    userID,
			UserAgent: input.UserAgent,
			IP:        input.IP,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(s.config.SessionDuration),
		}

		err = s.sessionRepo.Create(ctx, session)
		if err == nil {
			s.metrics.RecordSessionRotation()
			return secret, nil
		}
		if errors.Is(err, repository.ErrDuplicateSessionID) {
			s.metrics.RecordSessionCollision()
			slog.Error("セッションID衝突を検出",
				slog.Int("attempt", attempt+1),
				slog.String("user_id", userID),
			)
			continue
		}
		s.metrics.RecordLoginFailure("storage")
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordLoginFailure("session_collision")
	return "", model.NewSessionCollisionError()
}

// Logout はセッションを破棄する。
// Cookieがない場合や該当セッションがない場合もエラーにしない（冪等）。
func (s *Service) Logout(ctx context.Context, secret string) error {
	if secret == "" {
		return nil
	}

	hash := HashSessionSecret(secret)
	if err := s.sessionRepo.DeleteBySessionID(ctx, hash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("ログアウト")
	return nil
}

// CurrentUser はCookieのシークレットから現在のユーザーを解決する。
// セッションが存在しない・期限切れ・ユーザー不在の場合はnilを返す。
func (s *Service) CurrentUser(ctx context.Context, secret string) (*model.User, error) {
	if secret == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindBySessionID(ctx, HashSessionSecret(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

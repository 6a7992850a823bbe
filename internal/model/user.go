// Package model はドメインモデルを定義する。
package model

import (
	"slices"
	"time"
)

// ロールタグ。rolesカラムに格納される。
const (
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// User は認証済みのマーケットプレイスユーザーを表す。
// provider_subject_id（IdPのsubクレーム）ごとに必ず1レコードのみ存在する。
type User struct {
	ID                string
	ProviderSubjectID string

	// ログインのたびにIdPのクレームから更新されるプロフィール項目
	Username  string
	Name      string
	Email     string
	AvatarURL string

	// IdPのorgsクレームから導出されるフラグ（ログインのたびに更新）
	IsAdmin       bool
	IsEarlyAccess bool

	// 手動で付与されるロール。ログインで上書きしない。
	Roles []string

	// マーケットプレイスドメインが所有するアカウント項目。
	// 認証フローは作成時の初期化以外で変更せず、ログイン間で保持する。
	Points             int
	SubscriptionStatus string
	SubscriptionPlan   string
	SubscriptionExpiry *time.Time
	StripeCustomerID   string
	StorefrontURL      string
	Earnings           float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRole はユーザーが指定ロールを持つかどうかを返す。
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// UserDTO は「現在のユーザー」エンドポイントが返す公開表現。
// マーケットプレイスUI層はこのDTOのみを参照し、セッションには触れない。
type UserDTO struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email,omitempty"`
	Name          string   `json:"name"`
	Roles         []string `json:"roles"`
	AvatarURL     string   `json:"avatarUrl,omitempty"`
	StorefrontURL string   `json:"storefrontUrl,omitempty"`
	Earnings      float64  `json:"earnings"`
}

// DTO はUserの公開表現を生成する。
func (u *User) DTO() *UserDTO {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return &UserDTO{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Name:          u.Name,
		Roles:         roles,
		AvatarURL:     u.AvatarURL,
		StorefrontURL: u.StorefrontURL,
		Earnings:      u.Earnings,
	}
}

// Session はブラウザ1つ分の認証セッションを表す。
// SessionIDはブラウザが保持する秘密値のSHA-256ハッシュであり、
// 秘密値そのものはサーバー側には一切保存されない。
type Session struct {
	ID        string
	SessionID string
	UserID    string

	// 参考情報。認可判断には使用しない。
	UserAgent string
	IP        string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Conversation はストアフロント上の問い合わせ・商談スレッドを表す。
// 匿名セッションで作成された場合はSessionIDのみが設定され、
// ログイン成功時にUserIDへ付け替えられる（セッション→ユーザー移行）。
type Conversation struct {
	ID        string
	SessionID string // 匿名時のみ。移行後は空
	UserID    string // 認証済みのみ
	Title     string
	Content   string // サニタイズ済みHTML
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Settings はユーザーごとの既定設定を表す。初回ログイン時に作成される。
type Settings struct {
	UserID               string
	EthicsModalAccepted  bool
	NotificationsEnabled bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

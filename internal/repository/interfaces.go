// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/sellergate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByProviderSubjectID はIdPのsubクレームでユーザーを検索する。
	// 見つからない場合はnilを返す。ログインごとのfind-or-createのキー。
	FindByProviderSubjectID(ctx context.Context, subjectID string) (*model.User, error)

	// CreateWithSettings はユーザーと既定設定を同一トランザクションで作成する。
	CreateWithSettings(ctx context.Context, user *model.User, settings *model.Settings) error

	// Update は既存ユーザーを上書き更新する。
	// 更新対象フィールドのマージはサービス層が行う（refresh/preserveの区別を明示するため）。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。user_settingsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
// session_idは常にブラウザ秘密値のハッシュであり、秘密値そのものは扱わない。
type SessionRepository interface {
	// Create はセッションを作成する。session_idのユニーク制約違反はエラーとして返る。
	Create(ctx context.Context, session *model.Session) error

	// FindBySessionID は指定ハッシュのセッションを取得する。
	// 見つからない場合と期限切れの場合はnilを返す。
	FindBySessionID(ctx context.Context, sessionID string) (*model.Session, error)

	// DeleteBySessionID は指定ハッシュのセッションを削除する。
	// 該当レコードが存在しなくてもエラーにはならない（匿名セッションは永続化されない）。
	DeleteBySessionID(ctx context.Context, sessionID string) error

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ConversationRepository は会話データの永続化インターフェース。
type ConversationRepository interface {
	// Create は会話を作成する。
	Create(ctx context.Context, conv *model.Conversation) error

	// ListBySessionID は匿名セッションに紐づく会話一覧を返す。
	// ユーザーに移行済みの会話は含まない。
	ListBySessionID(ctx context.Context, sessionID string) ([]*model.Conversation, error)

	// ListByUserID はユーザーに紐づく会話一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error)

	// ReassignSessionToUser は匿名セッションの会話を指定ユーザーへ付け替え、
	// session_idをクリアする。付け替えた件数を返す。
	ReassignSessionToUser(ctx context.Context, sessionID, userID string) (int64, error)

	// DeleteOrphanedBefore は生きたセッションを持たない匿名会話のうち、
	// 更新日時がcutoffより古いものを削除し、削除件数を返す。
	DeleteOrphanedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteByUserID は指定ユーザーの全会話を削除する。退会処理で使用する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// SettingsRepository はユーザー設定の永続化インターフェース。
type SettingsRepository interface {
	// FindByUserID は指定ユーザーの設定を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Settings, error)
}

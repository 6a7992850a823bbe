package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/sellergate/internal/model"
)

// PostgresSettingsRepo はPostgreSQLを使用したユーザー設定リポジトリ。
// 既定設定の作成はユーザー作成と同一トランザクションで行うため、
// UserRepository.CreateWithSettings側に実装がある。
type PostgresSettingsRepo struct {
	db *sql.DB
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// FindByUserID は指定ユーザーの設定を取得する。見つからない場合はnilを返す。
func (r *PostgresSettingsRepo) FindByUserID(ctx context.Context, userID string) (*model.Settings, error) {
	settings := &model.Settings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, ethics_modal_accepted, notifications_enabled, created_at, updated_at
		 FROM user_settings WHERE user_id = $1`,
		userID,
	).Scan(
		&settings.UserID, &settings.EthicsModalAccepted, &settings.NotificationsEnabled,
		&settings.CreatedAt, &settings.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find settings: %w", err)
	}

	return settings, nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)

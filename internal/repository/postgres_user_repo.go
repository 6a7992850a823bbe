package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/sellergate/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, provider_subject_id, username, name, email, avatar_url,
	is_admin, is_early_access, roles, points, subscription_status, subscription_plan,
	subscription_expiry, stripe_customer_id, storefront_url, earnings, created_at, updated_at`

// scanUser は1行をmodel.Userに読み込む。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var subscriptionExpiry sql.NullTime
	err := row.Scan(
		&user.ID, &user.ProviderSubjectID, &user.Username, &user.Name, &user.Email,
		&user.AvatarURL, &user.IsAdmin, &user.IsEarlyAccess, pq.Array(&user.Roles),
		&user.Points, &user.SubscriptionStatus, &user.SubscriptionPlan,
		&subscriptionExpiry, &user.StripeCustomerID, &user.StorefrontURL,
		&user.Earnings, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if subscriptionExpiry.Valid {
		t := subscriptionExpiry.Time
		user.SubscriptionExpiry = &t
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByProviderSubjectID はIdPのsubクレームでユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderSubjectID(ctx context.Context, subjectID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider_subject_id = $1`, subjectID,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider subject ID: %w", err)
	}
	return user, nil
}

// CreateWithSettings はユーザーと既定設定を同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithSettings(ctx context.Context, user *model.User, settings *model.Settings) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, provider_subject_id, username, name, email, avatar_url,
			is_admin, is_early_access, roles, points, subscription_status, subscription_plan,
			subscription_expiry, stripe_customer_id, storefront_url, earnings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		user.ID, user.ProviderSubjectID, user.Username, user.Name, user.Email,
		user.AvatarURL, user.IsAdmin, user.IsEarlyAccess, pq.Array(user.Roles),
		user.Points, user.SubscriptionStatus, user.SubscriptionPlan,
		user.SubscriptionExpiry, user.StripeCustomerID, user.StorefrontURL,
		user.Earnings, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// 既定設定を作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, ethics_modal_accepted, notifications_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		settings.UserID, settings.EthicsModalAccepted, settings.NotificationsEnabled,
		settings.CreatedAt, settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Update は既存ユーザーを上書き更新する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			username = $2, name = $3, email = $4, avatar_url = $5,
			is_admin = $6, is_early_access = $7, roles = $8, points = $9,
			subscription_status = $10, subscription_plan = $11, subscription_expiry = $12,
			stripe_customer_id = $13, storefront_url = $14, earnings = $15, updated_at = $16
		 WHERE id = $1`,
		user.ID, user.Username, user.Name, user.Email, user.AvatarURL,
		user.IsAdmin, user.IsEarlyAccess, pq.Array(user.Roles), user.Points,
		user.SubscriptionStatus, user.SubscriptionPlan, user.SubscriptionExpiry,
		user.StripeCustomerID, user.StorefrontURL, user.Earnings, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。user_settingsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

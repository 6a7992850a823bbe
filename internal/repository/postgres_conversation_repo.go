package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/sellergate/internal/model"
)

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

// Create は会話を作成する。
func (r *PostgresConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	sessionID := sql.NullString{String: conv.SessionID, Valid: conv.SessionID != ""}
	userID := sql.NullString{String: conv.UserID, Valid: conv.UserID != ""}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, session_id, user_id, title, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		conv.ID, sessionID, userID, conv.Title, conv.Content, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// ListBySessionID は匿名セッションに紐づく会話一覧を返す。
// ユーザーへ移行済みのレコード（user_idが設定済み）は含まない。
func (r *PostgresConversationRepo) ListBySessionID(ctx context.Context, sessionID string) ([]*model.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, title, content, created_at, updated_at
		 FROM conversations
		 WHERE session_id = $1 AND user_id IS NULL
		 ORDER BY updated_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations by session: %w", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// ListByUserID はユーザーに紐づく会話一覧を返す。
func (r *PostgresConversationRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, title, content, created_at, updated_at
		 FROM conversations
		 WHERE user_id = $1
		 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations by user: %w", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// ReassignSessionToUser は匿名セッションの会話を指定ユーザーへ付け替える。
// 1つのUPDATE文で行うため、途中クラッシュで一部のみ移行されることはない。
func (r *PostgresConversationRepo) ReassignSessionToUser(ctx context.Context, sessionID, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE conversations
		 SET user_id = $2, session_id = NULL, updated_at = now()
		 WHERE session_id = $1 AND user_id IS NULL`,
		sessionID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign conversations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteOrphanedBefore は生きたセッションを持たない匿名会話のうち、
// cutoffより古いものを削除する。ログイン中クラッシュで取り残されたレコードの回収用。
func (r *PostgresConversationRepo) DeleteOrphanedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM conversations c
		 WHERE c.user_id IS NULL
		   AND c.updated_at < $1
		   AND NOT EXISTS (
		       SELECT 1 FROM sessions s WHERE s.session_id = c.session_id AND s.expires_at > now()
		   )`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned conversations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteByUserID は指定ユーザーの全会話を削除する。
func (r *PostgresConversationRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversations by user: %w", err)
	}
	return nil
}

// scanConversations は結果セットをmodel.Conversationのスライスに読み込む。
func scanConversations(rows *sql.Rows) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	for rows.Next() {
		conv := &model.Conversation{}
		var sessionID, userID sql.NullString
		if err := rows.Scan(
			&conv.ID, &sessionID, &userID, &conv.Title, &conv.Content,
			&conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.SessionID = sessionID.String
		conv.UserID = userID.String
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return convs, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)

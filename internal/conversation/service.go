// Package conversation は問い合わせ会話の作成と取得を提供する。
//
// 会話の所有者は認証済みユーザーまたは匿名セッションのどちらか一方。
// 匿名セッションの会話はログイン時に認証サービスがユーザーへ移行する。
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/sellergate/internal/model"
	"github.com/hitoshi/sellergate/internal/repository"
	"github.com/hitoshi/sellergate/internal/security"
)

// Owner は会話の所有者を表す。UserIDが空の場合は匿名セッション所有。
type Owner struct {
	UserID      string
	SessionHash string
}

// CreateInput は会話作成の入力。
type CreateInput struct {
	Title   string
	Content string
}

// Service は会話に関するビジネスロジックを提供する。
type Service struct {
	convRepo  repository.ConversationRepository
	sanitizer security.ContentSanitizerService
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(convRepo repository.ConversationRepository, sanitizer security.ContentSanitizerService) *Service {
	return &Service{
		convRepo:  convRepo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Create は会話を作成する。
// コンテンツは保存前にサニタイズされ、危険なHTMLは永続化されない。
func (s *Service) Create(ctx context.Context, owner Owner, input CreateInput) (*model.Conversation, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("conversation title is required")
	}
	if owner.UserID == "" && owner.SessionHash == "" {
		return nil, fmt.Errorf("conversation owner is required")
	}

	now := s.now()
	conv := &model.Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		Content:   s.sanitizer.Sanitize(input.Content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if owner.UserID != "" {
		conv.UserID = owner.UserID
	} else {
		conv.SessionID = owner.SessionHash
	}

	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// List は所有者に紐づく会話一覧を返す。
// 認証済みユーザーは自身の会話のみ、匿名セッションは
// そのセッションで作成した未移行の会話のみを参照できる。
func (s *Service) List(ctx context.Context, owner Owner) ([]*model.Conversation, error) {
	if owner.UserID != "" {
		convs, err := s.convRepo.ListByUserID(ctx, owner.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}
		return convs, nil
	}
	if owner.SessionHash == "" {
		return nil, nil
	}

	convs, err := s.convRepo.ListBySessionID(ctx, owner.SessionHash)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

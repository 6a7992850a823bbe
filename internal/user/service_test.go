package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/sellergate/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.User, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByProviderSubjectID(_ context.Context, _ string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) CreateWithSettings(_ context.Context, _ *model.User, _ *model.Settings) error {
	return nil
}
func (m *mockUserRepo) Update(_ context.Context, _ *model.User) error {
	return nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(_ context.Context, _ *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindBySessionID(_ context.Context, _ string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteBySessionID(_ context.Context, _ string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}
func (m *mockSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type mockConvRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockConvRepo) Create(_ context.Context, _ *model.Conversation) error {
	return nil
}
func (m *mockConvRepo) ListBySessionID(_ context.Context, _ string) ([]*model.Conversation, error) {
	return nil, nil
}
func (m *mockConvRepo) ListByUserID(_ context.Context, _ string) ([]*model.Conversation, error) {
	return nil, nil
}
func (m *mockConvRepo) ReassignSessionToUser(_ context.Context, _, _ string) (int64, error) {
	return 0, nil
}
func (m *mockConvRepo) DeleteOrphanedBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
func (m *mockConvRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}

// --- テスト ---

// TestService_Withdraw は退会処理が全関連データを削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	var order []string

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			order = append(order, "user")
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			order = append(order, "sessions")
			return nil
		},
	}
	convRepo := &mockConvRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			order = append(order, "conversations")
			return nil
		},
	}

	svc := NewService(userRepo, sessionRepo, convRepo)

	err := svc.Withdraw(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}

	want := []string{"conversations", "sessions", "user"}
	if len(order) != len(want) {
		t.Fatalf("expected %d deletions, got %d: %v", len(want), len(order), order)
	}
	for i, step := range want {
		if order[i] != step {
			t.Errorf("deletion order[%d] = %s, want %s", i, order[i], step)
		}
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, nil
		},
	}

	svc := NewService(userRepo, nil, nil)

	err := svc.Withdraw(context.Background(), "nonexistent-user")
	if err == nil {
		t.Fatal("expected error for nonexistent user, got nil")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("expected USER_NOT_FOUND error, got %v", err)
	}
}

// TestService_Withdraw_SessionDeleteFailureStopsUserDelete は
// セッション削除失敗時にユーザー削除まで進まないことを検証する。
func TestService_Withdraw_SessionDeleteFailureStopsUserDelete(t *testing.T) {
	userDeleted := false

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			userDeleted = true
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			return errors.New("db down")
		},
	}
	convRepo := &mockConvRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			return nil
		},
	}

	svc := NewService(userRepo, sessionRepo, convRepo)

	if err := svc.Withdraw(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error when session deletion fails, got nil")
	}
	if userDeleted {
		t.Error("user must not be deleted when session deletion fails")
	}
}

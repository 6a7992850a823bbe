package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/sellergate/internal/auth"
	"github.com/hitoshi/sellergate/internal/conversation"
	"github.com/hitoshi/sellergate/internal/middleware"
	"github.com/hitoshi/sellergate/internal/model"
)

// ConversationServiceInterface は会話ハンドラーが必要とするサービスインターフェース。
type ConversationServiceInterface interface {
	Create(ctx context.Context, owner conversation.Owner, input conversation.CreateInput) (*model.Conversation, error)
	List(ctx context.Context, owner conversation.Owner) ([]*model.Conversation, error)
}

// ConversationHandler は問い合わせ会話のHTTPハンドラー。
// 匿名セッションでも利用できる（ログイン後に会話はユーザーへ移行される）。
type ConversationHandler struct {
	service ConversationServiceInterface
	cookies SessionCookies
}

// NewConversationHandler はConversationHandlerを生成する。
func NewConversationHandler(service ConversationServiceInterface, cookies SessionCookies) *ConversationHandler {
	return &ConversationHandler{
		service: service,
		cookies: cookies,
	}
}

// CreateConversationRequest は会話作成リクエスト。
type CreateConversationRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ConversationResponse は会話のレスポンス表現。
type ConversationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Create は会話を作成する。
// POST /api/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディが不正です"))
		return
	}

	owner, err := h.resolveOwner(w, r)
	if err != nil {
		slog.Error("failed to resolve conversation owner", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	conv, err := h.service.Create(r.Context(), owner, conversation.CreateInput{
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toConversationResponse(conv))
}

// List は所有者（ユーザーまたは匿名セッション）の会話一覧を返す。
// GET /api/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	convs, err := h.service.List(r.Context(), owner)
	if err != nil {
		slog.Error("failed to list conversations", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	responses := make([]*ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		responses = append(responses, toConversationResponse(conv))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"conversations": responses})
}

// resolveOwner はコンテキストから所有者を決定する。
// Cookieを持たない匿名の訪問者には、このリクエストで新しいセッションを発行し、
// 以降の会話参照とログイン時の移行を可能にする。
func (h *ConversationHandler) resolveOwner(w http.ResponseWriter, r *http.Request) (conversation.Owner, error) {
	owner := ownerFromContext(r.Context())
	if owner.UserID != "" || owner.SessionHash != "" {
		return owner, nil
	}

	secret, err := auth.GenerateSessionSecret()
	if err != nil {
		return conversation.Owner{}, err
	}
	h.cookies.Set(w, secret)
	return conversation.Owner{SessionHash: auth.HashSessionSecret(secret)}, nil
}

func ownerFromContext(ctx context.Context) conversation.Owner {
	owner := conversation.Owner{}
	if user, ok := middleware.UserFromContext(ctx); ok {
		owner.UserID = user.ID
	}
	if hash := middleware.SessionHashFromContext(ctx); hash != "" {
		owner.SessionHash = hash
	}
	return owner
}

func toConversationResponse(conv *model.Conversation) *ConversationResponse {
	return &ConversationResponse{
		ID:        conv.ID,
		Title:     conv.Title,
		Content:   conv.Content,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/sellergate/internal/middleware"
	"github.com/hitoshi/sellergate/internal/model"
	"github.com/hitoshi/sellergate/internal/repository"
)

// SettingsResponse はユーザー設定のレスポンス表現。
type SettingsResponse struct {
	EthicsModalAccepted  bool `json:"ethicsModalAccepted"`
	NotificationsEnabled bool `json:"notificationsEnabled"`
}

// DashboardHandler はセラーダッシュボードのHTTPハンドラー。
// ルーター側でsellerロールガードの内側に配置される前提。
type DashboardHandler struct {
	settingsRepo repository.SettingsRepository
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(settingsRepo repository.SettingsRepository) *DashboardHandler {
	return &DashboardHandler{settingsRepo: settingsRepo}
}

// Show はダッシュボードの初期データ（ユーザーと設定）を返す。
// GET /seller/dashboard
func (h *DashboardHandler) Show(w http.ResponseWriter, r *http.Request) {
	// ガードを通過している時点でユーザーは必ず存在する
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var settings *SettingsResponse
	if h.settingsRepo != nil {
		found, err := h.settingsRepo.FindByUserID(r.Context(), user.ID)
		if err != nil {
			slog.Error("failed to load user settings",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
		if found != nil {
			settings = toSettingsResponse(found)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user":     user.DTO(),
		"settings": settings,
	})
}

func toSettingsResponse(s *model.Settings) *SettingsResponse {
	return &SettingsResponse{
		EthicsModalAccepted:  s.EthicsModalAccepted,
		NotificationsEnabled: s.NotificationsEnabled,
	}
}

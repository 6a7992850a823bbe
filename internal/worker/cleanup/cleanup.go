// Package cleanup はセッションと会話の自動削除ジョブを提供する。
// 期限切れセッションと、所有者を失った古い匿名会話を定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/sellergate/internal/repository"
)

// SessionsCleanedRecorder は削除件数の計測インターフェース。
type SessionsCleanedRecorder interface {
	RecordSessionsCleaned(count int)
}

// CleanupJob は期限切れセッションと孤児会話の自動削除ジョブ。
// 冪等な削除処理を保証し、定期実行のバッチジョブとして設計されている。
type CleanupJob struct {
	sessionRepo repository.SessionRepository
	convRepo    repository.ConversationRepository
	metrics     SessionsCleanedRecorder
	logger      *slog.Logger

	// OrphanRetention は匿名会話の保持期間（デフォルト: 30日）。
	// 生きたセッションを持たない会話がこの期間更新されなければ削除対象になる。
	OrphanRetention time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(
	sessionRepo repository.SessionRepository,
	convRepo repository.ConversationRepository,
	metrics SessionsCleanedRecorder,
	logger *slog.Logger,
) *CleanupJob {
	return &CleanupJob{
		sessionRepo:     sessionRepo,
		convRepo:        convRepo,
		metrics:         metrics,
		logger:          logger,
		OrphanRetention: 30 * 24 * time.Hour,
	}
}

// Run は期限切れセッションと孤児会話を1回削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessionsDeleted, err := j.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}
	j.metrics.RecordSessionsCleaned(int(sessionsDeleted))

	cutoff := start.Add(-j.OrphanRetention)
	convsDeleted, err := j.convRepo.DeleteOrphanedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("孤児会話の削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("孤児会話の削除に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("sessions_deleted", sessionsDeleted),
		slog.Int64("conversations_deleted", convsDeleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーでクリーンアップジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

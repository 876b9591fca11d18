// Package cleanup は期限切れ認証セッションの自動削除ジョブを提供する。
// 5分間隔のバッチで期限を過ぎたセッションを削除する。冪等であり、
// 削除対象がない場合でもエラーにならない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/cfverify/internal/metrics"
	"github.com/hitoshi/cfverify/internal/repository"
)

// CleanupJob は期限切れセッションの自動削除ジョブ。
type CleanupJob struct {
	sessions repository.SessionRepository
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 5分）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの実行間隔は5分。
func NewCleanupJob(sessions repository.SessionRepository, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		metrics:  collector,
		logger:   logger,
		Interval: 5 * time.Minute,
	}
}

// Start はクリーンアップジョブをティッカーで定期実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップジョブを開始しました",
		slog.Duration("interval", j.Interval),
	)

	if err := j.Run(ctx); err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("セッションクリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Run は期限切れセッションを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("期限切れセッションの削除に失敗しました: %w", err)
	}

	j.metrics.RecordSessionsCleaned(deleted)

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

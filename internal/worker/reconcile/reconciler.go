// Package reconcile はロール再同期のバックグラウンドジョブを提供する。
// 紐付け済みアカウントの現在ランクを外部APIから再取得し、
// 保存ランクとDiscordロールを上流の真実に合わせて同期する。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/cfverify/internal/codeforces"
	"github.com/hitoshi/cfverify/internal/metrics"
	"github.com/hitoshi/cfverify/internal/model"
	"github.com/hitoshi/cfverify/internal/repository"
	"github.com/hitoshi/cfverify/internal/roles"
)

// RankLookup はランク再取得のインターフェース。
// テスト時にモックに差し替え可能。
type RankLookup interface {
	UserInfo(ctx context.Context, handle string) (*codeforces.UserInfo, error)
}

// RankRoleAssigner はランクロール付け替えのインターフェース。
type RankRoleAssigner interface {
	AssignRankRole(ctx context.Context, cfg *model.GuildConfig, guildID, userID, rank string) (bool, error)
}

// GuildChecker はギルドの解決可否を確認するインターフェース。
type GuildChecker interface {
	GuildAvailable(guildID string) bool
}

// Config は再同期ジョブの設定パラメータ。
type Config struct {
	// Interval は再同期サイクルの実行間隔（デフォルト: 1時間）。
	Interval time.Duration
	// APIInterval はアカウントごとのランク取得の最小間隔（デフォルト: 500ms）。
	// クライアント側の共通レート制御に加えた、バッチ規模向けの追加の自己抑制。
	APIInterval time.Duration
}

// DefaultConfig はデフォルトの再同期ジョブ設定を返す。
func DefaultConfig() Config {
	return Config{
		Interval:    time.Hour,
		APIInterval: 500 * time.Millisecond,
	}
}

// AccountError は1アカウントの再同期失敗をコンテキスト付きで表す。
type AccountError struct {
	GuildID string
	UserID  string
	Handle  string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *AccountError) Error() string {
	return fmt.Sprintf("guild=%s user=%s handle=%s: %v", e.GuildID, e.UserID, e.Handle, e.Err)
}

// Result は1回の再同期サイクルの結果を表す。
type Result struct {
	Processed int
	Updated   int
	Skipped   int
	Errors    []AccountError
}

// Reconciler はロール再同期のバッチジョブ。
// 全紐付けアカウントを走査し、現在ランクとの差分があれば保存ランクと
// Discordロールを更新する。アカウント単位の失敗はバッチを中断しない。
// LinkedAccountを削除することはなく、ランクロール未設定のギルドには触れない。
type Reconciler struct {
	accounts repository.LinkedAccountRepository
	guilds   repository.GuildConfigRepository
	client   RankLookup
	assigner RankRoleAssigner
	checker  GuildChecker
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	config   Config

	// running は重複実行ガード。前回のサイクルが完了していない間に
	// 次のティックが発火した場合、そのティックはスキップされる。
	running sync.Mutex
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(
	accounts repository.LinkedAccountRepository,
	guilds repository.GuildConfigRepository,
	client RankLookup,
	assigner RankRoleAssigner,
	checker GuildChecker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Reconciler {
	return &Reconciler{
		accounts: accounts,
		guilds:   guilds,
		client:   client,
		assigner: assigner,
		checker:  checker,
		metrics:  collector,
		logger:   logger,
		config:   config,
	}
}

// Start は再同期ジョブをティッカーで定期実行する。
// 起動直後に1回実行し、以降はInterval間隔で実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("ロール再同期ジョブを開始しました",
		slog.Duration("interval", r.config.Interval),
		slog.Duration("api_interval", r.config.APIInterval),
	)

	// 起動直後に1回実行
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("ロール再同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("ロール再同期ジョブを停止しました")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("ロール再同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回の再同期サイクルを実行する。
// 前回のサイクルが実行中の場合はスキップし、(nil, nil)を返す。
func (r *Reconciler) RunOnce(ctx context.Context) (*Result, error) {
	if !r.running.TryLock() {
		r.logger.Warn("前回の再同期サイクルが完了していないため、このティックをスキップします")
		return nil, nil
	}
	defer r.running.Unlock()

	start := time.Now()

	accounts, err := r.accounts.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("紐付けアカウントの取得に失敗しました: %w", err)
	}

	// ギルドごとにグループ化する（ギルド設定の取得を1回で済ませる）
	byGuild := make(map[string][]*model.LinkedAccount)
	for _, account := range accounts {
		byGuild[account.GuildID] = append(byGuild[account.GuildID], account)
	}

	result := &Result{}

	for guildID, guildAccounts := range byGuild {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		cfg, err := r.guilds.Find(ctx, guildID)
		if err != nil {
			result.Errors = append(result.Errors, AccountError{
				GuildID: guildID,
				Err:     fmt.Errorf("ギルド設定の取得に失敗しました: %w", err),
			})
			r.metrics.RecordReconcileAccountError()
			result.Skipped += len(guildAccounts)
			continue
		}

		// ランクロール未設定、または解決不能なギルドは丸ごとスキップする
		if cfg == nil || len(cfg.RankRoles) == 0 {
			result.Skipped += len(guildAccounts)
			continue
		}
		if !r.checker.GuildAvailable(guildID) {
			r.logger.Warn("ギルドを解決できないためスキップします",
				slog.String("guild_id", guildID),
				slog.Int("account_count", len(guildAccounts)),
			)
			result.Skipped += len(guildAccounts)
			continue
		}

		for _, account := range guildAccounts {
			// ランク取得のたびに最小間隔を空ける
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(r.config.APIInterval):
			}

			result.Processed++

			updated, err := r.reconcileAccount(ctx, cfg, account)
			if updated {
				result.Updated++
			}
			if err != nil {
				result.Errors = append(result.Errors, AccountError{
					GuildID: account.GuildID,
					UserID:  account.UserID,
					Handle:  account.Handle,
					Err:     err,
				})
				r.metrics.RecordReconcileAccountError()
				r.logger.Error("アカウントの再同期に失敗しました",
					slog.String("guild_id", account.GuildID),
					slog.String("user_id", account.UserID),
					slog.String("handle", account.Handle),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	duration := time.Since(start)
	r.metrics.RecordReconcileCycle(duration)
	r.logger.Info("ロール再同期サイクルが完了しました",
		slog.Int("processed", result.Processed),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
		slog.Int("error_count", len(result.Errors)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return result, nil
}

// reconcileAccount は1アカウントのランクとロールを上流の現在値に同期する。
// 戻り値は保存ランクを更新したかどうかとエラー。
func (r *Reconciler) reconcileAccount(ctx context.Context, cfg *model.GuildConfig, account *model.LinkedAccount) (bool, error) {
	info, err := r.client.UserInfo(ctx, account.Handle)
	if err != nil {
		return false, fmt.Errorf("ランクの取得に失敗しました: %w", err)
	}

	newRank := model.NormalizeRank(info.Rank)
	if strings.EqualFold(account.Rank, newRank) {
		return false, nil
	}

	if err := r.accounts.UpdateRank(ctx, account.UserID, account.GuildID, account.Handle, newRank); err != nil {
		return false, fmt.Errorf("ランクの保存に失敗しました: %w", err)
	}

	r.logger.Info("ランクの変更を検出しました",
		slog.String("guild_id", account.GuildID),
		slog.String("handle", account.Handle),
		slog.String("old_rank", account.Rank),
		slog.String("new_rank", newRank),
	)

	if _, err := r.assigner.AssignRankRole(ctx, cfg, account.GuildID, account.UserID, newRank); err != nil {
		// ギルドから抜けたメンバーは非致命としてスキップする
		if errors.Is(err, roles.ErrMemberNotFound) {
			r.logger.Info("メンバーがギルドに存在しないためロール更新をスキップします",
				slog.String("guild_id", account.GuildID),
				slog.String("user_id", account.UserID),
			)
			return true, nil
		}
		return true, fmt.Errorf("ロールの付け替えに失敗しました: %w", err)
	}

	return true, nil
}

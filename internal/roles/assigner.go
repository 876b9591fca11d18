// Package roles はギルド設定に基づくDiscordロールの割り当てを提供する。
package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/cfverify/internal/model"
	"github.com/hitoshi/cfverify/internal/repository"
)

// ErrMemberNotFound はメンバーがギルドに存在しないことを示す。
// 呼び出し元はこれを致命的エラーと区別して扱う（再同期ではスキップ）。
var ErrMemberNotFound = errors.New("member not found in guild")

// Member はギルドメンバーの保持ロール情報を表す。
type Member struct {
	UserID  string
	RoleIDs []string
}

// HasRole はメンバーが指定ロールを保持しているかを返す。
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Manager はチャットプラットフォームのロール操作インターフェース。
// テスト時にモックに差し替え可能。
type Manager interface {
	// GuildAvailable はギルドがボットのキャッシュから解決可能かを返す。
	GuildAvailable(guildID string) bool
	// Member は指定メンバーを取得する。存在しない場合はErrMemberNotFoundを返す。
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	// RoleExists は指定ロールがギルドに存在するかを返す。
	RoleExists(ctx context.Context, guildID, roleID string) (bool, error)
	// AddRole はメンバーにロールを付与する。reasonは監査ログ用。
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	// RemoveRole はメンバーからロールを剥奪する。reasonは監査ログ用。
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
}

// AssignResult はロール割り当て試行の結果を表す。
// 認証済みロールとランクロールは独立に失敗し、互いをブロックしない。
type AssignResult struct {
	VerifiedRoleAssigned bool
	RankRoleAssigned     bool
	Errors               []error
}

// Assigner はギルド設定に基づいてロールを割り当てる。
type Assigner struct {
	manager Manager
	guilds  repository.GuildConfigRepository
	logger  *slog.Logger
}

// NewAssigner はAssignerの新しいインスタンスを生成する。
func NewAssigner(manager Manager, guilds repository.GuildConfigRepository, logger *slog.Logger) *Assigner {
	return &Assigner{
		manager: manager,
		guilds:  guilds,
		logger:  logger,
	}
}

// AssignVerificationRoles は認証完了時のロール割り当てを1回実行する。
// 認証済みロールの付与とランクロールの付け替えをそれぞれ独立に試行し、
// 一方の失敗はErrorsに記録されるだけで他方を妨げない。
func (a *Assigner) AssignVerificationRoles(ctx context.Context, guildID, userID, rank string) AssignResult {
	var result AssignResult

	cfg, err := a.guilds.Find(ctx, guildID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("ギルド設定の取得に失敗しました: %w", err))
		return result
	}
	if cfg == nil {
		a.logger.Info("ギルド設定がないためロール割り当てをスキップします",
			slog.String("guild_id", guildID),
		)
		return result
	}

	member, err := a.manager.Member(ctx, guildID, userID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("メンバーの取得に失敗しました: %w", err))
		return result
	}

	// 認証済みロールの付与
	assigned, err := a.assignVerifiedRole(ctx, cfg, member)
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	result.VerifiedRoleAssigned = assigned

	// ランクロールの付け替え
	if rank != "" {
		assigned, err := a.assignRankRoleToMember(ctx, cfg, member, rank)
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
		result.RankRoleAssigned = assigned
	}

	return result
}

// AssignRankRole はランクロールの付け替えを実行する。RoleReconcilerから使用される。
// メンバーが取得できない場合はErrMemberNotFoundを返す（呼び出し元が非致命として扱う）。
func (a *Assigner) AssignRankRole(ctx context.Context, cfg *model.GuildConfig, guildID, userID, rank string) (bool, error) {
	member, err := a.manager.Member(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return a.assignRankRoleToMember(ctx, cfg, member, rank)
}

// assignVerifiedRole は認証済みロールを冪等に付与する。
// すでに保持している場合はロール操作なしで成功を返す。
// ロールが未設定または削除済みの場合はログに記録してスキップする。
func (a *Assigner) assignVerifiedRole(ctx context.Context, cfg *model.GuildConfig, member *Member) (bool, error) {
	if cfg.VerifiedRoleID == "" {
		a.logger.Info("認証済みロールが未設定のためスキップします",
			slog.String("guild_id", cfg.GuildID),
		)
		return false, nil
	}

	if member.HasRole(cfg.VerifiedRoleID) {
		return true, nil
	}

	exists, err := a.manager.RoleExists(ctx, cfg.GuildID, cfg.VerifiedRoleID)
	if err != nil {
		return false, fmt.Errorf("認証済みロールの確認に失敗しました: %w", err)
	}
	if !exists {
		a.logger.Warn("設定された認証済みロールが存在しないためスキップします",
			slog.String("guild_id", cfg.GuildID),
			slog.String("role_id", cfg.VerifiedRoleID),
		)
		return false, nil
	}

	if err := a.manager.AddRole(ctx, cfg.GuildID, member.UserID, cfg.VerifiedRoleID, "Codeforcesアカウント認証"); err != nil {
		return false, fmt.Errorf("認証済みロールの付与に失敗しました: %w", err)
	}
	return true, nil
}

// assignRankRoleToMember はランクに対応するロールを付与し、設定済みランクロール集合の
// うち他のロールを剥奪する（メンバーが保持するランクロールは常に高々1つ）。
func (a *Assigner) assignRankRoleToMember(ctx context.Context, cfg *model.GuildConfig, member *Member, rank string) (bool, error) {
	targetRoleID, ok := cfg.RankRoleFor(rank)
	if !ok {
		a.logger.Info("ランクに対応するロールが未設定のためスキップします",
			slog.String("guild_id", cfg.GuildID),
			slog.String("rank", rank),
		)
		return false, nil
	}

	for mappedRank, roleID := range cfg.RankRoles {
		if roleID == targetRoleID || !member.HasRole(roleID) {
			continue
		}
		reason := fmt.Sprintf("ランク変更によるロール付け替え (%s)", mappedRank)
		if err := a.manager.RemoveRole(ctx, cfg.GuildID, member.UserID, roleID, reason); err != nil {
			return false, fmt.Errorf("旧ランクロールの剥奪に失敗しました: %w", err)
		}
	}

	if !member.HasRole(targetRoleID) {
		reason := fmt.Sprintf("Codeforcesランク: %s", rank)
		if err := a.manager.AddRole(ctx, cfg.GuildID, member.UserID, targetRoleID, reason); err != nil {
			return false, fmt.Errorf("ランクロールの付与に失敗しました: %w", err)
		}
	}

	return true, nil
}

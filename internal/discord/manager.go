// Package discord はチャットプラットフォームSDKとの接続層を提供する。
// スラッシュコマンドの受け付けとロール操作の実装を含む薄いグルーであり、
// ドメインロジックは持たない。
package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/cfverify/internal/roles"
)

// RoleManager はdiscordgoセッションを使ったroles.Managerの実装。
type RoleManager struct {
	session *discordgo.Session
}

// NewRoleManager はRoleManagerを生成する。
func NewRoleManager(session *discordgo.Session) *RoleManager {
	return &RoleManager{session: session}
}

// GuildAvailable はギルドがボットの状態キャッシュから解決可能かを返す。
func (m *RoleManager) GuildAvailable(guildID string) bool {
	guild, err := m.session.State.Guild(guildID)
	return err == nil && guild != nil
}

// Member は指定メンバーを取得する。ギルドに存在しない場合はroles.ErrMemberNotFoundを返す。
func (m *RoleManager) Member(ctx context.Context, guildID, userID string) (*roles.Member, error) {
	member, err := m.session.GuildMember(guildID, userID)
	if err != nil {
		if isUnknownMember(err) {
			return nil, roles.ErrMemberNotFound
		}
		return nil, err
	}
	return &roles.Member{
		UserID:  userID,
		RoleIDs: member.Roles,
	}, nil
}

// RoleExists は指定ロールがギルドに存在するかを返す。
func (m *RoleManager) RoleExists(ctx context.Context, guildID, roleID string) (bool, error) {
	guildRoles, err := m.session.GuildRoles(guildID)
	if err != nil {
		return false, err
	}
	for _, role := range guildRoles {
		if role.ID == roleID {
			return true, nil
		}
	}
	return false, nil
}

// AddRole はメンバーにロールを付与する。
func (m *RoleManager) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return m.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithAuditLogReason(reason))
}

// RemoveRole はメンバーからロールを剥奪する。
func (m *RoleManager) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return m.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithAuditLogReason(reason))
}

// isUnknownMember はDiscord APIのUnknown Memberエラーかどうかを判定する。
func isUnknownMember(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeUnknownMember
	}
	return false
}

// compile-time interface check
var _ roles.Manager = (*RoleManager)(nil)

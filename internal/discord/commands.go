package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/cfverify/internal/model"
)

const (
	commandVerify      = "verify"
	commandVerifyCheck = "verifycheck"
	commandVerifySetup = "verifysetup"

	// commandTimeout はコマンド処理全体の上限ではなく、外部呼び出しを含む
	// ハンドラーのコンテキスト寿命として使用する。
	commandTimeout = 60 * time.Second
)

// commandDefinitions は登録するスラッシュコマンドの定義を返す。
func commandDefinitions() []*discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)

	rankChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(model.CanonicalRanks))
	for _, rank := range model.CanonicalRanks {
		rankChoices = append(rankChoices, &discordgo.ApplicationCommandOptionChoice{
			Name:  rank,
			Value: rank,
		})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        commandVerify,
			Description: "Codeforcesアカウントの認証を開始します",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "handle",
					Description: "Codeforcesハンドル",
					Required:    true,
				},
			},
		},
		{
			Name:        commandVerifyCheck,
			Description: "チャレンジ提出を確認して認証を完了します",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "handle",
					Description: "認証中のCodeforcesハンドル",
					Required:    true,
				},
			},
		},
		{
			Name:                     commandVerifySetup,
			Description:              "認証ロールとランクロールを設定します（管理者用）",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "verifiedrole",
					Description: "認証済みメンバーに付与するロールを設定します",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "認証済みロール",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "rankrole",
					Description: "ランクに対応するロールを設定します",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "rank",
							Description: "Codeforcesランク",
							Required:    true,
							Choices:     rankChoices,
						},
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "ランクロール",
							Required:    true,
						},
					},
				},
			},
		},
	}
}

// handleVerifyStart は/verifyコマンドを処理する。
func (b *Bot) handleVerifyStart(s *discordgo.Session, i *discordgo.InteractionCreate) {
	handle := stringOption(i.ApplicationCommandData().Options, "handle")

	b.deferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	session, err := b.verify.Start(ctx, i.Member.User.ID, i.GuildID, handle)
	if err != nil {
		b.editReply(s, i, userFacingMessage(err))
		return
	}

	b.editReply(s, i, fmt.Sprintf(
		"認証チャレンジを発行しました。\n問題: **%s. %s**\n%s\n\nこの問題に**コンパイルエラーになるコード**を提出してから /verifycheck を実行してください。\n有効期限: <t:%d:R>",
		session.ProblemID(), session.ProblemName, session.ProblemURL, session.ExpiresAt.Unix(),
	))
}

// handleVerifyCheck は/verifycheckコマンドを処理する。
func (b *Bot) handleVerifyCheck(s *discordgo.Session, i *discordgo.InteractionCreate) {
	handle := stringOption(i.ApplicationCommandData().Options, "handle")

	b.deferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	result, err := b.verify.Complete(ctx, i.Member.User.ID, i.GuildID, handle, time.Now())
	if err != nil {
		b.editReply(s, i, userFacingMessage(err))
		return
	}

	b.editReply(s, i, result.Outcome.Message)
}

// handleVerifySetup は/verifysetupコマンドを処理する。
func (b *Bot) handleVerifySetup(s *discordgo.Session, i *discordgo.InteractionCreate) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return
	}
	sub := options[0]

	b.deferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch sub.Name {
	case "verifiedrole":
		role := roleOption(s, i.GuildID, sub.Options, "role")
		if role == nil {
			b.editReply(s, i, "ロールを解決できませんでした。")
			return
		}
		if err := b.guilds.SetVerifiedRole(ctx, i.GuildID, role.ID); err != nil {
			b.editReply(s, i, userFacingMessage(err))
			return
		}
		b.editReply(s, i, fmt.Sprintf("認証済みロールを **%s** に設定しました。", role.Name))

	case "rankrole":
		rank := stringOption(sub.Options, "rank")
		role := roleOption(s, i.GuildID, sub.Options, "role")
		if role == nil {
			b.editReply(s, i, "ロールを解決できませんでした。")
			return
		}
		if err := b.guilds.SetRankRole(ctx, i.GuildID, rank, role.ID); err != nil {
			b.editReply(s, i, userFacingMessage(err))
			return
		}
		b.editReply(s, i, fmt.Sprintf("ランク **%s** のロールを **%s** に設定しました。", rank, role.Name))
	}
}

// deferReply はエフェメラルな遅延応答を開始する。
// 外部API呼び出しを含む処理はDiscordの3秒応答期限に収まらないため、
// すべてのコマンドで遅延応答を使用する。
func (b *Bot) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.logger.Error("遅延応答の送信に失敗しました", slog.String("error", err.Error()))
	}
}

// editReply は遅延応答の内容を更新する。
func (b *Bot) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	if err != nil {
		b.logger.Error("応答の更新に失敗しました", slog.String("error", err.Error()))
	}
}

// userFacingMessage はエラーをユーザー提示用の文字列に変換する。
// APIErrorの場合はメッセージと対処方法を提示し、それ以外は汎用メッセージに丸める。
func userFacingMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message + "\n" + apiErr.Action
	}
	return "処理中にエラーが発生しました。しばらく待ってから再度お試しください。\n詳細: " + err.Error()
}

// stringOption は指定名の文字列オプションの値を返す。
func stringOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}

// roleOption は指定名のロールオプションの値を返す。
func roleOption(s *discordgo.Session, guildID string, options []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.Role {
	for _, opt := range options {
		if opt.Name == name {
			return opt.RoleValue(s, guildID)
		}
	}
	return nil
}

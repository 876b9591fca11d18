package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/cfverify/internal/model"
	"github.com/hitoshi/cfverify/internal/repository"
	"github.com/hitoshi/cfverify/internal/verify"
)

// VerificationService は認証フローのインターフェース。
// テスト時にモックに差し替え可能。
type VerificationService interface {
	Start(ctx context.Context, userID, guildID, handle string) (*model.VerificationSession, error)
	Complete(ctx context.Context, userID, guildID, handle string, now time.Time) (*verify.CompletionResult, error)
}

// Bot はDiscordボットの接続とコマンドディスパッチを管理する。
type Bot struct {
	session *discordgo.Session
	verify  VerificationService
	guilds  repository.GuildConfigRepository
	logger  *slog.Logger
}

// NewBot はBotを生成する。sessionは未接続のdiscordgoセッションを受け取る。
func NewBot(
	session *discordgo.Session,
	verifyService VerificationService,
	guilds repository.GuildConfigRepository,
	logger *slog.Logger,
) *Bot {
	return &Bot{
		session: session,
		verify:  verifyService,
		guilds:  guilds,
		logger:  logger,
	}
}

// Open はゲートウェイ接続を確立し、スラッシュコマンドを登録する。
func (b *Bot) Open() error {
	b.session.Identify.Intents = discordgo.IntentsGuilds

	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("Discordゲートウェイに接続しました",
			slog.String("bot_user", r.User.Username),
			slog.Int("guild_count", len(r.Guilds)),
		)
	})
	b.session.AddHandler(b.handleInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	if _, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", commandDefinitions()); err != nil {
		return fmt.Errorf("failed to register slash commands: %w", err)
	}

	b.logger.Info("スラッシュコマンドを登録しました",
		slog.Int("command_count", len(commandDefinitions())),
	)

	return nil
}

// Close はゲートウェイ接続を閉じる。
func (b *Bot) Close() error {
	return b.session.Close()
}

// handleInteraction はスラッシュコマンドのインタラクションをディスパッチする。
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" || i.Member == nil {
		return // DMからの呼び出しは対象外
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case commandVerify:
		b.handleVerifyStart(s, i)
	case commandVerifyCheck:
		b.handleVerifyCheck(s, i)
	case commandVerifySetup:
		b.handleVerifySetup(s, i)
	}
}

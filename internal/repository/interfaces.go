// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/cfverify/internal/model"
)

// SessionRepository は認証セッションの永続化インターフェース。
type SessionRepository interface {
	// Replace は同一複合キーの既存セッションを削除してから新しいセッションを挿入する。
	// 削除と挿入は同一トランザクションで実行され、(user, guild, handle)ごとに
	// 有効なセッションが高々1件であることを保証する。
	Replace(ctx context.Context, session *model.VerificationSession) error

	// FindLive は指定キーの有効な（期限切れでない）セッションを取得する。
	// 見つからない場合はnilを返す。
	FindLive(ctx context.Context, userID, guildID, handle string, now time.Time) (*model.VerificationSession, error)

	// Delete は指定キーのセッションを削除する。存在しない場合もエラーにならない。
	Delete(ctx context.Context, userID, guildID, handle string) error

	// DeleteExpired は期限切れセッションをすべて削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// LinkedAccountRepository は認証済みアカウント紐付けの永続化インターフェース。
type LinkedAccountRepository interface {
	// Upsert は複合キー(user, guild, handle)でアカウント紐付けをUPSERTする。
	Upsert(ctx context.Context, account *model.LinkedAccount) error

	// ListAll は全ギルドの紐付け済みアカウントを取得する。
	ListAll(ctx context.Context) ([]*model.LinkedAccount, error)

	// UpdateRank は指定キーのアカウントの保存ランクを更新する。
	// rankが空文字列の場合はNULLとして保存する。
	UpdateRank(ctx context.Context, userID, guildID, handle, rank string) error

	// IsLinkedByOther は指定ハンドル（大文字小文字区別なし）が同一ギルド内で
	// excludeUserID以外のユーザーに認証済みとして紐付けられているかを返す。
	IsLinkedByOther(ctx context.Context, guildID, handle, excludeUserID string) (bool, error)
}

// GuildConfigRepository はギルド設定の永続化インターフェース。
type GuildConfigRepository interface {
	// Find は指定ギルドの設定を取得する。未設定の場合はnilを返す。
	Find(ctx context.Context, guildID string) (*model.GuildConfig, error)

	// SetVerifiedRole は認証済みロールIDを設定する（ギルド設定がなければ作成する）。
	SetVerifiedRole(ctx context.Context, guildID, roleID string) error

	// SetRankRole はランク→ロールのマッピングを1件設定する。
	// rankは公式ランク集合に含まれない場合エラーを返す（書き込み時検証）。
	SetRankRole(ctx context.Context, guildID, rank, roleID string) error
}

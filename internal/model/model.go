// Package model はドメインモデルを定義する。
package model

import (
	"strconv"
	"strings"
	"time"
)

// VerificationSession は進行中の所有権チャレンジを表す。
// (DiscordユーザーID, ギルドID, 正規化ハンドル) の複合キーで一意であり、
// 同一キーの新しいセッションは古いセッションを置き換える。
// 作成後に変更されることはなく、消費・期限切れ・置き換えのいずれかで削除される。
type VerificationSession struct {
	ID            string
	UserID        string // DiscordユーザーID
	GuildID       string // DiscordギルドID
	Handle        string // 申告されたCodeforcesハンドル（表示用の元表記）
	ContestID     int
	ProblemIndex  string
	ProblemName   string
	ProblemURL    string
	ProblemRating int
	StartedAt     time.Time // 有効な証明提出の下限時刻
	ExpiresAt     time.Time // StartedAt + 認証タイムアウト
}

// ProblemID はチャレンジ問題の正規ID（例: "1500A"）を返す。
func (s *VerificationSession) ProblemID() string {
	return problemID(s.ContestID, s.ProblemIndex)
}

// Expired はセッションがnow時点で期限切れかどうかを返す。
func (s *VerificationSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Remaining はnow時点での残り有効時間を返す。期限切れの場合は0を返す。
func (s *VerificationSession) Remaining(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// LinkedAccount は認証済みのDiscordユーザーとCodeforcesハンドルの紐付けを表す。
// (DiscordユーザーID, ギルドID, 正規化ハンドル) の複合キーで一意。
// 作成後に変更されるのはRankのみ（RoleReconcilerが更新する）。
type LinkedAccount struct {
	ID         string
	UserID     string
	GuildID    string
	Handle     string // Codeforces APIが返す正規表記
	Verified   bool
	VerifiedAt time.Time
	Rank       string // 小文字正規化済みランクラベル。未解決の場合は空文字列
}

// GuildConfig はギルドごとのロール割り当て設定を表す。
// RankRolesは設定済みランクのみを含む疎なマッピング。
type GuildConfig struct {
	GuildID        string
	VerifiedRoleID string            // 未設定の場合は空文字列
	RankRoles      map[string]string // 正規化ランクラベル → ロールID
}

// RankRoleFor は正規化済みランクに対応するロールIDを返す。
// マッピングが存在しない場合は空文字列とfalseを返す。
func (c *GuildConfig) RankRoleFor(rank string) (string, bool) {
	roleID, ok := c.RankRoles[NormalizeRank(rank)]
	return roleID, ok
}

// CanonicalRanks はCodeforcesの公式ランクラベル（小文字正規化済み）の閉集合。
// GuildConfigのランク→ロールマッピングのキーは書き込み時にこの集合で検証される。
var CanonicalRanks = []string{
	"newbie",
	"pupil",
	"specialist",
	"expert",
	"candidate master",
	"master",
	"international master",
	"grandmaster",
	"international grandmaster",
	"legendary grandmaster",
}

// IsCanonicalRank は正規化済みランクラベルが公式ランク集合に含まれるかを返す。
func IsCanonicalRank(rank string) bool {
	for _, r := range CanonicalRanks {
		if r == rank {
			return true
		}
	}
	return false
}

// NormalizeRank はランクラベルを保存・比較用に正規化する（小文字化と前後空白除去）。
func NormalizeRank(rank string) string {
	return strings.ToLower(strings.TrimSpace(rank))
}

// NormalizeHandle はCodeforcesハンドルを複合キー用に正規化する。
// ハンドルは大文字小文字を区別しないため小文字化する。
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

func problemID(contestID int, index string) string {
	return strconv.Itoa(contestID) + strings.ToUpper(index)
}

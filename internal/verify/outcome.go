// Package verify はCodeforcesアカウントの所有権認証を提供する。
// チャレンジ発行、提出履歴に基づく評価、認証完了時のアカウント紐付けを含む。
package verify

import "github.com/hitoshi/cfverify/internal/codeforces"

// OutcomeKind は認証評価の結果種別を表す。
type OutcomeKind int

const (
	// OutcomeVerified は所有権の証明が確認されたことを示す。セッションは消費される。
	OutcomeVerified OutcomeKind = iota
	// OutcomeNotYetProven は証明がまだ確認されていないことを示す。
	// セッションは自然期限まで存続し、再評価できる。
	OutcomeNotYetProven
	// OutcomeExpired はセッションが期限切れであることを示す。
	// セッションは削除済みであり、再発行が必要。
	OutcomeExpired
)

// String はメトリクスラベル用の結果名を返す。
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeVerified:
		return "verified"
	case OutcomeNotYetProven:
		return "not_yet_proven"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Outcome は1回の認証評価の結果を表す。
// Messageは必須で、ユーザーにそのまま提示できる説明を持つ。
type Outcome struct {
	Kind       OutcomeKind
	Message    string
	Submission *codeforces.Submission // 評価の根拠となった提出（該当がある場合のみ）
}

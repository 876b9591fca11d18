package verify

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/hitoshi/cfverify/internal/codeforces"
	"github.com/hitoshi/cfverify/internal/model"
)

// ProblemSource はチャレンジ問題プールのインターフェース。
// テスト時にモックに差し替え可能。
type ProblemSource interface {
	Problems(ctx context.Context) ([]codeforces.Problem, error)
}

// Challenge は発行されたチャレンジ問題を表す。
type Challenge struct {
	ContestID int
	Index     string
	ProblemID string // 正規ID（例: "1500A"）
	Name      string
	URL       string
	Rating    int
}

// Issuer は問題プールからチャレンジ問題を発行する。
// 発行は認証状態に副作用を持たない。
type Issuer struct {
	pool   ProblemSource
	logger *slog.Logger
	intN   func(n int) int // テスト用に乱数を差し替え可能
}

// NewIssuer はIssuerの新しいインスタンスを生成する。
func NewIssuer(pool ProblemSource, logger *slog.Logger) *Issuer {
	return &Issuer{
		pool:   pool,
		logger: logger,
		intN:   rand.IntN,
	}
}

// Issue は難易度帯内の問題から一様ランダムに1問を選んでチャレンジを発行する。
// プールが空または取得不能な場合はPROBLEM_POOL_UNAVAILABLEコードのエラーを返し、
// 既定の問題で代替することはない。
func (i *Issuer) Issue(ctx context.Context) (*Challenge, error) {
	problems, err := i.pool.Problems(ctx)
	if err != nil {
		return nil, model.NewProblemPoolUnavailableError(err.Error())
	}
	if len(problems) == 0 {
		return nil, model.NewProblemPoolUnavailableError("難易度帯内の問題がありません")
	}

	p := problems[i.intN(len(problems))]

	i.logger.Info("チャレンジ問題を発行しました",
		slog.String("problem_id", p.ID()),
		slog.Int("rating", p.Rating),
	)

	return &Challenge{
		ContestID: p.ContestID,
		Index:     p.Index,
		ProblemID: p.ID(),
		Name:      p.Name,
		URL:       p.URL(),
		Rating:    p.Rating,
	}, nil
}

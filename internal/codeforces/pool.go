package codeforces

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/cfverify/internal/metrics"
)

const (
	// MinProblemRating はチャレンジ問題の難易度下限（両端含む）。
	MinProblemRating = 1500
	// MaxProblemRating はチャレンジ問題の難易度上限（両端含む）。
	MaxProblemRating = 2500
	// poolTTL は問題プールキャッシュの有効期間。
	poolTTL = time.Hour
)

// poolState は問題プールキャッシュの状態を表す。
// 「失効時は古いキャッシュを提供し、何もなければ取得失敗を伝播する」という
// 方針をこの状態の明示的な関数として実装する。
type poolState int

const (
	// poolStateEmpty はキャッシュが一度も取得されていない状態。
	poolStateEmpty poolState = iota
	// poolStateFresh はキャッシュがTTL内で有効な状態。
	poolStateFresh
	// poolStateStale はキャッシュがTTLを超過している状態。
	poolStateStale
)

// ProblemFetcher は問題カタログ取得のインターフェース。
// テスト時にモックに差し替え可能。
type ProblemFetcher interface {
	ProblemsetProblems(ctx context.Context) ([]Problem, error)
}

// ProblemPool は難易度帯[1500,2500]に絞った問題の時限キャッシュ。
// TTL（1時間）超過または未取得の場合に再取得し、再取得に失敗しても
// 過去のスナップショットがあればそれを提供する（鮮度より可用性を優先）。
type ProblemPool struct {
	client  ProblemFetcher
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	ttl     time.Duration

	mu        sync.Mutex
	problems  []Problem
	fetchedAt time.Time
}

// NewProblemPool はProblemPoolの新しいインスタンスを生成する。
func NewProblemPool(client ProblemFetcher, collector metrics.MetricsCollector, logger *slog.Logger) *ProblemPool {
	return &ProblemPool{
		client:  client,
		logger:  logger,
		metrics: collector,
		ttl:     poolTTL,
	}
}

// Problems は難易度帯内の問題一覧を返す。
// キャッシュが有効な場合はキャッシュを返す。失効・未取得の場合は再取得し、
// 再取得失敗時は古いキャッシュがあればそれを返し、なければエラーを伝播する。
func (p *ProblemPool) Problems(ctx context.Context) ([]Problem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.state(now) == poolStateFresh {
		return p.problems, nil
	}

	fetched, err := p.client.ProblemsetProblems(ctx)
	if err != nil {
		p.metrics.RecordPoolRefresh(false)
		if p.state(now) == poolStateStale {
			p.logger.Warn("問題プールの再取得に失敗したため、古いキャッシュを使用します",
				slog.String("error", err.Error()),
				slog.Time("fetched_at", p.fetchedAt),
				slog.Int("cached_count", len(p.problems)),
			)
			return p.problems, nil
		}
		return nil, fmt.Errorf("問題プールの取得に失敗しました: %w", err)
	}

	filtered := filterByRating(fetched)
	p.problems = filtered
	p.fetchedAt = now
	p.metrics.RecordPoolRefresh(true)

	p.logger.Info("問題プールキャッシュを更新しました",
		slog.Int("total_count", len(fetched)),
		slog.Int("pool_count", len(filtered)),
	)

	return filtered, nil
}

// state はnow時点のキャッシュ状態を返す。
func (p *ProblemPool) state(now time.Time) poolState {
	if p.problems == nil {
		return poolStateEmpty
	}
	if now.Sub(p.fetchedAt) > p.ttl {
		return poolStateStale
	}
	return poolStateFresh
}

// filterByRating は難易度帯[MinProblemRating, MaxProblemRating]内の問題のみを抽出する。
// 難易度未設定（Rating=0）の問題は除外される。
func filterByRating(problems []Problem) []Problem {
	filtered := make([]Problem, 0, len(problems))
	for _, p := range problems {
		if p.Rating >= MinProblemRating && p.Rating <= MaxProblemRating {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

package verify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hitoshi/cfverify/internal/codeforces"
	"github.com/hitoshi/cfverify/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// fakePool はテスト用のProblemSource実装。
type fakePool struct {
	problems []codeforces.Problem
	err      error
}

func (p *fakePool) Problems(ctx context.Context) ([]codeforces.Problem, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.problems, nil
}

func TestIssuer_Issue_ReturnsChallenge(t *testing.T) {
	var buf bytes.Buffer
	pool := &fakePool{
		problems: []codeforces.Problem{
			{ContestID: 1500, Index: "a", Name: "Going Home", Rating: 1600},
		},
	}
	issuer := NewIssuer(pool, newTestLogger(&buf))

	challenge, err := issuer.Issue(context.Background())
	if err != nil {
		t.Fatalf("Issue がエラーを返した: %v", err)
	}

	if challenge.ProblemID != "1500A" {
		t.Errorf("ProblemID = %s, want 1500A (インデックスは大文字化される)", challenge.ProblemID)
	}
	if challenge.URL != "https://codeforces.com/problemset/problem/1500/A" {
		t.Errorf("URL = %s が問題ページを指していない", challenge.URL)
	}
	if challenge.Rating != 1600 {
		t.Errorf("Rating = %d, want 1600", challenge.Rating)
	}
}

func TestIssuer_Issue_PicksWithInjectedRandom(t *testing.T) {
	var buf bytes.Buffer
	pool := &fakePool{
		problems: []codeforces.Problem{
			{ContestID: 1, Index: "A", Rating: 1500},
			{ContestID: 2, Index: "B", Rating: 1700},
			{ContestID: 3, Index: "C", Rating: 1900},
		},
	}
	issuer := NewIssuer(pool, newTestLogger(&buf))
	issuer.intN = func(n int) int {
		if n != 3 {
			t.Errorf("intN の引数 = %d, want 3 (プール全体から選ぶ)", n)
		}
		return 1
	}

	challenge, err := issuer.Issue(context.Background())
	if err != nil {
		t.Fatalf("Issue がエラーを返した: %v", err)
	}
	if challenge.ProblemID != "2B" {
		t.Errorf("ProblemID = %s, want 2B", challenge.ProblemID)
	}
}

func TestIssuer_Issue_PoolError_ReturnsPoolUnavailable(t *testing.T) {
	var buf bytes.Buffer
	pool := &fakePool{err: errors.New("connection refused")}
	issuer := NewIssuer(pool, newTestLogger(&buf))

	_, err := issuer.Issue(context.Background())
	if !model.HasCode(err, model.ErrCodeProblemPoolUnavailable) {
		t.Fatalf("エラーコード PROBLEM_POOL_UNAVAILABLE を期待したが: %v", err)
	}
}

func TestIssuer_Issue_EmptyPool_ReturnsPoolUnavailable(t *testing.T) {
	var buf bytes.Buffer
	pool := &fakePool{problems: []codeforces.Problem{}}
	issuer := NewIssuer(pool, newTestLogger(&buf))

	// 既定の問題で代替せず、エラーを返す
	_, err := issuer.Issue(context.Background())
	if !model.HasCode(err, model.ErrCodeProblemPoolUnavailable) {
		t.Fatalf("エラーコード PROBLEM_POOL_UNAVAILABLE を期待したが: %v", err)
	}
}

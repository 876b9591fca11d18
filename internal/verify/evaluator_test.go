package verify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/cfverify/internal/codeforces"
	"github.com/hitoshi/cfverify/internal/model"
	"github.com/hitoshi/cfverify/internal/repository"
)

// fakeSessionRepo はテスト用のインメモリSessionRepository実装。
type fakeSessionRepo struct {
	sessions   map[string]*model.VerificationSession
	replaceErr error
	deleteErr  error
	deleted    []string
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*model.VerificationSession)}
}

func sessionKey(userID, guildID, handle string) string {
	return userID + "|" + guildID + "|" + model.NormalizeHandle(handle)
}

func (r *fakeSessionRepo) Replace(ctx context.Context, session *model.VerificationSession) error {
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.sessions[sessionKey(session.UserID, session.GuildID, session.Handle)] = session
	return nil
}

func (r *fakeSessionRepo) FindLive(ctx context.Context, userID, guildID, handle string, now time.Time) (*model.VerificationSession, error) {
	s, ok := r.sessions[sessionKey(userID, guildID, handle)]
	if !ok || now.After(s.ExpiresAt) {
		return nil, nil
	}
	return s, nil
}

func (r *fakeSessionRepo) Delete(ctx context.Context, userID, guildID, handle string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	key := sessionKey(userID, guildID, handle)
	delete(r.sessions, key)
	r.deleted = append(r.deleted, key)
	return nil
}

func (r *fakeSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for key, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.sessions, key)
			count++
		}
	}
	return count, nil
}

var _ repository.SessionRepository = (*fakeSessionRepo)(nil)

// fakeSubmissions はテスト用のSubmissionFetcher実装。
type fakeSubmissions struct {
	submissions []codeforces.Submission
	err         error
}

func (f *fakeSubmissions) UserStatus(ctx context.Context, handle string, count int) ([]codeforces.Submission, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.submissions, nil
}

// testSession は評価テスト用のセッションを生成する。
// startedAtから10分間有効。
func testSession(startedAt time.Time) *model.VerificationSession {
	return &model.VerificationSession{
		ID:           "session-1",
		UserID:       "user-1",
		GuildID:      "guild-1",
		Handle:       "Tourist",
		ContestID:    1500,
		ProblemIndex: "A",
		ProblemName:  "Going Home",
		ProblemURL:   "https://codeforces.com/problemset/problem/1500/A",
		StartedAt:    startedAt,
		ExpiresAt:    startedAt.Add(10 * time.Minute),
	}
}

func newTestEvaluator(fetcher *fakeSubmissions, sessions *fakeSessionRepo) *Evaluator {
	var buf bytes.Buffer
	return NewEvaluator(fetcher, sessions, newTestLogger(&buf))
}

func TestEvaluator_Evaluate_CompilationErrorInWindow_ReturnsVerified(t *testing.T) {
	startedAt := time.Now().Add(-3 * time.Minute)
	session := testSession(startedAt)

	sessions := newFakeSessionRepo()
	fetcher := &fakeSubmissions{
		submissions: []codeforces.Submission{
			{
				ID:                  100,
				ContestID:           1500,
				CreationTimeSeconds: startedAt.Add(2 * time.Minute).Unix(),
				Problem:             codeforces.Problem{ContestID: 1500, Index: "A"},
				Verdict:             "COMPILATION_ERROR",
			},
		},
	}

	outcome, err := newTestEvaluator(fetcher, sessions).Evaluate(context.Background(), session, time.Now())
	if err != nil {
		t.Fatalf("Evaluate がエラーを返した: %v", err)
	}
	if outcome.Kind != OutcomeVerified {
		t.Fatalf("Kind = %s, want verified", outcome.Kind)
	}
	if outcome.Submission == nil || outcome.Submission.ID != 100 {
		t.Error("根拠となった提出がOutcomeに含まれるべき")
	}
}

func TestEvaluator_Evaluate_SubmissionBeforeWindow_NotVerified(t *testing.T) {
	startedAt := time.Now().Add(-3 * time.Minute)
	session := testSession(startedAt)

	sessions := newFakeSessionRepo()
	// チャレンジ発行前の古いコンパイルエラー提出は証明として再利用できない
	fetcher := &fakeSubmissions{
		submissions: []codeforces.Submission{
			{
				ID:                  99,
				ContestID:           1500,
				CreationTimeSeconds: startedAt.Add(-time.Hour).Unix(),
				Problem:             codeforces.Problem{ContestID: 1500, Index: "A"},
				Verdict:             "COMPILATION_ERROR",
			},
		},
	}

	outcome, err := newTestEvaluator(fetcher, sessions).Evaluate(context.Background(), session, time.Now())
	if err != nil {
		t.Fatalf("Evaluate がエラーを返した: %v", err)
	}
	if outcome.Kind != OutcomeNotYetProven {
		t.Fatalf("Kind = %s, want not_yet_proven", outcome.Kind)
	}
}

func TestEvaluator_Evaluate_MismatchedVerdict_NamesVerdict(t *testing.T) {
	startedAt := time.Now().Add(-3 * time.Minute)
	session := testSession(startedAt)

	sessions := newFakeSessionRepo()
	fetcher := &fakeSubmissions{
		submissions: []codeforces.Submission{
			{
				ID:                  101,
				ContestID:           1500,
				CreationTimeSeconds: startedAt.Add(time.Minute).Unix(),
				Problem:             codeforces.Problem{ContestID: 1500, Index: "A"},
				Verdict:             "WRONG_ANSWER",
			},
		},
	}

	outcome, err := newTestEvaluator(fetcher, sessions).Evaluate(context.Background(), session, time.Now())
	if err != nil {
		t.Fatalf("Evaluate がエラーを返した: %v", err)
	}
	if outcome.Kind != OutcomeNotYetProven {
		t.Fatalf("Kind = %s, want not_yet_proven", outcome.Kind)
	}
	if !strings.Contains(outcome.Message, "WRONG_ANSWER") {
		t.Errorf("メッセージに不一致のジャッジ結果名が含まれるべき: %s", outcome.Message)
	}
}

func TestEvaluator_Evaluate_NoSubmission_ReportsRemainingTime(t *testing.T) {
	now := time.Now()
	session := testSession(now.Add(-3 * time.Minute))

	sessions := newFakeSessionRepo()
	fetcher := &fakeSubmissions{}

	outcome, err := newTestEvaluator(fetcher, sessions).Evaluate(context.Background(), session, now)
	if err != nil {
		t.Fatalf("Evaluate がエラーを返した: %v", err)
	}
	if outcome.Kind != OutcomeNotYetProven {
		t.Fatalf("Kind = %s, want not_yet_proven", outcome.Kind)
	}
	if !strings.Contains(outcome.Message, "7分0秒") {
		t.Errorf("メッセージに残り時間「7分0秒」が含まれるべき: %s", outcome.Message)
	}
	if !strings.Contains(outcome.Message, session.ProblemURL) {
		t.Errorf("メッセージに問題URLが含まれるべき: %s", outcome.Message)
	}
}

func TestEvaluator_Evaluate_IndexComparedCaseInsensitively(t *testing.T) {
	startedAt := time.Now().Add(-3 * time.Minute)
	session := testSession(startedAt)

	sessions := newFakeSessionRepo()
	// 上流が小文字インデックスを返しても一致する
	fetcher := &fakeSubmissions{
		submissions: []codeforces.Submission{
			{
				ID:                  102,
				ContestID:           1500,
				CreationTimeSeconds: startedAt.Add(time.Minute).Unix(),
				Problem:             codeforces.Problem{ContestID: 1500, Index: "a"},
				Verdict:             "COMPILATION_ERROR",
			},
		},
	}

	outcome, err := newTestEvaluator(fetcher, sessions).Evaluate(context.Background(), session, time.Now())
	if err != nil {
		t.Fatalf("Evaluate がエラーを返した: %v", err)
	}
	if outcome.Kind != OutcomeVerified {
		t.Fatalf("Kind = %s, want verified", outcome.Kind)
	}
}

func TestEvaluator_Evaluate_Expired_DeletesSessionAndReturnsExpired(t *testing.T) {
	now := time.Now()
	session := testSession(now.Add(-time.Hour))

	sessions := newFakeSessionRepo()
	sessions.Replace(context.Background(), session)
	fetcher := &fakeSubmissions{}

	outcome, err := newTestEvaluator(fetcher, sessions).Evaluate(context.Background(), session, now)
	if err != nil {
		t.Fatalf("Evaluate がエラーを返した: %v", err)
	}
	if outcome.Kind != OutcomeExpired {
		t.Fatalf("Kind = %s, want expired", outcome.Kind)
	}
	if len(sessions.sessions) != 0 {
		t.Error("期限切れセッションは削除されるべき")
	}
}

func TestEvaluator_Evaluate_FetchFailure_KeepsSession(t *testing.T) {
	now := time.Now()
	session := testSession(now.Add(-3 * time.Minute))

	sessions := newFakeSessionRepo()
	sessions.Replace(context.Background(), session)
	fetcher := &fakeSubmissions{err: errors.New("connection refused")}

	// 取得失敗は期限内の再試行を可能にするため、セッションを残してエラーを返す
	_, err := newTestEvaluator(fetcher, sessions).Evaluate(context.Background(), session, now)
	if err == nil {
		t.Fatal("提出履歴の取得失敗はエラーを返すべき")
	}
	if len(sessions.sessions) != 1 {
		t.Error("取得失敗時はセッションを削除してはならない")
	}
}

func TestFormatRemaining_FormatsMinutesAndSeconds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{7 * time.Minute, "7分0秒"},
		{90 * time.Second, "1分30秒"},
		{30 * time.Second, "0分30秒"},
		{-time.Minute, "0分0秒"},
	}
	for _, tt := range tests {
		if got := formatRemaining(tt.d); got != tt.want {
			t.Errorf("formatRemaining(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

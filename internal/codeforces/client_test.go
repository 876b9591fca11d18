package codeforces

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/cfverify/internal/metrics"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// nopMetrics はテスト用のMetricsCollector実装。記録された呼び出しを保持する。
type nopMetrics struct {
	mu        sync.Mutex
	apiCalls  []string
	apiErrors []string
}

func (m *nopMetrics) RecordAPICall(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiCalls = append(m.apiCalls, endpoint)
}

func (m *nopMetrics) RecordAPIError(endpoint string, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiErrors = append(m.apiErrors, endpoint+":"+code)
}

func (m *nopMetrics) RecordVerificationStarted()         {}
func (m *nopMetrics) RecordVerificationOutcome(string)   {}
func (m *nopMetrics) RecordReconcileCycle(time.Duration) {}
func (m *nopMetrics) RecordReconcileAccountError()       {}
func (m *nopMetrics) RecordSessionsCleaned(int64)        {}
func (m *nopMetrics) RecordPoolRefresh(bool)             {}

var _ metrics.MetricsCollector = (*nopMetrics)(nil)

// newTestClient はhttptestサーバーに向けたClientを生成する。
func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	var buf bytes.Buffer
	c := NewClient(server.Client(), &nopMetrics{}, newTestLogger(&buf))
	c.baseURL = server.URL
	return c
}

func TestClient_UserInfo_ReturnsUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user.info" {
			t.Errorf("パス = %s, want /user.info", r.URL.Path)
		}
		if got := r.URL.Query().Get("handles"); got != "tourist" {
			t.Errorf("handlesパラメータ = %s, want tourist", got)
		}
		w.Write([]byte(`{"status":"OK","result":[{"handle":"tourist","rank":"legendary grandmaster","rating":3800}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)

	info, err := c.UserInfo(context.Background(), "tourist")
	if err != nil {
		t.Fatalf("UserInfo がエラーを返した: %v", err)
	}
	if info.Handle != "tourist" {
		t.Errorf("Handle = %s, want tourist", info.Handle)
	}
	if info.Rank != "legendary grandmaster" {
		t.Errorf("Rank = %s, want legendary grandmaster", info.Rank)
	}
}

func TestClient_UserInfo_EmptyResult_ReturnsHandleNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","result":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)

	_, err := c.UserInfo(context.Background(), "ghost")
	if !IsCode(err, ErrCodeHandleNotFound) {
		t.Fatalf("エラーコード HANDLE_NOT_FOUND を期待したが: %v", err)
	}
}

func TestClient_UserInfo_FailedWithNotFoundComment_ReturnsHandleNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"FAILED","comment":"handles: User with handle ghost not found"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)

	_, err := c.UserInfo(context.Background(), "ghost")
	if !IsCode(err, ErrCodeHandleNotFound) {
		t.Fatalf("エラーコード HANDLE_NOT_FOUND を期待したが: %v", err)
	}
}

func TestClient_Call_FailedStatus_ReturnsUpstreamFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"FAILED","comment":"Call limit exceeded"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)

	_, err := c.UserStatus(context.Background(), "tourist", 20)
	if !IsCode(err, ErrCodeUpstreamFailed) {
		t.Fatalf("エラーコード UPSTREAM_FAILED を期待したが: %v", err)
	}
}

func TestClient_Call_NonJSONBody_ReturnsUpstreamFailed(t *testing.T) {
	// Codeforcesは高負荷時にHTMLのエラーページを返すことがある
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("<html>Service temporarily unavailable</html>"))
	}))
	defer server.Close()

	c := newTestClient(t, server)

	_, err := c.UserInfo(context.Background(), "tourist")
	if !IsCode(err, ErrCodeUpstreamFailed) {
		t.Fatalf("エラーコード UPSTREAM_FAILED を期待したが: %v", err)
	}
}

func TestClient_Call_Timeout_ReturnsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"status":"OK","result":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	c.userTimeout = 50 * time.Millisecond

	_, err := c.UserInfo(context.Background(), "tourist")
	if !IsCode(err, ErrCodeTimeout) {
		t.Fatalf("エラーコード TIMEOUT を期待したが: %v", err)
	}
}

func TestClient_Call_EnforcesMinInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","result":[{"handle":"tourist"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)

	// 連続2回の呼び出しには最低でもminCallIntervalの間隔が空く
	start := time.Now()
	if _, err := c.UserInfo(context.Background(), "tourist"); err != nil {
		t.Fatalf("1回目の呼び出しがエラーを返した: %v", err)
	}
	if _, err := c.UserInfo(context.Background(), "tourist"); err != nil {
		t.Fatalf("2回目の呼び出しがエラーを返した: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < minCallInterval {
		t.Errorf("連続呼び出しの間隔 = %v, want >= %v", elapsed, minCallInterval)
	}
}

func TestClient_UserStatus_SendsWindowParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("handle"); got != "tourist" {
			t.Errorf("handleパラメータ = %s, want tourist", got)
		}
		if got := q.Get("from"); got != "1" {
			t.Errorf("fromパラメータ = %s, want 1", got)
		}
		if got := q.Get("count"); got != "20" {
			t.Errorf("countパラメータ = %s, want 20", got)
		}
		w.Write([]byte(`{"status":"OK","result":[{"id":1,"contestId":1500,"creationTimeSeconds":1700000000,"problem":{"contestId":1500,"index":"A","name":"Going Home","rating":1600},"verdict":"COMPILATION_ERROR"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)

	subs, err := c.UserStatus(context.Background(), "tourist", 20)
	if err != nil {
		t.Fatalf("UserStatus がエラーを返した: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("提出件数 = %d, want 1", len(subs))
	}
	if subs[0].Verdict != "COMPILATION_ERROR" {
		t.Errorf("Verdict = %s, want COMPILATION_ERROR", subs[0].Verdict)
	}
	if subs[0].Problem.Index != "A" {
		t.Errorf("Problem.Index = %s, want A", subs[0].Problem.Index)
	}
}

func TestClient_ProblemsetProblems_DecodesProblems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/problemset.problems" {
			t.Errorf("パス = %s, want /problemset.problems", r.URL.Path)
		}
		w.Write([]byte(`{"status":"OK","result":{"problems":[{"contestId":1500,"index":"A","name":"Going Home","rating":1600},{"contestId":1,"index":"A","name":"Theatre Square"}]}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)

	problems, err := c.ProblemsetProblems(context.Background())
	if err != nil {
		t.Fatalf("ProblemsetProblems がエラーを返した: %v", err)
	}
	if len(problems) != 2 {
		t.Fatalf("問題件数 = %d, want 2", len(problems))
	}
	// rating未設定の問題はRating=0としてデコードされる
	if problems[1].Rating != 0 {
		t.Errorf("Rating = %d, want 0", problems[1].Rating)
	}
}

func TestProblem_ID_UppercasesIndex(t *testing.T) {
	p := Problem{ContestID: 1500, Index: "a"}
	if got := p.ID(); got != "1500A" {
		t.Errorf("ID() = %s, want 1500A", got)
	}
}

func TestProblem_URL_BuildsProblemsetURL(t *testing.T) {
	p := Problem{ContestID: 1500, Index: "a"}
	want := "https://codeforces.com/problemset/problem/1500/A"
	if got := p.URL(); got != want {
		t.Errorf("URL() = %s, want %s", got, want)
	}
}

func TestIsCode_MatchesWrappedError(t *testing.T) {
	err := &Error{Code: ErrCodeTimeout, Err: context.DeadlineExceeded}
	if !IsCode(err, ErrCodeTimeout) {
		t.Error("IsCode はTIMEOUTコードのErrorに対してtrueを返すべき")
	}
	if IsCode(err, ErrCodeTransport) {
		t.Error("IsCode は異なるコードに対してfalseを返すべき")
	}
	if IsCode(nil, ErrCodeTimeout) {
		t.Error("IsCode はnilに対してfalseを返すべき")
	}
}

// Package codeforces はCodeforces読み取りAPIのクライアントを提供する。
// 全呼び出し共通の最小間隔制御、エンドポイント別タイムアウト、
// 種類付きエラーへの変換、問題プールの時限キャッシュを含む。
package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/cfverify/internal/metrics"
)

const (
	// defaultBaseURL はCodeforces APIのベースURL。
	defaultBaseURL = "https://codeforces.com/api"
	// minCallInterval はプロセス全体での連続API呼び出しの最小間隔。
	minCallInterval = 250 * time.Millisecond
	// defaultUserTimeout はユーザー情報・提出履歴クエリのタイムアウト。
	defaultUserTimeout = 15 * time.Second
	// defaultPoolTimeout は問題カタログクエリのタイムアウト。
	defaultPoolTimeout = 10 * time.Second
)

// UserInfo はCodeforcesユーザーの公開情報を表す。
type UserInfo struct {
	Handle    string `json:"handle"`
	Rank      string `json:"rank"` // 未レートユーザーの場合は空
	Rating    int    `json:"rating"`
	MaxRank   string `json:"maxRank"`
	MaxRating int    `json:"maxRating"`
}

// Problem はCodeforcesの問題を表す。
type Problem struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"` // 難易度未設定の場合は0
}

// ID は問題の正規ID（例: "1500A"）を返す。インデックスは大文字化される。
func (p Problem) ID() string {
	return strconv.Itoa(p.ContestID) + strings.ToUpper(p.Index)
}

// URL は問題ページのURLを返す。コンテストIDとインデックスから決定的に構築される。
func (p Problem) URL() string {
	return fmt.Sprintf("https://codeforces.com/problemset/problem/%d/%s", p.ContestID, strings.ToUpper(p.Index))
}

// Submission はCodeforcesへの1件の提出を表す。
type Submission struct {
	ID                  int64   `json:"id"`
	ContestID           int     `json:"contestId"`
	CreationTimeSeconds int64   `json:"creationTimeSeconds"`
	Problem             Problem `json:"problem"`
	Verdict             string  `json:"verdict"` // ジャッジ中の場合は空
}

// apiEnvelope はCodeforces APIの共通レスポンス形式。
type apiEnvelope struct {
	Status  string          `json:"status"` // "OK" または "FAILED"
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

// Client はCodeforces読み取りAPIのクライアント。
// 全エンドポイント共通のrate.Limiterにより、呼び出し元を問わず
// 連続する外部呼び出しの最小間隔（250ms）を保証する。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	limiter     *rate.Limiter
	baseURL     string        // テスト用にエンドポイントを差し替え可能
	userTimeout time.Duration // テスト用に短縮可能
	poolTimeout time.Duration // テスト用に短縮可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		metrics:     collector,
		limiter:     rate.NewLimiter(rate.Every(minCallInterval), 1),
		baseURL:     defaultBaseURL,
		userTimeout: defaultUserTimeout,
		poolTimeout: defaultPoolTimeout,
	}
}

// UserInfo は指定ハンドルのユーザー情報を取得する。
// ハンドルが存在しない場合はHANDLE_NOT_FOUNDコードのエラーを返す。
func (c *Client) UserInfo(ctx context.Context, handle string) (*UserInfo, error) {
	params := url.Values{}
	params.Set("handles", handle)

	var users []UserInfo
	if err := c.call(ctx, "user.info", params, c.userTimeout, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, &Error{Code: ErrCodeHandleNotFound, Comment: fmt.Sprintf("handle %s not found", handle)}
	}
	return &users[0], nil
}

// UserStatus は指定ハンドルの直近count件の提出を取得する。
// 順序は上流が返す通り（新しい順）。
func (c *Client) UserStatus(ctx context.Context, handle string, count int) ([]Submission, error) {
	params := url.Values{}
	params.Set("handle", handle)
	params.Set("from", "1")
	params.Set("count", strconv.Itoa(count))

	var submissions []Submission
	if err := c.call(ctx, "user.status", params, c.userTimeout, &submissions); err != nil {
		return nil, err
	}
	return submissions, nil
}

// ProblemsetProblems は問題カタログ全体を取得する。
func (c *Client) ProblemsetProblems(ctx context.Context) ([]Problem, error) {
	var result struct {
		Problems []Problem `json:"problems"`
	}
	if err := c.call(ctx, "problemset.problems", url.Values{}, c.poolTimeout, &result); err != nil {
		return nil, err
	}
	return result.Problems, nil
}

// call はレート制御とタイムアウトを適用して1回のAPI呼び出しを実行し、
// resultフィールドをoutにデコードする。
func (c *Client) call(ctx context.Context, endpoint string, params url.Values, timeout time.Duration, out any) error {
	// 最小間隔制御。前回呼び出しから間隔が空いていない場合はここで待機する。
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Code: ErrCodeTransport, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &Error{Code: ErrCodeTransport, Err: err}
	}
	req.Header.Set("User-Agent", "cfverify/1.0 Discord Bot")

	c.metrics.RecordAPICall(endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.failCall(endpoint, classifyTransportError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.failCall(endpoint, classifyTransportError(err))
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Codeforcesは高負荷時にJSONでないエラーページを返すことがある
		return c.failCall(endpoint, &Error{
			Code:    ErrCodeUpstreamFailed,
			Comment: fmt.Sprintf("レスポンスを解析できません (HTTP %d)", resp.StatusCode),
			Err:     err,
		})
	}

	if env.Status != "OK" {
		code := ErrCodeUpstreamFailed
		if isHandleNotFoundComment(env.Comment) {
			code = ErrCodeHandleNotFound
		}
		return c.failCall(endpoint, &Error{Code: code, Comment: env.Comment})
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return c.failCall(endpoint, &Error{
			Code:    ErrCodeUpstreamFailed,
			Comment: "resultフィールドの形式が不正です",
			Err:     err,
		})
	}

	return nil
}

// failCall はエラーメトリクスとログを記録してエラーを返す。
func (c *Client) failCall(endpoint string, apiErr *Error) error {
	c.metrics.RecordAPIError(endpoint, apiErr.Code)
	c.logger.Error("Codeforces API呼び出しに失敗しました",
		slog.String("endpoint", endpoint),
		slog.String("code", apiErr.Code),
		slog.String("error", apiErr.Error()),
	)
	return apiErr
}

// classifyTransportError はトランスポート層のエラーをTIMEOUTとTRANSPORTに分類する。
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: ErrCodeTimeout, Err: err}
	}
	return &Error{Code: ErrCodeTransport, Err: err}
}

// isHandleNotFoundComment は上流コメントがハンドル未存在を示すかを判定する。
// user.infoは "handles: User with handle X not found" のようなコメントを返す。
func isHandleNotFoundComment(comment string) bool {
	return strings.Contains(strings.ToLower(comment), "not found")
}

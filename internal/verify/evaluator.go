package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/cfverify/internal/codeforces"
	"github.com/hitoshi/cfverify/internal/model"
	"github.com/hitoshi/cfverify/internal/repository"
)

const (
	// recentSubmissionCount は評価時に取得する直近の提出件数。
	recentSubmissionCount = 20
	// proofVerdict は所有権の証明として扱うジャッジ結果。
	// コンパイルエラーはジャッジ資源を消費せず、提出アクセス権の
	// 明確な証拠になるため、証明シグナルとして使用する。
	proofVerdict = "COMPILATION_ERROR"
)

// SubmissionFetcher は提出履歴取得のインターフェース。
// テスト時にモックに差し替え可能。
type SubmissionFetcher interface {
	UserStatus(ctx context.Context, handle string, count int) ([]codeforces.Submission, error)
}

// Evaluator はセッションと提出履歴から認証の状態遷移を判定する。
// Pending → {Verified, NotYetProven, Expired}。NotYetProvenは終端ではなく、
// セッションは自然期限まで再評価できる。
type Evaluator struct {
	client   SubmissionFetcher
	sessions repository.SessionRepository
	logger   *slog.Logger
}

// NewEvaluator はEvaluatorの新しいインスタンスを生成する。
func NewEvaluator(client SubmissionFetcher, sessions repository.SessionRepository, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		client:   client,
		sessions: sessions,
		logger:   logger,
	}
}

// Evaluate はセッションをnow時点で評価する。
//
// 期限切れの場合はセッションを削除してExpiredを返す（復活はできない）。
// それ以外の場合は直近の提出を走査し、チャレンジ問題への
// COMPILATION_ERROR提出（セッション開始以降）があればVerified、
// なければNotYetProvenを返す。
// 提出履歴の取得失敗はセッションを削除せずにエラーとして伝播する
// （ユーザーは期限内に再試行できる）。
func (e *Evaluator) Evaluate(ctx context.Context, session *model.VerificationSession, now time.Time) (*Outcome, error) {
	if session.Expired(now) {
		if err := e.sessions.Delete(ctx, session.UserID, session.GuildID, session.Handle); err != nil {
			return nil, fmt.Errorf("期限切れセッションの削除に失敗しました: %w", err)
		}
		e.logger.Info("認証セッションが期限切れになりました",
			slog.String("user_id", session.UserID),
			slog.String("guild_id", session.GuildID),
			slog.String("handle", session.Handle),
			slog.String("problem_id", session.ProblemID()),
		)
		return &Outcome{
			Kind: OutcomeExpired,
			Message: fmt.Sprintf("認証セッションの期限が切れました。/verify で新しいチャレンジを開始してください（問題: %s）。",
				session.ProblemID()),
		}, nil
	}

	submissions, err := e.client.UserStatus(ctx, session.Handle, recentSubmissionCount)
	if err != nil {
		return nil, fmt.Errorf("提出履歴の取得に失敗しました: %w", err)
	}

	// チャレンジ問題への時間窓内の提出を走査する。
	// 証明の時間窓下限（セッション開始時刻）は、チャレンジ発行前の
	// 古い提出の再利用を防ぐ。比較は上流の提出時刻と同じ秒単位で行う。
	startedAtUnix := session.StartedAt.Unix()
	var mismatched *codeforces.Submission

	for idx := range submissions {
		sub := &submissions[idx]
		if sub.Problem.ContestID != session.ContestID {
			continue
		}
		if !strings.EqualFold(sub.Problem.Index, session.ProblemIndex) {
			continue
		}
		if sub.CreationTimeSeconds < startedAtUnix {
			continue
		}
		if sub.Verdict == proofVerdict {
			e.logger.Info("所有権の証明を確認しました",
				slog.String("handle", session.Handle),
				slog.String("problem_id", session.ProblemID()),
				slog.Int64("submission_id", sub.ID),
			)
			return &Outcome{
				Kind:       OutcomeVerified,
				Message:    fmt.Sprintf("ハンドル「%s」の所有権を確認しました。", session.Handle),
				Submission: sub,
			}, nil
		}
		if mismatched == nil {
			mismatched = sub
		}
	}

	remaining := formatRemaining(session.Remaining(now))

	if mismatched != nil {
		return &Outcome{
			Kind: OutcomeNotYetProven,
			Message: fmt.Sprintf("問題 %s への提出は見つかりましたが、ジャッジ結果が %s ではありません（%s）。コンパイルエラーになるコードを提出してください。残り時間: %s",
				session.ProblemID(), proofVerdict, mismatched.Verdict, remaining),
			Submission: mismatched,
		}, nil
	}

	return &Outcome{
		Kind: OutcomeNotYetProven,
		Message: fmt.Sprintf("チャレンジ開始以降の問題 %s への提出が見つかりません。%s にコンパイルエラーになるコードを提出してください。残り時間: %s",
			session.ProblemID(), session.ProblemURL, remaining),
	}, nil
}

// formatRemaining は残り時間を「X分Y秒」形式で整形する。
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d分%d秒", total/60, total%60)
}

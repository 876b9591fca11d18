package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/cfverify/internal/codeforces"
	"github.com/hitoshi/cfverify/internal/metrics"
	"github.com/hitoshi/cfverify/internal/model"
	"github.com/hitoshi/cfverify/internal/repository"
	"github.com/hitoshi/cfverify/internal/roles"
)

// UserLookup はCodeforcesユーザー情報取得のインターフェース。
// テスト時にモックに差し替え可能。
type UserLookup interface {
	UserInfo(ctx context.Context, handle string) (*codeforces.UserInfo, error)
}

// ChallengeIssuer はチャレンジ発行のインターフェース。
type ChallengeIssuer interface {
	Issue(ctx context.Context) (*Challenge, error)
}

// RoleAssigner は認証完了時のロール割り当てのインターフェース。
type RoleAssigner interface {
	AssignVerificationRoles(ctx context.Context, guildID, userID, rank string) roles.AssignResult
}

// Service は認証フローのオーケストレーションを行う。
// 開始（チャレンジ発行とセッション作成）と完了（評価とアカウント紐付け）を提供する。
type Service struct {
	client    UserLookup
	issuer    ChallengeIssuer
	evaluator *Evaluator
	sessions  repository.SessionRepository
	accounts  repository.LinkedAccountRepository
	assigner  RoleAssigner
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	timeout   time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
// timeoutは認証セッションの有効期間を指定する。
func NewService(
	client UserLookup,
	issuer ChallengeIssuer,
	evaluator *Evaluator,
	sessions repository.SessionRepository,
	accounts repository.LinkedAccountRepository,
	assigner RoleAssigner,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
) *Service {
	return &Service{
		client:    client,
		issuer:    issuer,
		evaluator: evaluator,
		sessions:  sessions,
		accounts:  accounts,
		assigner:  assigner,
		metrics:   collector,
		logger:    logger,
		timeout:   timeout,
	}
}

// CompletionResult は認証完了試行の結果を表す。
// AccountとRolesはOutcomeがVerifiedの場合のみ設定される。
type CompletionResult struct {
	Outcome *Outcome
	Account *model.LinkedAccount
	Roles   *roles.AssignResult
}

// Start は新しい認証セッションを開始する。
//
// ハンドルの存在確認（存在しない場合はHANDLE_NOT_FOUND）、
// 同一ギルド内の他ユーザーによる紐付けチェック（ACCOUNT_ALREADY_LINKED）、
// チャレンジ発行、セッション置き換えの順で実行する。
// 同一キーの既存セッションは新しいセッションに置き換えられる。
func (s *Service) Start(ctx context.Context, userID, guildID, handle string) (*model.VerificationSession, error) {
	info, err := s.client.UserInfo(ctx, handle)
	if err != nil {
		if codeforces.IsCode(err, codeforces.ErrCodeHandleNotFound) {
			return nil, model.NewHandleNotFoundError(handle)
		}
		return nil, fmt.Errorf("ハンドルの確認に失敗しました: %w", err)
	}

	linked, err := s.accounts.IsLinkedByOther(ctx, guildID, info.Handle, userID)
	if err != nil {
		return nil, fmt.Errorf("紐付け状況の確認に失敗しました: %w", err)
	}
	if linked {
		return nil, model.NewAccountAlreadyLinkedError(info.Handle)
	}

	challenge, err := s.issuer.Issue(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &model.VerificationSession{
		ID:            uuid.NewString(),
		UserID:        userID,
		GuildID:       guildID,
		Handle:        info.Handle, // APIが返す正規表記を採用する
		ContestID:     challenge.ContestID,
		ProblemIndex:  challenge.Index,
		ProblemName:   challenge.Name,
		ProblemURL:    challenge.URL,
		ProblemRating: challenge.Rating,
		StartedAt:     now,
		ExpiresAt:     now.Add(s.timeout),
	}

	if err := s.sessions.Replace(ctx, session); err != nil {
		return nil, fmt.Errorf("認証セッションの作成に失敗しました: %w", err)
	}

	s.metrics.RecordVerificationStarted()
	s.logger.Info("認証セッションを開始しました",
		slog.String("user_id", userID),
		slog.String("guild_id", guildID),
		slog.String("handle", info.Handle),
		slog.String("problem_id", session.ProblemID()),
		slog.Time("expires_at", session.ExpiresAt),
	)

	return session, nil
}

// Complete は進行中の認証セッションを評価し、成功時にアカウントを紐付ける。
//
// 有効なセッションがない場合はSESSION_NOT_FOUNDを返す。
// Verifiedの場合: 現在ランクをベストエフォートで解決し（失敗しても認証は
// 成功のまま、ランクは未設定になる）、LinkedAccountをUPSERTし、
// セッションを削除し、ロールを1回限り割り当てる。
func (s *Service) Complete(ctx context.Context, userID, guildID, handle string, now time.Time) (*CompletionResult, error) {
	session, err := s.sessions.FindLive(ctx, userID, guildID, handle, now)
	if err != nil {
		return nil, fmt.Errorf("認証セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError(handle)
	}

	outcome, err := s.evaluator.Evaluate(ctx, session, now)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordVerificationOutcome(outcome.Kind.String())

	result := &CompletionResult{Outcome: outcome}
	if outcome.Kind != OutcomeVerified {
		return result, nil
	}

	// ランク解決はベストエフォート。失敗しても認証自体は失敗させない。
	rank := ""
	if info, err := s.client.UserInfo(ctx, session.Handle); err != nil {
		s.logger.Warn("ランクの解決に失敗したため、ランク未設定で紐付けます",
			slog.String("handle", session.Handle),
			slog.String("error", err.Error()),
		)
	} else {
		rank = model.NormalizeRank(info.Rank)
	}

	account := &model.LinkedAccount{
		ID:         uuid.NewString(),
		UserID:     userID,
		GuildID:    guildID,
		Handle:     session.Handle,
		Verified:   true,
		VerifiedAt: now,
		Rank:       rank,
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return nil, fmt.Errorf("アカウント紐付けの保存に失敗しました: %w", err)
	}

	// セッションは消費済み。削除失敗は致命的ではないためログのみ
	// （期限切れクリーンアップが後で回収する）。
	if err := s.sessions.Delete(ctx, session.UserID, session.GuildID, session.Handle); err != nil {
		s.logger.Error("消費済みセッションの削除に失敗しました",
			slog.String("user_id", userID),
			slog.String("handle", session.Handle),
			slog.String("error", err.Error()),
		)
	}

	assignResult := s.assigner.AssignVerificationRoles(ctx, guildID, userID, rank)
	result.Account = account
	result.Roles = &assignResult

	s.logger.Info("アカウントを紐付けました",
		slog.String("user_id", userID),
		slog.String("guild_id", guildID),
		slog.String("handle", session.Handle),
		slog.String("rank", rank),
		slog.Bool("verified_role_assigned", assignResult.VerifiedRoleAssigned),
		slog.Bool("rank_role_assigned", assignResult.RankRoleAssigned),
	)

	return result, nil
}

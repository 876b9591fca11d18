package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/cfverify/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用した認証セッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Replace は同一複合キーの既存セッションを削除してから新しいセッションを挿入する。
// 両操作を1つのトランザクションにまとめることで、同時実行される認証開始が
// 同一キーのセッションを2件残す余地をなくしている。
func (r *PostgresSessionRepo) Replace(ctx context.Context, session *model.VerificationSession) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	handleKey := model.NormalizeHandle(session.Handle)

	_, err = tx.ExecContext(ctx,
		`DELETE FROM verification_sessions
		 WHERE user_id = $1 AND guild_id = $2 AND handle_key = $3`,
		session.UserID, session.GuildID, handleKey,
	)
	if err != nil {
		return fmt.Errorf("failed to delete superseded session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO verification_sessions
		 (id, user_id, guild_id, handle, handle_key, contest_id, problem_index,
		  problem_name, problem_url, problem_rating, started_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		session.ID, session.UserID, session.GuildID, session.Handle, handleKey,
		session.ContestID, session.ProblemIndex, session.ProblemName,
		session.ProblemURL, session.ProblemRating, session.StartedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindLive は指定キーの有効なセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindLive(ctx context.Context, userID, guildID, handle string, now time.Time) (*model.VerificationSession, error) {
	session := &model.VerificationSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, guild_id, handle, contest_id, problem_index,
		        problem_name, problem_url, problem_rating, started_at, expires_at
		 FROM verification_sessions
		 WHERE user_id = $1 AND guild_id = $2 AND handle_key = $3 AND expires_at > $4`,
		userID, guildID, model.NormalizeHandle(handle), now,
	).Scan(
		&session.ID, &session.UserID, &session.GuildID, &session.Handle,
		&session.ContestID, &session.ProblemIndex, &session.ProblemName,
		&session.ProblemURL, &session.ProblemRating, &session.StartedAt, &session.ExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find live session: %w", err)
	}

	return session, nil
}

// Delete は指定キーのセッションを削除する。
func (r *PostgresSessionRepo) Delete(ctx context.Context, userID, guildID, handle string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_sessions
		 WHERE user_id = $1 AND guild_id = $2 AND handle_key = $3`,
		userID, guildID, model.NormalizeHandle(handle),
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションをすべて削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_sessions WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)

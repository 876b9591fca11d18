package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/cfverify/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用した紐付けアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// Upsert は複合キー(user, guild, handle)でアカウント紐付けをUPSERTする。
func (r *PostgresAccountRepo) Upsert(ctx context.Context, account *model.LinkedAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO linked_accounts
		 (id, user_id, guild_id, handle, handle_key, verified, verified_at, rank)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, guild_id, handle_key) DO UPDATE SET
		   handle = EXCLUDED.handle,
		   verified = EXCLUDED.verified,
		   verified_at = EXCLUDED.verified_at,
		   rank = EXCLUDED.rank`,
		account.ID, account.UserID, account.GuildID, account.Handle,
		model.NormalizeHandle(account.Handle), account.Verified, account.VerifiedAt,
		nullableRank(account.Rank),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert linked account: %w", err)
	}
	return nil
}

// ListAll は全ギルドの紐付け済みアカウントを取得する。
func (r *PostgresAccountRepo) ListAll(ctx context.Context) ([]*model.LinkedAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, guild_id, handle, verified, verified_at, rank
		 FROM linked_accounts
		 ORDER BY guild_id, verified_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.LinkedAccount
	for rows.Next() {
		account := &model.LinkedAccount{}
		var rank sql.NullString
		if err := rows.Scan(
			&account.ID, &account.UserID, &account.GuildID, &account.Handle,
			&account.Verified, &account.VerifiedAt, &rank,
		); err != nil {
			return nil, fmt.Errorf("failed to scan linked account: %w", err)
		}
		account.Rank = rank.String
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate linked accounts: %w", err)
	}

	return accounts, nil
}

// UpdateRank は指定キーのアカウントの保存ランクを更新する。
func (r *PostgresAccountRepo) UpdateRank(ctx context.Context, userID, guildID, handle, rank string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE linked_accounts SET rank = $4
		 WHERE user_id = $1 AND guild_id = $2 AND handle_key = $3`,
		userID, guildID, model.NormalizeHandle(handle), nullableRank(rank),
	)
	if err != nil {
		return fmt.Errorf("failed to update rank: %w", err)
	}
	return nil
}

// IsLinkedByOther は指定ハンドルが同一ギルド内でexcludeUserID以外の
// ユーザーに認証済みとして紐付けられているかを返す。
func (r *PostgresAccountRepo) IsLinkedByOther(ctx context.Context, guildID, handle, excludeUserID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM linked_accounts
		   WHERE guild_id = $1 AND handle_key = $2 AND user_id <> $3 AND verified = TRUE
		 )`,
		guildID, model.NormalizeHandle(handle), excludeUserID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check linked account: %w", err)
	}
	return exists, nil
}

// nullableRank は空文字列のランクをNULLに変換する。
func nullableRank(rank string) sql.NullString {
	return sql.NullString{String: rank, Valid: rank != ""}
}

// compile-time interface check
var _ LinkedAccountRepository = (*PostgresAccountRepo)(nil)

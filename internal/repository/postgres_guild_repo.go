package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/cfverify/internal/model"
)

// PostgresGuildRepo はPostgreSQLを使用したギルド設定リポジトリ。
// ランク→ロールのマッピングはJSONBカラムに保持する（ランク追加でスキーマ変更不要）。
type PostgresGuildRepo struct {
	db *sql.DB
}

// NewPostgresGuildRepo はPostgresGuildRepoを生成する。
func NewPostgresGuildRepo(db *sql.DB) *PostgresGuildRepo {
	return &PostgresGuildRepo{db: db}
}

// Find は指定ギルドの設定を取得する。未設定の場合はnilを返す。
func (r *PostgresGuildRepo) Find(ctx context.Context, guildID string) (*model.GuildConfig, error) {
	cfg := &model.GuildConfig{}
	var verifiedRoleID sql.NullString
	var rankRolesJSON []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT guild_id, verified_role_id, rank_roles
		 FROM guild_configs WHERE guild_id = $1`,
		guildID,
	).Scan(&cfg.GuildID, &verifiedRoleID, &rankRolesJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find guild config: %w", err)
	}

	cfg.VerifiedRoleID = verifiedRoleID.String
	cfg.RankRoles = make(map[string]string)
	if len(rankRolesJSON) > 0 {
		if err := json.Unmarshal(rankRolesJSON, &cfg.RankRoles); err != nil {
			return nil, fmt.Errorf("failed to decode rank roles: %w", err)
		}
	}

	return cfg, nil
}

// SetVerifiedRole は認証済みロールIDを設定する。
func (r *PostgresGuildRepo) SetVerifiedRole(ctx context.Context, guildID, roleID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO guild_configs (guild_id, verified_role_id)
		 VALUES ($1, $2)
		 ON CONFLICT (guild_id) DO UPDATE SET verified_role_id = EXCLUDED.verified_role_id`,
		guildID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to set verified role: %w", err)
	}
	return nil
}

// SetRankRole はランク→ロールのマッピングを1件設定する。
// ランクラベルは書き込み時に公式ランク集合で検証される。
func (r *PostgresGuildRepo) SetRankRole(ctx context.Context, guildID, rank, roleID string) error {
	normalized := model.NormalizeRank(rank)
	if !model.IsCanonicalRank(normalized) {
		return model.NewInvalidRankError(rank)
	}

	entry, err := json.Marshal(map[string]string{normalized: roleID})
	if err != nil {
		return fmt.Errorf("failed to encode rank role entry: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO guild_configs (guild_id, rank_roles)
		 VALUES ($1, $2::jsonb)
		 ON CONFLICT (guild_id) DO UPDATE SET
		   rank_roles = guild_configs.rank_roles || EXCLUDED.rank_roles`,
		guildID, entry,
	)
	if err != nil {
		return fmt.Errorf("failed to set rank role: %w", err)
	}
	return nil
}

// compile-time interface check
var _ GuildConfigRepository = (*PostgresGuildRepo)(nil)

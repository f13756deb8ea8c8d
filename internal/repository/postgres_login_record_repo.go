package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

// PostgresLoginRecordRepo はPostgreSQLを使用したログイン記録リポジトリ。
type PostgresLoginRecordRepo struct {
	db *sql.DB
}

// NewPostgresLoginRecordRepo はPostgresLoginRecordRepoを生成する。
func NewPostgresLoginRecordRepo(db *sql.DB) *PostgresLoginRecordRepo {
	return &PostgresLoginRecordRepo{db: db}
}

// Upsert はusernameの記録を作成または更新する。
func (r *PostgresLoginRecordRepo) Upsert(ctx context.Context, record *model.LoginRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_records (username, ts, recorded_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET ts = EXCLUDED.ts, recorded_at = EXCLUDED.recorded_at`,
		record.Username, record.TS, record.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert login record: %w", err)
	}
	return nil
}

// DeleteOlderThan はrecorded_atがcutoffより古い記録を削除し、削除件数を返す。
func (r *PostgresLoginRecordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM login_records WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old login records: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ LoginRecordRepository = (*PostgresLoginRecordRepo)(nil)

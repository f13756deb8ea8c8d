package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

// PostgresOTPRepo はPostgreSQLを使用したワンタイムコードリポジトリ。
type PostgresOTPRepo struct {
	db *sql.DB
}

// NewPostgresOTPRepo はPostgresOTPRepoを生成する。
func NewPostgresOTPRepo(db *sql.DB) *PostgresOTPRepo {
	return &PostgresOTPRepo{db: db}
}

// Upsert はemailに対するコードを作成または置き換える。失敗回数は0に戻す。
func (r *PostgresOTPRepo) Upsert(ctx context.Context, otp *model.PasswordOTP) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_otps (email, code_hash, expires_at)
		 VALUES (lower($1), $2, $3)
		 ON CONFLICT (email) DO UPDATE
		 SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, failed_attempts = 0`,
		otp.Email, otp.CodeHash, otp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert otp: %w", err)
	}
	return nil
}

// FindByEmail は指定emailのコードを取得する。見つからない場合はnilを返す。
// 期限切れのコードも返す。期限の判定は呼び出し側で行う。
func (r *PostgresOTPRepo) FindByEmail(ctx context.Context, email string) (*model.PasswordOTP, error) {
	otp := &model.PasswordOTP{}
	err := r.db.QueryRowContext(ctx,
		`SELECT email, code_hash, expires_at, failed_attempts FROM password_otps WHERE email = lower($1)`,
		email,
	).Scan(&otp.Email, &otp.CodeHash, &otp.ExpiresAt, &otp.FailedAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find otp: %w", err)
	}
	return otp, nil
}

// DeleteByEmail は指定emailのコードを削除する。
func (r *PostgresOTPRepo) DeleteByEmail(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM password_otps WHERE email = lower($1)`, email)
	if err != nil {
		return fmt.Errorf("failed to delete otp: %w", err)
	}
	return nil
}

// RecordFailure は検証失敗の回数を1増やし、増加後の回数を返す。
func (r *PostgresOTPRepo) RecordFailure(ctx context.Context, email string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE password_otps SET failed_attempts = failed_attempts + 1
		 WHERE email = lower($1) RETURNING failed_attempts`,
		email,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record otp failure: %w", err)
	}
	return attempts, nil
}

// DeleteExpired は期限切れのコードを削除し、削除件数を返す。
func (r *PostgresOTPRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM password_otps WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otps: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ OTPRepository = (*PostgresOTPRepo)(nil)

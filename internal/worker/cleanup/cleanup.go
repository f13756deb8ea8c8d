// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 有効期限を過ぎたパスワード再設定コードと、保持期間（デフォルト90日）を
// 超過したログイン記録を定期的に削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// 削除対象。メトリクスのラベルに使用する。
const (
	TargetOTP         = "password_otps"
	TargetLoginRecord = "login_records"
)

// DefaultRetentionDays はログイン記録のデフォルト保持日数。
const DefaultRetentionDays = 90

// OTPPruner は期限切れのワンタイムコードを削除するインターフェース。
// repository.PostgresOTPRepoが実装する。
type OTPPruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// LoginRecordPruner は古いログイン記録を削除するインターフェース。
// repository.PostgresLoginRecordRepoが実装する。
type LoginRecordPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder は削除件数の記録に必要なインターフェース。
type Recorder interface {
	RecordCleanup(target string, deleted int64)
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等な削除処理のみを行うため、複数のワーカーから同時に実行してもよい。
type CleanupJob struct {
	otps          OTPPruner
	logins        LoginRecordPruner
	recorder      Recorder
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // ログイン記録の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(otps OTPPruner, logins LoginRecordPruner, recorder Recorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		otps:          otps,
		logins:        logins,
		recorder:      recorder,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は期限切れのコードと保持期間を超過したログイン記録を削除する。
// 片方の削除に失敗しても、もう片方は実行する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now().UTC()

	otpErr := j.prune(TargetOTP, func() (int64, error) {
		return j.otps.DeleteExpired(ctx, now)
	})

	retention := j.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	cutoff := now.AddDate(0, 0, -retention)
	loginErr := j.prune(TargetLoginRecord, func() (int64, error) {
		return j.logins.DeleteOlderThan(ctx, cutoff)
	})

	if err := errors.Join(otpErr, loginErr); err != nil {
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("retention_days", retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) prune(target string, fn func() (int64, error)) error {
	deleted, err := fn()
	if err != nil {
		j.logger.Error("クリーンアップに失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to clean up %s: %w", target, err)
	}

	if j.recorder != nil {
		j.recorder.RecordCleanup(target, deleted)
	}
	j.logger.Info("クリーンアップを実行しました",
		slog.String("target", target),
		slog.Int64("deleted_count", deleted),
	)
	return nil
}

// Start はRunを即時に1回実行し、以降intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = j.Run(ctx)
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		}
	}
}

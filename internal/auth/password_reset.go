package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/notify"
	"github.com/scmxpert/scmxpertlite/internal/password"
	"github.com/scmxpert/scmxpertlite/internal/repository"
)

// otpDigits はワンタイムコードの桁数。
const otpDigits = 6

// MaxOTPAttempts はコードを無効化するまでに許す検証失敗の回数。
const MaxOTPAttempts = 5

// ResetInput はパスワード再設定の入力。
type ResetInput struct {
	Email           string
	Code            string
	NewPassword     string
	ConfirmPassword string
}

// ForgotPassword はワンタイムコードを発行し、登録メールアドレスへ送信する。
// メール送信がこの操作の目的であるため、送信失敗はエラーとして返す。
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateEmail(email); err != nil {
		return err
	}

	// 1. 登録済みか確認
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return model.NewEmailNotRegisteredError()
	}

	// 2. コードを生成してハッシュを保存
	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("failed to generate otp: %w", err)
	}
	otp := &model.PasswordOTP{
		Email:     email,
		CodeHash:  hashOTP(code),
		ExpiresAt: s.now().Add(s.config.OTPTTL),
	}
	if err := s.otps.Upsert(ctx, otp); err != nil {
		return fmt.Errorf("failed to save otp: %w", err)
	}

	// 3. メールを送信
	msg := s.composer.PasswordOTP(email, code, s.config.OTPTTL)
	if result := s.mailer.Dispatch(ctx, notify.KindOTP, msg); !result.Sent {
		return model.NewEmailDeliveryFailedError()
	}
	return nil
}

// VerifyOTP はワンタイムコードを検証する。コードは消費しない。
func (s *Service) VerifyOTP(ctx context.Context, email, code string) error {
	_, err := s.checkOTP(ctx, strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(code))
	return err
}

// ResetPassword はワンタイムコードを再検証したうえでパスワードを再設定し、コードを削除する。
func (s *Service) ResetPassword(ctx context.Context, in ResetInput) error {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	// 1. コードを再検証
	if _, err := s.checkOTP(ctx, email, strings.TrimSpace(in.Code)); err != nil {
		return err
	}

	// 2. 新しいパスワードを検証
	if in.ConfirmPassword != "" && in.NewPassword != in.ConfirmPassword {
		return model.NewPasswordMismatchError()
	}
	if !password.Strong(in.NewPassword) {
		return model.NewWeakPasswordError()
	}

	// 3. ダイジェストを保存
	digest, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHashByEmail(ctx, email, digest); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewEmailNotRegisteredError()
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	// 4. コードを削除
	if err := s.otps.DeleteByEmail(ctx, email); err != nil {
		// パスワードは更新済みのため失敗にはしない。期限切れ後にクリーンアップで削除される
		slog.Warn("failed to delete otp", slog.String("error", err.Error()))
	}

	slog.Info("password reset", slog.String("email", email))
	return nil
}

// checkOTP は未発行、不一致、期限切れの順に検証する。
// 不一致がMaxOTPAttempts回に達したコードは削除し、以後は再発行が必要になる。
func (s *Service) checkOTP(ctx context.Context, email, code string) (*model.PasswordOTP, error) {
	if email == "" {
		return nil, model.NewValidationError("email", "required")
	}
	if code == "" {
		return nil, model.NewValidationError("otp", "required")
	}

	otp, err := s.otps.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find otp: %w", err)
	}
	if otp == nil {
		return nil, model.NewOTPNotFoundError()
	}
	if otp.FailedAttempts >= MaxOTPAttempts {
		return nil, s.invalidateOTP(ctx, email)
	}
	if subtle.ConstantTimeCompare([]byte(hashOTP(code)), []byte(otp.CodeHash)) != 1 {
		attempts, err := s.otps.RecordFailure(ctx, email)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewOTPNotFoundError()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to record otp failure: %w", err)
		}
		if attempts >= MaxOTPAttempts {
			return nil, s.invalidateOTP(ctx, email)
		}
		return nil, model.NewOTPIncorrectError()
	}
	if !s.now().Before(otp.ExpiresAt) {
		return nil, model.NewOTPExpiredError()
	}
	return otp, nil
}

// invalidateOTP は失敗回数が上限に達したコードを削除する。
func (s *Service) invalidateOTP(ctx context.Context, email string) error {
	if err := s.otps.DeleteByEmail(ctx, email); err != nil {
		return fmt.Errorf("failed to invalidate otp: %w", err)
	}
	slog.Warn("otp invalidated after repeated failures",
		slog.String("email", email),
		slog.Int("max_attempts", MaxOTPAttempts),
	)
	return model.NewOTPAttemptsExceededError()
}

// generateOTP は先頭ゼロを含む6桁の数字コードを生成する。
func generateOTP() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// hashOTP はコードのSHA-256を16進文字列で返す。
func hashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

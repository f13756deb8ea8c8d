// Package user はユーザー管理（一覧、ロール変更、ログイン記録）のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/notify"
	"github.com/scmxpert/scmxpertlite/internal/repository"
)

// Notifier はメール通知のインターフェース。
type Notifier interface {
	Dispatch(ctx context.Context, kind string, msg notify.Message) notify.Result
}

// Summary はユーザー一覧に返す公開情報。パスワードダイジェストは含めない。
type Summary struct {
	Username     string
	Email        string
	Role         model.Role
	FullName     string
	AuthProvider string
	CreatedAt    time.Time
}

// RoleChange はロール変更の結果を表す。
type RoleChange struct {
	Username   string
	OldRole    model.Role
	NewRole    model.Role
	EmailSent  bool
	EmailError string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	loginRepo repository.LoginRecordRepository
	notifier  Notifier
	composer  *notify.Composer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	loginRepo repository.LoginRecordRepository,
	notifier Notifier,
	composer *notify.Composer,
) *Service {
	return &Service{
		userRepo:  userRepo,
		loginRepo: loginRepo,
		notifier:  notifier,
		composer:  composer,
		now:       time.Now,
	}
}

// ListUsers は全ユーザーの公開情報を返す。管理者のみ実行できる。
func (s *Service) ListUsers(ctx context.Context, admin *model.Principal) ([]Summary, error) {
	if !admin.IsAdmin() {
		return nil, model.NewForbiddenError(model.RoleAdmin)
	}

	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}

	summaries := make([]Summary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, Summary{
			Username:     u.Username,
			Email:        u.Email,
			Role:         u.EffectiveRole(),
			FullName:     u.FullName,
			AuthProvider: u.AuthProvider,
			CreatedAt:    u.CreatedAt,
		})
	}
	return summaries, nil
}

// SetRole は指定ユーザーのロールを変更し、本人にメールで知らせる。
// 通知の失敗はロール変更を取り消さない。
func (s *Service) SetRole(ctx context.Context, admin *model.Principal, username, role string) (*RoleChange, error) {
	if !admin.IsAdmin() {
		return nil, model.NewForbiddenError(model.RoleAdmin)
	}

	// 1. ロールを検証
	newRole, ok := model.ParseRole(role)
	if !ok {
		return nil, model.NewInvalidRoleError(role)
	}

	// 2. 対象ユーザーを取得
	username = strings.TrimSpace(username)
	target, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if target == nil {
		return nil, model.NewTargetUserNotFoundError(username)
	}
	oldRole := target.EffectiveRole()

	// 3. ロールを更新
	if err := s.userRepo.UpdateRole(ctx, target.Username, newRole); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewTargetUserNotFoundError(username)
		}
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}

	slog.Info("ロールを変更しました",
		slog.String("username", target.Username),
		slog.String("old_role", string(oldRole)),
		slog.String("new_role", string(newRole)),
		slog.String("admin", admin.Username),
	)

	// 4. 本人へ通知
	change := &RoleChange{Username: target.Username, OldRole: oldRole, NewRole: newRole}
	if target.Email == "" {
		change.EmailError = "recipient has no email address"
		return change, nil
	}
	result := s.notifier.Dispatch(ctx, notify.KindRoleChanged, s.composer.RoleChanged(target, oldRole, newRole))
	change.EmailSent = result.Sent
	change.EmailError = result.Error
	return change, nil
}

// RecordLogin は管理画面へのログイン記録を保存する。
// tsはクライアントから送られた値をそのまま保存し、空の場合はサーバー時刻を使用する。
func (s *Service) RecordLogin(ctx context.Context, principal *model.Principal, username, ts string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		username = principal.Username
	}
	if username != principal.Username && !principal.IsAdmin() {
		return model.NewForbiddenError(model.RoleAdmin)
	}

	now := s.now().UTC()
	if strings.TrimSpace(ts) == "" {
		ts = now.Format(time.RFC3339)
	}

	record := &model.LoginRecord{Username: username, TS: ts, RecordedAt: now}
	if err := s.loginRepo.Upsert(ctx, record); err != nil {
		return fmt.Errorf("ログイン記録の保存に失敗しました: %w", err)
	}
	return nil
}

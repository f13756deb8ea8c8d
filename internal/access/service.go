// Package access はアクセス申請（権限昇格申請）のワークフローを提供する。
//
// 申請の状態遷移と管理者ロールの付与を行う。通知はベストエフォートで、
// 送信失敗は状態遷移をロールバックせずOutcomeとして報告する。
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scmxpert/scmxpertlite/internal/metrics"
	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/notify"
	"github.com/scmxpert/scmxpertlite/internal/repository"
)

// 入力値の最大長
const (
	maxTypeLength        = 100
	maxTitleLength       = 200
	maxDescriptionLength = 2000
	maxReplyLength       = 5000
)

// Notifier はメール通知のインターフェース。notify.Dispatcherが実装する。
type Notifier interface {
	Dispatch(ctx context.Context, kind string, msg notify.Message) notify.Result
	Go(ctx context.Context, kind string, msg notify.Message) <-chan notify.Result
}

// UserFinder はユーザー検索のインターフェース。
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// FileInput は申請の入力。
type FileInput struct {
	Type        string
	Title       string
	Description string
}

// Outcome は管理者操作の結果を表す。
// EmailSent / EmailErrorは通知の結果で、操作自体の成否とは独立している。
type Outcome struct {
	Request    *model.AccessRequest
	Reply      *model.AccessReply
	EmailSent  bool
	EmailError string
}

// Service はアクセス申請のワークフローを提供する。
type Service struct {
	users         UserFinder
	requests      repository.AccessRequestRepository
	replies       repository.ReplyRepository
	notifier      Notifier
	composer      *notify.Composer
	metrics       metrics.MetricsCollector
	operatorEmail string
	now           func() time.Time
}

// NewService はServiceを生成する。operatorEmailが空の場合、申請受付の通知は行わない。
func NewService(
	users UserFinder,
	requests repository.AccessRequestRepository,
	replies repository.ReplyRepository,
	notifier Notifier,
	composer *notify.Composer,
	collector metrics.MetricsCollector,
	operatorEmail string,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		users:         users,
		requests:      requests,
		replies:       replies,
		notifier:      notifier,
		composer:      composer,
		metrics:       collector,
		operatorEmail: operatorEmail,
		now:           time.Now,
	}
}

// requireAdmin は呼び出し元が管理者であることを確認する。
func requireAdmin(p *model.Principal) error {
	if !p.IsAdmin() {
		return model.NewForbiddenError(model.RoleAdmin)
	}
	return nil
}

// File は呼び出し元ユーザーの権限昇格申請を作成する。
// オペレーターへの通知は非同期に行い、結果を待たない。
func (s *Service) File(ctx context.Context, principal *model.Principal, in FileInput) (*model.AccessRequest, error) {
	// 1. 入力を検証
	in.Type = strings.TrimSpace(in.Type)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Type == "" {
		in.Type = "admin_access"
	}
	if len(in.Type) > maxTypeLength {
		return nil, model.NewValidationError("type", fmt.Sprintf("must be at most %d characters", maxTypeLength))
	}
	if len(in.Title) > maxTitleLength {
		return nil, model.NewValidationError("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
	if len(in.Description) > maxDescriptionLength {
		return nil, model.NewValidationError("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}

	// 2. 現在のロールをストアで確認
	user, err := s.users.FindByUsername(ctx, principal.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if user.EffectiveRole() == model.ElevatedRole {
		return nil, model.NewAlreadyAdminError()
	}

	// 3. pending申請の重複を確認
	pending, err := s.requests.FindPendingByUsername(ctx, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending request: %w", err)
	}
	if pending != nil {
		return nil, model.NewDuplicatePendingError()
	}

	// 4. 申請を作成（同時申請は部分一意インデックスで検出）
	req := &model.AccessRequest{
		ID:          uuid.NewString(),
		Username:    user.Username,
		Email:       user.Email,
		Type:        in.Type,
		Title:       in.Title,
		Description: in.Description,
		Status:      model.RequestStatusPending,
		RequestedAt: s.now(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicatePendingError()
		}
		return nil, fmt.Errorf("failed to create access request: %w", err)
	}
	s.metrics.RecordAccessTransition(string(model.RequestStatusPending))

	slog.Info("access request filed",
		slog.String("request_id", req.ID),
		slog.String("username", req.Username),
	)

	// 5. オペレーターへ非同期に通知
	if s.operatorEmail != "" {
		s.notifier.Go(ctx, notify.KindRequestFiled, s.composer.RequestFiled(s.operatorEmail, req))
	}

	return req, nil
}

// Approve はusernameのpending申請を承認し、ユーザーに管理者ロールを付与する。
func (s *Service) Approve(ctx context.Context, admin *model.Principal, username string) (*Outcome, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	// 1. pending申請を取得
	req, err := s.findPending(ctx, username)
	if err != nil {
		return nil, err
	}

	// 2. ロール付与と状態遷移を同一トランザクションで実行
	at := s.now()
	if err := s.requests.Approve(ctx, req.ID, req.Username, model.ElevatedRole, at); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewRequestNotFoundError(username)
		}
		return nil, fmt.Errorf("failed to approve access request: %w", err)
	}
	req.Status = model.RequestStatusApproved
	req.AdminActionAt = &at
	s.metrics.RecordAccessTransition(string(req.Status))

	slog.Info("access request approved",
		slog.String("request_id", req.ID),
		slog.String("username", req.Username),
		slog.String("admin", admin.Username),
	)

	// 3. 申請者へ通知（失敗してもロールバックしない）
	return s.outcome(ctx, req, nil, notify.KindApproved, s.composer.RequestApproved(req)), nil
}

// Reject はusernameのpending申請を却下する。ロールは変更しない。
func (s *Service) Reject(ctx context.Context, admin *model.Principal, username string) (*Outcome, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	req, err := s.findPending(ctx, username)
	if err != nil {
		return nil, err
	}

	at := s.now()
	err = s.requests.Transition(ctx, req.ID, []model.RequestStatus{model.RequestStatusPending}, model.RequestStatusRejected, at)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewRequestNotFoundError(username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reject access request: %w", err)
	}
	req.Status = model.RequestStatusRejected
	req.AdminActionAt = &at
	s.metrics.RecordAccessTransition(string(req.Status))

	slog.Info("access request rejected",
		slog.String("request_id", req.ID),
		slog.String("username", req.Username),
		slog.String("admin", admin.Username),
	)

	return s.outcome(ctx, req, nil, notify.KindRejected, s.composer.RequestRejected(req)), nil
}

func (s *Service) findPending(ctx context.Context, username string) (*model.AccessRequest, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, model.NewValidationError("username", "required")
	}
	req, err := s.requests.FindPendingByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending request: %w", err)
	}
	if req == nil {
		return nil, model.NewRequestNotFoundError(username)
	}
	return req, nil
}

// outcome は通知を同期送信し、結果をOutcomeにまとめる。
func (s *Service) outcome(ctx context.Context, req *model.AccessRequest, reply *model.AccessReply, kind string, msg notify.Message) *Outcome {
	out := &Outcome{Request: req, Reply: reply}
	if msg.To == "" {
		out.EmailError = "recipient has no email address"
		return out
	}
	result := s.notifier.Dispatch(ctx, kind, msg)
	out.EmailSent = result.Sent
	out.EmailError = result.Error
	return out
}

// ListPending はpending申請をrequested_at昇順で返す。
func (s *Service) ListPending(ctx context.Context, admin *model.Principal) ([]*model.AccessRequest, error) {
	return s.list(ctx, admin, model.RequestStatusPending)
}

// ListAll は全申請をrequested_at昇順で返す。
func (s *Service) ListAll(ctx context.Context, admin *model.Principal) ([]*model.AccessRequest, error) {
	return s.list(ctx, admin, "")
}

func (s *Service) list(ctx context.Context, admin *model.Principal, status model.RequestStatus) ([]*model.AccessRequest, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	reqs, err := s.requests.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list access requests: %w", err)
	}
	return reqs, nil
}

// Reply は申請者への返信を保存し、申請をresolvedにする。
func (s *Service) Reply(ctx context.Context, admin *model.Principal, requestID, text string) (*Outcome, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	// 1. 入力を検証
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.NewValidationError("reply", "required")
	}
	if len(text) > maxReplyLength {
		return nil, model.NewValidationError("reply", fmt.Sprintf("must be at most %d characters", maxReplyLength))
	}

	// 2. 申請を取得
	req, err := s.findOpen(ctx, requestID)
	if err != nil {
		return nil, err
	}

	// 3. 返信の保存とresolved遷移
	reply := &model.AccessReply{
		ID:           uuid.NewString(),
		RequestID:    req.ID,
		Username:     req.Username,
		Admin:        admin.Username,
		Reply:        text,
		RequestTitle: req.DisplayTitle(),
		SentAt:       s.now(),
	}
	if err := s.replies.CreateAndResolve(ctx, reply); err != nil {
		// 取得後に他の管理者が解決した場合
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewRequestResolvedError(req.ID)
		}
		return nil, fmt.Errorf("failed to save reply: %w", err)
	}
	req.Status = model.RequestStatusResolved
	req.AdminActionAt = &reply.SentAt
	s.metrics.RecordAccessTransition(string(req.Status))

	slog.Info("access request replied",
		slog.String("request_id", req.ID),
		slog.String("admin", admin.Username),
	)

	// 4. 申請者へ通知
	return s.outcome(ctx, req, reply, notify.KindReply, s.composer.Reply(req.Email, reply)), nil
}

// Resolve は返信なしで申請をresolvedにする。
func (s *Service) Resolve(ctx context.Context, admin *model.Principal, requestID string) (*model.AccessRequest, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	req, err := s.findOpen(ctx, requestID)
	if err != nil {
		return nil, err
	}

	at := s.now()
	from := []model.RequestStatus{
		model.RequestStatusPending,
		model.RequestStatusApproved,
		model.RequestStatusRejected,
	}
	err = s.requests.Transition(ctx, req.ID, from, model.RequestStatusResolved, at)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewRequestResolvedError(req.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve access request: %w", err)
	}
	req.Status = model.RequestStatusResolved
	req.AdminActionAt = &at
	s.metrics.RecordAccessTransition(string(req.Status))
	return req, nil
}

// findOpen はresolved以外の申請を返す。解決済みの場合はconflictとする。
func (s *Service) findOpen(ctx context.Context, requestID string) (*model.AccessRequest, error) {
	req, err := s.findByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == model.RequestStatusResolved {
		return nil, model.NewRequestResolvedError(req.ID)
	}
	return req, nil
}

func (s *Service) findByID(ctx context.Context, requestID string) (*model.AccessRequest, error) {
	// UUID以外はストアに問い合わせずNotFoundとする
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, model.NewRequestNotFoundError(requestID)
	}
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to find access request: %w", err)
	}
	if req == nil {
		return nil, model.NewRequestNotFoundError(requestID)
	}
	return req, nil
}

// ListReplies は全返信を新しい順に返す。
func (s *Service) ListReplies(ctx context.Context, admin *model.Principal) ([]*model.AccessReply, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	replies, err := s.replies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	return replies, nil
}

// UserReplies は呼び出し元ユーザー宛ての返信を新しい順に返す。
func (s *Service) UserReplies(ctx context.Context, principal *model.Principal) ([]*model.AccessReply, error) {
	replies, err := s.replies.ListByUsername(ctx, principal.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	return replies, nil
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/scmxpert/scmxpertlite/internal/access"
	"github.com/scmxpert/scmxpertlite/internal/model"
)

// AccessServiceInterface はアクセス申請ハンドラーが必要とするサービスインターフェース。
type AccessServiceInterface interface {
	File(ctx context.Context, principal *model.Principal, in access.FileInput) (*model.AccessRequest, error)
	Approve(ctx context.Context, admin *model.Principal, username string) (*access.Outcome, error)
	Reject(ctx context.Context, admin *model.Principal, username string) (*access.Outcome, error)
	ListPending(ctx context.Context, admin *model.Principal) ([]*model.AccessRequest, error)
	ListAll(ctx context.Context, admin *model.Principal) ([]*model.AccessRequest, error)
	Reply(ctx context.Context, admin *model.Principal, requestID, text string) (*access.Outcome, error)
	Resolve(ctx context.Context, admin *model.Principal, requestID string) (*model.AccessRequest, error)
	ListReplies(ctx context.Context, admin *model.Principal) ([]*model.AccessReply, error)
	UserReplies(ctx context.Context, principal *model.Principal) ([]*model.AccessReply, error)
}

// AccessHandler はアクセス申請ワークフローのHTTPハンドラー。
type AccessHandler struct {
	service AccessServiceInterface
}

// NewAccessHandler はAccessHandlerを生成する。
func NewAccessHandler(service AccessServiceInterface) *AccessHandler {
	return &AccessHandler{
		service: service,
	}
}

type fileRequest struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type replyRequest struct {
	Reply string `json:"reply"`
}

// accessRequestResponse はアクセス申請のAPIレスポンス。
type accessRequestResponse struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Status        string     `json:"status"`
	RequestedAt   time.Time  `json:"requested_at"`
	AdminActionAt *time.Time `json:"admin_action_at"`
}

// accessReplyResponse は管理者返信のAPIレスポンス。
type accessReplyResponse struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Username     string    `json:"username"`
	Admin        string    `json:"admin"`
	Reply        string    `json:"reply"`
	RequestTitle string    `json:"request_title"`
	SentAt       time.Time `json:"sent_at"`
}

// outcomeResponse は管理者操作の結果。メール通知の成否を含む。
type outcomeResponse struct {
	Success    bool                   `json:"success"`
	Message    string                 `json:"message"`
	Request    *accessRequestResponse `json:"request,omitempty"`
	Reply      *accessReplyResponse   `json:"reply,omitempty"`
	EmailSent  bool                   `json:"email_sent"`
	EmailError string                 `json:"email_error,omitempty"`
}

// File はアクセス申請を作成する。
// POST /requests
func (h *AccessHandler) File(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req fileRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.service.File(r.Context(), principal, access.FileInput{
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toAccessRequestResponse(created)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Request submitted",
		"request": resp,
	})
}

// Approve はusernameのpending申請を承認し、ロールを昇格する。
// POST /admin/requests/{username}/approve
func (h *AccessHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Approve, "Request approved")
}

// Reject はusernameのpending申請を却下する。
// POST /admin/requests/{username}/reject
func (h *AccessHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Reject, "Request rejected")
}

type decision func(ctx context.Context, admin *model.Principal, username string) (*access.Outcome, error)

func (h *AccessHandler) decide(w http.ResponseWriter, r *http.Request, fn decision, message string) {
	admin, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	outcome, err := fn(r.Context(), admin, chi.URLParam(r, "username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOutcomeResponse(outcome, message))
}

// ListPending はpending状態の申請を申請日時順に返す。
// GET /admin/pending
func (h *AccessHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.service.ListPending)
}

// ListAll は全ての申請を返す。
// GET /admin/requests
func (h *AccessHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.service.ListAll)
}

func (h *AccessHandler) listRequests(w http.ResponseWriter, r *http.Request, fn func(context.Context, *model.Principal) ([]*model.AccessRequest, error)) {
	admin, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	requests, err := fn(r.Context(), admin)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]accessRequestResponse, 0, len(requests))
	for _, req := range requests {
		resp = append(resp, *toAccessRequestResponse(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": resp})
}

// Reply は申請に返信し、申請をresolvedにする。
// POST /admin/requests/{requestID}/reply
func (h *AccessHandler) Reply(w http.ResponseWriter, r *http.Request) {
	admin, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req replyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := h.service.Reply(r.Context(), admin, chi.URLParam(r, "requestID"), req.Reply)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOutcomeResponse(outcome, "Reply sent & request resolved"))
}

// Resolve は返信なしで申請をresolvedにする。
// POST /admin/requests/{requestID}/resolve
func (h *AccessHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	admin, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	resolved, err := h.service.Resolve(r.Context(), admin, chi.URLParam(r, "requestID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"request": toAccessRequestResponse(resolved),
	})
}

// ListReplies は全ての返信を新しい順に返す。
// GET /admin/replies
func (h *AccessHandler) ListReplies(w http.ResponseWriter, r *http.Request) {
	h.listReplies(w, r, h.service.ListReplies)
}

// UserReplies は呼び出し元ユーザー宛ての返信を返す。
// GET /user/replies
func (h *AccessHandler) UserReplies(w http.ResponseWriter, r *http.Request) {
	h.listReplies(w, r, h.service.UserReplies)
}

func (h *AccessHandler) listReplies(w http.ResponseWriter, r *http.Request, fn func(context.Context, *model.Principal) ([]*model.AccessReply, error)) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	replies, err := fn(r.Context(), principal)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]accessReplyResponse, 0, len(replies))
	for _, reply := range replies {
		resp = append(resp, *toAccessReplyResponse(reply))
	}
	writeJSON(w, http.StatusOK, map[string]any{"replies": resp})
}

func toAccessRequestResponse(req *model.AccessRequest) *accessRequestResponse {
	if req == nil {
		return nil
	}
	return &accessRequestResponse{
		ID:            req.ID,
		Username:      req.Username,
		Email:         req.Email,
		Type:          req.Type,
		Title:         req.Title,
		Description:   req.Description,
		Status:        string(req.Status),
		RequestedAt:   req.RequestedAt,
		AdminActionAt: req.AdminActionAt,
	}
}

func toAccessReplyResponse(reply *model.AccessReply) *accessReplyResponse {
	if reply == nil {
		return nil
	}
	return &accessReplyResponse{
		ID:           reply.ID,
		RequestID:    reply.RequestID,
		Username:     reply.Username,
		Admin:        reply.Admin,
		Reply:        reply.Reply,
		RequestTitle: reply.RequestTitle,
		SentAt:       reply.SentAt,
	}
}

func toOutcomeResponse(outcome *access.Outcome, message string) outcomeResponse {
	return outcomeResponse{
		Success:    true,
		Message:    message,
		Request:    toAccessRequestResponse(outcome.Request),
		Reply:      toAccessReplyResponse(outcome.Reply),
		EmailSent:  outcome.EmailSent,
		EmailError: outcome.EmailError,
	}
}

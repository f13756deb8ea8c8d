package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/user"
)

// UserServiceInterface はユーザー管理ハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// ListUsers は全ユーザーの公開情報を返す。管理者のみ。
	ListUsers(ctx context.Context, admin *model.Principal) ([]user.Summary, error)
	// SetRole はユーザーのロールを変更し、本人に通知する。管理者のみ。
	SetRole(ctx context.Context, admin *model.Principal, username, role string) (*user.RoleChange, error)
	// RecordLogin はログイン記録を保存する。
	RecordLogin(ctx context.Context, principal *model.Principal, username, ts string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type setRoleRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type recordLoginRequest struct {
	Username string `json:"username"`
	TS       string `json:"ts"`
}

type userSummaryResponse struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	FullName     string    `json:"fullname"`
	AuthProvider string    `json:"auth_provider"`
	CreatedAt    time.Time `json:"created_at"`
}

type roleChangeResponse struct {
	Message    string `json:"message"`
	Username   string `json:"username"`
	OldRole    string `json:"old_role"`
	NewRole    string `json:"new_role"`
	EmailSent  bool   `json:"email_sent"`
	EmailError string `json:"email_error,omitempty"`
}

// ListUsers はユーザー一覧を返す。パスワードダイジェストは含めない。
// GET /admin/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	admin, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	users, err := h.service.ListUsers(r.Context(), admin)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userSummaryResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userSummaryResponse{
			Username:     u.Username,
			Email:        u.Email,
			Role:         string(u.Role),
			FullName:     u.FullName,
			AuthProvider: u.AuthProvider,
			CreatedAt:    u.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": resp})
}

// SetRole はパスのusernameのロールを変更する。
// POST /admin/set-role/{username}
func (h *UserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.setRole(w, r, chi.URLParam(r, "username"), req.Role)
}

// UpdateRole はボディのusernameのロールを変更する。
// POST /update-role
func (h *UserHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("username", "required"))
		return
	}
	h.setRole(w, r, req.Username, req.Role)
}

func (h *UserHandler) setRole(w http.ResponseWriter, r *http.Request, username, role string) {
	admin, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	change, err := h.service.SetRole(r.Context(), admin, username, role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, roleChangeResponse{
		Message:    "Role updated successfully",
		Username:   change.Username,
		OldRole:    string(change.OldRole),
		NewRole:    string(change.NewRole),
		EmailSent:  change.EmailSent,
		EmailError: change.EmailError,
	})
}

// RecordLogin はログイン記録を保存する。usernameを省略した場合は呼び出し元ユーザーとして記録する。
// POST /admin/loggedin
func (h *UserHandler) RecordLogin(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req recordLoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.RecordLogin(r.Context(), principal, req.Username, req.TS); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Recorded"})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/auth"
	"github.com/scmxpert/scmxpertlite/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) (*model.User, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	GoogleLogin(ctx context.Context, in auth.GoogleLoginInput) (*auth.LoginResult, error)
	VerifyRecaptcha(ctx context.Context, recaptchaToken, action string) error
	CurrentUser(ctx context.Context, principal *model.Principal) (*model.User, error)
	ForgotPassword(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, in auth.ResetInput) error
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

type signupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// loginRequest はログインのリクエスト。usernameにはemailも指定できる。
type loginRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	RecaptchaToken string `json:"recaptcha_token"`
}

type googleLoginRequest struct {
	Token          string `json:"token"`
	RecaptchaToken string `json:"recaptcha_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type resetPasswordRequest struct {
	Email           string `json:"email"`
	OTP             string `json:"otp"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type recaptchaVerifyRequest struct {
	Token  string `json:"token"`
	Action string `json:"action"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

type meResponse struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	FullName     string    `json:"fullname"`
	Picture      string    `json:"picture"`
	AuthProvider string    `json:"auth_provider"`
	CreatedAt    time.Time `json:"created_at"`
	Degraded     bool      `json:"degraded,omitempty"`
}

// Signup はユーザー登録を処理する。
// POST /signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := h.service.Signup(r.Context(), auth.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	}); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Message: "Signup successful"})
}

// Login はパスワードログインを処理する。フォームとJSONの両方を受け付ける。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Identifier:     req.Username,
		Password:       req.Password,
		RecaptchaToken: req.RecaptchaToken,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginResponse(result))
}

// GoogleLogin はGoogleのIDトークンでログインする。未登録の場合はユーザーを作成する。
// POST /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("token", "required"))
		return
	}

	result, err := h.service.GoogleLogin(r.Context(), auth.GoogleLoginInput{
		IDToken:        req.Token,
		RecaptchaToken: req.RecaptchaToken,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginResponse(result))
}

// Logout はログアウトを処理する。トークンはステートレスのためクライアント側で破棄する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	slog.Info("user logged out", slog.String("username", principal.Username))
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	// ストア障害時はトークンの情報のみで応答する
	if principal.Degraded {
		writeJSON(w, http.StatusOK, meResponse{
			Username: principal.Username,
			Role:     string(principal.Role),
			Degraded: true,
		})
		return
	}

	user, err := h.service.CurrentUser(r.Context(), principal)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		Username:     user.Username,
		Email:        user.Email,
		Role:         string(user.EffectiveRole()),
		FullName:     user.FullName,
		Picture:      user.Picture,
		AuthProvider: user.AuthProvider,
		CreatedAt:    user.CreatedAt,
	})
}

// ForgotPassword はパスワード再設定用のワンタイムコードをメールで送信する。
// POST /forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "OTP sent successfully"})
}

// VerifyOTP はワンタイムコードを検証する。
// POST /verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.VerifyOTP(r.Context(), req.Email, req.OTP); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "OTP verified"})
}

// ResetPassword はワンタイムコードを確認してパスワードを再設定する。
// POST /reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), auth.ResetInput{
		Email:           req.Email,
		Code:            req.OTP,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	}); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated successfully"})
}

// RecaptchaVerify はreCAPTCHAトークンの検証結果を返す。フロントエンドの動作確認用。
// POST /public/recaptcha-verify
func (h *AuthHandler) RecaptchaVerify(w http.ResponseWriter, r *http.Request) {
	var req recaptchaVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	verified := h.service.VerifyRecaptcha(r.Context(), req.Token, req.Action) == nil
	writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

func toLoginResponse(result *auth.LoginResult) loginResponse {
	return loginResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		Username:    result.Username,
		Email:       result.Email,
		Role:        string(result.Role),
	}
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scmxpert/scmxpertlite/internal/access"
	"github.com/scmxpert/scmxpertlite/internal/auth"
	"github.com/scmxpert/scmxpertlite/internal/device"
	"github.com/scmxpert/scmxpertlite/internal/middleware"
	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/shipment"
	"github.com/scmxpert/scmxpertlite/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	signupFn          func(ctx context.Context, in auth.SignupInput) (*model.User, error)
	loginFn           func(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	googleLoginFn     func(ctx context.Context, in auth.GoogleLoginInput) (*auth.LoginResult, error)
	verifyRecaptchaFn func(ctx context.Context, token, action string) error
	currentUserFn     func(ctx context.Context, principal *model.Principal) (*model.User, error)
	forgotPasswordFn  func(ctx context.Context, email string) error
	verifyOTPFn       func(ctx context.Context, email, code string) error
	resetPasswordFn   func(ctx context.Context, in auth.ResetInput) error
}

func (m *mockAuthService) Signup(ctx context.Context, in auth.SignupInput) (*model.User, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, in)
	}
	return &model.User{Username: in.Username}, nil
}

func (m *mockAuthService) Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, in)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) GoogleLogin(ctx context.Context, in auth.GoogleLoginInput) (*auth.LoginResult, error) {
	if m.googleLoginFn != nil {
		return m.googleLoginFn(ctx, in)
	}
	return nil, model.NewInvalidGoogleTokenError("not configured")
}

func (m *mockAuthService) VerifyRecaptcha(ctx context.Context, token, action string) error {
	if m.verifyRecaptchaFn != nil {
		return m.verifyRecaptchaFn(ctx, token, action)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, principal *model.Principal) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, principal)
	}
	return &model.User{Username: principal.Username, Role: principal.Role}, nil
}

func (m *mockAuthService) ForgotPassword(ctx context.Context, email string) error {
	if m.forgotPasswordFn != nil {
		return m.forgotPasswordFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) VerifyOTP(ctx context.Context, email, code string) error {
	if m.verifyOTPFn != nil {
		return m.verifyOTPFn(ctx, email, code)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, in auth.ResetInput) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, in)
	}
	return nil
}

type mockAccessService struct {
	fileFn        func(ctx context.Context, principal *model.Principal, in access.FileInput) (*model.AccessRequest, error)
	approveFn     func(ctx context.Context, admin *model.Principal, username string) (*access.Outcome, error)
	rejectFn      func(ctx context.Context, admin *model.Principal, username string) (*access.Outcome, error)
	listPendingFn func(ctx context.Context, admin *model.Principal) ([]*model.AccessRequest, error)
	listAllFn     func(ctx context.Context, admin *model.Principal) ([]*model.AccessRequest, error)
	replyFn       func(ctx context.Context, admin *model.Principal, requestID, text string) (*access.Outcome, error)
	resolveFn     func(ctx context.Context, admin *model.Principal, requestID string) (*model.AccessRequest, error)
	listRepliesFn func(ctx context.Context, admin *model.Principal) ([]*model.AccessReply, error)
	userRepliesFn func(ctx context.Context, principal *model.Principal) ([]*model.AccessReply, error)
}

func (m *mockAccessService) File(ctx context.Context, principal *model.Principal, in access.FileInput) (*model.AccessRequest, error) {
	if m.fileFn != nil {
		return m.fileFn(ctx, principal, in)
	}
	return &model.AccessRequest{ID: "req-1", Username: principal.Username, Status: model.RequestStatusPending}, nil
}

func (m *mockAccessService) Approve(ctx context.Context, admin *model.Principal, username string) (*access.Outcome, error) {
	if m.approveFn != nil {
		return m.approveFn(ctx, admin, username)
	}
	return nil, model.NewRequestNotFoundError(username)
}

func (m *mockAccessService) Reject(ctx context.Context, admin *model.Principal, username string) (*access.Outcome, error) {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, admin, username)
	}
	return nil, model.NewRequestNotFoundError(username)
}

func (m *mockAccessService) ListPending(ctx context.Context, admin *model.Principal) ([]*model.AccessRequest, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, admin)
	}
	return nil, nil
}

func (m *mockAccessService) ListAll(ctx context.Context, admin *model.Principal) ([]*model.AccessRequest, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx, admin)
	}
	return nil, nil
}

func (m *mockAccessService) Reply(ctx context.Context, admin *model.Principal, requestID, text string) (*access.Outcome, error) {
	if m.replyFn != nil {
		return m.replyFn(ctx, admin, requestID, text)
	}
	return nil, model.NewRequestNotFoundError(requestID)
}

func (m *mockAccessService) Resolve(ctx context.Context, admin *model.Principal, requestID string) (*model.AccessRequest, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, admin, requestID)
	}
	return nil, model.NewRequestNotFoundError(requestID)
}

func (m *mockAccessService) ListReplies(ctx context.Context, admin *model.Principal) ([]*model.AccessReply, error) {
	if m.listRepliesFn != nil {
		return m.listRepliesFn(ctx, admin)
	}
	return nil, nil
}

func (m *mockAccessService) UserReplies(ctx context.Context, principal *model.Principal) ([]*model.AccessReply, error) {
	if m.userRepliesFn != nil {
		return m.userRepliesFn(ctx, principal)
	}
	return nil, nil
}

type mockUserService struct {
	listUsersFn   func(ctx context.Context, admin *model.Principal) ([]user.Summary, error)
	setRoleFn     func(ctx context.Context, admin *model.Principal, username, role string) (*user.RoleChange, error)
	recordLoginFn func(ctx context.Context, principal *model.Principal, username, ts string) error
}

func (m *mockUserService) ListUsers(ctx context.Context, admin *model.Principal) ([]user.Summary, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, admin)
	}
	return nil, nil
}

func (m *mockUserService) SetRole(ctx context.Context, admin *model.Principal, username, role string) (*user.RoleChange, error) {
	if m.setRoleFn != nil {
		return m.setRoleFn(ctx, admin, username, role)
	}
	return &user.RoleChange{Username: username, OldRole: model.RoleUser, NewRole: model.Role(role)}, nil
}

func (m *mockUserService) RecordLogin(ctx context.Context, principal *model.Principal, username, ts string) error {
	if m.recordLoginFn != nil {
		return m.recordLoginFn(ctx, principal, username, ts)
	}
	return nil
}

type mockShipmentService struct {
	createFn func(ctx context.Context, principal *model.Principal, in shipment.Input) (*model.Shipment, error)
	listFn   func(ctx context.Context) ([]*model.Shipment, error)
}

func (m *mockShipmentService) Create(ctx context.Context, principal *model.Principal, in shipment.Input) (*model.Shipment, error) {
	if m.createFn != nil {
		return m.createFn(ctx, principal, in)
	}
	return &model.Shipment{ShipmentNumber: in.ShipmentNumber, CreatedBy: principal.Username}, nil
}

func (m *mockShipmentService) List(ctx context.Context) ([]*model.Shipment, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

type mockDeviceService struct {
	insertFn      func(ctx context.Context, principal *model.Principal, in device.ReadingInput) (*model.DeviceReading, error)
	listDevicesFn func(ctx context.Context) ([]string, error)
	recentFn      func(ctx context.Context) ([]*model.DeviceReading, error)
	byDeviceFn    func(ctx context.Context, deviceID string) ([]*model.DeviceReading, error)
}

func (m *mockDeviceService) Insert(ctx context.Context, principal *model.Principal, in device.ReadingInput) (*model.DeviceReading, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, principal, in)
	}
	return &model.DeviceReading{ID: "reading-1", DeviceID: in.DeviceID}, nil
}

func (m *mockDeviceService) ListDevices(ctx context.Context) ([]string, error) {
	if m.listDevicesFn != nil {
		return m.listDevicesFn(ctx)
	}
	return nil, nil
}

func (m *mockDeviceService) Recent(ctx context.Context) ([]*model.DeviceReading, error) {
	if m.recentFn != nil {
		return m.recentFn(ctx)
	}
	return nil, nil
}

func (m *mockDeviceService) ByDevice(ctx context.Context, deviceID string) ([]*model.DeviceReading, error) {
	if m.byDeviceFn != nil {
		return m.byDeviceFn(ctx, deviceID)
	}
	return nil, nil
}

// mockAuthenticator はトークン文字列からPrincipalを引くモック。
type mockAuthenticator struct {
	principals map[string]*model.Principal
}

func (m *mockAuthenticator) Authenticate(_ context.Context, token string) (*model.Principal, error) {
	if p, ok := m.principals[token]; ok {
		return p, nil
	}
	return nil, model.NewInvalidTokenError()
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error {
	return m.err
}

// compile-time interface check
var (
	_ AuthServiceInterface     = (*mockAuthService)(nil)
	_ AccessServiceInterface   = (*mockAccessService)(nil)
	_ UserServiceInterface     = (*mockUserService)(nil)
	_ ShipmentServiceInterface = (*mockShipmentService)(nil)
	_ DeviceServiceInterface   = (*mockDeviceService)(nil)
	_ middleware.Authenticator = (*mockAuthenticator)(nil)
	_ HealthChecker            = (*mockHealthChecker)(nil)

	_ AuthServiceInterface     = (*auth.Service)(nil)
	_ AccessServiceInterface   = (*access.Service)(nil)
	_ UserServiceInterface     = (*user.Service)(nil)
	_ ShipmentServiceInterface = (*shipment.Service)(nil)
	_ DeviceServiceInterface   = (*device.Service)(nil)
)

// --- ヘルパー ---

var (
	alice = &model.Principal{Username: "alice", Email: "alice@example.com", Role: model.RoleUser}
	root  = &model.Principal{Username: "root", Email: "root@example.com", Role: model.RoleAdmin}
)

// withPrincipal はリクエストコンテキストに認証済みユーザーを設定する。
func withPrincipal(r *http.Request, p *model.Principal) *http.Request {
	return r.WithContext(middleware.ContextWithPrincipal(r.Context(), p))
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, status, w.Body.String())
	}
	var body middleware.ErrorResponseBody
	decodeJSON(t, w, &body)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
}

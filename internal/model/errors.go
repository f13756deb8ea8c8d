// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, authorization, conflict, not_found, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.NewDuplicatePendingError()) のような比較に使う。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// エラーカテゴリ
const (
	CategoryValidation    = "validation"
	CategoryAuth          = "auth"
	CategoryAuthorization = "authorization"
	CategoryConflict      = "conflict"
	CategoryNotFound      = "not_found"
	CategorySystem        = "system"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodePasswordMismatch    = "PASSWORD_MISMATCH"
	ErrCodeWeakPassword        = "WEAK_PASSWORD"
	ErrCodeInvalidRole         = "INVALID_ROLE"
	ErrCodeInvalidGoogleToken  = "INVALID_GOOGLE_TOKEN"
	ErrCodeOTPNotFound         = "OTP_NOT_FOUND"
	ErrCodeOTPIncorrect        = "OTP_INCORRECT"
	ErrCodeOTPExpired          = "OTP_EXPIRED"
	ErrCodeOTPAttemptsExceeded = "OTP_ATTEMPTS_EXCEEDED"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeRecaptchaFailed     = "RECAPTCHA_FAILED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeUserExists          = "USER_ALREADY_EXISTS"
	ErrCodeDuplicatePending    = "DUPLICATE_PENDING_REQUEST"
	ErrCodeAlreadyAdmin        = "ALREADY_ADMIN"
	ErrCodeShipmentExists      = "SHIPMENT_ALREADY_EXISTS"
	ErrCodeRequestResolved     = "REQUEST_ALREADY_RESOLVED"
	ErrCodeRequestNotFound     = "REQUEST_NOT_FOUND"
	ErrCodeTargetUserNotFound  = "TARGET_USER_NOT_FOUND"
	ErrCodeEmailNotRegistered  = "EMAIL_NOT_REGISTERED"
	ErrCodeEmailDeliveryFailed = "EMAIL_DELIVERY_FAILED"
)

// --- ValidationError ---

// NewInvalidRequestError はリクエストボディの解析に失敗した場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "The request body could not be parsed.",
		Category: CategoryValidation,
		Action:   "Send a well-formed JSON or form body.",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("%s: %s", field, reason),
		Category: CategoryValidation,
		Action:   "Correct the highlighted field and try again.",
	}
}

// NewPasswordMismatchError はパスワードと確認用パスワードが一致しない場合のエラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "Passwords do not match.",
		Category: CategoryValidation,
		Action:   "Type the same password in both fields.",
	}
}

// NewWeakPasswordError はパスワード強度が不足している場合のエラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  "Weak password.",
		Category: CategoryValidation,
		Action:   "Use at least 8 characters with upper and lower case letters, a digit and one of !@#$%^&*.",
	}
}

// NewInvalidRoleError は未定義のロールが指定された場合のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("Invalid role: %q", role),
		Category: CategoryValidation,
		Action:   "Use one of admin, manager, editor, viewer, user.",
	}
}

// NewInvalidGoogleTokenError はGoogleのIDトークンを検証できない場合のエラーを生成する。
func NewInvalidGoogleTokenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGoogleToken,
		Message:  fmt.Sprintf("Invalid Google token: %s", reason),
		Category: CategoryValidation,
		Action:   "Sign in with Google again.",
	}
}

// NewOTPNotFoundError はOTPが発行されていない場合のエラーを生成する。
func NewOTPNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPNotFound,
		Message:  "OTP not found.",
		Category: CategoryValidation,
		Action:   "Request a new code from the forgot password page.",
	}
}

// NewOTPIncorrectError はOTPが一致しない場合のエラーを生成する。
func NewOTPIncorrectError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPIncorrect,
		Message:  "Incorrect OTP.",
		Category: CategoryValidation,
		Action:   "Check the code in the email and try again.",
	}
}

// NewOTPExpiredError はOTPの有効期限が切れている場合のエラーを生成する。
func NewOTPExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPExpired,
		Message:  "OTP expired.",
		Category: CategoryValidation,
		Action:   "Request a new code from the forgot password page.",
	}
}

// NewOTPAttemptsExceededError は検証失敗が上限に達しコードを無効化した場合のエラーを生成する。
func NewOTPAttemptsExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPAttemptsExceeded,
		Message:  "Too many incorrect codes. The code has been invalidated.",
		Category: CategoryValidation,
		Action:   "Request a new code from the forgot password page.",
	}
}

// --- AuthError ---

// NewInvalidCredentialsError は認証情報が正しくない場合のエラーを生成する。
// ユーザーの存在有無を推測させないため、未登録とパスワード誤りで同じエラーを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid username/email or password.",
		Category: CategoryAuth,
		Action:   "Check your credentials and try again.",
	}
}

// NewInvalidTokenError はトークンが不正または期限切れの場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "Invalid or expired token.",
		Category: CategoryAuth,
		Action:   "Log in again.",
	}
}

// NewUserNotFoundError はトークンの主体となるユーザーが存在しない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: CategoryAuth,
		Action:   "Log in again.",
	}
}

// NewRecaptchaFailedError はreCAPTCHA検証に失敗した場合のエラーを生成する。
func NewRecaptchaFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeRecaptchaFailed,
		Message:  "reCAPTCHA validation failed.",
		Category: CategoryAuth,
		Action:   "Complete the reCAPTCHA challenge and try again.",
	}
}

// --- AuthorizationError ---

// NewForbiddenError は呼び出し元のロールが不足している場合のエラーを生成する。
func NewForbiddenError(required ...Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("Access denied. Required role(s): %v", required),
		Category: CategoryAuthorization,
		Action:   "Ask an administrator for access.",
	}
}

// --- ConflictError ---

// NewUserExistsError はusernameまたはemailが既に登録されている場合のエラーを生成する。
func NewUserExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserExists,
		Message:  "User already exists.",
		Category: CategoryConflict,
		Action:   "Log in, or sign up with a different username and email.",
	}
}

// NewDuplicatePendingError は未処理の申請が既に存在する場合のエラーを生成する。
func NewDuplicatePendingError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicatePending,
		Message:  "You already have a pending request.",
		Category: CategoryConflict,
		Action:   "Wait for an administrator to review the pending request.",
	}
}

// NewAlreadyAdminError は既に管理者ロールを持つユーザーが申請した場合のエラーを生成する。
func NewAlreadyAdminError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyAdmin,
		Message:  "You already have the admin role.",
		Category: CategoryConflict,
		Action:   "No request is needed.",
	}
}

// NewShipmentExistsError は出荷番号が重複している場合のエラーを生成する。
func NewShipmentExistsError(number string) *APIError {
	return &APIError{
		Code:     ErrCodeShipmentExists,
		Message:  fmt.Sprintf("Shipment number already exists: %s", number),
		Category: CategoryConflict,
		Action:   "Use a different shipment number.",
	}
}

// NewRequestResolvedError は解決済みの申請に返信または解決を行おうとした場合のエラーを生成する。
func NewRequestResolvedError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeRequestResolved,
		Message:  fmt.Sprintf("Access request is already resolved: %s", id),
		Category: CategoryConflict,
		Action:   "Reload the request list. Resolved requests cannot be changed.",
	}
}

// --- NotFoundError ---

// NewRequestNotFoundError はアクセス申請が見つからない場合のエラーを生成する。
func NewRequestNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeRequestNotFound,
		Message:  fmt.Sprintf("Request not found: %s", key),
		Category: CategoryNotFound,
		Action:   "Refresh the request list.",
	}
}

// NewTargetUserNotFoundError は操作対象のユーザーが見つからない場合のエラーを生成する。
func NewTargetUserNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeTargetUserNotFound,
		Message:  fmt.Sprintf("User not found: %s", username),
		Category: CategoryNotFound,
		Action:   "Check the username.",
	}
}

// NewEmailNotRegisteredError はメールアドレスが未登録の場合のエラーを生成する。
func NewEmailNotRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotRegistered,
		Message:  "Email not registered.",
		Category: CategoryNotFound,
		Action:   "Check the address or sign up.",
	}
}

// --- SystemError ---

// NewEmailDeliveryFailedError はメール送信自体が操作の目的である場合の送信失敗エラーを生成する。
func NewEmailDeliveryFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailDeliveryFailed,
		Message:  "Failed to send email.",
		Category: CategorySystem,
		Action:   "Wait a moment and try again.",
	}
}

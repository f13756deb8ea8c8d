package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

// ErrCodeRateLimitExceeded はリクエスト数の上限超過を示すエラーコード。
const ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// detailは旧フロントエンドが参照するためmessageと同じ値を入れる。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Detail   string `json:"detail"`
}

// categoryStatus はエラーカテゴリとHTTPステータスの対応表。
// 表にないカテゴリは500として扱う。
var categoryStatus = map[string]int{
	model.CategoryValidation:    http.StatusBadRequest,
	model.CategoryAuth:          http.StatusUnauthorized,
	model.CategoryAuthorization: http.StatusForbidden,
	model.CategoryConflict:      http.StatusConflict,
	model.CategoryNotFound:      http.StatusNotFound,
}

// StatusFor はAPIErrorのカテゴリに対応するHTTPステータスコードを返す。
func StatusFor(apiErr *model.APIError) int {
	if apiErr == nil {
		return http.StatusInternalServerError
	}
	if status, ok := categoryStatus[apiErr.Category]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteAPIError はカテゴリから決まるステータスコードでエラーレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusFor(apiErr), apiErr)
}

// WriteErrorResponse は指定したステータスコードで統一エラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		apiErr = internalError()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Detail:   apiErr.Message,
	})
	if err != nil {
		slog.Debug("failed to write error response", slog.String("error", err.Error()))
	}
}

// WriteInternalServerError は500レスポンスを書き込む。
// 原因はクライアントへ返さず、呼び出し側でログに残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, internalError())
}

func internalError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "An internal error occurred.",
		Category: model.CategorySystem,
		Action:   "Wait a moment and try again.",
	}
}

func rateLimitError() *model.APIError {
	return &model.APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: model.CategorySystem,
		Action:   "Wait for the Retry-After interval and retry.",
	}
}

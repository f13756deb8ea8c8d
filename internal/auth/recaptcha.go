package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRecaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// ErrRecaptchaRejected はreCAPTCHAの検証に失敗したことを示す。
var ErrRecaptchaRejected = errors.New("recaptcha rejected")

// RecaptchaVerifier はreCAPTCHAトークンを検証するインターフェース。
type RecaptchaVerifier interface {
	// Verify はトークンを検証する。actionが空でない場合はレスポンスのactionと照合する。
	Verify(ctx context.Context, token, action string) error
}

// RecaptchaConfig はreCAPTCHA検証の設定。
type RecaptchaConfig struct {
	Secret   string
	MinScore float64

	// テスト用にオーバーライド可能
	VerifyURL  string
	HTTPClient *http.Client
}

// RecaptchaClient はGoogleのsiteverify APIでトークンを検証する。
// Secretが空の場合は検証を行わず常に成功する。
type RecaptchaClient struct {
	config RecaptchaConfig
}

// NewRecaptchaClient はRecaptchaClientを生成する。
func NewRecaptchaClient(config RecaptchaConfig) *RecaptchaClient {
	if config.VerifyURL == "" {
		config.VerifyURL = defaultRecaptchaVerifyURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.MinScore <= 0 {
		config.MinScore = 0.5
	}
	return &RecaptchaClient{config: config}
}

// Enabled はシークレットが設定されているかを返す。
func (c *RecaptchaClient) Enabled() bool {
	return c.config.Secret != ""
}

// recaptchaResponse はsiteverify APIのレスポンス。
// scoreとactionはv3の場合のみ含まれる。
type recaptchaResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify はトークンを検証する。
func (c *RecaptchaClient) Verify(ctx context.Context, token, action string) error {
	if !c.Enabled() {
		return nil
	}
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrRecaptchaRejected)
	}

	data := url.Values{
		"secret":   {c.config.Secret},
		"response": {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.VerifyURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create recaptcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("recaptcha request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read recaptcha response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recaptcha verify failed with status %d", resp.StatusCode)
	}

	var result recaptchaResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse recaptcha response: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("%w: %v", ErrRecaptchaRejected, result.ErrorCodes)
	}
	if result.Score != nil && *result.Score < c.config.MinScore {
		return fmt.Errorf("%w: score %.2f below %.2f", ErrRecaptchaRejected, *result.Score, c.config.MinScore)
	}
	if action != "" && result.Action != "" && result.Action != action {
		return fmt.Errorf("%w: action %q, want %q", ErrRecaptchaRejected, result.Action, action)
	}
	return nil
}

// compile-time interface check
var _ RecaptchaVerifier = (*RecaptchaClient)(nil)

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// ErrGoogleTokenRejected はGoogleのIDトークンが無効であることを示す。
// 通信エラーなどのシステム障害とは区別する。
var ErrGoogleTokenRejected = errors.New("google id token rejected")

// GoogleIdentity はIDトークンから得たGoogleアカウントの情報を表す。
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// GoogleVerifier はGoogleのIDトークンを検証するインターフェース。
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleIdentity, error)
}

// GoogleOAuthConfig はGoogleサインインの設定。
type GoogleOAuthConfig struct {
	ClientID string

	// テスト用にオーバーライド可能なURL
	TokenInfoURL string
	HTTPClient   *http.Client
}

// GoogleIDTokenVerifier はGoogleのtokeninfoエンドポイントでIDトークンを検証する。
type GoogleIDTokenVerifier struct {
	config GoogleOAuthConfig
	now    func() time.Time
}

// NewGoogleIDTokenVerifier はGoogleIDTokenVerifierを生成する。
func NewGoogleIDTokenVerifier(config GoogleOAuthConfig) *GoogleIDTokenVerifier {
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleIDTokenVerifier{config: config, now: time.Now}
}

// flexBool はtokeninfoが文字列 "true" で返すbool値を受け付ける。
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

// googleTokenInfo はtokeninfoエンドポイントのレスポンス。
type googleTokenInfo struct {
	Issuer        string   `json:"iss"`
	Audience      string   `json:"aud"`
	Subject       string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	Picture       string   `json:"picture"`
	Expiry        string   `json:"exp"`
}

// Verify はIDトークンを検証し、アカウント情報を返す。
// audがClientIDと一致しない、emailが未検証、期限切れのいずれかの場合は
// ErrGoogleTokenRejectedをラップしたエラーを返す。
func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	if idToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrGoogleTokenRejected)
	}

	// 1. tokeninfoでトークンを検証
	info, err := v.fetchTokenInfo(ctx, idToken)
	if err != nil {
		return nil, err
	}

	// 2. クレームを検証
	if info.Audience != v.config.ClientID {
		return nil, fmt.Errorf("%w: audience mismatch", ErrGoogleTokenRejected)
	}
	if info.Issuer != "accounts.google.com" && info.Issuer != "https://accounts.google.com" {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrGoogleTokenRejected, info.Issuer)
	}
	if info.Expiry != "" {
		exp, err := strconv.ParseInt(info.Expiry, 10, 64)
		if err != nil || v.now().After(time.Unix(exp, 0)) {
			return nil, fmt.Errorf("%w: token expired", ErrGoogleTokenRejected)
		}
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("%w: empty sub", ErrGoogleTokenRejected)
	}
	if info.Email == "" || !bool(info.EmailVerified) {
		return nil, fmt.Errorf("%w: email not verified", ErrGoogleTokenRejected)
	}

	return &GoogleIdentity{
		Subject: info.Subject,
		Email:   strings.ToLower(info.Email),
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

// fetchTokenInfo はtokeninfoエンドポイントを呼び出す。
func (v *GoogleIDTokenVerifier) fetchTokenInfo(ctx context.Context, idToken string) (*googleTokenInfo, error) {
	endpoint := v.config.TokenInfoURL + "?" + url.Values{"id_token": {idToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokeninfo request: %w", err)
	}

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read tokeninfo response: %w", err)
	}

	// 無効なトークンには400が返る
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: tokeninfo status %d", ErrGoogleTokenRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokeninfo failed with status %d", resp.StatusCode)
	}

	var info googleTokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse tokeninfo response: %w", err)
	}
	return &info, nil
}

// compile-time interface check
var _ GoogleVerifier = (*GoogleIDTokenVerifier)(nil)

// Package token は署名付きベアラートークンの発行と検証を提供する。
// トークンはサーバー側に保存せず、埋め込まれた有効期限まで有効。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

// DefaultTTL はトークンの既定の有効期間。
const DefaultTTL = 10 * time.Hour

// ErrInvalidOrExpired はトークンの解析・署名・期限・必須クレームのいずれかの検証に失敗したことを示す。
// 内部の解析エラーは呼び出し元に公開しない。
var ErrInvalidOrExpired = errors.New("invalid or expired token")

// Claims はトークンのペイロード。subjectにusername、roleにロールを持つ。
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Issuer はトークンの発行と検証を行う。
type Issuer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。
// algorithmはHS256/HS384/HS512のいずれか。空の場合はHS256を使用する。
func NewIssuer(secret string, algorithm string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}

	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported token algorithm: %s", algorithm)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Issuer{
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL はトークンの有効期間を返す。
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue はusernameとroleを埋め込んだトークンを発行する。
// roleが空の場合はDefaultRoleを埋め込み、subjectとroleが常に揃うようにする。
func (i *Issuer) Issue(username string, role model.Role) (string, error) {
	if username == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if role == "" {
		role = model.DefaultRole
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role: string(role),
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse はトークンの署名と有効期限を検証し、クレームを返す。
// 失敗した場合は理由によらずErrInvalidOrExpiredを返す。
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	tok, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidOrExpired
	}

	if claims.Subject == "" || claims.Role == "" {
		return nil, ErrInvalidOrExpired
	}

	return claims, nil
}

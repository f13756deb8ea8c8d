// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの権限レベルを表す。
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleEditor  Role = "editor"
	RoleViewer  Role = "viewer"
	RoleUser    Role = "user"
)

// DefaultRole はサインアップ直後のユーザーに付与されるロール。
const DefaultRole = RoleUser

// ElevatedRole はアクセス申請の承認時に付与されるロール。
const ElevatedRole = RoleAdmin

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEditor, RoleViewer, RoleUser:
		return true
	}
	return false
}

// ParseRole は前後の空白と大文字小文字を正規化してロールを解析する。
// 未定義の値の場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// 認証プロバイダー
const (
	AuthProviderPassword = "password"
	AuthProviderGoogle   = "google"
)

// User はサービス利用ユーザーを表す。
// usernameとemail（大文字小文字を区別しない）はそれぞれ一意。
// PasswordHashが空の場合はパスワードログインできない。
type User struct {
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	FullName     string
	Picture      string
	GoogleSub    string
	AuthProvider string
	CreatedAt    time.Time
}

// EffectiveRole は保存値が空または不正な場合にDefaultRoleを返す。
func (u *User) EffectiveRole() Role {
	if u.Role.Valid() {
		return u.Role
	}
	return DefaultRole
}

// Principal はリクエストを行った認証済みユーザーを表す。
// Roleはストアから再取得した値で、Degradedの場合のみトークンのroleクレームを使用している。
type Principal struct {
	Username string
	Email    string
	Role     Role
	Degraded bool
}

// IsAdmin は管理者ロールかどうかを返す。
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// PasswordOTP はパスワードリセット用のワンタイムコードを表す。
// コード自体は保存せず、SHA-256のハッシュのみを保持する。
type PasswordOTP struct {
	Email          string
	CodeHash       string
	ExpiresAt      time.Time
	FailedAttempts int // 不一致だった検証の回数。再発行で0に戻る
}

// LoginRecord はユーザーの最終ログイン記録を表す。
// TSはクライアントから送られた値をそのまま保持する。
type LoginRecord struct {
	Username   string
	TS         string
	RecordedAt time.Time
}

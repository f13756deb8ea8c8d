package model

import "time"

// RequestStatus はアクセス申請の状態を表す。
//
//	pending → approved | rejected
//	pending | approved | rejected → resolved
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusResolved RequestStatus = "resolved"
)

// AccessRequest はユーザーからの権限昇格申請を表す。
// IDは生成されたUUID文字列。同一usernameのpending申請は最大1件。
type AccessRequest struct {
	ID            string
	Username      string
	Email         string
	Type          string
	Title         string
	Description   string
	Status        RequestStatus
	RequestedAt   time.Time
	AdminActionAt *time.Time
}

// DisplayTitle は通知や返信で使う申請の表示名を返す。
func (r *AccessRequest) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Type
}

// AccessReply は管理者から申請者への返信を表す。
type AccessReply struct {
	ID           string
	RequestID    string
	Username     string
	Admin        string
	Reply        string
	RequestTitle string
	SentAt       time.Time
}

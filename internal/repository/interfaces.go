// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

var (
	// ErrDuplicate は一意制約に違反したことを示す。
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound は更新対象のレコードが存在しない（または条件に一致しない）ことを示す。
	ErrNotFound = errors.New("record not found")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByUsername は指定usernameのユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByUsernameOrEmail はusernameまたはemail（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error)

	// FindByEmail はemail（大文字小文字を区別しない）でユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// ExistsByUsernameOrEmail はusernameまたはemailのいずれかが登録済みかどうかを返す。
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)

	// Create はユーザーを作成する。一意制約に違反した場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdatePasswordHash は指定usernameのパスワードダイジェストを更新する。
	UpdatePasswordHash(ctx context.Context, username, passwordHash string) error

	// UpdatePasswordHashByEmail はemailで特定したユーザーのパスワードダイジェストを更新する。
	// 該当ユーザーがいない場合はErrNotFoundを返す。
	UpdatePasswordHashByEmail(ctx context.Context, email, passwordHash string) error

	// UpdateRole は指定usernameのロールを更新する。該当ユーザーがいない場合はErrNotFoundを返す。
	UpdateRole(ctx context.Context, username string, role model.Role) error

	// UpdateGoogleProfile はGoogleログインで得たプロフィール情報を更新する。
	// 空文字列のフィールドは既存の値を維持する。
	UpdateGoogleProfile(ctx context.Context, username, googleSub, fullName, picture string) error

	// List は全ユーザーをusername順に返す。
	List(ctx context.Context) ([]*model.User, error)
}

// AccessRequestRepository はアクセス申請の永続化インターフェース。
type AccessRequestRepository interface {
	// Create は申請を作成する。同一usernameのpending申請が既にある場合はErrDuplicateを返す。
	Create(ctx context.Context, req *model.AccessRequest) error

	// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AccessRequest, error)

	// FindPendingByUsername は指定usernameのpending申請を取得する。見つからない場合はnilを返す。
	FindPendingByUsername(ctx context.Context, username string) (*model.AccessRequest, error)

	// List は申請をrequested_at昇順で返す。statusが空の場合は全件を返す。
	List(ctx context.Context, status model.RequestStatus) ([]*model.AccessRequest, error)

	// Approve はユーザーのロール更新と申請のapproved遷移を同一トランザクションで行う。
	// 申請がpendingでない場合はErrNotFoundを返し、ロールは変更しない。
	Approve(ctx context.Context, requestID, username string, role model.Role, at time.Time) error

	// Transition は申請の状態をfromのいずれかからtoへ遷移させ、admin_action_atを記録する。
	// 現在の状態がfromに含まれない場合はErrNotFoundを返す。
	Transition(ctx context.Context, requestID string, from []model.RequestStatus, to model.RequestStatus, at time.Time) error
}

// ReplyRepository は管理者返信の永続化インターフェース。
type ReplyRepository interface {
	// CreateAndResolve は返信の保存と申請のresolved遷移を同一トランザクションで行う。
	CreateAndResolve(ctx context.Context, reply *model.AccessReply) error

	// List は全返信をsent_at降順で返す。
	List(ctx context.Context) ([]*model.AccessReply, error)

	// ListByUsername は指定ユーザー宛ての返信をsent_at降順で返す。
	ListByUsername(ctx context.Context, username string) ([]*model.AccessReply, error)
}

// OTPRepository はパスワードリセット用ワンタイムコードの永続化インターフェース。
type OTPRepository interface {
	// Upsert はemailに対するコードを作成または置き換える。
	Upsert(ctx context.Context, otp *model.PasswordOTP) error
	// FindByEmail は指定emailのコードを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.PasswordOTP, error)
	// DeleteByEmail は指定emailのコードを削除する。
	DeleteByEmail(ctx context.Context, email string) error
	// RecordFailure は検証失敗の回数を1増やし、増加後の回数を返す。
	// コードが存在しない場合はErrNotFoundを返す。
	RecordFailure(ctx context.Context, email string) (int, error)
}

// LoginRecordRepository は最終ログイン記録の永続化インターフェース。
type LoginRecordRepository interface {
	// Upsert はusernameの記録を作成または更新する。
	Upsert(ctx context.Context, record *model.LoginRecord) error
}

// ShipmentRepository は出荷記録の永続化インターフェース。
type ShipmentRepository interface {
	// Create は出荷記録を作成する。出荷番号が重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, s *model.Shipment) error
	// List は出荷記録をcreated_at降順で返す。
	List(ctx context.Context) ([]*model.Shipment, error)
}

// DeviceReadingRepository はデバイステレメトリの永続化インターフェース。
type DeviceReadingRepository interface {
	// Create はテレメトリを1件保存する。
	Create(ctx context.Context, r *model.DeviceReading) error
	// ListDeviceIDs はテレメトリが存在するデバイスIDの一覧を返す。
	ListDeviceIDs(ctx context.Context) ([]string, error)
	// ListRecent は最新のテレメトリを受信日時の降順でlimit件返す。
	ListRecent(ctx context.Context, limit int) ([]*model.DeviceReading, error)
	// ListByDevice は指定デバイスのテレメトリを受信日時の降順で返す。
	ListByDevice(ctx context.Context, deviceID string) ([]*model.DeviceReading, error)
}

// isUniqueViolation はPostgreSQLの一意制約違反（SQLSTATE 23505）かどうかを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

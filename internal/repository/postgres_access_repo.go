package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

const accessRequestColumns = `id, username, email, request_type, title, description, status, requested_at, admin_action_at`

// PostgresAccessRequestRepo はPostgreSQLを使用したアクセス申請リポジトリ。
type PostgresAccessRequestRepo struct {
	db *sql.DB
}

// NewPostgresAccessRequestRepo はPostgresAccessRequestRepoを生成する。
func NewPostgresAccessRequestRepo(db *sql.DB) *PostgresAccessRequestRepo {
	return &PostgresAccessRequestRepo{db: db}
}

func scanAccessRequest(row rowScanner) (*model.AccessRequest, error) {
	req := &model.AccessRequest{}
	var status string
	var actionAt sql.NullTime
	err := row.Scan(&req.ID, &req.Username, &req.Email, &req.Type, &req.Title,
		&req.Description, &status, &req.RequestedAt, &actionAt)
	if err != nil {
		return nil, err
	}
	req.Status = model.RequestStatus(status)
	if actionAt.Valid {
		t := actionAt.Time
		req.AdminActionAt = &t
	}
	return req, nil
}

// Create は申請を作成する。
// pending申請の部分一意インデックスに違反した場合はErrDuplicateを返す。
func (r *PostgresAccessRequestRepo) Create(ctx context.Context, req *model.AccessRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_requests (`+accessRequestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL)`,
		req.ID, req.Username, req.Email, req.Type, req.Title, req.Description,
		string(req.Status), req.RequestedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert access request: %w", err)
	}
	return nil
}

// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
func (r *PostgresAccessRequestRepo) FindByID(ctx context.Context, id string) (*model.AccessRequest, error) {
	req, err := scanAccessRequest(r.db.QueryRowContext(ctx,
		`SELECT `+accessRequestColumns+` FROM access_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find access request by ID: %w", err)
	}
	return req, nil
}

// FindPendingByUsername は指定usernameのpending申請を取得する。見つからない場合はnilを返す。
func (r *PostgresAccessRequestRepo) FindPendingByUsername(ctx context.Context, username string) (*model.AccessRequest, error) {
	req, err := scanAccessRequest(r.db.QueryRowContext(ctx,
		`SELECT `+accessRequestColumns+` FROM access_requests
		 WHERE username = $1 AND status = 'pending'`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending access request: %w", err)
	}
	return req, nil
}

// List は申請をrequested_at昇順で返す。statusが空の場合は全件を返す。
func (r *PostgresAccessRequestRepo) List(ctx context.Context, status model.RequestStatus) ([]*model.AccessRequest, error) {
	query := `SELECT ` + accessRequestColumns + ` FROM access_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY requested_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list access requests: %w", err)
	}
	defer rows.Close()

	var reqs []*model.AccessRequest
	for rows.Next() {
		req, err := scanAccessRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access requests: %w", err)
	}
	return reqs, nil
}

// Approve はユーザーのロール更新と申請のapproved遷移を同一トランザクションで行う。
func (r *PostgresAccessRequestRepo) Approve(ctx context.Context, requestID, username string, role model.Role, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 申請をpendingからapprovedへ遷移（同時承認は片方だけが成功する）
	result, err := tx.ExecContext(ctx,
		`UPDATE access_requests SET status = 'approved', admin_action_at = $2
		 WHERE id = $1 AND status = 'pending'`,
		requestID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to approve access request: %w", err)
	}
	if err := checkAffected(result); err != nil {
		return err
	}

	// ロールを更新
	result, err = tx.ExecContext(ctx,
		`UPDATE users SET role = $2 WHERE username = $1`,
		username, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if err := checkAffected(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Transition は申請の状態をfromのいずれかからtoへ遷移させる。
func (r *PostgresAccessRequestRepo) Transition(ctx context.Context, requestID string, from []model.RequestStatus, to model.RequestStatus, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE access_requests SET status = $2, admin_action_at = $3
		 WHERE id = $1 AND status = ANY($4)`,
		requestID, string(to), at, pq.Array(statusStrings(from)),
	)
	if err != nil {
		return fmt.Errorf("failed to transition access request: %w", err)
	}
	return checkAffected(result)
}

func statusStrings(statuses []model.RequestStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// compile-time interface check
var _ AccessRequestRepository = (*PostgresAccessRequestRepo)(nil)

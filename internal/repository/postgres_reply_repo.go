package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

const replyColumns = `id, request_id, username, admin_username, reply, request_title, sent_at`

// PostgresReplyRepo はPostgreSQLを使用した管理者返信リポジトリ。
type PostgresReplyRepo struct {
	db *sql.DB
}

// NewPostgresReplyRepo はPostgresReplyRepoを生成する。
func NewPostgresReplyRepo(db *sql.DB) *PostgresReplyRepo {
	return &PostgresReplyRepo{db: db}
}

func scanReply(row rowScanner) (*model.AccessReply, error) {
	reply := &model.AccessReply{}
	err := row.Scan(&reply.ID, &reply.RequestID, &reply.Username, &reply.Admin,
		&reply.Reply, &reply.RequestTitle, &reply.SentAt)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// CreateAndResolve は返信の保存と申請のresolved遷移を同一トランザクションで行う。
// 申請が存在しないか既にresolvedの場合はErrNotFoundを返す。
func (r *PostgresReplyRepo) CreateAndResolve(ctx context.Context, reply *model.AccessReply) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 申請をresolvedへ遷移
	result, err := tx.ExecContext(ctx,
		`UPDATE access_requests SET status = 'resolved', admin_action_at = $2
		 WHERE id = $1 AND status <> 'resolved'`,
		reply.RequestID, reply.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve access request: %w", err)
	}
	if err := checkAffected(result); err != nil {
		return err
	}

	// 返信を保存
	_, err = tx.ExecContext(ctx,
		`INSERT INTO access_replies (`+replyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		reply.ID, reply.RequestID, reply.Username, reply.Admin,
		reply.Reply, reply.RequestTitle, reply.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reply: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List は全返信をsent_at降順で返す。
func (r *PostgresReplyRepo) List(ctx context.Context) ([]*model.AccessReply, error) {
	return r.query(ctx, `SELECT `+replyColumns+` FROM access_replies ORDER BY sent_at DESC`)
}

// ListByUsername は指定ユーザー宛ての返信をsent_at降順で返す。
func (r *PostgresReplyRepo) ListByUsername(ctx context.Context, username string) ([]*model.AccessReply, error) {
	return r.query(ctx,
		`SELECT `+replyColumns+` FROM access_replies WHERE username = $1 ORDER BY sent_at DESC`,
		username)
}

func (r *PostgresReplyRepo) query(ctx context.Context, query string, args ...any) ([]*model.AccessReply, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	defer rows.Close()

	var replies []*model.AccessReply
	for rows.Next() {
		reply, err := scanReply(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reply: %w", err)
		}
		replies = append(replies, reply)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate replies: %w", err)
	}
	return replies, nil
}

// compile-time interface check
var _ ReplyRepository = (*PostgresReplyRepo)(nil)

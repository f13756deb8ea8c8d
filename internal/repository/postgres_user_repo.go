package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

const userColumns = `username, email, password_hash, role, full_name, picture, google_sub, auth_provider, created_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var role string
	err := row.Scan(&user.Username, &user.Email, &user.PasswordHash, &role,
		&user.FullName, &user.Picture, &user.GoogleSub, &user.AuthProvider, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	return user, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByUsername は指定usernameのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return user, nil
}

// FindByUsernameOrEmail はusernameの完全一致を優先し、次にemailで検索する。
func (r *PostgresUserRepo) FindByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error) {
	user, err := r.findOne(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE username = $1 OR lower(email) = lower($1)
		 ORDER BY (username = $1) DESC
		 LIMIT 1`, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username or email: %w", err)
	}
	return user, nil
}

// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// ExistsByUsernameOrEmail はusernameまたはemailのいずれかが登録済みかどうかを返す。
func (r *PostgresUserRepo) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR lower(email) = lower($2))`,
		username, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// Create はユーザーを作成する。一意制約に違反した場合はErrDuplicateを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.Username, user.Email, user.PasswordHash, string(user.Role),
		user.FullName, user.Picture, user.GoogleSub, user.AuthProvider, user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdatePasswordHash は指定usernameのパスワードダイジェストを更新する。
func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, username, passwordHash string) error {
	return r.execOne(ctx, "update password hash",
		`UPDATE users SET password_hash = $2 WHERE username = $1`, username, passwordHash)
}

// UpdatePasswordHashByEmail はemailで特定したユーザーのパスワードダイジェストを更新する。
func (r *PostgresUserRepo) UpdatePasswordHashByEmail(ctx context.Context, email, passwordHash string) error {
	return r.execOne(ctx, "update password hash by email",
		`UPDATE users SET password_hash = $2 WHERE lower(email) = lower($1)`, email, passwordHash)
}

// UpdateRole は指定usernameのロールを更新する。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, username string, role model.Role) error {
	return r.execOne(ctx, "update role",
		`UPDATE users SET role = $2 WHERE username = $1`, username, string(role))
}

// UpdateGoogleProfile はGoogleログインで得たプロフィール情報を更新する。
func (r *PostgresUserRepo) UpdateGoogleProfile(ctx context.Context, username, googleSub, fullName, picture string) error {
	return r.execOne(ctx, "update google profile",
		`UPDATE users SET
		   google_sub = COALESCE(NULLIF($2, ''), google_sub),
		   full_name  = COALESCE(NULLIF($3, ''), full_name),
		   picture    = COALESCE(NULLIF($4, ''), picture)
		 WHERE username = $1`,
		username, googleSub, fullName, picture)
}

// List は全ユーザーをusername順に返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// execOne は1行だけ更新するSQLを実行し、該当行がない場合はErrNotFoundを返す。
func (r *PostgresUserRepo) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

// RoleSeed は初期ロール割り当ての1件を表す。
type RoleSeed struct {
	Username string
	Role     model.Role
}

// ParseRoleSeeds は "name:role,name:role" 形式の文字列を解析する。
// 空文字列の場合は空のスライスを返す。
func ParseRoleSeeds(s string) ([]RoleSeed, error) {
	var seeds []RoleSeed
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, roleStr, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid role seed %q: want name:role", entry)
		}
		role, valid := model.ParseRole(roleStr)
		if !valid {
			return nil, fmt.Errorf("invalid role seed %q: unknown role %q", entry, roleStr)
		}
		seeds = append(seeds, RoleSeed{Username: name, Role: role})
	}
	return seeds, nil
}

// ApplyRoleSeeds は登録済みユーザーに初期ロールを割り当てる。
// 未登録のユーザーはスキップし、更新した件数を返す。
func ApplyRoleSeeds(ctx context.Context, db *sql.DB, seeds []RoleSeed) (int, error) {
	applied := 0
	for _, seed := range seeds {
		result, err := db.ExecContext(ctx,
			`UPDATE users SET role = $2 WHERE username = $1 AND role <> $2`,
			seed.Username, string(seed.Role),
		)
		if err != nil {
			return applied, fmt.Errorf("failed to seed role for %s: %w", seed.Username, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return applied, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			slog.Debug("role seed skipped",
				slog.String("username", seed.Username),
			)
			continue
		}
		applied++
		slog.Info("role seeded",
			slog.String("username", seed.Username),
			slog.String("role", string(seed.Role)),
		)
	}
	return applied, nil
}

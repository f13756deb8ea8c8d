package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/scmxpert/scmxpertlite/internal/config"
	"github.com/scmxpert/scmxpertlite/internal/database"
	"github.com/scmxpert/scmxpertlite/internal/password"
	"github.com/scmxpert/scmxpertlite/internal/repository"
)

// runSetPassword は運用者がユーザーのパスワードを直接再設定するためのサブコマンド。
//
//	scmxpertlite set-password <username> < password.txt
//
// 新しいパスワードは標準入力の1行目から読み込む。
func runSetPassword(ctx context.Context, cfg *config.Config, args []string, stdin io.Reader) error {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return errors.New("usage: scmxpertlite set-password <username>")
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	hasher := password.NewHasher(cfg.PBKDF2Iterations)
	return setPassword(ctx, repository.NewPostgresUserRepo(db), hasher, args[0], stdin)
}

// setPassword はstdinから読んだパスワードを強度チェックの上ハッシュ化し、usernameのダイジェストを更新する。
func setPassword(ctx context.Context, users password.Updater, hasher *password.Hasher, username string, stdin io.Reader) error {
	// 1. パスワードの読み込み
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read password: %w", err)
	}
	plain := strings.TrimRight(line, "\r\n")
	if !password.Strong(plain) {
		return errors.New("password must be at least 8 characters and include upper, lower, digit and one of !@#$%^&*")
	}

	// 2. ハッシュ化
	digest, err := hasher.Hash(plain)
	if err != nil {
		return err
	}

	// 3. 保存
	username = strings.TrimSpace(username)
	if err := users.UpdatePasswordHash(ctx, username, digest); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("user not found: %s", username)
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	slog.Info("password reset by operator", slog.String("username", username))
	return nil
}

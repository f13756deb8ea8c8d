// Package password はパスワードダイジェストの生成・検証と、
// 旧形式（ソルトなしSHA-256）からの透過的な移行を提供する。
//
// 新形式のダイジェストは自己記述的な文字列で、アルゴリズム、反復回数、ソルト、導出鍵を含む。
//
//	pbkdf2_sha256$<iterations>$<base64 salt>$<base64 derived-key>
package password

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

const (
	// Algorithm は新形式ダイジェストのアルゴリズムタグ。
	Algorithm = "pbkdf2_sha256"

	// MinIterations は許容する最小の反復回数。
	MinIterations = 100_000
	// DefaultIterations は設定がない場合の反復回数。
	DefaultIterations = 200_000

	saltLength = 16
	keyLength  = sha256.Size

	legacyLength = sha256.Size * 2
)

// Updater は移行後のダイジェストを保存するインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type Updater interface {
	UpdatePasswordHash(ctx context.Context, username, passwordHash string) error
}

// Hasher はPBKDF2-HMAC-SHA256によるダイジェストの生成と検証を行う。
// 状態を持たないため並行利用して良い。
type Hasher struct {
	iterations int
}

// NewHasher はHasherを生成する。
// iterationsがMinIterations未満の場合はMinIterationsに引き上げる。
func NewHasher(iterations int) *Hasher {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	return &Hasher{iterations: iterations}
}

// Iterations は新規ダイジェストに使用する反復回数を返す。
func (h *Hasher) Iterations() int {
	return h.iterations
}

// Hash は呼び出しごとに新しいランダムソルトでダイジェストを生成する。
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	dk := pbkdf2.Key([]byte(password), salt, h.iterations, keyLength, sha256.New)

	return strings.Join([]string{
		Algorithm,
		strconv.Itoa(h.iterations),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(dk),
	}, "$"), nil
}

// Verify は新形式ダイジェストとパスワードを照合する。
// 形式が不正な場合はpanicせずfalseを返す。比較は定数時間で行う。
func (h *Hasher) Verify(digest, password string) bool {
	parts := strings.Split(digest, "$")
	if len(parts) != 4 || parts[0] != Algorithm {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false
	}

	expected, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(expected) == 0 {
		return false
	}

	dk := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(dk, expected) == 1
}

// IsCurrent はダイジェストが新形式かどうかを返す。
func IsCurrent(digest string) bool {
	return strings.HasPrefix(digest, Algorithm+"$")
}

// IsLegacy はダイジェストが旧形式（64文字の16進数）かどうかを返す。
func IsLegacy(digest string) bool {
	if len(digest) != legacyLength {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// LegacyDigest は旧形式のダイジェスト（ソルトなし1回のSHA-256の16進表現）を返す。
func LegacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyAndUpgrade は保存済みダイジェストとパスワードを照合する。
//
// 新形式の場合はVerifyに委譲する。旧形式の場合はSHA-256で照合し、
// 一致したときに限り同じパスワードの新形式ダイジェストへupdaterで置き換え、
// userのPasswordHashも更新する。照合に失敗した場合は何も書き込まない。
//
// 置き換えの保存に失敗してもパスワード自体は一致しているためtrueを返す。
// 次回ログイン時に再度移行が試みられる。
func (h *Hasher) VerifyAndUpgrade(ctx context.Context, user *model.User, password string, updater Updater) (bool, error) {
	stored := user.PasswordHash

	switch {
	case IsCurrent(stored):
		return h.Verify(stored, password), nil

	case IsLegacy(stored):
		candidate := LegacyDigest(password)
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(strings.ToLower(stored))) != 1 {
			return false, nil
		}

		upgraded, err := h.Hash(password)
		if err != nil {
			return false, fmt.Errorf("failed to hash password for upgrade: %w", err)
		}

		if err := updater.UpdatePasswordHash(ctx, user.Username, upgraded); err != nil {
			slog.Warn("legacy password hash upgrade failed",
				slog.String("username", user.Username),
				slog.String("error", err.Error()),
			)
			return true, nil
		}

		user.PasswordHash = upgraded
		slog.Info("legacy password hash upgraded",
			slog.String("username", user.Username),
		)
		return true, nil

	default:
		return false, nil
	}
}

package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

// validateEmail はemailが単一のアドレスとして解釈できるかを検証する。
// 表示名付きの形式（"Name <a@b>"）は受け付けない。
func validateEmail(email string) error {
	if email == "" {
		return model.NewValidationError("email", "required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return model.NewValidationError("email", "invalid email address")
	}
	return nil
}

// MaxUsernameLength はusers.usernameカラムの長さ上限。
const MaxUsernameLength = 64

// validateUsername はusernameの長さと文字種を検証する。
// 使える文字は英字、数字、ピリオド、ハイフン、アンダースコアのみ。
// "@"を含む名前はemailと区別できないため受け付けない。
func validateUsername(username string) error {
	if username == "" {
		return model.NewValidationError("username", "required")
	}
	if len(username) > MaxUsernameLength {
		return model.NewValidationError("username", fmt.Sprintf("must be at most %d characters", MaxUsernameLength))
	}
	for _, r := range username {
		if !isUsernameRune(unicode.ToLower(r)) {
			return model.NewValidationError("username", "may contain only letters, digits, '.', '-' and '_'")
		}
	}
	return nil
}

func isUsernameRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' || r == '-' || r == '_'
}

// usernameFromEmail はemailのローカル部からusernameの候補を作る。
// 英小文字、数字、ピリオド、ハイフン、アンダースコア以外は取り除く。
func usernameFromEmail(email string) string {
	local := email
	if i := strings.Index(email, "@"); i >= 0 {
		local = email[:i]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if isUsernameRune(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	// 重複回避の数字サフィックス分を残す
	name := b.String()
	if len(name) > MaxUsernameLength-2 {
		name = name[:MaxUsernameLength-2]
	}
	return name
}

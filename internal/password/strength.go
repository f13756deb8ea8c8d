package password

import "strings"

// MinLength はパスワードの最小文字数。
const MinLength = 8

const specialChars = "!@#$%^&*"

// Strong はパスワードが強度要件を満たすかどうかを返す。
// 8文字以上で、英大文字・英小文字・数字・記号（!@#$%^&*）をそれぞれ1文字以上含むこと。
func Strong(p string) bool {
	if len(p) < MinLength {
		return false
	}

	var upper, lower, digit, special bool
	for _, c := range p {
		switch {
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= '0' && c <= '9':
			digit = true
		case strings.ContainsRune(specialChars, c):
			special = true
		}
	}
	return upper && lower && digit && special
}

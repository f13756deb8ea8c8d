// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MailSanitizer はユーザーや管理者が入力したテキストをHTMLメール本文へ
// 埋め込む前にサニタイズする。bluemondayの許可リストベースのポリシーを使用する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MailSanitizer はメール本文用のサニタイズ機能のインターフェースを定義する。
type MailSanitizer interface {
	// Text は入力をプレーンテキストとして扱い、すべてのタグを除去してエスケープする。
	// 改行は<br>に変換する。申請タイトル、ユーザー名などの短い値に使用する。
	Text(raw string) string

	// Fragment は管理者の返信本文など、簡単な書式を含むテキストをサニタイズする。
	// 許可タグ（p, br, strong, em, ul, ol, li, blockquote, a）のみを通過させ、
	// aタグのhrefはhttpsスキームのみ許可する。
	Fragment(raw string) string
}

// mailSanitizer はMailSanitizerの実装。
// ポリシーはスレッドセーフなので共有して使用する。
type mailSanitizer struct {
	strict   *bluemonday.Policy
	fragment *bluemonday.Policy
}

// NewMailSanitizer はMailSanitizerの新しいインスタンスを生成する。
func NewMailSanitizer() *mailSanitizer {
	p := bluemonday.NewPolicy()

	// script, iframe, style等は許可リストに含めないことで自動的に除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "strong", "em",
	)

	// メールクライアントで開かれるため、リンクはhttpsの完全URLのみ
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &mailSanitizer{
		strict:   bluemonday.StrictPolicy(),
		fragment: p,
	}
}

// Text はすべてのタグを除去し、改行を<br>に変換する。
func (s *mailSanitizer) Text(raw string) string {
	clean := s.strict.Sanitize(raw)
	clean = strings.ReplaceAll(clean, "\r\n", "\n")
	return strings.ReplaceAll(clean, "\n", "<br>")
}

// Fragment は許可タグのみを残してサニタイズする。
func (s *mailSanitizer) Fragment(raw string) string {
	return s.fragment.Sanitize(raw)
}

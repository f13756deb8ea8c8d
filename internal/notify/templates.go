package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/security"
)

// 通知種別。メトリクスのラベルとログに使用する。
const (
	KindRequestFiled = "request_filed"
	KindApproved     = "approved"
	KindRejected     = "rejected"
	KindReply        = "reply"
	KindRoleChanged  = "role_changed"
	KindOTP          = "otp"
)

var mailTemplate = template.Must(template.New("mail").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
<h2>{{.Heading}}</h2>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .Link}}<p><a href="{{.Link}}">{{.LinkText}}</a></p>
{{end}}<p style="color: #888; font-size: 12px;">SCMXpertLite</p>
</body>
</html>
`))

type mailData struct {
	Heading    string
	Paragraphs []template.HTML
	Link       string
	LinkText   string
}

// Composer は通知メールの件名と本文を組み立てる。
// ユーザー入力由来の値はMailSanitizerでサニタイズしてから埋め込む。
type Composer struct {
	sanitizer security.MailSanitizer
	baseURL   string
}

// NewComposer はComposerを生成する。baseURLは本文中のリンクに使用する。
func NewComposer(sanitizer security.MailSanitizer, baseURL string) *Composer {
	return &Composer{sanitizer: sanitizer, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Composer) text(format string, args ...string) template.HTML {
	clean := make([]any, len(args))
	for i, a := range args {
		clean[i] = c.sanitizer.Text(a)
	}
	return template.HTML(fmt.Sprintf(format, clean...))
}

func (c *Composer) render(to, subject string, data mailData) Message {
	var buf bytes.Buffer
	if err := mailTemplate.Execute(&buf, data); err != nil {
		// テンプレートは固定なので実行時エラーは起きない
		panic(fmt.Sprintf("notify: render %s: %v", subject, err))
	}
	return Message{To: to, Subject: subject, HTML: buf.String()}
}

// RequestFiled はアクセス申請の受付をオペレーターに知らせるメールを組み立てる。
func (c *Composer) RequestFiled(operator string, req *model.AccessRequest) Message {
	return c.render(operator, "New access request from "+req.Username, mailData{
		Heading: "New access request",
		Paragraphs: []template.HTML{
			c.text("<strong>%s</strong> (%s) requested %s.", req.Username, req.Email, req.DisplayTitle()),
			c.text("%s", req.Description),
		},
		Link:     c.baseURL + "/admin/pending",
		LinkText: "Review pending requests",
	})
}

// RequestApproved は申請承認を申請者に知らせるメールを組み立てる。
func (c *Composer) RequestApproved(req *model.AccessRequest) Message {
	return c.render(req.Email, "Your access request has been approved", mailData{
		Heading: "Access request approved",
		Paragraphs: []template.HTML{
			c.text("Hello %s,", req.Username),
			c.text("Your request for %s has been approved. You now have the %s role.",
				req.DisplayTitle(), string(model.ElevatedRole)),
			"Please log in again to use the new permissions.",
		},
	})
}

// RequestRejected は申請却下を申請者に知らせるメールを組み立てる。
func (c *Composer) RequestRejected(req *model.AccessRequest) Message {
	return c.render(req.Email, "Your access request has been rejected", mailData{
		Heading: "Access request rejected",
		Paragraphs: []template.HTML{
			c.text("Hello %s,", req.Username),
			c.text("Your request for %s has been rejected.", req.DisplayTitle()),
		},
	})
}

// Reply は管理者の返信を申請者に届けるメールを組み立てる。
// 返信本文は簡単な書式を許可する。
func (c *Composer) Reply(to string, reply *model.AccessReply) Message {
	return c.render(to, "Reply to your request: "+reply.RequestTitle, mailData{
		Heading: "Reply from an administrator",
		Paragraphs: []template.HTML{
			c.text("Hello %s,", reply.Username),
			c.text("%s replied to your request %s:", reply.Admin, reply.RequestTitle),
			template.HTML(c.sanitizer.Fragment(reply.Reply)),
		},
	})
}

// RoleChanged はロール変更をユーザーに知らせるメールを組み立てる。
func (c *Composer) RoleChanged(user *model.User, oldRole, newRole model.Role) Message {
	return c.render(user.Email, "Your role has been updated", mailData{
		Heading: "Role updated",
		Paragraphs: []template.HTML{
			c.text("Hello %s,", user.Username),
			c.text("Your role changed from %s to %s.", string(oldRole), string(newRole)),
		},
	})
}

// PasswordOTP はパスワードリセット用のワンタイムコードを届けるメールを組み立てる。
func (c *Composer) PasswordOTP(email, code string, ttl time.Duration) Message {
	return c.render(email, "Your password reset code", mailData{
		Heading: "Password reset",
		Paragraphs: []template.HTML{
			c.text("Your one-time code is <strong>%s</strong>.", code),
			c.text("The code expires in %s minutes. If you did not request a reset, ignore this email.",
				strconv.Itoa(int(ttl.Minutes()))),
		},
		Link:     c.baseURL + "/reset-password",
		LinkText: "Reset your password",
	})
}

// Package notify はメール通知の送信を提供する。
//
// 通知はベストエフォートで行う。送信失敗は呼び出し元の操作を失敗させず、
// Resultとして報告する。
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured はSMTPサーバーが設定されていないことを示す。
var ErrNotConfigured = errors.New("mail server is not configured")

// defaultTimeout はSMTPセッション全体のタイムアウトの既定値。
const defaultTimeout = 10 * time.Second

// Message は送信するメール1通を表す。
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig はSMTPSenderの設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
	Timeout  time.Duration
}

// SMTPSender はnet/smtpを使用したSender実装。
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *net.Dialer
	now    func() time.Time
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 || cfg.Timeout > defaultTimeout {
		cfg.Timeout = defaultTimeout
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPSender{
		cfg:    cfg,
		dialer: &net.Dialer{},
		now:    time.Now,
	}
}

// Send はメールを1通送信する。
// ctxの期限とSMTPConfig.Timeoutのうち早い方でセッション全体を打ち切る。
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.cfg.Host == "" {
		return ErrNotConfigured
	}
	if msg.To == "" {
		return errors.New("recipient is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to mail server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if s.cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start tls: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data: %w", err)
	}
	if _, err := w.Write(s.compose(msg)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return client.Quit()
}

// compose はMIMEヘッダー付きのメッセージ本文を組み立てる。
func (s *SMTPSender) compose(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + s.cfg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(msg.Subject) + "\r\n")
	b.WriteString("Date: " + s.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

// sanitizeHeader はヘッダーインジェクションを防ぐため改行を除去する。
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// NopSender はSMTPサーバー未設定時に使用するSender。
// 送信内容をログに残し、ErrNotConfiguredを返す。
type NopSender struct{}

// Send はメールを送信せずにErrNotConfiguredを返す。
func (NopSender) Send(_ context.Context, msg Message) error {
	slog.Info("mail not sent: server not configured",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return ErrNotConfigured
}

// compile-time interface check
var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = NopSender{}
)

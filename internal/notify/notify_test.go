package notify

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/security"
)

// --- モック定義 ---

type mockSender struct {
	sendFn func(ctx context.Context, msg Message) error
}

func (m *mockSender) Send(ctx context.Context, msg Message) error {
	return m.sendFn(ctx, msg)
}

type mockRecorder struct {
	mu      sync.Mutex
	results map[string][]bool
}

func (m *mockRecorder) RecordNotification(kind string, sent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string][]bool{}
	}
	m.results[kind] = append(m.results[kind], sent)
}

var (
	_ Sender   = (*mockSender)(nil)
	_ Recorder = (*mockRecorder)(nil)
)

// --- Dispatcher ---

func TestDispatch_Success(t *testing.T) {
	var got Message
	sender := &mockSender{sendFn: func(_ context.Context, msg Message) error {
		got = msg
		return nil
	}}
	rec := &mockRecorder{}
	d := NewDispatcher(sender, rec, time.Second)

	res := d.Dispatch(context.Background(), KindApproved, Message{To: "alice@example.com", Subject: "s"})

	if !res.Sent || res.Error != "" {
		t.Errorf("Result = %+v, want sent", res)
	}
	if got.To != "alice@example.com" {
		t.Errorf("sent to %q", got.To)
	}
	if len(rec.results[KindApproved]) != 1 || !rec.results[KindApproved][0] {
		t.Errorf("recorder = %v", rec.results)
	}
}

func TestDispatch_FailureIsReportedNotReturned(t *testing.T) {
	sender := &mockSender{sendFn: func(context.Context, Message) error {
		return errors.New("550 mailbox unavailable")
	}}
	rec := &mockRecorder{}
	d := NewDispatcher(sender, rec, time.Second)

	res := d.Dispatch(context.Background(), KindRejected, Message{To: "alice@example.com"})

	if res.Sent {
		t.Error("expected Sent = false")
	}
	if res.Error != "550 mailbox unavailable" {
		t.Errorf("Error = %q", res.Error)
	}
	if rec.results[KindRejected][0] {
		t.Error("recorder should see a failed send")
	}
}

func TestDispatch_AppliesTimeout(t *testing.T) {
	sender := &mockSender{sendFn: func(ctx context.Context, _ Message) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	d := NewDispatcher(sender, nil, 20*time.Millisecond)

	start := time.Now()
	res := d.Dispatch(context.Background(), KindOTP, Message{To: "a@example.com"})

	if res.Sent {
		t.Error("expected Sent = false on timeout")
	}
	if !strings.Contains(res.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("Error = %q, want deadline exceeded", res.Error)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("dispatch took %v, timeout not applied", elapsed)
	}
}

func TestNewDispatcher_CapsTimeout(t *testing.T) {
	d := NewDispatcher(NopSender{}, nil, time.Minute)
	if d.timeout != defaultTimeout {
		t.Errorf("timeout = %v, want %v", d.timeout, defaultTimeout)
	}
}

func TestGo_IgnoresCallerCancellation(t *testing.T) {
	sender := &mockSender{sendFn: func(ctx context.Context, _ Message) error {
		return ctx.Err()
	}}
	d := NewDispatcher(sender, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	select {
	case res := <-d.Go(ctx, KindRequestFiled, Message{To: "ops@example.com"}):
		if !res.Sent {
			t.Errorf("async send should not inherit cancellation: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("async send did not complete")
	}
}

// --- Sender ---

func TestNopSender_ReturnsNotConfigured(t *testing.T) {
	err := NopSender{}.Send(context.Background(), Message{To: "a@example.com"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSMTPSender_EmptyHostIsNotConfigured(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{})
	err := s.Send(context.Background(), Message{To: "a@example.com"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSMTPSender_ComposeStripsHeaderNewlines(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", From: "noreply@example.com"})
	s.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	raw := string(s.compose(Message{To: "a@example.com", Subject: "hi\r\nBcc: victim@example.com", HTML: "<p>x</p>"}))

	if strings.Contains(raw, "\r\nBcc:") {
		t.Errorf("header injection not prevented:\n%s", raw)
	}
	if !strings.Contains(raw, "Content-Type: text/html; charset=UTF-8\r\n") {
		t.Errorf("missing content type:\n%s", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\n<p>x</p>") {
		t.Errorf("body not separated from headers:\n%s", raw)
	}
}

// fakeSMTPServer は最小限のSMTP応答を返すテスト用サーバーを起動し、受信したDATAを返す。
func fakeSMTPServer(t *testing.T) (host string, port int, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(line string) { conn.Write([]byte(line + "\r\n")) }

		reply("220 localhost ESMTP")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					out <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL FROM"), strings.HasPrefix(cmd, "RCPT TO"):
				reply("250 ok")
			case cmd == "DATA":
				inData = true
				reply("354 end with .")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 not implemented")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, out
}

func TestSMTPSender_SendDeliversMessage(t *testing.T) {
	host, port, received := fakeSMTPServer(t)
	s := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "noreply@example.com", Timeout: 2 * time.Second})

	err := s.Send(context.Background(), Message{To: "alice@example.com", Subject: "Approved", HTML: "<p>ok</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-received:
		for _, want := range []string{"To: alice@example.com", "Subject: Approved", "<p>ok</p>"} {
			if !strings.Contains(data, want) {
				t.Errorf("DATA missing %q:\n%s", want, data)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive DATA")
	}
}

func TestSMTPSender_UnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	if err := s.Send(context.Background(), Message{To: "a@example.com"}); err == nil {
		t.Fatal("expected connection error")
	}
}

// --- Composer ---

func newTestComposer() *Composer {
	return NewComposer(security.NewMailSanitizer(), "https://scmxpert.example.com/")
}

func TestComposer_RequestFiled_SanitizesUserText(t *testing.T) {
	c := newTestComposer()
	req := &model.AccessRequest{
		Username:    "alice",
		Email:       "alice@example.com",
		Type:        "admin_access",
		Description: `please<script>alert("x")</script>`,
	}

	msg := c.RequestFiled("ops@example.com", req)

	if msg.To != "ops@example.com" {
		t.Errorf("To = %q", msg.To)
	}
	if strings.Contains(msg.HTML, "<script") {
		t.Errorf("script not removed:\n%s", msg.HTML)
	}
	for _, want := range []string{"<strong>alice</strong>", "admin_access", "https://scmxpert.example.com/admin/pending"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("HTML missing %q:\n%s", want, msg.HTML)
		}
	}
}

func TestComposer_RequestApproved_AddressesRequester(t *testing.T) {
	c := newTestComposer()
	msg := c.RequestApproved(&model.AccessRequest{Username: "alice", Email: "alice@example.com", Title: "Admin please"})

	if msg.To != "alice@example.com" {
		t.Errorf("To = %q", msg.To)
	}
	if !strings.Contains(msg.HTML, "Admin please") || !strings.Contains(msg.HTML, "admin role") {
		t.Errorf("unexpected body:\n%s", msg.HTML)
	}
}

func TestComposer_Reply_AllowsFormattingButNotScripts(t *testing.T) {
	c := newTestComposer()
	msg := c.Reply("alice@example.com", &model.AccessReply{
		Username: "alice", Admin: "root", RequestTitle: "admin",
		Reply: "<em>Done</em><script>x()</script>",
	})

	if !strings.Contains(msg.HTML, "<em>Done</em>") {
		t.Errorf("formatting removed:\n%s", msg.HTML)
	}
	if strings.Contains(msg.HTML, "<script") {
		t.Errorf("script not removed:\n%s", msg.HTML)
	}
}

func TestComposer_PasswordOTP(t *testing.T) {
	c := newTestComposer()
	msg := c.PasswordOTP("alice@example.com", "123456", 5*time.Minute)

	if !strings.Contains(msg.HTML, "<strong>123456</strong>") {
		t.Errorf("code missing:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, strconv.Itoa(5)+" minutes") {
		t.Errorf("ttl missing:\n%s", msg.HTML)
	}
}

func TestComposer_RoleChanged(t *testing.T) {
	c := newTestComposer()
	msg := c.RoleChanged(&model.User{Username: "bob", Email: "bob@example.com"}, model.RoleUser, model.RoleManager)

	if msg.To != "bob@example.com" || !strings.Contains(msg.HTML, "from user to manager") {
		t.Errorf("unexpected message: %+v", msg)
	}
}

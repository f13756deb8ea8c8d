package notify

import (
	"context"
	"log/slog"
	"time"
)

// Result は通知の送信結果を表す。
// レスポンスのemail_sent / email_errorにそのまま対応する。
type Result struct {
	Sent  bool
	Error string
}

// Recorder は送信結果を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordNotification(kind string, sent bool)
}

// Dispatcher はSenderをラップし、エラーをResultに変換する。
type Dispatcher struct {
	sender   Sender
	recorder Recorder
	timeout  time.Duration
}

// NewDispatcher はDispatcherを生成する。recorderはnilでもよい。
func NewDispatcher(sender Sender, recorder Recorder, timeout time.Duration) *Dispatcher {
	if timeout <= 0 || timeout > defaultTimeout {
		timeout = defaultTimeout
	}
	return &Dispatcher{sender: sender, recorder: recorder, timeout: timeout}
}

// Dispatch はメールを同期的に送信し、結果を返す。
// 送信失敗はエラーとして返さず、Resultに文字列で格納する。
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, msg Message) Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.sender.Send(ctx, msg)
	if d.recorder != nil {
		d.recorder.RecordNotification(kind, err == nil)
	}
	if err != nil {
		slog.Warn("notification failed",
			slog.String("kind", kind),
			slog.String("to", msg.To),
			slog.String("error", err.Error()),
		)
		return Result{Sent: false, Error: err.Error()}
	}
	slog.Info("notification sent",
		slog.String("kind", kind),
		slog.String("to", msg.To),
	)
	return Result{Sent: true}
}

// Go はメールを非同期に送信する。
// リクエストのキャンセルに影響されないよう、呼び出し元のctxから切り離したctxを使用する。
// 返り値のチャネルは送信完了時に結果を1件受け取り、クローズされる。
func (d *Dispatcher) Go(ctx context.Context, kind string, msg Message) <-chan Result {
	done := make(chan Result, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		done <- d.Dispatch(detached, kind, msg)
	}()
	return done
}

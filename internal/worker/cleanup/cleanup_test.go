package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- モック定義 ---

type mockOTPPruner struct {
	deleteExpiredFn func(ctx context.Context, now time.Time) (int64, error)
	calls           int
}

func (m *mockOTPPruner) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.calls++
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

type mockLoginPruner struct {
	deleteOlderThanFn func(ctx context.Context, cutoff time.Time) (int64, error)
	calls             int
}

func (m *mockLoginPruner) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.calls++
	if m.deleteOlderThanFn != nil {
		return m.deleteOlderThanFn(ctx, cutoff)
	}
	return 0, nil
}

type mockRecorder struct {
	mu      sync.Mutex
	deleted map[string]int64
}

func (m *mockRecorder) RecordCleanup(target string, deleted int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted == nil {
		m.deleted = make(map[string]int64)
	}
	m.deleted[target] += deleted
}

var (
	_ OTPPruner         = (*mockOTPPruner)(nil)
	_ LoginRecordPruner = (*mockLoginPruner)(nil)
	_ Recorder          = (*mockRecorder)(nil)
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestJob(otps *mockOTPPruner, logins *mockLoginPruner, rec *mockRecorder, buf *bytes.Buffer) *CleanupJob {
	job := NewCleanupJob(otps, logins, rec, newTestLogger(buf))
	job.now = func() time.Time { return fixedNow }
	return job
}

// --- テスト ---

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	job := NewCleanupJob(&mockOTPPruner{}, &mockLoginPruner{}, nil, nil)

	if job.RetentionDays != DefaultRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", job.RetentionDays, DefaultRetentionDays)
	}
}

func TestCleanupJob_Run_PassesNowAndCutoff(t *testing.T) {
	var buf bytes.Buffer
	var gotNow, gotCutoff time.Time
	otps := &mockOTPPruner{deleteExpiredFn: func(_ context.Context, now time.Time) (int64, error) {
		gotNow = now
		return 3, nil
	}}
	logins := &mockLoginPruner{deleteOlderThanFn: func(_ context.Context, cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 7, nil
	}}
	rec := &mockRecorder{}

	job := newTestJob(otps, logins, rec, &buf)
	job.RetentionDays = 30

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !gotNow.Equal(fixedNow) {
		t.Errorf("now = %v, want %v", gotNow, fixedNow)
	}
	if want := fixedNow.AddDate(0, 0, -30); !gotCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", gotCutoff, want)
	}
	if rec.deleted[TargetOTP] != 3 || rec.deleted[TargetLoginRecord] != 7 {
		t.Errorf("recorded = %v", rec.deleted)
	}
}

func TestCleanupJob_Run_NonPositiveRetentionUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	var gotCutoff time.Time
	logins := &mockLoginPruner{deleteOlderThanFn: func(_ context.Context, cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 0, nil
	}}

	job := newTestJob(&mockOTPPruner{}, logins, nil, &buf)
	job.RetentionDays = 0

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if want := fixedNow.AddDate(0, 0, -DefaultRetentionDays); !gotCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", gotCutoff, want)
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	otps := &mockOTPPruner{}
	logins := &mockLoginPruner{}
	job := newTestJob(otps, logins, &mockRecorder{}, &buf)

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if otps.calls != 2 || logins.calls != 2 {
		t.Errorf("calls = %d/%d, want 2/2", otps.calls, logins.calls)
	}
}

func TestCleanupJob_Run_OneFailureDoesNotSkipOther(t *testing.T) {
	var buf bytes.Buffer
	otps := &mockOTPPruner{deleteExpiredFn: func(context.Context, time.Time) (int64, error) {
		return 0, errors.New("connection refused")
	}}
	logins := &mockLoginPruner{}
	rec := &mockRecorder{}

	err := newTestJob(otps, logins, rec, &buf).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), TargetOTP) {
		t.Errorf("error should name the failed target: %v", err)
	}
	if logins.calls != 1 {
		t.Error("login record cleanup should still run")
	}
	if _, ok := rec.deleted[TargetOTP]; ok {
		t.Error("failed target should not be recorded")
	}

	// エラーログにtargetが含まれること
	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) == nil && entry["level"] == "ERROR" && entry["target"] == TargetOTP {
			found = true
		}
	}
	if !found {
		t.Errorf("error log not found: %s", buf.String())
	}
}

func TestCleanupJob_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	otps := &mockOTPPruner{}
	job := newTestJob(otps, &mockLoginPruner{}, nil, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	// 即時実行の完了を待ってから停止する
	deadline := time.After(2 * time.Second)
	for {
		if strings.Contains(buf.String(), "クリーンアップジョブが完了しました") {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial run did not complete")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

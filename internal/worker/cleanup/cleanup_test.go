package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/sellergate/internal/model"
)

// --- モック ---

type mockSessionRepo struct {
	deleteExpiredFn func(ctx context.Context) (int64, error)
	called          bool
}

func (m *mockSessionRepo) Create(_ context.Context, _ *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindBySessionID(_ context.Context, _ string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteBySessionID(_ context.Context, _ string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(_ context.Context, _ string) error {
	return nil
}
func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	m.called = true
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

type mockConvRepo struct {
	deleteOrphanedFn func(ctx context.Context, cutoff time.Time) (int64, error)
	gotCutoff        time.Time
	called           bool
}

func (m *mockConvRepo) Create(_ context.Context, _ *model.Conversation) error {
	return nil
}
func (m *mockConvRepo) ListBySessionID(_ context.Context, _ string) ([]*model.Conversation, error) {
	return nil, nil
}
func (m *mockConvRepo) ListByUserID(_ context.Context, _ string) ([]*model.Conversation, error) {
	return nil, nil
}
func (m *mockConvRepo) ReassignSessionToUser(_ context.Context, _, _ string) (int64, error) {
	return 0, nil
}
func (m *mockConvRepo) DeleteOrphanedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.called = true
	m.gotCutoff = cutoff
	if m.deleteOrphanedFn != nil {
		return m.deleteOrphanedFn(ctx, cutoff)
	}
	return 0, nil
}
func (m *mockConvRepo) DeleteByUserID(_ context.Context, _ string) error {
	return nil
}

type mockRecorder struct {
	cleaned []int
}

func (m *mockRecorder) RecordSessionsCleaned(count int) {
	m.cleaned = append(m.cleaned, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func logHasField(t *testing.T, buf *bytes.Buffer, key string, want float64) bool {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok && v == want {
			return true
		}
	}
	return false
}

// --- テスト ---

func TestCleanupJob_Run_DeletesExpiredSessionsAndOrphans(t *testing.T) {
	var buf bytes.Buffer
	sessions := &mockSessionRepo{
		deleteExpiredFn: func(_ context.Context) (int64, error) { return 5, nil },
	}
	convs := &mockConvRepo{
		deleteOrphanedFn: func(_ context.Context, _ time.Time) (int64, error) { return 3, nil },
	}
	recorder := &mockRecorder{}

	job := NewCleanupJob(sessions, convs, recorder, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !sessions.called {
		t.Error("DeleteExpired が呼び出されなかった")
	}
	if !convs.called {
		t.Error("DeleteOrphanedBefore が呼び出されなかった")
	}
	if len(recorder.cleaned) != 1 || recorder.cleaned[0] != 5 {
		t.Errorf("RecordSessionsCleaned = %v, want [5]", recorder.cleaned)
	}
	if !logHasField(t, &buf, "sessions_deleted", 5) {
		t.Errorf("ログに sessions_deleted=5 が記録されていない: %s", buf.String())
	}
	if !logHasField(t, &buf, "conversations_deleted", 3) {
		t.Errorf("ログに conversations_deleted=3 が記録されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_UsesOrphanRetentionCutoff(t *testing.T) {
	var buf bytes.Buffer
	convs := &mockConvRepo{}
	job := NewCleanupJob(&mockSessionRepo{}, convs, &mockRecorder{}, newTestLogger(&buf))
	job.OrphanRetention = 7 * 24 * time.Hour

	before := time.Now()
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantCutoff := before.Add(-7 * 24 * time.Hour)
	diff := convs.gotCutoff.Sub(wantCutoff)
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Minute {
		t.Errorf("cutoff = %v, want ~%v", convs.gotCutoff, wantCutoff)
	}
}

func TestCleanupJob_DefaultOrphanRetention(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockSessionRepo{}, &mockConvRepo{}, &mockRecorder{}, newTestLogger(&buf))

	if job.OrphanRetention != 30*24*time.Hour {
		t.Errorf("OrphanRetention = %v, want 30 days", job.OrphanRetention)
	}
}

func TestCleanupJob_Run_SessionFailureStopsOrphanDelete(t *testing.T) {
	var buf bytes.Buffer
	sessions := &mockSessionRepo{
		deleteExpiredFn: func(_ context.Context) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}
	convs := &mockConvRepo{}
	recorder := &mockRecorder{}

	job := NewCleanupJob(sessions, convs, recorder, newTestLogger(&buf))

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("セッション削除失敗時に Run() はエラーを返すべき")
	}
	if convs.called {
		t.Error("セッション削除失敗時に会話削除まで進んではならない")
	}
	if len(recorder.cleaned) != 0 {
		t.Error("失敗時にメトリクスを記録してはならない")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockSessionRepo{}, &mockConvRepo{}, &mockRecorder{}, newTestLogger(&buf))

	// 削除対象がなくてもエラーにならない
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("1回目の Run() error = %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("2回目の Run() error = %v", err)
	}
	if !logHasField(t, &buf, "sessions_deleted", 0) {
		t.Errorf("0件削除時にもログに sessions_deleted=0 が記録されるべき: %s", buf.String())
	}
}

func TestCleanupJob_Start_StopsOnContextCancel(t *testing.T) {
	var buf bytes.Buffer
	var runs atomic.Int32
	sessions := &mockSessionRepo{
		deleteExpiredFn: func(_ context.Context) (int64, error) {
			runs.Add(1)
			return 0, nil
		},
	}
	job := NewCleanupJob(sessions, &mockConvRepo{}, &mockRecorder{}, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回が実行されるのを待ってからキャンセル
	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後の実行が確認できなかった")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストキャンセル後にStartが停止しなかった")
	}

	if runs.Load() < 1 {
		t.Errorf("runs = %d, want >= 1", runs.Load())
	}
}

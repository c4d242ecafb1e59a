package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

type fakeForwarder struct {
	mu    sync.Mutex
	calls map[int64]int
	fails map[int64]error // chat -> error returned on every attempt
	flaky map[int64]int   // chat -> number of leading failures
}

func newFakeForwarder() *fakeForwarder {
	return &fakeForwarder{calls: map[int64]int{}, fails: map[int64]error{}, flaky: map[int64]int{}}
}

func (f *fakeForwarder) Forward(_ context.Context, to kit.ChatTarget, _ kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[to.ChatID]++
	if err := f.fails[to.ChatID]; err != nil {
		return err
	}
	if f.flaky[to.ChatID] > 0 {
		f.flaky[to.ChatID]--
		return errors.New("temporary")
	}
	return nil
}

func (f *fakeForwarder) count(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[chatID]
}

func newTestService(t *testing.T, cfg Config, fwd Forwarder) *Service {
	t.Helper()
	s := New(cfg, fwd, logx.Nop())
	s.wait = func(ctx context.Context, _ int) error { return ctx.Err() }
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		sctx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		_ = s.Stop(sctx)
	})
	return s
}

func targets(ids ...int64) []kit.ChatTarget {
	out := make([]kit.ChatTarget, 0, len(ids))
	for _, id := range ids {
		out = append(out, kit.ChatTarget{ChatID: id})
	}
	return out
}

func awaitDone(t *testing.T, ch <-chan JobStatus) JobStatus {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(3 * time.Second):
		t.Fatal("job did not finish")
		return JobStatus{}
	}
}

func TestSubmitDeliversAndReports(t *testing.T) {
	t.Parallel()
	fwd := newFakeForwarder()
	fwd.flaky[2] = 1
	fwd.fails[3] = fmt.Errorf("wrapped: %w", kit.ErrAccessRevoked)
	fwd.fails[4] = errors.New("down")
	s := newTestService(t, Config{Workers: 1, RatePerSec: 1000, RetryMax: 2}, fwd)

	done := make(chan JobStatus, 1)
	id, err := s.Submit("test", kit.MessageRef{ChatID: 9, MessageID: 1}, targets(1, 2, 3, 4), func(st JobStatus) { done <- st })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := awaitDone(t, done)
	if st.ID != id || st.Total != 4 || st.Done != 4 || st.Sent != 2 || st.Failed != 2 || st.Revoked != 1 {
		t.Fatalf("status = %+v", st)
	}
	if len(st.Failures) != 2 || st.Failures[0] != 3 || st.Failures[1] != 4 {
		t.Fatalf("failures = %v", st.Failures)
	}
	if fwd.count(2) != 2 {
		t.Fatalf("flaky target attempts = %d", fwd.count(2))
	}
	if fwd.count(3) != 1 {
		t.Fatalf("revoked target must not be retried, attempts = %d", fwd.count(3))
	}
	if fwd.count(4) != 3 {
		t.Fatalf("failing target attempts = %d want 3", fwd.count(4))
	}
	if got, ok := s.Status(id); !ok || got.Running || got.DoneAt.IsZero() {
		t.Fatalf("Status = %+v, %v", got, ok)
	}
}

func TestSubmitWhenStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeForwarder(), logx.Nop())
	if _, err := s.Submit("x", kit.MessageRef{}, targets(1), nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestPruneStatusBounded(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeForwarder(), logx.Nop())
	s.statusMax = 3
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("j%d", i)
		s.status[id] = &JobStatus{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute), DoneAt: base.Add(time.Duration(i) * time.Minute)}
	}
	s.status["old"] = &JobStatus{ID: "old", DoneAt: base.Add(-48 * time.Hour)}
	s.pruneStatus(base.Add(time.Hour))
	if len(s.status) != 3 {
		t.Fatalf("len = %d", len(s.status))
	}
	for _, id := range []string{"j2", "j3", "j4"} {
		if _, ok := s.status[id]; !ok {
			t.Fatalf("expected %s to survive", id)
		}
	}
}

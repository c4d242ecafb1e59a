package quiz

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"quizbot/internal/eventbus"
	"quizbot/internal/storage"
	"quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

func TestIsDueBoundary(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		last time.Duration
		want bool
	}{
		{"exactly interval", 1800 * time.Second, true},
		{"one second short", 1799 * time.Second, false},
		{"long overdue", 10 * time.Hour, true},
	}
	for _, tc := range cases {
		c := storage.ChannelSchedule{Enabled: true, Interval: 1800 * time.Second, LastDispatchAt: fixedNow.Add(-tc.last)}
		if got := IsDue(c, fixedNow); got != tc.want {
			t.Fatalf("%s: IsDue = %v", tc.name, got)
		}
	}
	disabled := storage.ChannelSchedule{Enabled: false, Interval: time.Minute, LastDispatchAt: fixedNow.Add(-time.Hour)}
	if IsDue(disabled, fixedNow) {
		t.Fatal("disabled chat must never be due")
	}
}

type schedFixture struct {
	st  storage.Store
	gw  *fakeGateway
	src *countingSource
	reg *Registry
	bus eventbus.Bus
	s   *Scheduler
}

func newSchedFixture(t *testing.T, opt Options) *schedFixture {
	t.Helper()
	f := &schedFixture{
		st:  newMemStore(t),
		gw:  newFakeGateway(),
		src: &countingSource{q: testQuestion},
		reg: NewRegistry(),
		bus: eventbus.New(),
	}
	f.s = NewScheduler(f.st, f.gw, f.src, f.reg, f.bus, logx.Nop(), opt)
	f.s.SetClock(clock(fixedNow))
	return f
}

func (f *schedFixture) chat(t *testing.T, chatID int64, interval, since time.Duration) {
	t.Helper()
	ctx := context.Background()
	if err := f.st.SetInterval(ctx, chatID, interval); err != nil {
		t.Fatalf("SetInterval: %v", err)
	}
	if err := f.st.SetLastDispatch(ctx, chatID, fixedNow.Add(-since)); err != nil {
		t.Fatalf("SetLastDispatch: %v", err)
	}
}

func TestRunOnceDispatchesSameQuestionToDueChats(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{})
	f.chat(t, 1, time.Hour, 2*time.Hour)
	f.chat(t, 2, 30*time.Minute, 30*time.Minute)
	f.chat(t, 3, time.Hour, 10*time.Minute)

	rep, err := f.s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Enabled != 3 || rep.Due != 2 || rep.Sent != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if f.src.picks.Load() != 1 {
		t.Fatalf("expected one pick per tick, got %d", f.src.picks.Load())
	}

	q1, ok1 := f.reg.OpenFor(1)
	q2, ok2 := f.reg.OpenFor(2)
	if !ok1 || !ok2 || q1.InstanceID == q2.InstanceID {
		t.Fatalf("expected distinct open instances, got %+v %+v", q1, q2)
	}
	if q1.Correct != testQuestion.Correct {
		t.Fatalf("correct index = %d", q1.Correct)
	}
	if len(f.gw.sentTo(3)) != 0 {
		t.Fatal("chat 3 is not due")
	}

	ctx := context.Background()
	c1, _ := f.st.GetSchedule(ctx, 1)
	c3, _ := f.st.GetSchedule(ctx, 3)
	if !c1.LastDispatchAt.Equal(fixedNow) {
		t.Fatalf("last dispatch not updated: %v", c1.LastDispatchAt)
	}
	if !c3.LastDispatchAt.Equal(fixedNow.Add(-10 * time.Minute)) {
		t.Fatalf("not-due chat touched: %v", c3.LastDispatchAt)
	}
}

func TestRunOnceRetiresPreviousQuestion(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{})
	sub, unsub := f.bus.Subscribe(16)
	defer unsub()

	f.chat(t, 7, time.Hour, time.Hour)
	if _, err := f.s.RunOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first, _ := f.reg.OpenFor(7)

	f.chat(t, 7, time.Hour, time.Hour)
	if _, err := f.s.RunOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	second, _ := f.reg.OpenFor(7)

	if first.InstanceID == second.InstanceID {
		t.Fatal("expected a new instance")
	}
	if _, ok := f.reg.Resolve(first.InstanceID); ok {
		t.Fatal("superseded instance still resolves")
	}
	f.gw.mu.Lock()
	closed := append([]closeCall(nil), f.gw.closed...)
	f.gw.mu.Unlock()
	// Close failures are tolerated; the close was still attempted with the old message id.
	if len(closed) != 1 || closed[0] != (closeCall{7, first.MessageID}) {
		t.Fatalf("close calls = %+v", closed)
	}

	var superseded bool
	for len(sub) > 0 {
		if e := <-sub; e.Type == eventbus.QuizSuperseded && e.Data == first.InstanceID {
			superseded = true
		}
	}
	if !superseded {
		t.Fatal("expected a superseded event")
	}
}

func TestAccessRevokedDisablesOnlyThatChat(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{})
	f.chat(t, 1, time.Hour, time.Hour)
	f.chat(t, 2, time.Hour, time.Hour)
	f.gw.failFor[1] = fmt.Errorf("telegram: bot was kicked: %w", transport.ErrAccessRevoked)

	rep, err := f.s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Disabled != 1 || rep.Sent != 1 {
		t.Fatalf("report = %+v", rep)
	}
	ctx := context.Background()
	c1, _ := f.st.GetSchedule(ctx, 1)
	c2, _ := f.st.GetSchedule(ctx, 2)
	if c1.Enabled {
		t.Fatal("chat 1 should be disabled")
	}
	if !c2.Enabled || !c2.LastDispatchAt.Equal(fixedNow) {
		t.Fatalf("chat 2 affected: %+v", c2)
	}
}

func TestTransientFailureLeavesChatDue(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{})
	f.chat(t, 1, time.Hour, 2*time.Hour)
	f.gw.failFor[1] = errors.New("connection reset")

	if _, err := f.s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	c, _ := f.st.GetSchedule(context.Background(), 1)
	if !c.Enabled || !IsDue(c, fixedNow) {
		t.Fatalf("chat should stay enabled and due: %+v", c)
	}
	if f.reg.Len() != 0 {
		t.Fatal("failed send must not open a question")
	}
}

func TestDispatchTimeoutIsTransient(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{DispatchTimeout: 20 * time.Millisecond})
	f.chat(t, 1, time.Hour, time.Hour)
	f.gw.block = true

	rep, err := f.s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Failed != 1 || rep.Disabled != 0 {
		t.Fatalf("report = %+v", rep)
	}
	c, _ := f.st.GetSchedule(context.Background(), 1)
	if !c.Enabled || !c.LastDispatchAt.Equal(fixedNow.Add(-time.Hour)) {
		t.Fatalf("timeout must not change schedule: %+v", c)
	}
}

func TestEmptyPoolAndNoDueChatsAreNoops(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{})
	f.chat(t, 1, time.Hour, time.Minute)
	if rep, err := f.s.RunOnce(context.Background()); err != nil || rep.Due != 0 {
		t.Fatalf("no due chats: %+v %v", rep, err)
	}
	if f.src.picks.Load() != 0 {
		t.Fatal("no pick without due chats")
	}

	f.chat(t, 1, time.Hour, time.Hour)
	f.src.empty = true
	if _, err := f.s.RunOnce(context.Background()); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	if len(f.gw.sentTo(1)) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestRunOnceRejectsOverlappingPass(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{DispatchTimeout: time.Minute})
	f.chat(t, 1, time.Hour, time.Hour)
	f.gw.block = true
	f.gw.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.s.RunOnce(ctx)
	}()
	<-f.gw.started

	if _, err := f.s.RunOnce(context.Background()); !errors.Is(err, ErrTickInFlight) {
		t.Fatalf("expected ErrTickInFlight, got %v", err)
	}
	cancel()
	<-done
}

func TestPanickingPassIsRecovered(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{})
	f.chat(t, 1, time.Hour, time.Hour)
	f.src.panic = true
	if _, err := f.s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error from panicking pass")
	}
	f.src.panic = false
	if rep, err := f.s.RunOnce(context.Background()); err != nil || rep.Sent != 1 {
		t.Fatalf("pass after panic: %+v %v", rep, err)
	}
}

func TestForceDueAndSetInterval(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{})
	ctx := context.Background()
	f.chat(t, 1, time.Hour, time.Minute)

	if err := f.s.ForceDue(ctx, 1); err != nil {
		t.Fatalf("ForceDue: %v", err)
	}
	c, _ := f.st.GetSchedule(ctx, 1)
	if !c.LastDispatchAt.Equal(fixedNow.Add(-time.Hour)) || !IsDue(c, fixedNow) {
		t.Fatalf("ForceDue: %+v", c)
	}

	f.chat(t, 2, time.Hour, 0)
	if err := f.s.SetInterval(ctx, 2, 2*time.Hour); err != nil {
		t.Fatalf("SetInterval: %v", err)
	}
	c, _ = f.st.GetSchedule(ctx, 2)
	if c.Interval != 2*time.Hour || !IsDue(c, fixedNow) {
		t.Fatalf("SetInterval: %+v", c)
	}
	if err := f.s.SetInterval(ctx, 2, 0); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestStartTicksAndStops(t *testing.T) {
	t.Parallel()
	f := newSchedFixture(t, Options{Tick: time.Second})
	f.chat(t, 1, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(f.gw.sentTo(1)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no dispatch within deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	f.s.Stop(stopCtx)
}

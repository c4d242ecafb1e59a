package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// fakeAPI answers sendPoll and stopPoll after a fixed delay.
type fakeAPI struct {
	delay     time.Duration
	sendPolls atomic.Int32
	stopPolls atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(f.delay):
	case <-r.Context().Done():
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/sendPoll"):
		f.sendPolls.Add(1)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":-1,"type":"group"},"poll":{"id":"p1","type":"quiz"}}}`))
	case strings.HasSuffix(r.URL.Path, "/stopPoll"):
		f.stopPolls.Add(1)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":"p1","type":"quiz","is_closed":true}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func newTestAdapter(t *testing.T, api *fakeAPI) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	b, err := tele.NewBot(tele.Settings{Token: "t", URL: srv.URL, Offline: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return &Adapter{log: logx.Nop(), bot: b}
}

func waitCount(t *testing.T, what string, n *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n.Load() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s: got %d calls, want %d", what, n.Load(), want)
}

func TestSendQuiz(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	a := newTestAdapter(t, api)

	ref, err := a.SendQuiz(context.Background(), kit.ChatTarget{ChatID: -1}, kit.Quiz{
		Question: "2+2?",
		Options:  []string{"3", "4"},
		Correct:  1,
	})
	if err != nil {
		t.Fatalf("SendQuiz: %v", err)
	}
	if ref.PollID != "p1" || ref.MessageID != 5 {
		t.Fatalf("ref = %+v", ref)
	}
	if api.stopPolls.Load() != 0 {
		t.Fatalf("on-time quiz must stay open")
	}
}

func TestSendQuizPastDeadlineStopsLatePoll(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{delay: 600 * time.Millisecond}
	a := newTestAdapter(t, api)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := a.SendQuiz(ctx, kit.ChatTarget{ChatID: -1}, kit.Quiz{
		Question: "2+2?",
		Options:  []string{"3", "4"},
		Correct:  1,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if took := time.Since(start); took > 400*time.Millisecond {
		t.Fatalf("SendQuiz returned after %v", took)
	}

	waitCount(t, "sendPoll", &api.sendPolls, 1)
	waitCount(t, "stopPoll", &api.stopPolls, 1)
}

func TestCloseQuizHonorsDeadline(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{delay: 600 * time.Millisecond}
	a := newTestAdapter(t, api)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := a.CloseQuiz(ctx, -1, 5)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if took := time.Since(start); took > 400*time.Millisecond {
		t.Fatalf("CloseQuiz returned after %v", took)
	}
}

func TestCloseQuiz(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	a := newTestAdapter(t, api)

	if err := a.CloseQuiz(context.Background(), -1, 5); err != nil {
		t.Fatalf("CloseQuiz: %v", err)
	}
	if api.stopPolls.Load() != 1 {
		t.Fatalf("stopPoll calls = %d", api.stopPolls.Load())
	}
}

package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quizbot/internal/questions"
	"quizbot/internal/storage"
	"quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

type closeCall struct {
	chatID    int64
	messageID int
}

type fakeGateway struct {
	mu      sync.Mutex
	seq     int
	sent    map[int64][]transport.Quiz
	closed  []closeCall
	failFor map[int64]error
	// block makes SendQuiz wait for ctx; started is signaled on entry.
	block   bool
	started chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sent: map[int64][]transport.Quiz{}, failFor: map[int64]error{}}
}

func (g *fakeGateway) SendQuiz(ctx context.Context, to transport.ChatTarget, q transport.Quiz) (transport.QuizRef, error) {
	g.mu.Lock()
	block, started := g.block, g.started
	err := g.failFor[to.ChatID]
	g.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block {
		<-ctx.Done()
		return transport.QuizRef{}, ctx.Err()
	}
	if err != nil {
		return transport.QuizRef{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.sent[to.ChatID] = append(g.sent[to.ChatID], q)
	return transport.QuizRef{PollID: fmt.Sprintf("poll-%d", g.seq), MessageID: 100 + g.seq}, nil
}

func (g *fakeGateway) CloseQuiz(ctx context.Context, chatID int64, messageID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, closeCall{chatID, messageID})
	return errors.New("message can't be stopped")
}

func (g *fakeGateway) sentTo(chatID int64) []transport.Quiz {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]transport.Quiz(nil), g.sent[chatID]...)
}

type countingSource struct {
	q     questions.Question
	picks atomic.Int32
	empty bool
	panic bool
}

func (s *countingSource) Pick() (questions.Question, bool) {
	s.picks.Add(1)
	if s.panic {
		panic("boom")
	}
	if s.empty {
		return questions.Question{}, false
	}
	return s.q, true
}

type flakyLog struct {
	storage.AnswerLog
	fails atomic.Int32
}

func (f *flakyLog) AppendAnswer(ctx context.Context, e storage.AnswerEvent) error {
	if f.fails.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	return f.AnswerLog.AppendAnswer(ctx, e)
}

func newMemStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var testQuestion = questions.Question{Text: "2+2?", Options: []string{"3", "4", "5"}, Correct: 1}

var fixedNow = time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC) // a Wednesday

func clock(t time.Time) func() time.Time { return func() time.Time { return t } }

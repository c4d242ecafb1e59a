package quiz

import (
	"context"
	"sync"
	"time"

	"quizbot/internal/eventbus"
	"quizbot/internal/storage"
	"quizbot/internal/transport"
	logx "quizbot/pkg/logx"

	"github.com/jpillora/backoff"
)

// RetryPolicy bounds answer log append attempts after a correct answer.
type RetryPolicy struct {
	Max      int // retries after the first attempt; default 3
	Base     time.Duration
	MaxDelay time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Max <= 0 {
		p.Max = 3
	}
	if p.Base <= 0 {
		p.Base = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	return p
}

// Result is the outcome of one answer submission.
type Result struct {
	Outcome  Outcome
	Question ActiveQuestion
	// Recorded is false when a correct answer could not be appended to the log.
	Recorded bool
}

// Correlator matches inbound poll answers to open questions and records the
// first correct one per instance.
type Correlator struct {
	reg     *Registry
	answers storage.AnswerLog
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu    sync.Mutex
	retry RetryPolicy
}

func NewCorrelator(reg *Registry, answers storage.AnswerLog, bus eventbus.Bus, log logx.Logger, retry RetryPolicy) *Correlator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Correlator{
		reg:     reg,
		answers: answers,
		bus:     bus,
		log:     log,
		now:     time.Now,
		retry:   retry.withDefaults(),
	}
}

func (c *Correlator) SetClock(now func() time.Time) { c.now = now }

func (c *Correlator) Apply(retry RetryPolicy) {
	c.mu.Lock()
	c.retry = retry.withDefaults()
	c.mu.Unlock()
}

// HandlePollAnswer correlates a gateway poll answer. Retracted votes carry no
// option and are treated as not found.
func (c *Correlator) HandlePollAnswer(ctx context.Context, a transport.PollAnswer) Result {
	if len(a.Options) == 0 {
		return Result{Outcome: OutcomeNotFound}
	}
	return c.Correlate(ctx, a.PollID, a.Options[0], a.From)
}

// Correlate resolves the submission against the registry. Stale and incorrect
// answers are dropped silently. A correct answer closes the instance for
// everyone and is appended to the answer log with bounded retries; a failed
// append is logged as data loss and never surfaces as an error.
func (c *Correlator) Correlate(ctx context.Context, instanceID string, option int, who transport.User) Result {
	outcome, q := c.reg.Claim(instanceID, option)
	if outcome != OutcomeCorrect {
		return Result{Outcome: outcome, Question: q}
	}

	ev := storage.AnswerEvent{
		ParticipantID: who.ID,
		ChatID:        q.ChatID,
		DisplayName:   who.FullName(),
		At:            c.now().UTC(),
	}
	recorded := c.appendWithRetry(ctx, ev)
	c.bus.Publish(eventbus.Event{Type: eventbus.QuizAnswered, ChatID: q.ChatID, Data: who.ID})
	return Result{Outcome: OutcomeCorrect, Question: q, Recorded: recorded}
}

func (c *Correlator) appendWithRetry(ctx context.Context, ev storage.AnswerEvent) bool {
	c.mu.Lock()
	p := c.retry
	c.mu.Unlock()

	b := &backoff.Backoff{Min: p.Base, Max: p.MaxDelay, Factor: 2, Jitter: true}
	var lastErr error
retry:
	for attempt := 1; ; attempt++ {
		if lastErr = c.answers.AppendAnswer(ctx, ev); lastErr == nil {
			return true
		}
		c.log.Warn("answer append failed", logx.Int("attempt", attempt), logx.Err(lastErr))
		if attempt > p.Max {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		case <-time.After(b.Duration()):
		}
	}

	c.log.Error("answer lost",
		logx.String("event", "answer_lost"),
		logx.Int64("user_id", ev.ParticipantID),
		logx.Int64("chat_id", ev.ChatID),
		logx.Time("at", ev.At),
		logx.Err(lastErr),
	)
	c.bus.Publish(eventbus.Event{Type: eventbus.AnswerLost, ChatID: ev.ChatID, Data: ev})
	return false
}

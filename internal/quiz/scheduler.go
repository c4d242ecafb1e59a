package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quizbot/internal/eventbus"
	"quizbot/internal/questions"
	"quizbot/internal/storage"
	"quizbot/internal/transport"
	logx "quizbot/pkg/logx"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoQuestions  = errors.New("question pool is empty")
	ErrTickInFlight = errors.New("dispatch pass already running")
)

// QuestionSource supplies the question for a tick.
type QuestionSource interface {
	Pick() (questions.Question, bool)
}

type Options struct {
	Tick            time.Duration // default 60s
	DispatchTimeout time.Duration // per chat; default 30s
	Concurrency     int           // parallel chat dispatches; default 8
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = 60 * time.Second
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 30 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	return o
}

// TickReport summarizes one scan-and-dispatch pass.
type TickReport struct {
	Enabled  int
	Due      int
	Sent     int
	Failed   int
	Disabled int
}

// IsDue reports whether a chat should receive a question at now.
func IsDue(c storage.ChannelSchedule, now time.Time) bool {
	return c.Enabled && now.Sub(c.LastDispatchAt) >= c.Interval
}

// Scheduler scans enabled chats on a fixed tick and dispatches one question
// to each chat whose interval has elapsed.
type Scheduler struct {
	settings  storage.Settings
	gateway   transport.QuizGateway
	questions QuestionSource
	reg       *Registry
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	mu   sync.Mutex
	opt  Options
	c    *cron.Cron
	ctx  context.Context
	tick time.Duration

	// running guards against overlapping passes from cron and RunOnce.
	running atomic.Bool
}

func NewScheduler(settings storage.Settings, gateway transport.QuizGateway, qs QuestionSource, reg *Registry, bus eventbus.Bus, log logx.Logger, opt Options) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Scheduler{
		settings:  settings,
		gateway:   gateway,
		questions: qs,
		reg:       reg,
		bus:       bus,
		log:       log,
		now:       time.Now,
		opt:       opt.withDefaults(),
	}
}

// SetClock replaces the time source (tests).
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

func (s *Scheduler) options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opt
}

// Start begins ticking. Passes run with ctx; cancel it or call Stop to end.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	cl := cronLogger{log: s.log.With(logx.String("comp", "cron"))}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx := s.ctx
	spec := fmt.Sprintf("@every %s", s.opt.Tick)
	if _, err := c.AddFunc(spec, func() { s.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.tick = s.opt.Tick
	s.log.Info("scheduler started", logx.Duration("tick", s.opt.Tick), logx.Int("concurrency", s.opt.Concurrency))
	return nil
}

// Stop halts ticking and waits for a running pass, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Apply swaps options. A tick change restarts the timer.
func (s *Scheduler) Apply(opt Options) {
	opt = opt.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opt = opt
	if s.c == nil || s.tick == opt.Tick {
		return
	}
	old := s.c
	s.c = nil
	old.Stop()
	if err := s.startLocked(); err != nil {
		s.log.Error("scheduler restart failed", logx.Err(err))
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrTickInFlight):
		s.log.Debug("tick skipped; previous pass still running")
	case errors.Is(err, ErrNoQuestions):
		s.log.Warn("tick skipped; question pool is empty", logx.Int("due", rep.Due))
	case err != nil:
		s.log.Warn("tick failed", logx.Err(err))
	}
}

// RunOnce performs one scan-and-dispatch pass. It returns ErrTickInFlight
// when another pass is running. A panic inside the pass is recovered.
func (s *Scheduler) RunOnce(ctx context.Context) (rep TickReport, err error) {
	if !s.running.CompareAndSwap(false, true) {
		return TickReport{}, ErrTickInFlight
	}
	defer s.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dispatch pass panic", logx.Any("panic", r))
			err = fmt.Errorf("dispatch pass panic: %v", r)
		}
	}()

	opt := s.options()
	now := s.now()
	chats, err := s.settings.ListEnabled(ctx)
	if err != nil {
		return rep, fmt.Errorf("list enabled chats: %w", err)
	}
	rep.Enabled = len(chats)

	due := make([]storage.ChannelSchedule, 0, len(chats))
	for _, c := range chats {
		if IsDue(c, now) {
			due = append(due, c)
		}
	}
	rep.Due = len(due)
	if len(due) == 0 {
		return rep, nil
	}

	q, ok := s.questions.Pick()
	if !ok {
		return rep, ErrNoQuestions
	}
	s.log.Info("dispatching", logx.Int("due", len(due)), logx.Int("enabled", len(chats)))

	var (
		sent, failed, disabled atomic.Int64
		g                      errgroup.Group
	)
	g.SetLimit(opt.Concurrency)
	for _, c := range due {
		g.Go(func() error {
			err := s.dispatch(ctx, c.ChatID, q, now, opt.DispatchTimeout)
			switch {
			case err == nil:
				sent.Add(1)
			case errors.Is(err, transport.ErrAccessRevoked):
				failed.Add(1)
				if s.disable(ctx, c.ChatID, err) {
					disabled.Add(1)
				}
			default:
				failed.Add(1)
				s.log.Warn("dispatch failed; chat stays due",
					logx.Int64("chat_id", c.ChatID),
					logx.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
					logx.Err(err),
				)
			}
			// Per-chat failures never abort the pass.
			return nil
		})
	}
	_ = g.Wait()

	rep.Sent = int(sent.Load())
	rep.Failed = int(failed.Load())
	rep.Disabled = int(disabled.Load())
	s.log.Info("dispatch pass done",
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("disabled", rep.Disabled),
		logx.Duration("took", time.Since(now)),
	)
	return rep, nil
}

// dispatch retires the chat's open question, sends q and records the new
// instance. last_dispatch_at only moves after a successful send.
func (s *Scheduler) dispatch(ctx context.Context, chatID int64, q questions.Question, now time.Time, timeout time.Duration) error {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if prev, ok := s.reg.Retire(chatID); ok {
		if err := s.gateway.CloseQuiz(dctx, chatID, prev.MessageID); err != nil {
			s.log.Debug("close superseded quiz failed; abandoning",
				logx.Int64("chat_id", chatID), logx.Int("message_id", prev.MessageID), logx.Err(err))
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.QuizSuperseded, ChatID: chatID, Data: prev.InstanceID})
	}

	ref, err := s.gateway.SendQuiz(dctx, transport.ChatTarget{ChatID: chatID}, transport.Quiz{
		Question: q.Text,
		Options:  q.Options,
		Correct:  q.Correct,
	})
	if err != nil {
		return err
	}

	s.reg.Open(ActiveQuestion{
		InstanceID: ref.PollID,
		ChatID:     chatID,
		Correct:    q.Correct,
		MessageID:  ref.MessageID,
		OpenedAt:   now,
	})
	s.bus.Publish(eventbus.Event{Type: eventbus.QuizDispatched, ChatID: chatID, Data: ref.PollID})

	if err := s.settings.SetLastDispatch(ctx, chatID, now); err != nil {
		// The quiz is out; the chat will be picked again next tick and this
		// instance superseded.
		s.log.Error("record dispatch time failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return nil
}

func (s *Scheduler) disable(ctx context.Context, chatID int64, cause error) bool {
	if err := s.settings.SetEnabled(ctx, chatID, false); err != nil {
		s.log.Error("disable chat failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return false
	}
	s.log.Warn("chat disabled; bot lost access", logx.Int64("chat_id", chatID), logx.Err(cause))
	s.bus.Publish(eventbus.Event{Type: eventbus.ChannelDisabled, ChatID: chatID, Data: cause.Error()})
	return true
}

// ForceDue moves last_dispatch_at back by exactly one interval so the chat is
// due on the next tick.
func (s *Scheduler) ForceDue(ctx context.Context, chatID int64) error {
	c, err := s.settings.GetSchedule(ctx, chatID)
	if err != nil {
		return err
	}
	return s.settings.SetLastDispatch(ctx, chatID, s.now().Add(-c.Interval))
}

// SetInterval changes a chat's interval and makes it due on the next tick.
func (s *Scheduler) SetInterval(ctx context.Context, chatID int64, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be > 0, got %s", interval)
	}
	if err := s.settings.SetInterval(ctx, chatID, interval); err != nil {
		return err
	}
	return s.ForceDue(ctx, chatID)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"quizbot/internal/bot"
	"quizbot/internal/broadcast"
	"quizbot/internal/config"
	"quizbot/internal/eventbus"
	"quizbot/internal/questions"
	"quizbot/internal/quiz"
	rtsup "quizbot/internal/runtime/supervisor"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	"quizbot/internal/transport/telegram"
	logx "quizbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	bank    *questions.Bank
	reg     *quiz.Registry
	sched   *quiz.Scheduler
	corr    *quiz.Correlator
	ranker  *quiz.Ranker
	bcast   *broadcast.Service
	bot     *bot.Bot

	// guarded by mu; touched by Start, Stop and the reload loop
	mu             sync.Mutex
	schedRunning   bool
	questionsWatch context.CancelFunc

	updates chan kit.Update
}

// New loads and validates the config and wires every component. Nothing
// runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: res.PollTimeout,
	}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))

	store, err := storage.Open(StorageConfig(cfg, res), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("driver", cfg.Storage.Driver))

	bank := questions.NewBank(cfg.Questions.Path, log.With(logx.String("comp", "questions")))
	loadQuestions(bank, appLog)

	bus := eventbus.New()
	reg := quiz.NewRegistry()
	sched := quiz.NewScheduler(store, ad, bank, reg, bus, log.With(logx.String("comp", "scheduler")), mapSchedulerOptions(res))
	corr := quiz.NewCorrelator(reg, store, bus, log.With(logx.String("comp", "correlator")), mapRetryPolicy(res))
	ranker := quiz.NewRanker(store)
	ranker.SetDefaultLimit(res.LeaderboardLimit)
	bcast := broadcast.New(mapBroadcastConfig(res), ad, log)

	b, err := bot.New(bot.Deps{
		Adapter:    ad,
		Store:      store,
		Dispatcher: sched,
		Answers:    corr,
		Rankings:   ranker,
		Open:       reg,
		Broadcast:  bcast,
		Events:     bus,
	}, ad.BotUsername(), mapBotOptions(cfg, res), log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		bank:    bank,
		reg:     reg,
		sched:   sched,
		corr:    corr,
		ranker:  ranker,
		bcast:   bcast,
		bot:     b,
		updates: make(chan kit.Update, 256),
	}, nil
}

// loadQuestions loads the pool; an unreadable file leaves it empty and every
// tick a no-op until a later reload succeeds.
func loadQuestions(bank *questions.Bank, log logx.Logger) {
	if strings.TrimSpace(bank.Path()) == "" {
		log.Warn("questions.path is not set; no quizzes will be sent")
		return
	}
	if _, _, err := bank.Load(); err != nil {
		log.Warn("question pool unavailable", logx.String("path", bank.Path()), logx.Err(err))
	}
}

// Logger returns the application logger.
func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.bcast.Start(runCtx)
	if err := a.setSchedulerRunning(runCtx, resolvedOrZero(cfg).SchedulerEnabled); err != nil {
		return err
	}
	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})
	if cfg.Questions.Watch {
		a.restartQuestionWatch(runCtx)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug level; dispatches are frequent.
				a.log.Debug("event", logx.String("type", e.Type), logx.Int64("chat_id", e.ChatID), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("bot", a.adapter.BotUsername()),
		logx.Int("questions", a.bank.Len()),
	)
	return nil
}

func resolvedOrZero(cfg *config.Config) config.Resolved {
	res, _ := config.Resolve(cfg)
	return res
}

// validateReload rejects a reload whose question file cannot be parsed.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	path := strings.TrimSpace(cfg.Questions.Path)
	if path == "" || path == a.bank.Path() {
		return nil
	}
	if _, _, err := questions.ParseFile(path, logx.Nop()); err != nil {
		return fmt.Errorf("questions.path: %w", err)
	}
	return nil
}

func (a *App) setSchedulerRunning(ctx context.Context, want bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case want && !a.schedRunning:
		if err := a.sched.Start(ctx); err != nil {
			return err
		}
		a.schedRunning = true
		a.log.Info("scheduler started")
	case !want && a.schedRunning:
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
		a.schedRunning = false
		a.log.Info("scheduler stopped")
	}
	return nil
}

// restartQuestionWatch replaces the question file watcher.
func (a *App) restartQuestionWatch(parent context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.questionsWatch != nil {
		a.questionsWatch()
		a.questionsWatch = nil
	}
	if strings.TrimSpace(a.bank.Path()) == "" {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	a.questionsWatch = cancel
	a.sup.Go0("questions.watch", func(context.Context) {
		if err := a.bank.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("questions watcher stopped", logx.Err(err))
		}
	})
}

func (a *App) stopQuestionWatch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.questionsWatch != nil {
		a.questionsWatch()
		a.questionsWatch = nil
	}
}

package bot

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"quizbot/internal/eventbus"
	rtsup "quizbot/internal/runtime/supervisor"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
	"quizbot/pkg/tgui"

	"github.com/google/uuid"
)

// Bot routes chat updates to handlers.
type Bot struct {
	deps     Deps
	log      logx.Logger
	username string
	now      func() time.Time
	started  time.Time

	mu   sync.RWMutex
	opt  Options
	cmds map[string]Command
	cbs  map[string]CallbackRoute

	jobs chan func()
	// answerWait bounds how long a poll answer waits for a queue slot.
	answerWait time.Duration
}

const slowUpdate = 750 * time.Millisecond

func New(deps Deps, username string, opt Options, log logx.Logger) (*Bot, error) {
	switch {
	case deps.Adapter == nil:
		return nil, errors.New("bot: adapter is required")
	case deps.Store == nil:
		return nil, errors.New("bot: store is required")
	case deps.Dispatcher == nil, deps.Answers == nil, deps.Rankings == nil:
		return nil, errors.New("bot: quiz core is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Events == nil {
		deps.Events = eventbus.Nop()
	}
	b := &Bot{
		deps:     deps,
		log:      log.With(logx.String("comp", "bot")),
		username: username,
		now:      time.Now,
		opt:      opt.withDefaults(),
		jobs:     make(chan func(), 256),

		answerWait: 2 * time.Second,
	}
	b.started = b.now()
	b.cmds = map[string]Command{}
	for _, c := range b.commands() {
		b.cmds[c.Name] = c
	}
	b.cbs = map[string]CallbackRoute{}
	for _, r := range b.callbacks() {
		b.cbs[r.Scope] = r
	}
	return b, nil
}

// Apply swaps hot-reloadable options. Worker count applies on the next Run.
func (b *Bot) Apply(opt Options) {
	opt = opt.withDefaults()
	b.mu.Lock()
	b.opt = opt
	b.mu.Unlock()
}

func (b *Bot) options() Options {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.opt
}

func (b *Bot) isOwner(id int64) bool {
	for _, o := range b.options().Owners {
		if o == id {
			return true
		}
	}
	return false
}

// Run consumes updates until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := b.options().Workers
	sup := rtsup.New(ctx,
		rtsup.WithLogger(b.log),
		rtsup.WithCancelOnError(false),
	)
	b.log.Info("update dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(b.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			b.work(c, idx)
			return nil
		}, 200*time.Millisecond, 5*time.Second)
	}
	sup.Go0("bot.menu", b.updateMenu)

	defer func() {
		sup.Cancel()
		// Wait briefly for workers to drain.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		b.log.Info("update dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			b.route(ctx, up)
		}
	}
}

func (b *Bot) work(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-b.jobs:
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.log.Error("panic in bot job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (b *Bot) tryEnqueue(fn func()) bool {
	select {
	case b.jobs <- fn:
		return true
	default:
		return false
	}
}

func (b *Bot) updateMenu(ctx context.Context) {
	up, ok := b.deps.Adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	var menu []kit.BotCommand
	for _, c := range b.commands() {
		if c.Access == AccessOwnerOnly || c.Hidden {
			continue
		}
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(cctx, menu); err != nil {
		b.log.Warn("menu update failed", logx.Err(err))
	}
}

func (b *Bot) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		b.routeMessage(ctx, up.Message)
	case kit.UpdateCallback:
		b.routeCallback(ctx, up.Callback)
	case kit.UpdatePollAnswer:
		if up.PollAnswer != nil {
			pa := *up.PollAnswer
			b.enqueueAnswer(ctx, &Request{Kind: up.Kind, From: pa.From, Command: "poll_answer", PollAnswer: &pa})
		}
	case kit.UpdateBotJoined, kit.UpdateBotLeft:
		if up.Membership != nil {
			m := *up.Membership
			kind := up.Kind
			req := &Request{Kind: kind, Chat: kit.ChatTarget{ChatID: m.ChatID}, ChatType: m.ChatType, From: m.By, Command: string(kind)}
			b.enqueue(ctx, req, func(c context.Context, _ *Request) error {
				if kind == kit.UpdateBotJoined {
					return b.onJoined(c, m)
				}
				return b.onLeft(c, m)
			})
		}
	}
}

func (b *Bot) routeMessage(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	name, args, ok := parseCommand(msg.Text, b.username)
	if !ok {
		return
	}
	req := &Request{
		Kind:     kit.UpdateMessage,
		Chat:     kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		ChatType: msg.ChatType,
		From:     msg.From,
		Command:  name,
		Args:     args,
		Message:  msg,
	}

	b.mu.RLock()
	cmd, found := b.cmds[name]
	b.mu.RUnlock()
	if !found {
		if !req.IsGroup() {
			b.reply(ctx, req, "Unknown command. Try /help")
		}
		return
	}
	b.enqueue(ctx, req, func(c context.Context, r *Request) error {
		if !b.allowed(c, cmd.Access, cmd.Where, r) {
			return nil
		}
		return cmd.Handle(c, r)
	})
}

func (b *Bot) routeCallback(ctx context.Context, cb *kit.Callback) {
	if cb == nil {
		return
	}
	scope, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		return
	}
	b.mu.RLock()
	route, found := b.cbs[scope]
	b.mu.RUnlock()
	if !found {
		_ = b.deps.Adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}
	req := &Request{
		Kind:     kit.UpdateCallback,
		Chat:     kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		From:     cb.From,
		Command:  scope + ":" + action,
		Args:     []string{action},
		Payload:  payload,
		Callback: cb,
	}
	queued := b.enqueue(ctx, req, func(c context.Context, r *Request) error {
		if !b.allowed(c, route.Access, AnywhereChat, r) {
			return nil
		}
		return route.Handle(c, r, action, payload)
	})
	if !queued {
		_ = b.deps.Adapter.AnswerCallback(ctx, cb.ID, "Busy, try again", false)
	}
}

func (b *Bot) enqueue(root context.Context, req *Request, h HandlerFunc) bool {
	if !b.tryEnqueue(b.job(root, req, h)) {
		req.Log.Warn("job queue full; dropping update")
		return false
	}
	return true
}

// enqueueAnswer queues a poll answer, waiting up to answerWait for a free
// slot. An answer that still does not fit is reported as lost.
func (b *Bot) enqueueAnswer(root context.Context, req *Request) {
	job := b.job(root, req, b.onPollAnswer)
	if b.tryEnqueue(job) {
		return
	}
	t := time.NewTimer(b.answerWait)
	defer t.Stop()
	select {
	case b.jobs <- job:
		return
	case <-t.C:
	case <-root.Done():
	}
	req.Log.Error("job queue full; poll answer lost",
		logx.String("event", "answer_lost"),
		logx.String("poll_id", req.PollAnswer.PollID),
		logx.Duration("waited", b.answerWait),
	)
	b.deps.Events.Publish(eventbus.Event{Type: eventbus.AnswerLost, Time: b.now(), Data: *req.PollAnswer})
}

func (b *Bot) job(root context.Context, req *Request, h HandlerFunc) func() {
	req.ReqID = uuid.NewString()[:8]
	req.Log = b.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.From.ID),
		logx.String("cmd", req.Command),
	)
	final := Chain(h,
		MWRecover(b.log),
		MWAccessLog(b.log, slowUpdate),
		MWDeadline(b.options().CommandTimeout),
	)
	return func() { _ = final(root, req) }
}

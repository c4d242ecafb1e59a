// Package telegram implements the messaging gateway on top of telebot.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "quizbot/internal/runtime/supervisor"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"

	"github.com/cespare/xxhash/v2"
	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter; created on Start.
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower than the poll loop.
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.QuizGateway        = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout, AllowedUpdates: allowedUpdates},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telebot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// my_chat_member and poll_answer are not delivered unless requested.
var allowedUpdates = []string{"message", "callback_query", "poll_answer", "my_chat_member"}

// BotID returns the bot's own user id.
func (a *Adapter) BotID() int64 {
	if a.bot == nil || a.bot.Me == nil {
		return 0
	}
	return a.bot.Me.ID
}

func (a *Adapter) BotUsername() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		msg := &kit.Message{
			ID:        m.ID,
			ChatID:    m.Chat.ID,
			ChatType:  kit.ChatType(m.Chat.Type),
			ChatTitle: m.Chat.Title,
			ThreadID:  m.ThreadID,
			From:      userOf(m.Sender),
			Text:      m.Text,
		}
		if m.ReplyTo != nil {
			msg.ReplyToID = m.ReplyTo.ID
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				From:      userOf(cb.Sender),
				ChatID:    m.Chat.ID,
				ThreadID:  m.ThreadID,
				MessageID: m.ID,
				Data:      strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnPollAnswer, func(c tele.Context) error {
		pa := c.PollAnswer()
		if pa == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdatePollAnswer,
			PollAnswer: &kit.PollAnswer{
				PollID:  pa.PollID,
				From:    userOf(pa.Sender),
				Options: append([]int(nil), pa.Options...),
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		u := c.ChatMember()
		if u == nil || u.Chat == nil || u.NewChatMember == nil {
			return nil
		}
		kind, ok := membershipKind(u)
		if !ok {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kind,
			Membership: &kit.Membership{
				ChatID:    u.Chat.ID,
				ChatTitle: u.Chat.Title,
				ChatType:  kit.ChatType(u.Chat.Type),
				By:        userOf(u.Sender),
			},
		})
		return nil
	})
}

func isPresent(r tele.MemberStatus) bool {
	return r == tele.Member || r == tele.Administrator || r == tele.Creator || r == tele.Restricted
}

// membershipKind maps a my_chat_member transition to joined/left.
func membershipKind(u *tele.ChatMemberUpdate) (kit.UpdateKind, bool) {
	was := u.OldChatMember != nil && isPresent(u.OldChatMember.Role)
	now := isPresent(u.NewChatMember.Role)
	switch {
	case !was && now:
		return kit.UpdateBotJoined, true
	case was && !now:
		return kit.UpdateBotLeft, true
	default:
		return "", false
	}
}

func userOf(u *tele.User) kit.User {
	if u == nil {
		return kit.User{}
	}
	return kit.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	report := func() {
		if n := a.droppedUpdates.Swap(0); n > 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
		}
	}
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop; restart it if it returns while ctx is alive.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.BotUsername()))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	}, 500*time.Millisecond, 10*time.Second)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()
	go a.bot.Stop()

	// Keep shutdown snappy even if getUpdates long-poll is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.DisableNotify,
		ThreadID:              threadID,
	}
	if opt.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo}
		so.AllowWithoutReply = true
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
		so.ReplyMarkup = rm
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(opt, to.ThreadID)
		// Markup and reply only on the first message.
		if i > 0 {
			so.ReplyMarkup = nil
			so.ReplyTo = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, Classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	chunks := splitText(text, textLimit, opt.ParseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := sendOptions(opt, 0)
	so.ReplyTo = nil
	if _, err := a.bot.Edit(m, chunks[0], so); err != nil {
		// Editing to identical content is not a failure for our purposes.
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
		return err
	}
	// Overflow goes out as new messages.
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, &tele.SendOptions{ParseMode: opt.ParseMode, ThreadID: ref.ThreadID}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text, ShowAlert: alert})
}

func (a *Adapter) Forward(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := &tele.Message{ID: from.MessageID, Chat: &tele.Chat{ID: from.ChatID}}
	_, err := a.bot.Forward(&tele.Chat{ID: to.ChatID}, src, &tele.SendOptions{ThreadID: to.ThreadID})
	return Classify(err)
}

func (a *Adapter) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return m.Role == tele.Administrator || m.Role == tele.Creator, nil
}

// CanMessage reports whether the user has a private chat with the bot.
func (a *Adapter) CanMessage(ctx context.Context, userID int64) bool {
	if ctx.Err() != nil {
		return false
	}
	_, err := a.bot.ChatByID(userID)
	return err == nil
}

// SendQuiz posts a non-anonymous quiz poll.
func (a *Adapter) SendQuiz(ctx context.Context, to kit.ChatTarget, q kit.Quiz) (kit.QuizRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.QuizRef{}, err
	}
	poll := &tele.Poll{
		Type:          tele.PollQuiz,
		Question:      q.Question,
		CorrectOption: q.Correct,
		Anonymous:     false,
	}
	for _, o := range q.Options {
		poll.Options = append(poll.Options, tele.PollOption{Text: o})
	}

	send := func() (*tele.Message, error) {
		return a.bot.Send(&tele.Chat{ID: to.ChatID}, poll, &tele.SendOptions{ThreadID: to.ThreadID})
	}
	// A send that lands after ctx expired is a poll nobody tracks; stop it.
	late := func(msg *tele.Message, err error) {
		if err != nil || msg == nil {
			return
		}
		a.retireLateQuiz(to.ChatID, msg)
	}
	msg, err := callCtx(ctx, send, late)
	if err != nil {
		return kit.QuizRef{}, Classify(err)
	}
	if msg == nil || msg.Poll == nil {
		return kit.QuizRef{}, errors.New("telegram: poll message without poll")
	}
	return kit.QuizRef{PollID: msg.Poll.ID, MessageID: msg.ID}, nil
}

// lateStopTimeout bounds the StopPoll issued for a quiz that was delivered
// after its caller gave up.
var lateStopTimeout = 10 * time.Second

func (a *Adapter) retireLateQuiz(chatID int64, msg *tele.Message) {
	pollID := ""
	if msg.Poll != nil {
		pollID = msg.Poll.ID
	}
	log := a.log.With(
		logx.Int64("chat_id", chatID),
		logx.Int("message_id", msg.ID),
		logx.String("poll_id", pollID),
	)
	log.Warn("quiz delivered after deadline; stopping it")
	ctx, cancel := context.WithTimeout(context.Background(), lateStopTimeout)
	defer cancel()
	if err := a.CloseQuiz(ctx, chatID, msg.ID); err != nil {
		log.Warn("stop late quiz failed", logx.Err(err))
	}
}

// CloseQuiz stops the poll. Best-effort; callers ignore failures.
func (a *Adapter) CloseQuiz(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := callCtx(ctx, func() (*tele.Poll, error) {
		return a.bot.StopPoll(&tele.Message{ID: messageID, Chat: &tele.Chat{ID: chatID}})
	}, nil)
	return err
}

// callCtx runs fn on its own goroutine and returns when fn does or ctx ends,
// whichever is first. telebot calls take no context. If ctx wins and late is
// set, late receives fn's result once it arrives.
func callCtx[T any](ctx context.Context, fn func() (T, error), late func(T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		if late != nil {
			go func() {
				r := <-ch
				late(r.v, r.err)
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}

// UpdateMenuCommands sets the bot command list. It only calls the API when
// the list changes.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := xxhash.New()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		_, _ = h.WriteString(c.Command)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(d)
		_, _ = h.Write([]byte{0})
		list = append(list, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"quizbot/internal/broadcast"
	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
	"quizbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessChatAdmin
	AccessOwnerOnly
)

type Where int

const (
	AnywhereChat Where = iota
	GroupOnly
	PrivateOnly
)

type Command struct {
	Name        string
	Description string
	Access      Access
	Where       Where
	Hidden      bool // not listed in the command menu
	Handle      HandlerFunc
}

// CallbackRoute handles inline buttons whose data starts with Scope.
type CallbackRoute struct {
	Scope  string
	Access Access
	Handle func(ctx context.Context, req *Request, action, payload string) error
}

func (b *Bot) commands() []Command {
	return []Command{
		{Name: "start", Description: "start the bot", Handle: b.cmdStart},
		{Name: "help", Description: "show commands", Handle: b.cmdHelp},
		{Name: "settings", Description: "quiz interval and on/off (admins)", Access: AccessChatAdmin, Where: GroupOnly, Handle: b.cmdSettings},
		{Name: "leaderboard", Description: "top players", Handle: b.cmdLeaderboard},
		{Name: "stats", Description: "your score and rank", Handle: b.cmdStats},
		{Name: "status", Description: "bot status", Access: AccessOwnerOnly, Handle: b.cmdStatus},
		{Name: "broadcast", Description: "forward the replied message to everyone", Access: AccessOwnerOnly, Handle: b.cmdBroadcast},
		{Name: "dispatchnow", Description: "run a dispatch pass now", Access: AccessOwnerOnly, Handle: b.cmdDispatchNow},
	}
}

func (b *Bot) callbacks() []CallbackRoute {
	return []CallbackRoute{
		{Scope: scopeSettings, Access: AccessChatAdmin, Handle: b.cbSettings},
		{Scope: scopeLeaderboard, Access: AccessEveryone, Handle: b.cbLeaderboard},
	}
}

// allowed enforces chat type and access; it tells the user when denied.
func (b *Bot) allowed(ctx context.Context, access Access, where Where, req *Request) bool {
	switch {
	case where == GroupOnly && !req.IsGroup():
		b.deny(ctx, req, "This command only works in groups.")
		return false
	case where == PrivateOnly && req.IsGroup():
		b.deny(ctx, req, "This command only works in a private chat.")
		return false
	}
	switch access {
	case AccessOwnerOnly:
		if !b.isOwner(req.From.ID) {
			b.deny(ctx, req, "unauthorized")
			return false
		}
	case AccessChatAdmin:
		if b.isOwner(req.From.ID) {
			return true
		}
		ok, err := b.deps.Adapter.IsChatAdmin(ctx, req.Chat.ChatID, req.From.ID)
		if err != nil {
			req.logger(b.log).Warn("admin check failed", logx.Err(err))
		}
		if !ok {
			b.deny(ctx, req, "Only chat admins can do this.")
			return false
		}
	}
	return true
}

func (b *Bot) deny(ctx context.Context, req *Request, text string) {
	if req.Callback != nil {
		_ = b.deps.Adapter.AnswerCallback(ctx, req.Callback.ID, text, true)
		return
	}
	b.reply(ctx, req, text)
}

func (b *Bot) reply(ctx context.Context, req *Request, text string) {
	b.send(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true})
}

func (b *Bot) replyHTML(ctx context.Context, req *Request, h tgui.H, markup any) {
	b.send(ctx, req.Chat, h.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkupAdapter: markup})
}

func (b *Bot) send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) {
	if _, err := b.deps.Adapter.SendText(ctx, to, text, opt); err != nil {
		b.log.Warn("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	if req.IsGroup() {
		s, err := b.enableChat(ctx, req.Chat.ChatID)
		if err != nil {
			return err
		}
		b.replyHTML(ctx, req, tgui.Lines(
			"✅ Quizzes are on in this chat.",
			tgui.H("Interval: "+tgui.B(fmtInterval(s.Interval)).String()),
			"Admins can change it with /settings.",
		), nil)
		return nil
	}

	u := storage.User{
		ID:        req.From.ID,
		FullName:  req.From.FullName(),
		Username:  req.From.Username,
		StartedAt: b.now(),
	}
	isNew, err := b.deps.Store.AddUser(ctx, u)
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	b.replyHTML(ctx, req, tgui.Lines(
		tgui.H("👋 Hi "+tgui.B(u.FullName).String()+"!"),
		"Add me to a group and I will post a quiz there on a fixed interval.",
		"The first correct answer to each quiz scores a point.",
		"/leaderboard top players · /stats your rank · /help all commands",
	), nil)
	if isNew {
		b.logNote(ctx, tgui.Lines(
			"#NewUser",
			tgui.H("Name: "+tgui.Mention(u.FullName, u.ID).String()),
			tgui.H("ID: "+tgui.Code(fmt.Sprint(u.ID)).String()),
			usernameLine(u.Username),
		))
	}
	return nil
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	owner := b.isOwner(req.From.ID)
	lines := []tgui.H{tgui.B("Commands")}
	for _, c := range b.commands() {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		lines = append(lines, tgui.H("/"+c.Name+" "+tgui.Esc(c.Description).String()))
	}
	b.replyHTML(ctx, req, tgui.Lines(lines...), nil)
	return nil
}

func (b *Bot) cmdSettings(ctx context.Context, req *Request) error {
	s, err := b.deps.Store.GetSchedule(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	b.replyHTML(ctx, req, settingsText(s), settingsKeyboard(s, b.options().IntervalOptions).Markup())
	return nil
}

func (b *Bot) cmdLeaderboard(ctx context.Context, req *Request) error {
	view := lbView{Global: !req.IsGroup(), Window: quiz.WindowAll}
	for _, a := range req.Args {
		if w, err := quiz.ParseWindow(a); err == nil {
			view.Window = w
			continue
		}
		if strings.EqualFold(a, "global") {
			view.Global = true
		}
	}
	text, kb, err := b.renderLeaderboard(ctx, req.Chat.ChatID, req.IsGroup(), view)
	if err != nil {
		return err
	}
	b.replyHTML(ctx, req, text, kb.Markup())
	return nil
}

func (b *Bot) cmdStats(ctx context.Context, req *Request) error {
	pid := req.From.ID
	lines := []tgui.H{tgui.H("📊 " + tgui.B("Your stats").String())}
	if req.IsGroup() {
		r, err := b.deps.Rankings.RankOf(ctx, pid, quiz.ChatScope(req.Chat.ChatID), quiz.WindowAll)
		if err != nil {
			return err
		}
		lines = append(lines, tgui.H("This chat: "+fmtRank(r)))
	}
	g, err := b.deps.Rankings.RankOf(ctx, pid, quiz.Scope{}, quiz.WindowAll)
	if err != nil {
		return err
	}
	lines = append(lines, tgui.H("Global: "+fmtRank(g)))
	text := tgui.Lines(lines...)

	if !req.IsGroup() {
		b.replyHTML(ctx, req, text, nil)
		return nil
	}
	if !b.deps.Adapter.CanMessage(ctx, pid) {
		b.reply(ctx, req, "Send me /start in a private chat first, then use /stats again.")
		return nil
	}
	if _, err := b.deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: pid}, text.String(), &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		b.reply(ctx, req, "I could not message you. Send me /start in a private chat first.")
		return nil
	}
	b.reply(ctx, req, "Sent your stats in private.")
	return nil
}

func (b *Bot) cmdStatus(ctx context.Context, req *Request) error {
	total, enabled, err := b.deps.Store.CountChannels(ctx)
	if err != nil {
		return err
	}
	users, err := b.deps.Store.CountUsers(ctx)
	if err != nil {
		return err
	}
	players, err := b.deps.Store.CountParticipants(ctx)
	if err != nil {
		return err
	}
	open := 0
	if b.deps.Open != nil {
		open = b.deps.Open.Len()
	}
	b.replyHTML(ctx, req, tgui.Lines(
		tgui.H("🤖 "+tgui.B("Status").String()),
		tgui.H("Uptime: "+tgui.Code(b.now().Sub(b.started).Truncate(time.Second).String()).String()),
		tgui.H(fmt.Sprintf("Chats: %d (%d enabled)", total, enabled)),
		tgui.H(fmt.Sprintf("Users: %d", users)),
		tgui.H(fmt.Sprintf("Players: %d", players)),
		tgui.H(fmt.Sprintf("Open questions: %d", open)),
	), nil)
	return nil
}

func (b *Bot) cmdBroadcast(ctx context.Context, req *Request) error {
	if b.deps.Broadcast == nil {
		b.reply(ctx, req, "Broadcast is not available.")
		return nil
	}
	if req.Message == nil || req.Message.ReplyToID == 0 {
		b.reply(ctx, req, "Reply to the message you want to broadcast with /broadcast.")
		return nil
	}
	targets, err := b.broadcastTargets(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		b.reply(ctx, req, "Nobody to broadcast to yet.")
		return nil
	}
	src := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.Message.ReplyToID}
	owner := req.Chat
	bg := context.WithoutCancel(ctx)
	id, err := b.deps.Broadcast.Submit("broadcast", src, targets, func(st broadcast.JobStatus) {
		cctx, cancel := context.WithTimeout(bg, 15*time.Second)
		defer cancel()
		text := broadcastSummary(st)
		b.send(cctx, owner, text.String(), &kit.SendOptions{ParseMode: "HTML"})
		b.logNote(cctx, text)
	})
	if err != nil {
		b.reply(ctx, req, "Broadcast not queued: "+err.Error())
		return nil
	}
	b.reply(ctx, req, fmt.Sprintf("Broadcast queued to %d chats (%s).", len(targets), id))
	return nil
}

func (b *Bot) broadcastTargets(ctx context.Context) ([]kit.ChatTarget, error) {
	users, err := b.deps.Store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	chats, err := b.deps.Store.ListChatIDs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(users)+len(chats))
	out := make([]kit.ChatTarget, 0, len(users)+len(chats))
	for _, id := range append(users, chats...) {
		if _, dup := seen[id]; dup || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, kit.ChatTarget{ChatID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (b *Bot) cmdDispatchNow(ctx context.Context, req *Request) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	rep, err := b.deps.Dispatcher.RunOnce(pctx)
	switch {
	case errors.Is(err, quiz.ErrTickInFlight):
		b.reply(ctx, req, "A dispatch pass is already running.")
		return nil
	case errors.Is(err, quiz.ErrNoQuestions):
		b.reply(ctx, req, "The question pool is empty.")
		return nil
	case err != nil:
		return err
	}
	b.reply(ctx, req, fmt.Sprintf("Dispatch pass done: %d enabled, %d due, %d sent, %d failed, %d disabled.",
		rep.Enabled, rep.Due, rep.Sent, rep.Failed, rep.Disabled))
	return nil
}

// enableChat creates the chat's schedule if needed and turns it on.
func (b *Bot) enableChat(ctx context.Context, chatID int64) (storage.ChannelSchedule, error) {
	s, err := b.deps.Store.GetSchedule(ctx, chatID)
	if err != nil {
		return s, err
	}
	if !s.Enabled {
		if err := b.deps.Store.SetEnabled(ctx, chatID, true); err != nil {
			return s, err
		}
		s.Enabled = true
	}
	return s, nil
}

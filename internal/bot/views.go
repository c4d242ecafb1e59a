package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quizbot/internal/broadcast"
	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
	"quizbot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

const (
	scopeSettings    = "set"
	scopeLeaderboard = "lb"

	actInterval = "iv"
	actToggle   = "tg"
	actView     = "v"
)

func fmtInterval(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return d.String()
	}
}

func fmtRank(r quiz.Rank) string {
	if !r.Available {
		return "no correct answers yet"
	}
	return fmt.Sprintf("%d correct, rank #%d", r.Score, r.Rank)
}

func usernameLine(username string) tgui.H {
	if username == "" {
		return ""
	}
	return tgui.H("Username: @" + tgui.Esc(username).String())
}

func settingsText(s storage.ChannelSchedule) tgui.H {
	status := "enabled"
	if !s.Enabled {
		status = "disabled"
	}
	return tgui.Lines(
		tgui.H("⚙️ "+tgui.B("Quiz settings").String()),
		tgui.H("Status: "+tgui.B(status).String()),
		tgui.H("Interval: "+tgui.B(fmtInterval(s.Interval)).String()),
		"Pick how often a new quiz is posted:",
	)
}

func settingsKeyboard(s storage.ChannelSchedule, options []time.Duration) *tgui.Inline {
	kb := tgui.NewInline()
	row := make([]tele.Btn, 0, len(options))
	for _, d := range options {
		label := fmtInterval(d)
		if d == s.Interval {
			label = "✅ " + label
		}
		row = append(row, tgui.Btn(label, tgui.MustData(scopeSettings, actInterval, strconv.FormatInt(int64(d/time.Second), 10))))
	}
	kb.Row(row...)
	toggle := "⏸ Disable quizzes"
	if !s.Enabled {
		toggle = "▶️ Enable quizzes"
	}
	kb.Row(tgui.Btn(toggle, tgui.MustData(scopeSettings, actToggle, "")))
	return kb
}

func (b *Bot) cbSettings(ctx context.Context, req *Request, action, payload string) error {
	cb := req.Callback
	chatID := req.Chat.ChatID
	var note string
	switch action {
	case actInterval:
		secs, err := strconv.ParseInt(payload, 10, 64)
		d := time.Duration(secs) * time.Second
		if err != nil || !containsDuration(b.options().IntervalOptions, d) {
			_ = b.deps.Adapter.AnswerCallback(ctx, cb.ID, "Unknown interval", true)
			return nil
		}
		if err := b.deps.Dispatcher.SetInterval(ctx, chatID, d); err != nil {
			_ = b.deps.Adapter.AnswerCallback(ctx, cb.ID, "Could not save, try again", true)
			return err
		}
		note = "Interval set to " + fmtInterval(d)
	case actToggle:
		s, err := b.deps.Store.GetSchedule(ctx, chatID)
		if err != nil {
			return err
		}
		if err := b.deps.Store.SetEnabled(ctx, chatID, !s.Enabled); err != nil {
			_ = b.deps.Adapter.AnswerCallback(ctx, cb.ID, "Could not save, try again", true)
			return err
		}
		note = "Quizzes disabled"
		if !s.Enabled {
			// A re-enabled chat gets its next quiz on the next tick.
			note = "Quizzes enabled"
			if err := b.deps.Dispatcher.ForceDue(ctx, chatID); err != nil {
				req.logger(b.log).Warn("force due failed", logx.Err(err))
			}
		}
	default:
		_ = b.deps.Adapter.AnswerCallback(ctx, cb.ID, "", false)
		return nil
	}

	s, err := b.deps.Store.GetSchedule(ctx, chatID)
	if err != nil {
		return err
	}
	ref := kit.MessageRef{ChatID: chatID, ThreadID: req.Chat.ThreadID, MessageID: cb.MessageID}
	opt := &kit.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: settingsKeyboard(s, b.options().IntervalOptions).Markup()}
	if err := b.deps.Adapter.EditText(ctx, ref, settingsText(s).String(), opt); err != nil {
		req.logger(b.log).Debug("settings edit failed", logx.Err(err))
	}
	return b.deps.Adapter.AnswerCallback(ctx, cb.ID, note, false)
}

func containsDuration(list []time.Duration, d time.Duration) bool {
	for _, v := range list {
		if v == d {
			return true
		}
	}
	return false
}

// lbView is the leaderboard state carried in callback data as "c|g:window".
type lbView struct {
	Global bool
	Window quiz.Window
}

func (v lbView) encode() string {
	s := "c"
	if v.Global {
		s = "g"
	}
	return s + ":" + string(v.Window)
}

func parseView(payload string) (lbView, bool) {
	scope, win, ok := strings.Cut(payload, ":")
	if !ok || (scope != "c" && scope != "g") {
		return lbView{}, false
	}
	w, err := quiz.ParseWindow(win)
	if err != nil {
		return lbView{}, false
	}
	return lbView{Global: scope == "g", Window: w}, true
}

var windowLabels = []struct {
	w     quiz.Window
	label string
}{
	{quiz.WindowToday, "Today"},
	{quiz.WindowWeek, "This week"},
	{quiz.WindowAll, "All time"},
}

func windowLabel(w quiz.Window) string {
	for _, wl := range windowLabels {
		if wl.w == w {
			return wl.label
		}
	}
	return string(w)
}

func leaderboardKeyboard(v lbView, inGroup bool) *tgui.Inline {
	mark := func(on bool, s string) string {
		if on {
			return "• " + s + " •"
		}
		return s
	}
	kb := tgui.NewInline()
	if inGroup {
		chat, global := v, v
		chat.Global, global.Global = false, true
		kb.Row(
			tgui.Btn(mark(!v.Global, "This chat"), tgui.MustData(scopeLeaderboard, actView, chat.encode())),
			tgui.Btn(mark(v.Global, "Global"), tgui.MustData(scopeLeaderboard, actView, global.encode())),
		)
	}
	row := make([]tele.Btn, 0, len(windowLabels))
	for _, wl := range windowLabels {
		next := v
		next.Window = wl.w
		row = append(row, tgui.Btn(mark(v.Window == wl.w, wl.label), tgui.MustData(scopeLeaderboard, actView, next.encode())))
	}
	kb.Row(row...)
	return kb
}

var medals = map[int]string{1: "🥇", 2: "🥈", 3: "🥉"}

func (b *Bot) renderLeaderboard(ctx context.Context, chatID int64, inGroup bool, v lbView) (tgui.H, *tgui.Inline, error) {
	if !inGroup {
		v.Global = true
	}
	scope := quiz.Scope{}
	where := "Global"
	if !v.Global {
		scope = quiz.ChatScope(chatID)
		where = "This chat"
	}
	rows, err := b.deps.Rankings.Leaderboard(ctx, scope, v.Window, b.options().LeaderboardSize)
	if err != nil {
		return "", nil, err
	}
	lines := []tgui.H{
		tgui.H("🏆 " + tgui.B("Leaderboard").String()),
		tgui.I(where + " · " + windowLabel(v.Window)),
	}
	if len(rows) == 0 {
		lines = append(lines, "No correct answers yet.")
	}
	for _, e := range rows {
		prefix, ok := medals[e.Rank]
		if !ok {
			prefix = strconv.Itoa(e.Rank) + "."
		}
		name := e.DisplayName
		if name == "" {
			name = "user " + strconv.FormatInt(e.ParticipantID, 10)
		}
		lines = append(lines, tgui.H(fmt.Sprintf("%s %s · %d", prefix, tgui.Esc(tgui.TruncRunes(name, 40)), e.Score)))
	}
	return tgui.Lines(lines...), leaderboardKeyboard(v, inGroup), nil
}

func (b *Bot) cbLeaderboard(ctx context.Context, req *Request, action, payload string) error {
	cb := req.Callback
	v, ok := parseView(payload)
	if action != actView || !ok {
		return b.deps.Adapter.AnswerCallback(ctx, cb.ID, "", false)
	}
	text, kb, err := b.renderLeaderboard(ctx, req.Chat.ChatID, req.IsGroup(), v)
	if err != nil {
		_ = b.deps.Adapter.AnswerCallback(ctx, cb.ID, "Leaderboard unavailable, try again", true)
		return err
	}
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: cb.MessageID}
	if err := b.deps.Adapter.EditText(ctx, ref, text.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkupAdapter: kb.Markup()}); err != nil {
		return err
	}
	return b.deps.Adapter.AnswerCallback(ctx, cb.ID, "", false)
}

func broadcastSummary(st broadcast.JobStatus) tgui.H {
	return tgui.Lines(
		tgui.H("📣 "+tgui.B("Broadcast finished").String()),
		tgui.H(fmt.Sprintf("Sent: %d/%d", st.Sent, st.Total)),
		tgui.H(fmt.Sprintf("Failed: %d (access revoked: %d)", st.Failed, st.Revoked)),
		tgui.H("Took: "+st.DoneAt.Sub(st.StartedAt).Truncate(time.Second).String()),
	)
}

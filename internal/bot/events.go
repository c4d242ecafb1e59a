package bot

import (
	"context"
	"fmt"

	"quizbot/internal/quiz"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
	"quizbot/pkg/tgui"
)

func (b *Bot) onPollAnswer(ctx context.Context, req *Request) error {
	pa := *req.PollAnswer
	res := b.deps.Answers.HandlePollAnswer(ctx, pa)
	req.Outcome = res.Outcome.String()
	if res.Outcome != quiz.OutcomeCorrect {
		return nil
	}
	name := pa.From.FullName()
	if name == "" {
		name = fmt.Sprintf("user %d", pa.From.ID)
	}
	text := tgui.Mention(name, pa.From.ID).String() + " answered the quiz correctly"
	b.send(ctx, kit.ChatTarget{ChatID: res.Question.ChatID}, text, &kit.SendOptions{
		ParseMode: "HTML",
		ReplyTo:   res.Question.MessageID,
	})
	return nil
}

func (b *Bot) onJoined(ctx context.Context, m kit.Membership) error {
	if !m.ChatType.IsGroup() {
		return nil
	}
	s, err := b.enableChat(ctx, m.ChatID)
	if err != nil {
		return fmt.Errorf("enable chat: %w", err)
	}
	b.log.Info("joined chat", logx.Int64("chat_id", m.ChatID), logx.String("title", m.ChatTitle))
	b.send(ctx, kit.ChatTarget{ChatID: m.ChatID}, tgui.Lines(
		tgui.H("👋 Thanks for adding me to "+tgui.B(m.ChatTitle).String()+"!"),
		tgui.H("I will post a quiz here every "+tgui.B(fmtInterval(s.Interval)).String()+"."),
		"The first correct answer scores. Admins can change the interval with /settings.",
	).String(), &kit.SendOptions{ParseMode: "HTML"})
	b.logNote(ctx, tgui.Lines(
		"#NewGroup",
		tgui.H("Title: "+tgui.Esc(m.ChatTitle).String()),
		tgui.H("ID: "+tgui.Code(fmt.Sprint(m.ChatID)).String()),
		tgui.H("Added by: "+tgui.Mention(m.By.FullName(), m.By.ID).String()),
	))
	return nil
}

func (b *Bot) onLeft(ctx context.Context, m kit.Membership) error {
	if err := b.deps.Store.SetEnabled(ctx, m.ChatID, false); err != nil {
		return fmt.Errorf("disable chat: %w", err)
	}
	b.log.Info("left chat", logx.Int64("chat_id", m.ChatID), logx.String("title", m.ChatTitle))
	b.logNote(ctx, tgui.Lines(
		"#LeftGroup",
		tgui.H("Title: "+tgui.Esc(m.ChatTitle).String()),
		tgui.H("ID: "+tgui.Code(fmt.Sprint(m.ChatID)).String()),
		tgui.H("Removed by: "+tgui.Mention(m.By.FullName(), m.By.ID).String()),
	))
	return nil
}

// logNote posts an operational note to the log channel, if configured.
func (b *Bot) logNote(ctx context.Context, h tgui.H) {
	to := b.options().LogChannel
	if to.ChatID == 0 {
		return
	}
	b.send(ctx, to, h.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

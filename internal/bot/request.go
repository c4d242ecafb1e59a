package bot

import (
	"strings"

	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

// Request is one routed update.
type Request struct {
	Kind     kit.UpdateKind
	Chat     kit.ChatTarget
	ChatType kit.ChatType
	From     kit.User

	// Command is the command name (messages) or "scope:action" (callbacks).
	Command string
	Args    []string
	Payload string

	Message    *kit.Message
	Callback   *kit.Callback
	PollAnswer *kit.PollAnswer

	// Outcome is set by the poll answer handler.
	Outcome string

	ReqID string
	Log   logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Log.IsZero() {
		return r.Log
	}
	return fallback
}

// logFields describes the update for the access log. The chat, sender and
// command are already on Log.
func (r *Request) logFields() []logx.Field {
	fields := []logx.Field{logx.String("kind", string(r.Kind))}
	if r.Chat.ThreadID != 0 {
		fields = append(fields, logx.Int("thread_id", r.Chat.ThreadID))
	}
	switch {
	case r.PollAnswer != nil:
		fields = append(fields,
			logx.String("poll_id", r.PollAnswer.PollID),
			logx.Int("options", len(r.PollAnswer.Options)),
		)
	case r.Callback != nil:
		fields = append(fields, logx.Int("message_id", r.Callback.MessageID))
	case len(r.Args) > 0:
		fields = append(fields, logx.Int("args", len(r.Args)))
	}
	if r.Outcome != "" {
		fields = append(fields, logx.String("outcome", r.Outcome))
	}
	return fields
}

// IsGroup reports whether the request came from a group chat. Callbacks do
// not carry a chat type; a negative chat id is a group.
func (r *Request) IsGroup() bool {
	if r.ChatType != "" {
		return r.ChatType.IsGroup()
	}
	return r.Chat.ChatID < 0
}

// parseCommand splits "/name@bot arg1 arg2". ok is false for non-commands
// and for commands addressed to another bot.
func parseCommand(text, username string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		target := word[i+1:]
		word = word[:i]
		if username != "" && !strings.EqualFold(target, username) {
			return "", nil, false
		}
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), fields[1:], true
}

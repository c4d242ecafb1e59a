package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateCallback   UpdateKind = "callback"
	UpdatePollAnswer UpdateKind = "poll_answer"
	UpdateBotJoined  UpdateKind = "bot_joined"
	UpdateBotLeft    UpdateKind = "bot_left"
)

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Callback   *Callback
	PollAnswer *PollAnswer
	Membership *Membership
}

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// IsGroup reports whether the chat is a group or supergroup.
func (t ChatType) IsGroup() bool { return t == ChatGroup || t == ChatSupergroup }

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// FullName returns "First Last", falling back to the username.
func (u User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

type Message struct {
	ID        int
	ChatID    int64
	ChatType  ChatType
	ChatTitle string
	ThreadID  int // telegram forum topic thread id (0 if none)
	From      User
	Text      string
	ReplyToID int // id of the message this one replies to (0 if none)
}

type Callback struct {
	ID        string
	From      User
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// PollAnswer is an answer submission to a quiz poll.
// Options is empty when the participant retracted the vote.
type PollAnswer struct {
	PollID  string
	From    User
	Options []int
}

// Membership reports the bot itself being added to or removed from a chat.
type Membership struct {
	ChatID    int64
	ChatTitle string
	ChatType  ChatType
	By        User
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	DisableNotify      bool
	ReplyTo            int
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Quiz is one question to deliver as a quiz poll.
type Quiz struct {
	Question string
	Options  []string
	Correct  int
}

// QuizRef identifies a delivered quiz: the gateway-assigned poll id and the
// message carrying it (needed to close the poll later).
type QuizRef struct {
	PollID    string
	MessageID int
}

// ErrAccessRevoked marks a send failure caused by the bot having lost access
// to the chat (kicked, blocked, chat gone, missing rights).
var ErrAccessRevoked = errors.New("chat access revoked")

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error
	Forward(ctx context.Context, to ChatTarget, from MessageRef) error

	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	// CanMessage reports whether the bot is able to message the user privately.
	CanMessage(ctx context.Context, userID int64) bool
}

// QuizGateway is the part of the gateway the quiz core depends on.
type QuizGateway interface {
	SendQuiz(ctx context.Context, to ChatTarget, q Quiz) (QuizRef, error)
	CloseQuiz(ctx context.Context, chatID int64, messageID int) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

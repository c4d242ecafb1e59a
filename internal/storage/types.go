package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// DefaultInterval is the dispatch interval of a channel seen for the first time.
const DefaultInterval = time.Hour

// Config configures storage.
//
// Driver values:
//   - "memory": in-process only (tests, dry runs)
//   - "file": dependency-free file backend (json snapshots + jsonl answer log)
//   - "sqlite": SQLite database file
//   - "redis": Redis server
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig

	// DefaultInterval applies to schedules created on first contact (0 = DefaultInterval).
	DefaultInterval time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, default "quizbot"
}

// ChannelSchedule is the per-chat dispatch configuration.
type ChannelSchedule struct {
	ChatID         int64
	Enabled        bool
	Interval       time.Duration
	LastDispatchAt time.Time
}

// AnswerEvent records one correct answer.
type AnswerEvent struct {
	ParticipantID int64
	ChatID        int64
	DisplayName   string
	At            time.Time
}

// AnswerFilter selects answer events. Zero fields do not filter.
type AnswerFilter struct {
	ChatID        int64
	ParticipantID int64
	Since         time.Time
}

// ParticipantScore is one row of a grouped answer count. DisplayName is the
// name on the participant's most recent matching event.
type ParticipantScore struct {
	ParticipantID int64
	DisplayName   string
	Score         int
}

// User is someone who started the bot in a private chat.
type User struct {
	ID        int64
	FullName  string
	Username  string
	StartedAt time.Time
}

// Settings is the per-channel schedule table. GetSchedule creates a default
// record on first access; the setters upsert.
type Settings interface {
	GetSchedule(ctx context.Context, chatID int64) (ChannelSchedule, error)
	ListEnabled(ctx context.Context) ([]ChannelSchedule, error)
	SetEnabled(ctx context.Context, chatID int64, enabled bool) error
	SetInterval(ctx context.Context, chatID int64, interval time.Duration) error
	SetLastDispatch(ctx context.Context, chatID int64, at time.Time) error
	CountChannels(ctx context.Context) (total, enabled int, err error)
	ListChatIDs(ctx context.Context) ([]int64, error)
}

// AnswerLog is the append-only log of correct answers.
type AnswerLog interface {
	AppendAnswer(ctx context.Context, e AnswerEvent) error
	CountAnswers(ctx context.Context, f AnswerFilter) (int, error)
	GroupAnswers(ctx context.Context, f AnswerFilter) ([]ParticipantScore, error)
	CountParticipants(ctx context.Context) (int, error)
}

type Users interface {
	// AddUser records u and reports whether it was not known before.
	AddUser(ctx context.Context, u User) (bool, error)
	CountUsers(ctx context.Context) (int, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// Store is the full persistence API used by the app.
type Store interface {
	Settings
	AnswerLog
	Users
	Close() error
}

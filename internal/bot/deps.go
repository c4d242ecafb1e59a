package bot

import (
	"context"
	"time"

	"quizbot/internal/broadcast"
	"quizbot/internal/eventbus"
	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
)

// Dispatcher is the scheduler surface the bot drives.
type Dispatcher interface {
	SetInterval(ctx context.Context, chatID int64, interval time.Duration) error
	ForceDue(ctx context.Context, chatID int64) error
	RunOnce(ctx context.Context) (quiz.TickReport, error)
}

type AnswerHandler interface {
	HandlePollAnswer(ctx context.Context, a kit.PollAnswer) quiz.Result
}

type Rankings interface {
	Leaderboard(ctx context.Context, scope quiz.Scope, w quiz.Window, limit int) ([]quiz.Entry, error)
	RankOf(ctx context.Context, participantID int64, scope quiz.Scope, w quiz.Window) (quiz.Rank, error)
}

type OpenQuestions interface {
	Len() int
}

type Broadcaster interface {
	Submit(name string, source kit.MessageRef, targets []kit.ChatTarget, onDone func(broadcast.JobStatus)) (string, error)
}

// Deps are the collaborators of the bot. Adapter, Store, Dispatcher, Answers
// and Rankings are required.
type Deps struct {
	Adapter    kit.Adapter
	Store      storage.Store
	Dispatcher Dispatcher
	Answers    AnswerHandler
	Rankings   Rankings
	Open       OpenQuestions
	Broadcast  Broadcaster
	Events     eventbus.Bus // optional; lost poll answers are published here
}

// Options are the hot-reloadable settings of the bot.
type Options struct {
	Owners          []int64
	LogChannel      kit.ChatTarget // zero ChatID disables log-channel notes
	Workers         int
	IntervalOptions []time.Duration
	LeaderboardSize int
	CommandTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if len(o.IntervalOptions) == 0 {
		o.IntervalOptions = []time.Duration{30 * time.Minute, time.Hour, 2 * time.Hour}
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 20 * time.Second
	}
	o.Owners = append([]int64(nil), o.Owners...)
	o.IntervalOptions = append([]time.Duration(nil), o.IntervalOptions...)
	return o
}

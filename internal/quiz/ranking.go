package quiz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"quizbot/internal/storage"
)

type Window string

const (
	WindowAll   Window = "all"
	WindowToday Window = "today"
	WindowWeek  Window = "week"
)

func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "", WindowAll:
		return WindowAll, nil
	case WindowToday, WindowWeek:
		return w, nil
	default:
		return "", fmt.Errorf("unknown window %q (want all, today or week)", s)
	}
}

// WindowStart returns the inclusive lower bound of w at now, in UTC.
// today starts at midnight; week starts on the most recent Monday at midnight.
// WindowAll returns the zero time.
func WindowStart(w Window, now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch w {
	case WindowToday:
		return midnight
	case WindowWeek:
		// Weekday: Sunday=0 ... Saturday=6; days since Monday.
		back := (int(midnight.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -back)
	default:
		return time.Time{}
	}
}

// Scope restricts a ranking to one chat. The zero Scope is global.
type Scope struct {
	ChatID int64
}

func ChatScope(chatID int64) Scope { return Scope{ChatID: chatID} }

func (s Scope) Global() bool { return s.ChatID == 0 }

type Entry struct {
	Rank          int // competition rank: equal scores share a rank
	ParticipantID int64
	DisplayName   string
	Score         int
}

// Rank is a participant's standing. Available is false with zero matching answers.
type Rank struct {
	Score     int
	Rank      int
	Available bool
}

// Ranker derives leaderboards from the answer log on every call.
type Ranker struct {
	answers storage.AnswerLog
	now     func() time.Time
	limit   atomic.Int64
}

const DefaultLimit = 10

func NewRanker(answers storage.AnswerLog) *Ranker {
	r := &Ranker{answers: answers, now: time.Now}
	r.limit.Store(DefaultLimit)
	return r
}

func (r *Ranker) SetClock(now func() time.Time) { r.now = now }

// SetDefaultLimit changes the limit used when callers pass 0.
func (r *Ranker) SetDefaultLimit(n int) {
	if n <= 0 {
		n = DefaultLimit
	}
	r.limit.Store(int64(n))
}

func (r *Ranker) filter(scope Scope, w Window) storage.AnswerFilter {
	return storage.AnswerFilter{ChatID: scope.ChatID, Since: WindowStart(w, r.now())}
}

// Leaderboard returns the top participants by score, highest first, ties
// ordered by participant id.
func (r *Ranker) Leaderboard(ctx context.Context, scope Scope, w Window, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = int(r.limit.Load())
	}
	rows, err := r.answers.GroupAnswers(ctx, r.filter(scope, w))
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].ParticipantID < rows[j].ParticipantID
	})

	n := min(limit, len(rows))
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		rank := i + 1
		if i > 0 && rows[i].Score == rows[i-1].Score {
			rank = out[i-1].Rank
		}
		out[i] = Entry{
			Rank:          rank,
			ParticipantID: rows[i].ParticipantID,
			DisplayName:   rows[i].DisplayName,
			Score:         rows[i].Score,
		}
	}
	return out, nil
}

// RankOf returns 1 + the number of other participants with a strictly higher
// score in the same scope and window.
func (r *Ranker) RankOf(ctx context.Context, participantID int64, scope Scope, w Window) (Rank, error) {
	f := r.filter(scope, w)
	mine := f
	mine.ParticipantID = participantID
	score, err := r.answers.CountAnswers(ctx, mine)
	if err != nil {
		return Rank{}, err
	}
	if score == 0 {
		return Rank{}, nil
	}

	rows, err := r.answers.GroupAnswers(ctx, f)
	if err != nil {
		return Rank{}, err
	}
	above := 0
	for _, row := range rows {
		if row.ParticipantID != participantID && row.Score > score {
			above++
		}
	}
	return Rank{Score: score, Rank: above + 1, Available: true}, nil
}

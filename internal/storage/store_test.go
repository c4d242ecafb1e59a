package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "quizbot/pkg/logx"

	"github.com/alicebob/miniredis/v2"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store {
			st, err := Open(Config{Driver: "memory"}, logx.Nop())
			if err != nil {
				t.Fatalf("open memory: %v", err)
			}
			return st
		},
		"file": func() Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "quiz.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		},
		"sqlite": func() Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "quiz.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
		"redis": func() Store {
			mr := miniredis.RunT(t)
			st, err := Open(Config{Driver: "redis", Redis: RedisConfig{Addr: mr.Addr()}}, logx.Nop())
			if err != nil {
				t.Fatalf("open redis: %v", err)
			}
			return st
		},
	}
}

func TestScheduleDefaultsAndUpserts(t *testing.T) {
	t.Parallel()
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			before := time.Now().Add(-time.Second)
			c, err := st.GetSchedule(ctx, -100)
			if err != nil {
				t.Fatalf("GetSchedule: %v", err)
			}
			if !c.Enabled || c.Interval != DefaultInterval || c.LastDispatchAt.Before(before) {
				t.Fatalf("unexpected default schedule: %+v", c)
			}

			// Setters upsert records never read before.
			if err := st.SetEnabled(ctx, -200, false); err != nil {
				t.Fatalf("SetEnabled: %v", err)
			}
			if err := st.SetInterval(ctx, -100, 30*time.Minute); err != nil {
				t.Fatalf("SetInterval: %v", err)
			}
			at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			if err := st.SetLastDispatch(ctx, -100, at); err != nil {
				t.Fatalf("SetLastDispatch: %v", err)
			}

			c, _ = st.GetSchedule(ctx, -100)
			if c.Interval != 30*time.Minute || !c.LastDispatchAt.Equal(at) || !c.Enabled {
				t.Fatalf("unexpected schedule after update: %+v", c)
			}
			d, _ := st.GetSchedule(ctx, -200)
			if d.Enabled || d.Interval != DefaultInterval {
				t.Fatalf("unexpected upserted schedule: %+v", d)
			}

			enabled, err := st.ListEnabled(ctx)
			if err != nil {
				t.Fatalf("ListEnabled: %v", err)
			}
			if len(enabled) != 1 || enabled[0].ChatID != -100 {
				t.Fatalf("expected only -100 enabled, got %+v", enabled)
			}

			total, en, err := st.CountChannels(ctx)
			if err != nil || total != 2 || en != 1 {
				t.Fatalf("CountChannels = %d,%d,%v", total, en, err)
			}
			ids, _ := st.ListChatIDs(ctx)
			if len(ids) != 2 || ids[0] != -200 || ids[1] != -100 {
				t.Fatalf("ListChatIDs = %v", ids)
			}

			if err := st.SetEnabled(ctx, -200, true); err != nil {
				t.Fatalf("SetEnabled: %v", err)
			}
			if _, en, _ = st.CountChannels(ctx); en != 2 {
				t.Fatalf("expected 2 enabled, got %d", en)
			}
		})
	}
}

func TestAnswerLogFiltersAndGrouping(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	events := []AnswerEvent{
		{ParticipantID: 1, ChatID: 10, DisplayName: "Ann", At: base.Add(-48 * time.Hour)},
		{ParticipantID: 1, ChatID: 10, DisplayName: "Ann B", At: base},
		{ParticipantID: 2, ChatID: 10, DisplayName: "Bob", At: base.Add(time.Minute)},
		{ParticipantID: 2, ChatID: 20, DisplayName: "Bob", At: base.Add(2 * time.Minute)},
		{ParticipantID: 3, ChatID: 20, DisplayName: "Cy", At: base.Add(3 * time.Minute)},
	}

	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()
			for _, e := range events {
				if err := st.AppendAnswer(ctx, e); err != nil {
					t.Fatalf("AppendAnswer: %v", err)
				}
			}

			cases := []struct {
				name string
				f    AnswerFilter
				want int
			}{
				{"all", AnswerFilter{}, 5},
				{"chat", AnswerFilter{ChatID: 10}, 3},
				{"since", AnswerFilter{Since: base}, 4},
				{"user", AnswerFilter{ParticipantID: 2}, 2},
				{"chat user since", AnswerFilter{ChatID: 10, ParticipantID: 1, Since: base}, 1},
				{"empty", AnswerFilter{ChatID: 99}, 0},
			}
			for _, tc := range cases {
				n, err := st.CountAnswers(ctx, tc.f)
				if err != nil {
					t.Fatalf("%s: CountAnswers: %v", tc.name, err)
				}
				if n != tc.want {
					t.Fatalf("%s: got %d want %d", tc.name, n, tc.want)
				}
			}

			rows, err := st.GroupAnswers(ctx, AnswerFilter{ChatID: 10})
			if err != nil {
				t.Fatalf("GroupAnswers: %v", err)
			}
			got := map[int64]ParticipantScore{}
			for _, r := range rows {
				got[r.ParticipantID] = r
			}
			if len(got) != 2 || got[1].Score != 2 || got[2].Score != 1 {
				t.Fatalf("unexpected grouping: %+v", rows)
			}
			if got[1].DisplayName != "Ann B" {
				t.Fatalf("expected most recent name, got %q", got[1].DisplayName)
			}

			n, err := st.CountParticipants(ctx)
			if err != nil || n != 3 {
				t.Fatalf("CountParticipants = %d, %v", n, err)
			}
		})
	}
}

func TestAddUserReportsNew(t *testing.T) {
	t.Parallel()
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			isNew, err := st.AddUser(ctx, User{ID: 7, FullName: "Seven"})
			if err != nil || !isNew {
				t.Fatalf("first AddUser = %v, %v", isNew, err)
			}
			isNew, err = st.AddUser(ctx, User{ID: 7, FullName: "Seven again"})
			if err != nil || isNew {
				t.Fatalf("second AddUser = %v, %v", isNew, err)
			}
			_, _ = st.AddUser(ctx, User{ID: 3})
			n, _ := st.CountUsers(ctx)
			ids, _ := st.ListUserIDs(ctx)
			if n != 2 || len(ids) != 2 || ids[0] != 3 || ids[1] != 7 {
				t.Fatalf("users = %d %v", n, ids)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quiz.db")
	cfg := Config{Driver: "file", Path: path}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = st.SetInterval(ctx, 5, 2*time.Hour)
	_ = st.SetEnabled(ctx, 5, false)
	_ = st.AppendAnswer(ctx, AnswerEvent{ParticipantID: 1, ChatID: 5, DisplayName: "A"})
	_, _ = st.AddUser(ctx, User{ID: 1})
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	c, _ := st.GetSchedule(ctx, 5)
	if c.Enabled || c.Interval != 2*time.Hour {
		t.Fatalf("schedule not persisted: %+v", c)
	}
	if n, _ := st.CountAnswers(ctx, AnswerFilter{}); n != 1 {
		t.Fatalf("answers not persisted: %d", n)
	}
	if isNew, _ := st.AddUser(ctx, User{ID: 1}); isNew {
		t.Fatal("user not persisted")
	}
}

func TestFileStoreFailedWriteLeavesScheduleUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quiz.db")
	st, err := newFileStore(path, time.Hour, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if err := st.SetInterval(ctx, 5, 2*time.Hour); err != nil {
		t.Fatalf("SetInterval: %v", err)
	}
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	// A directory in place of the temp file makes every snapshot write fail.
	blocker := st.chatsPath + ".tmp"
	if err := os.Mkdir(blocker, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := st.SetEnabled(ctx, 5, false); err == nil {
		t.Fatal("SetEnabled: expected write error")
	}
	if err := st.SetLastDispatch(ctx, 5, past); err == nil {
		t.Fatal("SetLastDispatch: expected write error")
	}
	if _, err := st.GetSchedule(ctx, 6); err == nil {
		t.Fatal("GetSchedule of a new chat: expected write error")
	}

	c := st.chats[5]
	if !c.Enabled || c.Interval != 2*time.Hour || c.LastDispatchAt.Equal(past) {
		t.Fatalf("schedule changed by failed write: %+v", c)
	}
	if total, _, _ := st.CountChannels(ctx); total != 1 {
		t.Fatalf("channels = %d, failed create must not be kept", total)
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := st.SetEnabled(ctx, 5, false); err != nil {
		t.Fatalf("SetEnabled after recovery: %v", err)
	}
	if c := st.chats[5]; c.Enabled {
		t.Fatalf("schedule = %+v", c)
	}
}

func TestClosedStoreReturnsErrClosed(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = st.Close()
	if _, err := st.GetSchedule(context.Background(), 1); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "mongo"} {
		if _, err := Open(Config{Driver: d}, logx.Nop()); err == nil {
			t.Fatalf("expected error for driver %q", d)
		}
	}
}

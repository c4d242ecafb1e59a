package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "quizbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend. With an empty path it
// keeps everything in memory.
//
// Files:
//   - <prefix>.chats.json    (snapshot, rewritten on every change)
//   - <prefix>.answers.jsonl (append-only JSON Lines)
//   - <prefix>.users.jsonl   (append-only JSON Lines)
type fileStore struct {
	log             logx.Logger
	defaultInterval time.Duration

	mu     sync.Mutex
	closed bool

	chatsPath   string
	answersFile *os.File
	usersFile   *os.File

	chats   map[int64]ChannelSchedule
	answers []AnswerEvent
	users   map[int64]User
}

type chatRecord struct {
	ChatID     int64 `json:"chat_id"`
	Enabled    bool  `json:"enabled"`
	IntervalMS int64 `json:"interval_ms"`
	LastMS     int64 `json:"last_ms"`
}

type answerRecord struct {
	UserID int64  `json:"user_id"`
	ChatID int64  `json:"chat_id"`
	Name   string `json:"name"`
	AtMS   int64  `json:"at"`
}

type userRecord struct {
	ID        int64  `json:"id"`
	FullName  string `json:"full_name,omitempty"`
	Username  string `json:"username,omitempty"`
	StartedMS int64  `json:"started_at"`
}

func newFileStore(path string, defaultInterval time.Duration, log logx.Logger) (*fileStore, error) {
	s := &fileStore{
		log:             log,
		defaultInterval: defaultInterval,
		chats:           map[int64]ChannelSchedule{},
		users:           map[int64]User{},
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return s, nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s.chatsPath = prefix + ".chats.json"
	if err := s.loadChats(); err != nil {
		return nil, err
	}
	answersPath := prefix + ".answers.jsonl"
	usersPath := prefix + ".users.jsonl"
	if err := replayJSONL(answersPath, func(r answerRecord) {
		s.answers = append(s.answers, AnswerEvent{
			ParticipantID: r.UserID, ChatID: r.ChatID, DisplayName: r.Name, At: time.UnixMilli(r.AtMS).UTC(),
		})
	}, log); err != nil {
		return nil, err
	}
	if err := replayJSONL(usersPath, func(r userRecord) {
		if _, ok := s.users[r.ID]; !ok {
			s.users[r.ID] = User{ID: r.ID, FullName: r.FullName, Username: r.Username, StartedAt: time.UnixMilli(r.StartedMS).UTC()}
		}
	}, log); err != nil {
		return nil, err
	}

	var err error
	if s.answersFile, err = os.OpenFile(answersPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return nil, err
	}
	if s.usersFile, err = os.OpenFile(usersPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		_ = s.answersFile.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) loadChats() error {
	b, err := os.ReadFile(s.chatsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var recs []chatRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return err
	}
	for _, r := range recs {
		s.chats[r.ChatID] = ChannelSchedule{
			ChatID:         r.ChatID,
			Enabled:        r.Enabled,
			Interval:       time.Duration(r.IntervalMS) * time.Millisecond,
			LastDispatchAt: time.UnixMilli(r.LastMS).UTC(),
		}
	}
	return nil
}

// replayJSONL decodes one record per line. A torn last line (crash mid-write)
// is skipped with a warning.
func replayJSONL[T any](path string, fn func(T), log logx.Logger) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Warn("skipping corrupt record", logx.String("file", path), logx.Int("line", line), logx.Err(err))
			continue
		}
		fn(rec)
	}
	return sc.Err()
}

// persistChats must be called with s.mu held.
func (s *fileStore) persistChats() error {
	if s.chatsPath == "" {
		return nil
	}
	recs := make([]chatRecord, 0, len(s.chats))
	for _, c := range s.chats {
		recs = append(recs, chatRecord{
			ChatID:     c.ChatID,
			Enabled:    c.Enabled,
			IntervalMS: c.Interval.Milliseconds(),
			LastMS:     c.LastDispatchAt.UnixMilli(),
		})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ChatID < recs[j].ChatID })
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	tmp := s.chatsPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.chatsPath)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err1, err2 error
	if s.answersFile != nil {
		err1 = s.answersFile.Close()
		s.answersFile = nil
	}
	if s.usersFile != nil {
		err2 = s.usersFile.Close()
		s.usersFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// schedule returns the record for chatID, or a default one that is not yet
// stored. Caller holds s.mu.
func (s *fileStore) schedule(chatID int64) (ChannelSchedule, bool) {
	if c, ok := s.chats[chatID]; ok {
		return c, false
	}
	return ChannelSchedule{
		ChatID:         chatID,
		Enabled:        true,
		Interval:       s.defaultInterval,
		LastDispatchAt: time.Now().UTC(),
	}, true
}

// put stores c and rewrites the snapshot. If the write fails the in-memory
// record is rolled back. Caller holds s.mu.
func (s *fileStore) put(c ChannelSchedule) error {
	prev, existed := s.chats[c.ChatID]
	s.chats[c.ChatID] = c
	if err := s.persistChats(); err != nil {
		if existed {
			s.chats[c.ChatID] = prev
		} else {
			delete(s.chats, c.ChatID)
		}
		return err
	}
	return nil
}

func (s *fileStore) GetSchedule(ctx context.Context, chatID int64) (ChannelSchedule, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ChannelSchedule{}, ErrClosed
	}
	c, created := s.schedule(chatID)
	if created {
		if err := s.put(c); err != nil {
			return ChannelSchedule{}, err
		}
	}
	return c, nil
}

func (s *fileStore) update(chatID int64, fn func(*ChannelSchedule)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	c, _ := s.schedule(chatID)
	fn(&c)
	return s.put(c)
}

func (s *fileStore) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	_ = ctx
	return s.update(chatID, func(c *ChannelSchedule) { c.Enabled = enabled })
}

func (s *fileStore) SetInterval(ctx context.Context, chatID int64, interval time.Duration) error {
	_ = ctx
	return s.update(chatID, func(c *ChannelSchedule) { c.Interval = interval })
}

func (s *fileStore) SetLastDispatch(ctx context.Context, chatID int64, at time.Time) error {
	_ = ctx
	return s.update(chatID, func(c *ChannelSchedule) { c.LastDispatchAt = at.UTC() })
}

func (s *fileStore) ListEnabled(ctx context.Context) ([]ChannelSchedule, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]ChannelSchedule, 0, len(s.chats))
	for _, c := range s.chats {
		if c.Enabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *fileStore) CountChannels(ctx context.Context) (int, int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0, ErrClosed
	}
	enabled := 0
	for _, c := range s.chats {
		if c.Enabled {
			enabled++
		}
	}
	return len(s.chats), enabled, nil
}

func (s *fileStore) ListChatIDs(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]int64, 0, len(s.chats))
	for id := range s.chats {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) AppendAnswer(ctx context.Context, e AnswerEvent) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.answersFile != nil {
		rec := answerRecord{UserID: e.ParticipantID, ChatID: e.ChatID, Name: e.DisplayName, AtMS: e.At.UnixMilli()}
		if err := json.NewEncoder(s.answersFile).Encode(rec); err != nil {
			return err
		}
		// Keep in-memory state consistent with what a reopen would see.
		e.At = time.UnixMilli(rec.AtMS).UTC()
	}
	s.answers = append(s.answers, e)
	return nil
}

func (s *fileStore) CountAnswers(ctx context.Context, f AnswerFilter) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return countEvents(s.answers, f), nil
}

func (s *fileStore) GroupAnswers(ctx context.Context, f AnswerFilter) ([]ParticipantScore, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return groupEvents(s.answers, f), nil
}

func (s *fileStore) CountParticipants(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	seen := map[int64]struct{}{}
	for _, e := range s.answers {
		seen[e.ParticipantID] = struct{}{}
	}
	return len(seen), nil
}

func (s *fileStore) AddUser(ctx context.Context, u User) (bool, error) {
	_ = ctx
	if u.StartedAt.IsZero() {
		u.StartedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.users[u.ID]; ok {
		return false, nil
	}
	if s.usersFile != nil {
		rec := userRecord{ID: u.ID, FullName: u.FullName, Username: u.Username, StartedMS: u.StartedAt.UnixMilli()}
		if err := json.NewEncoder(s.usersFile).Encode(rec); err != nil {
			return false, err
		}
	}
	s.users[u.ID] = u
	return true, nil
}

func (s *fileStore) CountUsers(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.users), nil
}

func (s *fileStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]int64, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

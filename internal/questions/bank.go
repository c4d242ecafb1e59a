// Package questions holds the pool of quiz questions the scheduler draws from.
package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"quizbot/internal/fswatch"
	logx "quizbot/pkg/logx"

	yaml "go.yaml.in/yaml/v3"
)

const (
	MinOptions = 2
	MaxOptions = 10
)

type Question struct {
	Text    string
	Options []string
	Correct int
}

// Validate checks the shape the messaging platform accepts for a quiz poll.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.New("empty question")
	}
	if len(q.Options) < MinOptions || len(q.Options) > MaxOptions {
		return fmt.Errorf("need %d..%d options, got %d", MinOptions, MaxOptions, len(q.Options))
	}
	for i, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("option %d is empty", i)
		}
	}
	if q.Correct < 0 || q.Correct >= len(q.Options) {
		return fmt.Errorf("correct answer %d out of range", q.Correct)
	}
	return nil
}

// record is the on-disk form. Both "question" and "question_text" are accepted.
type record struct {
	Question      string   `json:"question" yaml:"question"`
	QuestionText  string   `json:"question_text" yaml:"question_text"`
	Options       []string `json:"options" yaml:"options"`
	CorrectAnswer *int     `json:"correct_answer" yaml:"correct_answer"`
}

// Bank is a concurrency-safe question pool.
type Bank struct {
	path string
	log  logx.Logger

	mu    sync.RWMutex
	items []Question
	intn  func(n int) int
}

func NewBank(path string, log logx.Logger) *Bank {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bank{path: path, log: log, intn: rand.IntN}
}

// NewStatic returns a bank over a fixed list (tests, dry runs).
func NewStatic(items []Question) *Bank {
	return &Bank{log: logx.Nop(), items: append([]Question(nil), items...), intn: rand.IntN}
}

// SetRand replaces the random source used by Pick.
func (b *Bank) SetRand(intn func(n int) int) {
	b.mu.Lock()
	b.intn = intn
	b.mu.Unlock()
}

func (b *Bank) Path() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.path
}

// SetPath points the bank at another file. The pool is unchanged until Load.
func (b *Bank) SetPath(path string) {
	b.mu.Lock()
	b.path = path
	b.mu.Unlock()
}

// Load reads the file and swaps in the valid entries. On error the previous
// pool is kept.
func (b *Bank) Load() (loaded, skipped int, err error) {
	path := b.Path()
	items, skipped, err := ParseFile(path, b.log)
	if err != nil {
		return 0, 0, err
	}
	b.mu.Lock()
	b.items = items
	b.mu.Unlock()
	b.log.Info("questions loaded", logx.String("path", path), logx.Int("count", len(items)), logx.Int("skipped", skipped))
	return len(items), skipped, nil
}

// Pick returns a uniformly random question, or false when the pool is empty.
func (b *Bank) Pick() (Question, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.items) == 0 {
		return Question{}, false
	}
	return b.items[b.intn(len(b.items))], true
}

func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Watch reloads the pool whenever the file changes, until ctx is done.
func (b *Bank) Watch(ctx context.Context) error {
	log := b.log.With(logx.String("comp", "questions.watch"))
	return fswatch.Watch(ctx, b.Path(), fswatch.DefaultDebounce, log, func() {
		if _, _, err := b.Load(); err != nil {
			log.Warn("questions reload failed; keeping previous pool", logx.Err(err))
		}
	})
}

// ParseFile decodes a JSON or YAML question file. The root may be a list or an
// object with a "questions" list. Invalid entries are skipped with a warning.
func ParseFile(path string, log logx.Logger) ([]Question, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	recs, err := decode(path, data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]Question, 0, len(recs))
	skipped := 0
	for i, r := range recs {
		q := Question{Text: r.Question, Options: r.Options, Correct: -1}
		if q.Text == "" {
			q.Text = r.QuestionText
		}
		if r.CorrectAnswer != nil {
			q.Correct = *r.CorrectAnswer
		}
		if err := q.Validate(); err != nil {
			skipped++
			log.Warn("skipping invalid question", logx.String("path", path), logx.Int("index", i), logx.Err(err))
			continue
		}
		out = append(out, q)
	}
	return out, skipped, nil
}

func decode(path string, data []byte) ([]record, error) {
	var wrapped struct {
		Questions []record `json:"questions" yaml:"questions"`
	}
	var list []record

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		if err := yaml.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("yaml unmarshal: %w", err)
		}
		return wrapped.Questions, nil
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Questions, nil
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

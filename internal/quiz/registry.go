package quiz

import (
	"sync"
	"time"
)

// ActiveQuestion is a delivered quiz that has not been answered correctly or
// superseded yet. It lives only in memory.
type ActiveQuestion struct {
	InstanceID string // poll id assigned by the gateway
	ChatID     int64
	Correct    int
	MessageID  int
	OpenedAt   time.Time
}

type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeIncorrect
	OutcomeCorrect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIncorrect:
		return "incorrect"
	case OutcomeCorrect:
		return "correct"
	default:
		return "not_found"
	}
}

// Registry maps instance ids to open questions and keeps at most one open
// question per chat. A single mutex guards both indexes; every operation is O(1).
type Registry struct {
	mu         sync.Mutex
	byInstance map[string]ActiveQuestion
	byChat     map[int64]string
}

func NewRegistry() *Registry {
	return &Registry{
		byInstance: map[string]ActiveQuestion{},
		byChat:     map[int64]string{},
	}
}

// Open installs q as the chat's open question and returns the entry it
// replaced, if any. Closing the replaced poll is the caller's job.
func (r *Registry) Open(q ActiveQuestion) (ActiveQuestion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.retireLocked(q.ChatID)
	r.byInstance[q.InstanceID] = q
	r.byChat[q.ChatID] = q.InstanceID
	return prev, had
}

// Retire removes the chat's open question, if any.
func (r *Registry) Retire(chatID int64) (ActiveQuestion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retireLocked(chatID)
}

func (r *Registry) retireLocked(chatID int64) (ActiveQuestion, bool) {
	id, ok := r.byChat[chatID]
	if !ok {
		return ActiveQuestion{}, false
	}
	q := r.byInstance[id]
	delete(r.byInstance, id)
	delete(r.byChat, chatID)
	return q, true
}

// Resolve is a pure lookup.
func (r *Registry) Resolve(instanceID string) (ActiveQuestion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byInstance[instanceID]
	return q, ok
}

// Claim checks option against the open question and, when correct, removes
// the question in the same critical section. Exactly one caller can ever get
// OutcomeCorrect for an instance.
func (r *Registry) Claim(instanceID string, option int) (Outcome, ActiveQuestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byInstance[instanceID]
	if !ok {
		return OutcomeNotFound, ActiveQuestion{}
	}
	if option != q.Correct {
		return OutcomeIncorrect, q
	}
	delete(r.byInstance, instanceID)
	if r.byChat[q.ChatID] == instanceID {
		delete(r.byChat, q.ChatID)
	}
	return OutcomeCorrect, q
}

// Len returns the number of open questions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byInstance)
}

// OpenFor returns the chat's open question.
func (r *Registry) OpenFor(chatID int64) (ActiveQuestion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byChat[chatID]
	if !ok {
		return ActiveQuestion{}, false
	}
	return r.byInstance[id], true
}

package broadcast

import (
	"github.com/google/uuid"

	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

// Submit queues a job forwarding source to every target. onDone, if set, is
// called once with the final status from a worker goroutine.
func (s *Service) Submit(name string, source kit.MessageRef, targets []kit.ChatTarget, onDone func(JobStatus)) (string, error) {
	s.mu.Lock()
	running := s.sup != nil
	q := s.queue
	s.mu.Unlock()
	if !running {
		return "", ErrNotRunning
	}

	now := s.now()
	s.pruneStatus(now)
	id := "bc:" + uuid.NewString()
	j := job{
		id:      id,
		name:    name,
		source:  source,
		targets: append([]kit.ChatTarget(nil), targets...),
		onDone:  onDone,
	}

	s.statusMu.Lock()
	s.status[id] = &JobStatus{ID: id, Name: name, Total: len(targets), CreatedAt: now}
	s.statusMu.Unlock()

	select {
	case q <- j:
		s.log.Debug("broadcast job enqueued", logx.String("job", id), logx.String("name", name), logx.Int("total", len(targets)), logx.Int("queue_len", len(q)))
		return id, nil
	default:
		s.log.Warn("broadcast queue full; dropping job", logx.String("job", id), logx.String("name", name), logx.Int("queue_cap", cap(q)))
		s.statusMu.Lock()
		delete(s.status, id)
		s.statusMu.Unlock()
		return "", ErrQueueFull
	}
}

func (s *Service) Status(id string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	cp := *st
	cp.Failures = append([]int64(nil), st.Failures...)
	return cp, true
}

package broadcast

import (
	"context"
	"errors"
	"time"

	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

const maxFailuresKept = 200

func (s *Service) worker(ctx context.Context, queue <-chan job) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.update(j.id, func(st *JobStatus) {
		st.StartedAt = s.now()
		st.Running = true
	})
	s.log.Info("broadcast job started", logx.String("job", j.id), logx.String("name", j.name), logx.Int("total", len(j.targets)))

	for _, t := range j.targets {
		err := s.sendOne(ctx, j, t)
		s.update(j.id, func(st *JobStatus) {
			st.Done++
			switch {
			case err == nil:
				st.Sent++
			default:
				st.Failed++
				if errors.Is(err, kit.ErrAccessRevoked) {
					st.Revoked++
				}
				if len(st.Failures) < maxFailuresKept {
					st.Failures = append(st.Failures, t.ChatID)
				}
			}
		})
		if ctx.Err() != nil {
			break
		}
	}
	s.update(j.id, func(st *JobStatus) {
		st.DoneAt = s.now()
		st.Running = false
	})

	st, _ := s.Status(j.id)
	fields := []logx.Field{
		logx.String("job", j.id),
		logx.String("name", j.name),
		logx.Int("total", st.Total),
		logx.Int("sent", st.Sent),
		logx.Int("failed", st.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if st.Failed > 0 {
		s.log.Warn("broadcast job finished with failures", fields...)
	} else {
		s.log.Info("broadcast job finished", fields...)
	}
	if j.onDone != nil {
		j.onDone(st)
	}
}

func (s *Service) sendOne(ctx context.Context, j job, t kit.ChatTarget) error {
	// Snapshot mutable dependencies to avoid races with Apply().
	s.mu.Lock()
	lim := s.limiter
	retry := s.cfg.RetryMax
	s.mu.Unlock()

	var last error
	for attempt := 0; attempt <= retry; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		err := s.fwd.Forward(ctx, t, j.source)
		if err == nil {
			return nil
		}
		last = err
		if errors.Is(err, kit.ErrAccessRevoked) || attempt == retry {
			break
		}
		s.log.Debug("broadcast send retry scheduled", logx.String("job", j.id), logx.Int64("chat_id", t.ChatID), logx.Int("attempt", attempt+2), logx.Err(err))
		if err := s.wait(ctx, attempt); err != nil {
			return err
		}
	}
	s.log.Debug("broadcast send failed", logx.String("job", j.id), logx.Int64("chat_id", t.ChatID), logx.Err(last))
	return last
}

func (s *Service) update(id string, fn func(st *JobStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		fn(st)
	}
}

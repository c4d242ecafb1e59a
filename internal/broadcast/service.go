package broadcast

import (
	"context"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	rtsup "quizbot/internal/runtime/supervisor"
	logx "quizbot/pkg/logx"
)

const (
	defaultWorkers = 2
	defaultQueue   = 16
	defaultRate    = 10
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueue
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRate
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	return c
}

func New(cfg Config, fwd Forwarder, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		fwd:     fwd,
		log:     log.With(logx.String("comp", "broadcast")),
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan job, cfg.QueueSize),
		status:  map[string]*JobStatus{},
	}
	s.wait = s.sleepBackoff
	return s
}

// Apply updates rate and retry settings. Pool size and queue capacity take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	cfg := s.cfg
	if cap(s.queue) != cfg.QueueSize && len(s.queue) == 0 {
		s.queue = make(chan job, cfg.QueueSize)
	}
	queue := s.queue
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup = sup

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart("broadcast.worker."+strconv.Itoa(idx), func(c context.Context) error {
			s.worker(c, queue)
			return nil
		}, 200*time.Millisecond, 5*time.Second)
	}
	s.log.Info("service started", logx.Int("workers", cfg.Workers), logx.Int("rps", cfg.RatePerSec), logx.Int("queue_cap", cap(queue)))
}

// Stop cancels the workers. Queued jobs stay pending for the next Start.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	err := sup.Wait(ctx)
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return err
}

func (s *Service) sleepBackoff(ctx context.Context, attempt int) error {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 3 * time.Second, Factor: 2, Jitter: true}
	d := b.ForAttempt(float64(attempt))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "quizbot/internal/runtime/supervisor"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

var (
	ErrNotRunning = errors.New("broadcast: service not running")
	ErrQueueFull  = errors.New("broadcast: queue full")
)

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
}

// Forwarder is the messaging dependency of the broadcaster.
type Forwarder interface {
	Forward(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) error
}

type job struct {
	id      string
	name    string
	source  kit.MessageRef
	targets []kit.ChatTarget
	onDone  func(JobStatus)
}

type JobStatus struct {
	ID        string
	Name      string
	Total     int
	Done      int
	Sent      int
	Failed    int
	Revoked   int
	Failures  []int64 // failed chat ids, capped
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

type Service struct {
	mu sync.Mutex

	cfg  Config
	fwd  Forwarder
	log  logx.Logger
	now  func() time.Time
	wait func(ctx context.Context, attempt int) error

	limiter *rate.Limiter
	queue   chan job
	sup     *rtsup.Supervisor

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
}

package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Resolved holds the typed values of a validated Config with defaults applied.
type Resolved struct {
	PollTimeout    time.Duration
	HandlerWorkers int

	SchedulerEnabled bool
	Tick             time.Duration
	DispatchTimeout  time.Duration
	Concurrency      int
	DefaultInterval  time.Duration
	IntervalOptions  []time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	StorageBusyTimeout time.Duration

	BroadcastWorkers  int
	BroadcastQueue    int
	BroadcastRate     int
	BroadcastRetryMax int
	LeaderboardLimit  int
}

var knownDrivers = map[string]bool{"memory": true, "file": true, "sqlite": true, "sqlite3": true, "redis": true}

// Resolve parses durations and applies defaults. It does not check secrets;
// see Validate.
func Resolve(cfg *Config) (Resolved, error) {
	if cfg == nil {
		return Resolved{}, errors.New("config is nil")
	}
	var (
		r    Resolved
		errs []error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	intOr := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}

	r.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	r.HandlerWorkers = intOr(cfg.Telegram.Workers, 4)

	r.SchedulerEnabled = cfg.Scheduler.Enabled == nil || *cfg.Scheduler.Enabled
	r.Tick = dur("scheduler.tick", cfg.Scheduler.Tick, 60*time.Second)
	if r.Tick > 0 && r.Tick < time.Second {
		errs = append(errs, fmt.Errorf("scheduler.tick: must be >= 1s"))
	}
	r.DispatchTimeout = dur("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout, 30*time.Second)
	r.Concurrency = intOr(cfg.Scheduler.Concurrency, 8)
	r.DefaultInterval = dur("scheduler.default_interval", cfg.Scheduler.DefaultInterval, time.Hour)

	opts := cfg.Scheduler.IntervalOptions
	if len(opts) == 0 {
		opts = []string{"30m", "1h", "2h"}
	}
	seen := map[time.Duration]bool{}
	for i, raw := range opts {
		d := dur(fmt.Sprintf("scheduler.interval_options[%d]", i), raw, 0)
		if d <= 0 {
			errs = append(errs, fmt.Errorf("scheduler.interval_options[%d]: must be > 0", i))
			continue
		}
		if !seen[d] {
			seen[d] = true
			r.IntervalOptions = append(r.IntervalOptions, d)
		}
	}
	sort.Slice(r.IntervalOptions, func(i, j int) bool { return r.IntervalOptions[i] < r.IntervalOptions[j] })

	r.RetryMax = intOr(cfg.Answers.RetryMax, 3)
	r.RetryBase = dur("answers.retry_base", cfg.Answers.RetryBase, 200*time.Millisecond)
	r.RetryMaxDelay = dur("answers.retry_max_delay", cfg.Answers.RetryMaxDelay, 2*time.Second)

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch {
	case driver == "":
		errs = append(errs, errors.New("storage.driver is required"))
	case !knownDrivers[driver]:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	case (driver == "file" || driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(cfg.Storage.Path) == "":
		errs = append(errs, fmt.Errorf("storage.path is required for driver %q", driver))
	case driver == "redis" && strings.TrimSpace(cfg.Storage.Redis.Addr) == "":
		errs = append(errs, errors.New("storage.redis.addr is required for driver \"redis\""))
	}
	r.StorageBusyTimeout = dur("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)

	r.BroadcastWorkers = intOr(cfg.Broadcast.Workers, 2)
	r.BroadcastQueue = intOr(cfg.Broadcast.QueueSize, 16)
	r.BroadcastRate = intOr(cfg.Broadcast.RatePerSec, 10)
	r.BroadcastRetryMax = intOr(cfg.Broadcast.RetryMax, 2)
	r.LeaderboardLimit = intOr(cfg.Leaderboard.Limit, 10)

	if len(errs) > 0 {
		return Resolved{}, errors.Join(errs...)
	}
	return r, nil
}

// Validate checks everything the bot needs to serve. Startup treats any error
// as fatal; hot reload rejects the new file and keeps the old config.
func Validate(cfg *Config) error {
	var errs []error
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids must not be empty (or set OWNER_ID)"))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChannelID == 0 {
		errs = append(errs, errors.New("logging.telegram.enabled requires telegram.log_channel_id"))
	}
	if _, err := Resolve(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

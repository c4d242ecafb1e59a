package app

import (
	"strings"

	"quizbot/internal/bot"
	"quizbot/internal/broadcast"
	"quizbot/internal/config"
	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Channel: logx.ChannelConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChannelID != 0,
			ChatID:     cfg.Telegram.LogChannelID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// StorageConfig maps the storage section to the driver config.
func StorageConfig(cfg *config.Config, res config.Resolved) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: res.StorageBusyTimeout,
		Redis: storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		},
		DefaultInterval: res.DefaultInterval,
	}
}

func mapSchedulerOptions(res config.Resolved) quiz.Options {
	return quiz.Options{
		Tick:            res.Tick,
		DispatchTimeout: res.DispatchTimeout,
		Concurrency:     res.Concurrency,
	}
}

func mapRetryPolicy(res config.Resolved) quiz.RetryPolicy {
	return quiz.RetryPolicy{Max: res.RetryMax, Base: res.RetryBase, MaxDelay: res.RetryMaxDelay}
}

func mapBroadcastConfig(res config.Resolved) broadcast.Config {
	return broadcast.Config{
		Workers:    res.BroadcastWorkers,
		QueueSize:  res.BroadcastQueue,
		RatePerSec: res.BroadcastRate,
		RetryMax:   res.BroadcastRetryMax,
	}
}

func mapBotOptions(cfg *config.Config, res config.Resolved) bot.Options {
	return bot.Options{
		Owners:          cfg.Telegram.OwnerUserIDs,
		LogChannel:      kit.ChatTarget{ChatID: cfg.Telegram.LogChannelID, ThreadID: cfg.Logging.Telegram.ThreadID},
		Workers:         res.HandlerWorkers,
		IntervalOptions: res.IntervalOptions,
		LeaderboardSize: res.LeaderboardLimit,
	}
}

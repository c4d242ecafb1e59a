package config

import (
	"reflect"

	logx "quizbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (token, redis password) are never
// included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		oldCfg.Telegram.LogChannelID != newCfg.Telegram.LogChannelID ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.Workers != newCfg.Telegram.Workers {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.log_channel_set", newCfg.Telegram.LogChannelID != 0),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.Int("scheduler.concurrency", newCfg.Scheduler.Concurrency),
		)
	}

	if oldCfg.Answers != newCfg.Answers {
		changed = append(changed, "answers")
		attrs = append(attrs, logx.Int("answers.retry_max", newCfg.Answers.RetryMax))
	}

	if oldCfg.Questions != newCfg.Questions {
		changed = append(changed, "questions")
		attrs = append(attrs,
			logx.String("questions.path", newCfg.Questions.Path),
			logx.Bool("questions.watch", newCfg.Questions.Watch),
		)
	}

	// Storage is not hot-reloadable; report it so operators know a restart is needed.
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs, logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec))
	}

	if oldCfg.Leaderboard != newCfg.Leaderboard {
		changed = append(changed, "leaderboard")
		attrs = append(attrs, logx.Int("leaderboard.limit", newCfg.Leaderboard.Limit))
	}

	return changed, attrs
}

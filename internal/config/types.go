package config

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Answers     AnswersConfig     `json:"answers"`
	Questions   QuestionsConfig   `json:"questions"`
	Storage     StorageConfig     `json:"storage"`
	Broadcast   BroadcastConfig   `json:"broadcast"`
	Leaderboard LeaderboardConfig `json:"leaderboard"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via BOT_TOKEN.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	LogChannelID int64   `json:"log_channel_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// Workers bounds concurrent update handlers (default 4).
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log records to telegram.log_channel_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the dispatch tick.
//
// Defaults (when fields are omitted/zero):
//   - tick: "60s"
//   - dispatch_timeout: "30s"
//   - concurrency: 8
//   - default_interval: "1h"
//   - interval_options: ["30m", "1h", "2h"]
//
// Enabled is a pointer so an omitted key means enabled.
type SchedulerConfig struct {
	Enabled         *bool    `json:"enabled,omitempty"`
	Tick            string   `json:"tick,omitempty"`
	DispatchTimeout string   `json:"dispatch_timeout,omitempty"`
	Concurrency     int      `json:"concurrency,omitempty"`
	DefaultInterval string   `json:"default_interval,omitempty"`
	IntervalOptions []string `json:"interval_options,omitempty"`
}

// AnswersConfig bounds answer log append retries.
//
// Defaults: retry_max 3, retry_base "200ms", retry_max_delay "2s".
type AnswersConfig struct {
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type QuestionsConfig struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/quizbot.db" }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// BroadcastConfig controls the owner broadcast sender.
//
// Defaults: workers 2, queue_size 16, rate_per_sec 10, retry_max 2.
type BroadcastConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
	RetryMax   int `json:"retry_max,omitempty"`
}

type LeaderboardConfig struct {
	Limit int `json:"limit,omitempty"` // default 10
}

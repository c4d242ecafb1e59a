package app

import (
	"testing"
	"time"

	"quizbot/internal/config"
)

func TestMapLogConfigRequiresChannel(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Logging.Level = "debug"
	cfg.Logging.Telegram.Enabled = true
	cfg.Logging.Telegram.ThreadID = 4

	if got := mapLogConfig(cfg); got.Channel.Enabled {
		t.Fatal("channel sink must stay off without log_channel_id")
	}
	cfg.Telegram.LogChannelID = -100
	got := mapLogConfig(cfg)
	if !got.Channel.Enabled || got.Channel.ChatID != -100 || got.Channel.ThreadID != 4 || got.Level != "debug" {
		t.Fatalf("log config = %+v", got)
	}
}

func TestMapResolvedDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Storage.Driver = " SQLite "
	cfg.Storage.Path = "./q.db"
	cfg.Telegram.OwnerUserIDs = []int64{5}
	cfg.Telegram.LogChannelID = -7
	res, err := config.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	sc := StorageConfig(cfg, res)
	if sc.Driver != "sqlite" || sc.Path != "./q.db" || sc.DefaultInterval != time.Hour {
		t.Fatalf("storage = %+v", sc)
	}
	so := mapSchedulerOptions(res)
	if so.Tick != 60*time.Second || so.DispatchTimeout != 30*time.Second || so.Concurrency != 8 {
		t.Fatalf("scheduler = %+v", so)
	}
	rp := mapRetryPolicy(res)
	if rp.Max != 3 || rp.Base != 200*time.Millisecond || rp.MaxDelay != 2*time.Second {
		t.Fatalf("retry = %+v", rp)
	}
	bo := mapBotOptions(cfg, res)
	if len(bo.Owners) != 1 || bo.LogChannel.ChatID != -7 || len(bo.IntervalOptions) != 3 || bo.LeaderboardSize != 10 {
		t.Fatalf("bot = %+v", bo)
	}
	bc := mapBroadcastConfig(res)
	if bc.Workers != 2 || bc.QueueSize != 16 || bc.RatePerSec != 10 || bc.RetryMax != 2 {
		t.Fatalf("broadcast = %+v", bc)
	}
}

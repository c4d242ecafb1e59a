package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "file-token", "owner_user_ids": [1], "poll_timeout": "5s"},
  "logging": {"level": "info", "console": true},
  "scheduler": {"tick": "30s", "interval_options": ["2h", "1h", "1h"]},
  "questions": {"path": "questions.json"},
  "storage": {"driver": "sqlite", "path": "./data/quiz.db"}
}`

func noEnv(string) string { return "" }

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadJSONResolvesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.json", sampleJSON))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Tick != 30*time.Second || r.DispatchTimeout != 30*time.Second || r.Concurrency != 8 {
		t.Fatalf("unexpected scheduler values: %+v", r)
	}
	if !r.SchedulerEnabled {
		t.Fatal("scheduler should default to enabled")
	}
	if len(r.IntervalOptions) != 2 || r.IntervalOptions[0] != time.Hour || r.IntervalOptions[1] != 2*time.Hour {
		t.Fatalf("interval options = %v", r.IntervalOptions)
	}
	if r.LeaderboardLimit != 10 || r.RetryMax != 3 || r.PollTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", r)
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit the config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: y
  owner_user_ids: [42]
storage:
  driver: memory
leaderboard:
  limit: 5
`
	m := NewConfigManager(writeFile(t, "config.yaml", body))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Leaderboard.Limit != 5 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("unexpected yaml config: %+v", cfg)
	}
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown":  `{"telegram": {"token": "x", "bogus": 1}}`,
		"trailing": `{"telegram": {"token": "x"}} {}`,
	}
	for name, body := range cases {
		m := NewConfigManager(writeFile(t, "config.json", body))
		m.SetEnv(noEnv)
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvBotToken:      "env-token",
		EnvOwnerID:       "7, 8",
		EnvLogChannelID:  "-1001",
		EnvStorageDriver: "redis",
		EnvRedisAddr:     "127.0.0.1:6379",
	}
	m := NewConfigManager(writeFile(t, "config.json", sampleJSON))
	m.SetEnv(func(k string) string { return env[k] })
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.LogChannelID != -1001 {
		t.Fatalf("telegram overrides not applied: %+v", cfg.Telegram)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 8 {
		t.Fatalf("owner ids = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Storage.Driver != "redis" || cfg.Storage.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("storage overrides not applied: %+v", cfg.Storage)
	}

	bad := &Config{}
	if err := ApplyEnv(bad, func(k string) string {
		if k == EnvOwnerID {
			return "abc"
		}
		return ""
	}); err == nil {
		t.Fatal("expected error for invalid OWNER_ID")
	}
}

func TestValidateIsFatalOnMissingEssentials(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no token", Config{Telegram: TelegramConfig{OwnerUserIDs: []int64{1}}, Storage: StorageConfig{Driver: "memory"}}, "telegram.token"},
		{"no owner", Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Driver: "memory"}}, "owner_user_ids"},
		{"bad driver", Config{Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}}, Storage: StorageConfig{Driver: "mongo"}}, "unknown driver"},
		{"sqlite path", Config{Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}}, Storage: StorageConfig{Driver: "sqlite"}}, "storage.path"},
		{"bad duration", Config{Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}}, Storage: StorageConfig{Driver: "memory"}, Scheduler: SchedulerConfig{Tick: "soon"}}, "scheduler.tick"},
	}
	for _, tc := range cases {
		err := Validate(&tc.cfg)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", sampleJSON)
	m := NewConfigManager(path)
	m.SetEnv(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatal("unchanged file must not publish")
	}

	if err := os.WriteFile(path, []byte(strings.Replace(sampleJSON, `"30s"`, `"45s"`, 1)), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !m.reload(ctx) {
		t.Fatal("expected publish after change")
	}
	if got := <-sub; got.Scheduler.Tick != "45s" {
		t.Fatalf("published tick = %q", got.Scheduler.Tick)
	}

	if err := os.WriteFile(path, []byte(strings.Replace(sampleJSON, `"sqlite"`, `"mongo"`, 1)), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.reload(ctx) {
		t.Fatal("invalid config must be rejected")
	}
	if m.Get().Scheduler.Tick != "45s" {
		t.Fatal("rejected reload must keep the previous config")
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "a"}, Leaderboard: LeaderboardConfig{Limit: 10}}
	b := &Config{Telegram: TelegramConfig{Token: "b"}, Leaderboard: LeaderboardConfig{Limit: 5}}
	changed, attrs := SummarizeConfigChange(a, b)
	if len(changed) != 2 || changed[0] != "telegram" || changed[1] != "leaderboard" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"90s", 90 * time.Second, false},
		{" 1h30m ", 90 * time.Minute, false},
		{"3600", time.Hour, false},
		{"0", 0, false},
		{"-5s", 0, true},
		{"-1", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v", tc.raw, got, err)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "0", time.Minute); d != time.Minute {
		t.Fatalf("zero must fall back to the default, got %v", d)
	}
}

func TestEmptyYAMLDecodesToEmptyConfig(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yml", "# nothing here\n"))
	m.SetEnv(noEnv)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Driver != "" || len(cfg.Telegram.OwnerUserIDs) != 0 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides applied after the file is decoded.
const (
	EnvBotToken      = "BOT_TOKEN"
	EnvOwnerID       = "OWNER_ID"
	EnvLogChannelID  = "LOG_CHANNEL_ID"
	EnvStorageDriver = "STORAGE_DRIVER"
	EnvStoragePath   = "STORAGE_PATH"
	EnvRedisAddr     = "REDIS_ADDR"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg fields from getenv. Empty variables are ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if cfg == nil {
		return nil
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := get(EnvBotToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := get(EnvOwnerID); v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOwnerID, err)
		}
		cfg.Telegram.OwnerUserIDs = ids
	}
	if v := get(EnvLogChannelID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q", EnvLogChannelID, v)
		}
		cfg.Telegram.LogChannelID = id
	}
	if v := get(EnvStorageDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := get(EnvStoragePath); v != "" {
		cfg.Storage.Path = v
	}
	if v := get(EnvRedisAddr); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	return nil
}

func parseIDList(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, errors.New("no ids")
	}
	return out, nil
}

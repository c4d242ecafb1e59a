package storage

import (
	"errors"
	"strings"

	logx "quizbot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = DefaultInterval
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "memory", "file":
		path := ""
		if driver == "file" {
			path = strings.TrimSpace(cfg.Path)
			if path == "" {
				return nil, errors.New("storage.path is required for file driver")
			}
		}
		st, err := newFileStore(path, cfg.DefaultInterval, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	case "", "none":
		return nil, errors.New("storage.driver is required")
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Package fswatch watches a single file for changes and invokes a debounced
// callback. The underlying fsnotify watcher is recreated with backoff when it
// breaks (common on Windows and with some editors).
package fswatch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "quizbot/pkg/logx"

	"github.com/fsnotify/fsnotify"
	"github.com/jpillora/backoff"
)

const DefaultDebounce = 250 * time.Millisecond

// Watch blocks until ctx is done, calling onChange after the file at path
// settles for debounce. The parent directory is watched so atomic renames by
// editors are seen.
func Watch(ctx context.Context, path string, debounce time.Duration, log logx.Logger, onChange func()) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		log.Debug("change detected; scheduling reload", logx.String("path", path))
		timer = time.AfterFunc(debounce, func() {
			if ctx.Err() != nil {
				return
			}
			onChange()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}
	sleep := func(reason string, err error) bool {
		wait := b.Duration()
		log.Warn(reason, logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			if !sleep("watch init failed", err) {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			if !sleep("watch add failed", err) {
				return nil
			}
			continue
		}

		b.Reset()
		log.Debug("watcher started", logx.String("dir", dir), logx.String("file", file))

		err = loop(ctx, w, file, trigger, log)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		if !sleep("watcher stopped; restarting", err) {
			return nil
		}
	}
}

// loop runs until ctx is done or the watcher breaks.
func loop(ctx context.Context, w *fsnotify.Watcher, file string, trigger func(), log logx.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Compare by basename; robust across absolute/relative paths.
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			// Overflow means events may have been missed; reload once and keep going.
			if strings.Contains(msg, "overflow") {
				log.Warn("watch overflow; forcing reload", logx.Err(err))
				trigger()
				continue
			}
			if strings.Contains(msg, "closed") {
				return err
			}
			log.Warn("watch error", logx.Err(err))
		}
	}
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "quizbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db              *sql.DB
	log             logx.Logger
	defaultInterval time.Duration
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, defaultInterval: cfg.DefaultInterval}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ensure inserts the default record for chatID if it does not exist.
func (s *sqliteStore) ensure(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(chat_id, enabled, interval_ms, last_ms) VALUES(?,1,?,?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		chatID, s.defaultInterval.Milliseconds(), time.Now().UnixMilli(),
	)
	return mapClosed(err)
}

func (s *sqliteStore) GetSchedule(ctx context.Context, chatID int64) (ChannelSchedule, error) {
	if err := s.ensure(ctx, chatID); err != nil {
		return ChannelSchedule{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, enabled, interval_ms, last_ms FROM chats WHERE chat_id = ?`, chatID)
	c, err := scanSchedule(row)
	return c, mapClosed(err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r scanner) (ChannelSchedule, error) {
	var (
		c                  ChannelSchedule
		enabled            int
		intervalMS, lastMS int64
	)
	if err := r.Scan(&c.ChatID, &enabled, &intervalMS, &lastMS); err != nil {
		return ChannelSchedule{}, err
	}
	c.Enabled = enabled != 0
	c.Interval = time.Duration(intervalMS) * time.Millisecond
	c.LastDispatchAt = time.UnixMilli(lastMS).UTC()
	return c, nil
}

func (s *sqliteStore) ListEnabled(ctx context.Context) ([]ChannelSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, enabled, interval_ms, last_ms FROM chats WHERE enabled = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, mapClosed(err)
	}
	defer rows.Close()
	var out []ChannelSchedule
	for rows.Next() {
		c, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) upsert(ctx context.Context, chatID int64, column string, value any) error {
	if err := s.ensure(ctx, chatID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE chats SET `+column+` = ? WHERE chat_id = ?`, value, chatID)
	return mapClosed(err)
}

func (s *sqliteStore) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	return s.upsert(ctx, chatID, "enabled", v)
}

func (s *sqliteStore) SetInterval(ctx context.Context, chatID int64, interval time.Duration) error {
	return s.upsert(ctx, chatID, "interval_ms", interval.Milliseconds())
}

func (s *sqliteStore) SetLastDispatch(ctx context.Context, chatID int64, at time.Time) error {
	return s.upsert(ctx, chatID, "last_ms", at.UnixMilli())
}

func (s *sqliteStore) CountChannels(ctx context.Context) (int, int, error) {
	var total, enabled sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(enabled) FROM chats`).Scan(&total, &enabled)
	if err != nil {
		return 0, 0, mapClosed(err)
	}
	return int(total.Int64), int(enabled.Int64), nil
}

func (s *sqliteStore) ListChatIDs(ctx context.Context) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT chat_id FROM chats ORDER BY chat_id`)
}

func (s *sqliteStore) queryIDs(ctx context.Context, q string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, mapClosed(err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAnswer(ctx context.Context, e AnswerEvent) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers(user_id, chat_id, display_name, at) VALUES(?,?,?,?)`,
		e.ParticipantID, e.ChatID, e.DisplayName, e.At.UnixMilli(),
	)
	return mapClosed(err)
}

func answerWhere(f AnswerFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ChatID != 0 {
		conds = append(conds, "chat_id = ?")
		args = append(args, f.ChatID)
	}
	if f.ParticipantID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, f.ParticipantID)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *sqliteStore) CountAnswers(ctx context.Context, f AnswerFilter) (int, error) {
	where, args := answerWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers`+where, args...).Scan(&n); err != nil {
		return 0, mapClosed(err)
	}
	return n, nil
}

func (s *sqliteStore) GroupAnswers(ctx context.Context, f AnswerFilter) ([]ParticipantScore, error) {
	where, args := answerWhere(f)
	// With MAX() in the select list SQLite takes bare columns from the row
	// holding the maximum, which yields the most recent display name.
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, display_name, MAX(id), COUNT(*) FROM answers`+where+` GROUP BY user_id ORDER BY user_id`,
		args...)
	if err != nil {
		return nil, mapClosed(err)
	}
	defer rows.Close()
	var out []ParticipantScore
	for rows.Next() {
		var (
			p     ParticipantScore
			maxID int64
		)
		if err := rows.Scan(&p.ParticipantID, &p.DisplayName, &maxID, &p.Score); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountParticipants(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT user_id) FROM answers`).Scan(&n); err != nil {
		return 0, mapClosed(err)
	}
	return n, nil
}

func (s *sqliteStore) AddUser(ctx context.Context, u User) (bool, error) {
	if u.StartedAt.IsZero() {
		u.StartedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, full_name, username, started_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO NOTHING`,
		u.ID, nullStr(u.FullName), nullStr(u.Username), u.StartedAt.UnixMilli(),
	)
	if err != nil {
		return false, mapClosed(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, mapClosed(err)
	}
	return n, nil
}

func (s *sqliteStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT user_id FROM users ORDER BY user_id`)
}

func mapClosed(err error) error {
	if err != nil && strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	logx "quizbot/pkg/logx"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps schedules in one hash per chat, answers in two sorted sets
// (global and per chat) scored by unix millis, and users in a single hash.
type redisStore struct {
	rdb             *redis.Client
	log             logx.Logger
	prefix          string
	defaultInterval time.Duration
}

type redisAnswer struct {
	Seq    int64  `json:"seq"`
	UserID int64  `json:"user_id"`
	ChatID int64  `json:"chat_id"`
	Name   string `json:"name"`
	AtMS   int64  `json:"at"`
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	prefix := strings.TrimSpace(cfg.Redis.Prefix)
	if prefix == "" {
		prefix = "quizbot"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Debug("redis store ready", logx.String("addr", addr), logx.String("prefix", prefix))
	return &redisStore{rdb: rdb, log: log, prefix: prefix, defaultInterval: cfg.DefaultInterval}, nil
}

func (s *redisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *redisStore) chatKey(chatID int64) string {
	return s.key("chat", strconv.FormatInt(chatID, 10))
}

func (s *redisStore) answersKey(chatID int64) string {
	if chatID == 0 {
		return s.key("answers")
	}
	return s.key("answers", "chat", strconv.FormatInt(chatID, 10))
}

func (s *redisStore) Close() error {
	err := s.rdb.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func redisErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

// ensure creates the default record for chatID field by field, so concurrent
// creators converge on one record.
func (s *redisStore) ensure(ctx context.Context, chatID int64) error {
	k := s.chatKey(chatID)
	id := strconv.FormatInt(chatID, 10)
	var created *redis.BoolCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		created = p.HSetNX(ctx, k, "enabled", "1")
		p.HSetNX(ctx, k, "interval_ms", strconv.FormatInt(s.defaultInterval.Milliseconds(), 10))
		p.HSetNX(ctx, k, "last_ms", strconv.FormatInt(time.Now().UnixMilli(), 10))
		p.SAdd(ctx, s.key("chats"), id)
		return nil
	})
	if err != nil {
		return redisErr(err)
	}
	if created.Val() {
		return redisErr(s.rdb.SAdd(ctx, s.key("chats", "enabled"), id).Err())
	}
	return nil
}

func parseSchedule(chatID int64, h map[string]string) ChannelSchedule {
	interval, _ := strconv.ParseInt(h["interval_ms"], 10, 64)
	last, _ := strconv.ParseInt(h["last_ms"], 10, 64)
	return ChannelSchedule{
		ChatID:         chatID,
		Enabled:        h["enabled"] == "1",
		Interval:       time.Duration(interval) * time.Millisecond,
		LastDispatchAt: time.UnixMilli(last).UTC(),
	}
}

func (s *redisStore) GetSchedule(ctx context.Context, chatID int64) (ChannelSchedule, error) {
	if err := s.ensure(ctx, chatID); err != nil {
		return ChannelSchedule{}, err
	}
	h, err := s.rdb.HGetAll(ctx, s.chatKey(chatID)).Result()
	if err != nil {
		return ChannelSchedule{}, redisErr(err)
	}
	return parseSchedule(chatID, h), nil
}

func (s *redisStore) ListEnabled(ctx context.Context) ([]ChannelSchedule, error) {
	ids, err := s.memberIDs(ctx, s.key("chats", "enabled"))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.chatKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, redisErr(err)
	}
	out := make([]ChannelSchedule, 0, len(ids))
	for i, id := range ids {
		c := parseSchedule(id, cmds[i].Val())
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *redisStore) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	if err := s.ensure(ctx, chatID); err != nil {
		return err
	}
	id := strconv.FormatInt(chatID, 10)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if enabled {
			p.HSet(ctx, s.chatKey(chatID), "enabled", "1")
			p.SAdd(ctx, s.key("chats", "enabled"), id)
		} else {
			p.HSet(ctx, s.chatKey(chatID), "enabled", "0")
			p.SRem(ctx, s.key("chats", "enabled"), id)
		}
		return nil
	})
	return redisErr(err)
}

func (s *redisStore) setField(ctx context.Context, chatID int64, field string, v int64) error {
	if err := s.ensure(ctx, chatID); err != nil {
		return err
	}
	return redisErr(s.rdb.HSet(ctx, s.chatKey(chatID), field, strconv.FormatInt(v, 10)).Err())
}

func (s *redisStore) SetInterval(ctx context.Context, chatID int64, interval time.Duration) error {
	return s.setField(ctx, chatID, "interval_ms", interval.Milliseconds())
}

func (s *redisStore) SetLastDispatch(ctx context.Context, chatID int64, at time.Time) error {
	return s.setField(ctx, chatID, "last_ms", at.UnixMilli())
}

func (s *redisStore) CountChannels(ctx context.Context) (int, int, error) {
	var total, enabled *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		total = p.SCard(ctx, s.key("chats"))
		enabled = p.SCard(ctx, s.key("chats", "enabled"))
		return nil
	})
	if err != nil {
		return 0, 0, redisErr(err)
	}
	return int(total.Val()), int(enabled.Val()), nil
}

func (s *redisStore) ListChatIDs(ctx context.Context) ([]int64, error) {
	return s.memberIDs(ctx, s.key("chats"))
}

func (s *redisStore) memberIDs(ctx context.Context, key string) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	return parseIDs(members), nil
}

func parseIDs(raw []string) []int64 {
	out := make([]int64, 0, len(raw))
	for _, m := range raw {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *redisStore) AppendAnswer(ctx context.Context, e AnswerEvent) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	seq, err := s.rdb.Incr(ctx, s.key("answers", "seq")).Result()
	if err != nil {
		return redisErr(err)
	}
	b, err := json.Marshal(redisAnswer{
		Seq: seq, UserID: e.ParticipantID, ChatID: e.ChatID, Name: e.DisplayName, AtMS: e.At.UnixMilli(),
	})
	if err != nil {
		return err
	}
	z := redis.Z{Score: float64(e.At.UnixMilli()), Member: string(b)}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.answersKey(0), z)
		p.ZAdd(ctx, s.answersKey(e.ChatID), z)
		return nil
	})
	return redisErr(err)
}

// events loads the answers that may match f, in append order.
func (s *redisStore) events(ctx context.Context, f AnswerFilter) ([]AnswerEvent, error) {
	lo := "-inf"
	if !f.Since.IsZero() {
		lo = strconv.FormatInt(f.Since.UnixMilli(), 10)
	}
	members, err := s.rdb.ZRangeByScore(ctx, s.answersKey(f.ChatID), &redis.ZRangeBy{Min: lo, Max: "+inf"}).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	recs := make([]redisAnswer, 0, len(members))
	for _, m := range members {
		var r redisAnswer
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			s.log.Warn("skipping corrupt answer", logx.Err(err))
			continue
		}
		recs = append(recs, r)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	out := make([]AnswerEvent, len(recs))
	for i, r := range recs {
		out[i] = AnswerEvent{ParticipantID: r.UserID, ChatID: r.ChatID, DisplayName: r.Name, At: time.UnixMilli(r.AtMS).UTC()}
	}
	return out, nil
}

func (s *redisStore) CountAnswers(ctx context.Context, f AnswerFilter) (int, error) {
	if f.ParticipantID == 0 {
		lo := "-inf"
		if !f.Since.IsZero() {
			lo = strconv.FormatInt(f.Since.UnixMilli(), 10)
		}
		n, err := s.rdb.ZCount(ctx, s.answersKey(f.ChatID), lo, "+inf").Result()
		return int(n), redisErr(err)
	}
	ev, err := s.events(ctx, f)
	if err != nil {
		return 0, err
	}
	return countEvents(ev, f), nil
}

func (s *redisStore) GroupAnswers(ctx context.Context, f AnswerFilter) ([]ParticipantScore, error) {
	ev, err := s.events(ctx, f)
	if err != nil {
		return nil, err
	}
	return groupEvents(ev, f), nil
}

func (s *redisStore) CountParticipants(ctx context.Context) (int, error) {
	ev, err := s.events(ctx, AnswerFilter{})
	if err != nil {
		return 0, err
	}
	seen := map[int64]struct{}{}
	for _, e := range ev {
		seen[e.ParticipantID] = struct{}{}
	}
	return len(seen), nil
}

func (s *redisStore) AddUser(ctx context.Context, u User) (bool, error) {
	if u.StartedAt.IsZero() {
		u.StartedAt = time.Now()
	}
	b, err := json.Marshal(userRecord{ID: u.ID, FullName: u.FullName, Username: u.Username, StartedMS: u.StartedAt.UnixMilli()})
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.HSetNX(ctx, s.key("users"), strconv.FormatInt(u.ID, 10), string(b)).Result()
	return ok, redisErr(err)
}

func (s *redisStore) CountUsers(ctx context.Context) (int, error) {
	n, err := s.rdb.HLen(ctx, s.key("users")).Result()
	return int(n), redisErr(err)
}

func (s *redisStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	keys, err := s.rdb.HKeys(ctx, s.key("users")).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	return parseIDs(keys), nil
}

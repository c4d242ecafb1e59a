package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

func TestAccessLogFields(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	cases := []struct {
		name    string
		req     *Request
		outcome string
		err     error
		level   string
		want    map[string]any
	}{
		{
			name:    "scored answer",
			req:     &Request{Kind: kit.UpdatePollAnswer, PollAnswer: &kit.PollAnswer{PollID: "p7", Options: []int{2}}},
			outcome: "correct",
			level:   "info",
			want:    map[string]any{"kind": "poll_answer", "poll_id": "p7", "options": float64(1), "outcome": "correct"},
		},
		{
			name:    "wrong answer",
			req:     &Request{Kind: kit.UpdatePollAnswer, PollAnswer: &kit.PollAnswer{PollID: "p7", Options: []int{0}}},
			outcome: "incorrect",
			level:   "debug",
			want:    map[string]any{"poll_id": "p7", "outcome": "incorrect"},
		},
		{
			name:  "callback in topic",
			req:   &Request{Kind: kit.UpdateCallback, Chat: kit.ChatTarget{ChatID: -1, ThreadID: 4}, Callback: &kit.Callback{MessageID: 11}},
			level: "debug",
			want:  map[string]any{"kind": "callback", "thread_id": float64(4), "message_id": float64(11)},
		},
		{
			name:  "failed command",
			req:   &Request{Kind: kit.UpdateMessage, Command: "rank", Args: []string{"week"}},
			err:   boom,
			level: "warn",
			want:  map[string]any{"args": float64(1)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			log := logx.NewWriter(&buf, "DEBUG")
			h := Chain(func(context.Context, *Request) error {
				tc.req.Outcome = tc.outcome
				return tc.err
			}, MWAccessLog(log, time.Hour))
			if err := h(context.Background(), tc.req); !errors.Is(err, tc.err) {
				t.Fatalf("err = %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
				t.Fatalf("unmarshal %q: %v", buf.String(), err)
			}
			if m["level"] != tc.level {
				t.Fatalf("level = %v, want %s", m["level"], tc.level)
			}
			for k, v := range tc.want {
				if m[k] != v {
					t.Fatalf("%s = %v, want %v (line %v)", k, m[k], v, m)
				}
			}
			if _, ok := m["dur"]; !ok {
				t.Fatalf("dur missing: %v", m)
			}
		})
	}
}

func TestRecoverReturnsError(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := Chain(func(context.Context, *Request) error {
		panic("kaboom")
	}, MWRecover(logx.NewWriter(&buf, "INFO")))

	err := h(context.Background(), &Request{Command: "stats"})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(buf.String(), "handler panic") {
		t.Fatalf("log = %q", buf.String())
	}
}

func TestDeadlineBoundsHandler(t *testing.T) {
	t.Parallel()
	var got time.Time
	h := Chain(func(ctx context.Context, _ *Request) error {
		got, _ = ctx.Deadline()
		return nil
	}, MWDeadline(time.Minute))
	if err := h(context.Background(), &Request{}); err != nil {
		t.Fatalf("err = %v", err)
	}
	if got.IsZero() || time.Until(got) > time.Minute {
		t.Fatalf("deadline = %v", got)
	}

	h = Chain(func(ctx context.Context, _ *Request) error {
		if _, ok := ctx.Deadline(); ok {
			t.Errorf("zero duration must not set a deadline")
		}
		return nil
	}, MWDeadline(0))
	_ = h(context.Background(), &Request{})
}

package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWDeadline bounds the handler. Zero disables the bound.
func MWDeadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWRecover converts a handler panic into an error.
func MWRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.logger(log).Error("handler panic",
					logx.String("cmd", req.Command),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("bot: %s panicked: %v", req.Command, r)
			}()
			return next(ctx, req)
		}
	}
}

// MWAccessLog writes one line per handled update. Failures go out at warn;
// scored answers and handlers slower than slow at info; the rest at debug.
func MWAccessLog(log logx.Logger, slow time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			logger := req.logger(log)
			fields := append(req.logFields(), logx.Duration("dur", took))
			switch {
			case err != nil:
				logger.Warn("update failed", append(fields, logx.Err(err))...)
			case req.Outcome == quiz.OutcomeCorrect.String(), slow > 0 && took >= slow:
				logger.Info("update handled", fields...)
			default:
				logger.Debug("update handled", fields...)
			}
			return err
		}
	}
}

package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "funbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

const (
	// slowRequest promotes successful requests to INFO. Provider fallbacks
	// routinely take a few seconds, so anything faster stays at DEBUG.
	slowRequest = 3 * time.Second

	// replyTimeout bounds replies sent after the request context is done.
	replyTimeout = 10 * time.Second

	failedReply = "Something went wrong, please try again later."
)

// ErrRequestTimeout marks a command that ran past its deadline.
var ErrRequestTimeout = errors.New("command timed out")

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWTimeout bounds a command to d. A handler that outlives its deadline is
// reported with ErrRequestTimeout even when it swallowed the context error;
// telling the chat is left to the handler.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			err := next(cctx, req)
			if !errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return err
			}
			return errors.Join(fmt.Errorf("%w after %s", ErrRequestTimeout, d), err)
		}
	}
}

// MWPanicRecover turns a handler panic into an error and a generic reply.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				reqLogger(log, req).Error("command panicked",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				replyDetached(ctx, req, failedReply)
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs one line per command with the alias the user typed, so
// Chinese and slash forms of the same command can be told apart.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			logger := reqLogger(log, req)
			fields := []logx.Field{
				logx.String("group", req.Group),
				logx.String("alias", req.Alias),
				logx.Int("args", len(req.Args)),
				logx.Duration("dur", d),
			}
			switch {
			case errors.Is(err, ErrRequestTimeout):
				logger.Warn("request timed out", append(fields, logx.Err(err))...)
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= slowRequest:
				logger.Info("request slow", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

func reqLogger(log logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return log
}

// replyDetached answers req even when ctx is already done.
func replyDetached(ctx context.Context, req *Request, text string) {
	if req == nil || req.Out == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()
	if err := req.Reply(rctx, text); err != nil {
		reqLogger(logx.Nop(), req).Debug("reply failed", logx.Err(err))
	}
}

package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "contestfeed/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so the first middleware runs outermost.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
					if !req.replied {
						_ = req.Reply(context.WithoutCancel(ctx), FailureReply)
					}
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWReplyOnError answers a failed request that has not replied yet.
func MWReplyOnError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err != nil && !req.replied {
				_ = req.Reply(context.WithoutCancel(ctx), replyText(err))
			}
			return err
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{logx.Int("args", len(req.RawArgs)), logx.Duration("dur", d)}
			var re *ReplyError
			switch {
			case errors.As(err, &re):
				req.Logger.Debug("request rejected", append(fields, logx.String("reply", re.Text))...)
			case err != nil:
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				req.Logger.Info("request ok", fields...)
			default:
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hal-rpc/message"
)

func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.Stringer("request", req),
				zap.Stringer("response", resp),
				zap.Duration("took", time.Since(start)),
			}
			if resp.Kind.IsError() {
				log.Warn("request failed", fields...)
			} else {
				log.Debug("request handled", fields...)
			}
			return resp
		}
	}
}

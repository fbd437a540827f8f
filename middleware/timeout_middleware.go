package middleware

import (
	"context"
	"time"

	"hal-rpc/message"
)

// TimeOutMiddleware answers with the error variant if next has not returned
// within timeout. The abandoned handler keeps running; its result is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return reject(req)
			}
		}
	}
}

package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"hal-rpc/message"
)

// RateLimitMiddleware answers with the error variant once the token bucket
// of r requests per second (burst tokens deep) is empty.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) message.Response {
			if !limiter.Allow() {
				return reject(req)
			}
			return next(ctx, req)
		}
	}
}

// Package middleware wraps the daemon's request handler.
//
// Middlewares never fail a call with a Go error: a rejected request is
// answered with the error variant paired with its kind, which is exactly what
// a client sees when the hardware refuses.
package middleware

import (
	"context"

	"hal-rpc/message"
)

// HandlerFunc answers one request.
type HandlerFunc func(ctx context.Context, req message.Request) message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func reject(req message.Request) message.Response {
	return message.Response{Kind: message.ErrorFor(req.Kind)}
}

// Package middleware implements an onion-model interceptor chain around
// outbound request dispatch: logging, rate limiting, and anything else
// that needs to see every request before it hits the wire and every
// response before it reaches the caller.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
package middleware

import "context"

// Request is one outbound dispatch: the request code, a sync-id, and
// the body map. The client's own dispatcher leaves Sync at zero, because
// the connection assigns the real sync-id only after the chain has
// handed the request on.
type Request struct {
	Code uint64
	Sync uint64
	Body map[int]any
}

// Response is the body of a successful response.
type Response struct {
	Body map[int]any
}

// HandlerFunc performs (or forwards) one dispatch.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// Middleware wraps a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, right-to-left: the first
// middleware listed is the outermost layer.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

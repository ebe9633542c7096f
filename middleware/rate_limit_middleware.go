package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"dbwire/dberr"
)

// RateLimit admits outbound dispatches through a token bucket.
//
// The limiter lives in the outer closure, created once per Middleware
// value, not per dispatch — a fresh limiter per call would always have
// a full bucket and never actually limit anything.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			if !limiter.Allow() {
				return Response{}, dberr.New(dberr.KindProtocolError, "rate limit exceeded for code %#x", req.Code)
			}
			return next(ctx, req)
		}
	}
}

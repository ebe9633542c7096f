package middleware

import (
	"context"
	"log"
	"time"
)

// Logging records the request code, sync-id, duration, and any error
// for each dispatch.
func Logging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)
			logger.Printf("code=%#x sync=%d duration=%s", req.Code, req.Sync, duration)
			if err != nil {
				logger.Printf("code=%#x sync=%d error=%v", req.Code, req.Sync, err)
			}
			return resp, err
		}
	}
}

package middleware

import (
	"context"
	"time"
)

// Timeout bounds each call. The deadline travels in ctx, so the pending call itself is
// marked timed out and removed when it passes.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}

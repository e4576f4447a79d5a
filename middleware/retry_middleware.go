package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Retry re-issues a call whose error satisfies retryable, up to maxRetries more times
// with exponential backoff starting at baseDelay. Every attempt is a new CALL with a new
// id. The engine itself never retries; this is opt-in caller policy.
func Retry(maxRetries int, baseDelay time.Duration, retryable func(error) bool, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return resp, err
				}
				delay := baseDelay * time.Duration(1<<i)
				logger.Info("retrying call",
					zap.String("proc", req.ProcURI), zap.Int("attempt", i+1), zap.Duration("delay", delay), zap.Error(err))
				select {
				case <-ctx.Done():
					return resp, err
				case <-time.After(delay):
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}

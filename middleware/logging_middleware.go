package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logging records every call with its duration. Failures are logged at warn level.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("call")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			fields := []zap.Field{zap.String("proc", req.ProcURI), zap.Duration("duration", time.Since(start))}
			if resp != nil {
				fields = append(fields, zap.String("call_id", resp.CallID))
			}
			if err != nil {
				log.Warn("call failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			log.Debug("call completed", fields...)
			return resp, nil
		}
	}
}

package redis

import (
	"context"
	"errors"
	"net"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConnectionHook logs connection-level failures. Errors are still returned to the
// command that triggered them but never escalate beyond a log line, so a dropped
// connection does not take down a long-running worker.
type ConnectionHook struct {
	logger *zap.Logger
}

// NewConnectionHook creates a ConnectionHook.
func NewConnectionHook(logger *zap.Logger) *ConnectionHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionHook{logger: logger.Named("redis")}
}

func (h *ConnectionHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Warn("redis dial failed", zap.String("addr", addr), zap.Error(err))
		}
		return conn, err
	}
}

func (h *ConnectionHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if isConnectionError(err) {
			h.logger.Warn("redis command failed on connection",
				zap.String("command", cmd.Name()), zap.Error(err))
		}
		return err
	}
}

func (h *ConnectionHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if isConnectionError(err) {
			h.logger.Warn("redis pipeline failed on connection",
				zap.Int("commands", len(cmds)), zap.Error(err))
		}
		return err
	}
}

func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed)
}

package node

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"rfstore/internal/metrics"
)

// UnaryServerInterceptor logs every call and records it in rpc, if set.
func UnaryServerInterceptor(log *zap.Logger, rpc *metrics.RPC) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)
		code := status.Code(err)

		if rpc != nil {
			rpc.Handled.WithLabelValues(info.FullMethod, code.String()).Inc()
			rpc.Duration.WithLabelValues(info.FullMethod).Observe(elapsed.Seconds())
		}

		if err != nil {
			log.Warn("rpc failed",
				zap.String("method", info.FullMethod),
				zap.Stringer("code", code),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
		} else {
			log.Debug("rpc",
				zap.String("method", info.FullMethod),
				zap.Duration("elapsed", elapsed))
		}
		return resp, err
	}
}

package middleware

import (
	"context"
	"runtime/debug"

	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryServerRecoveryInterceptor gRPC panic 恢复, 返回 Internal
func UnaryServerRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic recovered",
					zap.Any("error", r),
					zap.String("method", info.FullMethod),
					zap.ByteString("stack", debug.Stack()))
				err = status.Error(codes.Internal, errors.ErrInternal.Message)
			}
		}()
		return handler(ctx, req)
	}
}

// UnaryServerErrorInterceptor 将业务错误转换为 gRPC 状态码
func UnaryServerErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			if !errors.IsPrecondition(err) {
				logger.Warn("grpc call failed", zap.String("method", info.FullMethod), zap.Error(err))
			}
			return resp, errors.ToGRPCError(err)
		}
		return resp, nil
	}
}

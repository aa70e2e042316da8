package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ndnrepo/pkg/metrics"
)

// =============================================================================
// 1. Logging Interceptor (结构化日志)
// =============================================================================

// UnaryLoggingInterceptor 记录每一次 Face/Express 调用
func UnaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logRPC(info.FullMethod, time.Since(start), err)
	return resp, err
}

// logRPC 按状态码决定日志级别
// 请求方超时 (DeadlineExceeded) 和无处理器 (NotFound) 在 NDN 里是常态，只记 Debug
func logRPC(method string, duration time.Duration, err error) {
	code := status.Code(err)

	level := slog.LevelDebug
	switch code {
	case codes.OK, codes.DeadlineExceeded, codes.NotFound:
	case codes.Internal, codes.Unknown:
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	slog.Log(context.Background(), level, "gRPC Request",
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Duration("dur", duration),
		slog.String("err", errToString(err)),
	)
}

func errToString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// =============================================================================
// 2. Metrics Interceptor
// =============================================================================

// UnaryMetricsInterceptor 记录入站调用延迟，m 为 nil 时不做任何事
func UnaryMetricsInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.ObserveRPC(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// =============================================================================
// 3. Recovery Interceptor (防弹衣)
// =============================================================================

// UnaryRecoveryInterceptor 捕获 Panic
func UnaryRecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverFromPanic(info.FullMethod, r)
		}
	}()
	return handler(ctx, req)
}

func recoverFromPanic(method string, p any) error {
	slog.Error("🔥 PANIC RECOVERED",
		slog.String("method", method),
		slog.Any("panic", p),
		slog.String("stack", string(debug.Stack())),
	)
	// 返回 Internal 而不是断开连接，请求方会把它当作 Nack
	return status.Errorf(codes.Internal, "internal server error: panic recovered")
}

// Package server 组装节点对外的 gRPC 服务
package server

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"ndnrepo/pkg/metrics"
	"ndnrepo/pkg/transport"
)

const maxMessageSize = 64 * 1024 * 1024

// New 创建挂好拦截器的 gRPC Server，并注册 face 的 Express 服务
// 拦截器顺序：恢复 -> 指标 -> 日志，最外层的恢复保证 panic 也会被记录
func New(face *transport.GRPCFace, m *metrics.Metrics, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			UnaryRecoveryInterceptor,
			UnaryMetricsInterceptor(m),
			UnaryLoggingInterceptor,
		),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	s := grpc.NewServer(append(base, opts...)...)
	face.Register(s)
	return s
}

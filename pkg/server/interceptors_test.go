package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/eventloop"
	"ndnrepo/pkg/metrics"
	"ndnrepo/pkg/transport"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/ndnrepo.v1.Face/Express"}

func TestUnaryRecoveryInterceptor(t *testing.T) {
	resp, err := UnaryRecoveryInterceptor(context.Background(), nil, info,
		func(ctx context.Context, req any) (any, error) {
			panic("boom")
		})
	assert.Nil(t, resp)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestUnaryLoggingInterceptor_PassesThrough(t *testing.T) {
	want := errors.New("handler failed")
	resp, err := UnaryLoggingInterceptor(context.Background(), "req", info,
		func(ctx context.Context, req any) (any, error) {
			return "resp", want
		})
	assert.Equal(t, "resp", resp)
	assert.ErrorIs(t, err, want)
}

func TestUnaryMetricsInterceptor(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	interceptor := UnaryMetricsInterceptor(m)

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "no handler")
	})
	require.Error(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(m.RPCDuration))

	// nil 指标不影响调用
	_, err = UnaryMetricsInterceptor(nil)(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
}

func TestNew_ServesFace(t *testing.T) {
	startLoop := func() *eventloop.Loop {
		l := eventloop.New(0)
		ctx, cancel := context.WithCancel(context.Background())
		go func() { _ = l.Run(ctx) }()
		t.Cleanup(cancel)
		return l
	}

	// 服务端：一个回显处理器
	serverFace := transport.NewGRPCFace(startLoop())
	_, err := serverFace.Listen(core.MustParseName("/echo"), func(in transport.Interest, reply transport.Responder) {
		reply(in.Payload)
	})
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	s := New(serverFace, m)
	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	client := transport.NewGRPCFace(startLoop(), transport.WithDialOptions(grpc.WithContextDialer(dialer)))
	t.Cleanup(func() { _ = client.Close() })
	client.AddRoute(core.MustParseName("/echo"), "passthrough:///bufnet")

	got := make(chan []byte, 1)
	client.Express(transport.Interest{Name: core.MustParseName("/echo/hello"), Payload: []byte("ping"), Lifetime: 5 * time.Second},
		func(_ transport.Interest, content []byte) { got <- content },
		func(_ transport.Interest, reason string) { got <- []byte("nack:" + reason) },
		func(transport.Interest) { got <- []byte("timeout") },
	)

	select {
	case content := <-got:
		assert.Equal(t, []byte("ping"), content)
	case <-time.After(10 * time.Second):
		t.Fatal("no reply through the gRPC server")
	}
	assert.Equal(t, 1, testutil.CollectAndCount(m.RPCDuration))
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/eventloop"
)

// =============================================================================
// 1. Wire 格式
// =============================================================================

// 服务只有一个方法，消息体是 BytesValue，里面装 CBOR 编码的 wireInterest
const (
	FaceServiceName = "ndnrepo.v1.Face"
	expressMethod   = "/" + FaceServiceName + "/Express"
)

type wireInterest struct {
	Name       string `cbor:"n"`
	Payload    []byte `cbor:"p,omitempty"`
	LifetimeMs int64  `cbor:"l"`
	Hint       string `cbor:"h,omitempty"`
}

func encodeInterest(in Interest) ([]byte, error) {
	w := wireInterest{
		Name:       in.Name.String(),
		Payload:    in.Payload,
		LifetimeMs: in.lifetime().Milliseconds(),
	}
	if len(in.Hint) > 0 {
		w.Hint = in.Hint.String()
	}
	return core.EncodeObject(w)
}

func decodeInterest(data []byte) (Interest, error) {
	var w wireInterest
	if err := core.DecodeObject(data, &w); err != nil {
		return Interest{}, err
	}
	name, err := core.ParseName(w.Name)
	if err != nil {
		return Interest{}, err
	}
	in := Interest{Name: name, Payload: w.Payload, Lifetime: time.Duration(w.LifetimeMs) * time.Millisecond}
	if w.Hint != "" {
		if in.Hint, err = core.ParseName(w.Hint); err != nil {
			return Interest{}, err
		}
	}
	return in, nil
}

// FaceServer 是 gRPC 服务端需要实现的接口
type FaceServer interface {
	Express(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func expressHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceServer).Express(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: expressMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FaceServer).Express(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var faceServiceDesc = grpc.ServiceDesc{
	ServiceName: FaceServiceName,
	HandlerType: (*FaceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Express", Handler: expressHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ndnrepo/v1/face.proto",
}

// =============================================================================
// 2. GRPCFace
// =============================================================================

// GRPCFace 把本地监听表暴露为 gRPC 服务，并按路由表把请求发往远端节点
type GRPCFace struct {
	sched     eventloop.Scheduler
	listeners *listenerTable
	dialOpts  []grpc.DialOption
	logger    *slog.Logger

	mu     sync.RWMutex
	routes map[string]route
	conns  map[string]*grpc.ClientConn
}

type route struct {
	prefix core.Name
	addr   string
}

var _ Transport = (*GRPCFace)(nil)

type GRPCOption func(*GRPCFace)

// WithDialOptions 追加拨号选项 (测试中用 bufconn 的 ContextDialer)
func WithDialOptions(opts ...grpc.DialOption) GRPCOption {
	return func(f *GRPCFace) { f.dialOpts = append(f.dialOpts, opts...) }
}

func WithLogger(l *slog.Logger) GRPCOption {
	return func(f *GRPCFace) { f.logger = l }
}

func NewGRPCFace(sched eventloop.Scheduler, opts ...GRPCOption) *GRPCFace {
	f := &GRPCFace{
		sched:     sched,
		listeners: newListenerTable(),
		logger:    slog.Default(),
		routes:    make(map[string]route),
		conns:     make(map[string]*grpc.ClientConn),
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(64*1024*1024),
				grpc.MaxCallSendMsgSize(64*1024*1024),
			),
			// 保持连接活跃
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                10 * time.Second,
				Timeout:             20 * time.Second,
				PermitWithoutStream: true,
			}),
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register 把 Face 服务挂到 gRPC Server 上
func (f *GRPCFace) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&faceServiceDesc, &faceService{face: f})
}

// AddRoute 登记一个前缀到远端地址的静态路由
func (f *GRPCFace) AddRoute(prefix core.Name, addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[prefix.String()] = route{prefix: prefix, addr: addr}
}

func (f *GRPCFace) Listen(prefix core.Name, h Handler) (func(), error) {
	return f.listeners.add(prefix, h)
}

// lookupRoute 返回最长匹配的远端路由
func (f *GRPCFace) lookupRoute(name core.Name) (route, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for n := name.Size(); n >= 0; n-- {
		if r, ok := f.routes[name.Prefix(n).String()]; ok {
			return r, true
		}
	}
	return route{}, false
}

func (f *GRPCFace) conn(addr string) (*grpc.ClientConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conns[addr]; ok {
		return c, nil
	}
	// NewClient 立即返回，连接在后台建立
	c, err := grpc.NewClient(addr, f.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}
	f.conns[addr] = c
	return c, nil
}

func (f *GRPCFace) Express(in Interest, onResponse ResponseFunc, onNack NackFunc, onTimeout TimeoutFunc) {
	target := in.routeName()

	// 1. 显式地址提示直接发往远端
	if addr, ok := hintAddress(in.Hint); ok {
		f.expressRemote(addr, in, onResponse, onNack, onTimeout)
		return
	}

	// 2. 本地监听与远端路由取较长的前缀，长度相同时本地优先
	l, local := f.listeners.match(target)
	r, remote := f.lookupRoute(target)
	switch {
	case local && (!remote || l.prefix.Size() >= r.prefix.Size()):
		f.expressLocal(in, f.pickLocal(in, l), onResponse, onTimeout)
	case remote:
		f.expressRemote(r.addr, in, onResponse, onNack, onTimeout)
	default:
		f.sched.Post(func() {
			if onNack != nil {
				onNack(in, NackNoRoute)
			}
		})
	}
}

// pickLocal 按提示选中本节点后，优先交给按名字匹配的处理器
func (f *GRPCFace) pickLocal(in Interest, byRoute listener) listener {
	if len(in.Hint) == 0 {
		return byRoute
	}
	if l, ok := f.listeners.match(in.Name); ok {
		return l
	}
	return byRoute
}

func (f *GRPCFace) expressLocal(in Interest, l listener, onResponse ResponseFunc, onTimeout TimeoutFunc) {
	settled := false
	cancel := f.sched.After(in.lifetime(), func() {
		if !settled {
			settled = true
			if onTimeout != nil {
				onTimeout(in)
			}
		}
	})
	reply := onceReply(func(content []byte) {
		f.sched.Post(func() {
			if !settled {
				settled = true
				cancel()
				if onResponse != nil {
					onResponse(in, content)
				}
			}
		})
	})
	f.sched.Post(func() { l.handler(in, reply) })
}

func (f *GRPCFace) expressRemote(addr string, in Interest, onResponse ResponseFunc, onNack NackFunc, onTimeout TimeoutFunc) {
	payload, err := encodeInterest(in)
	if err != nil {
		f.logger.Error("Failed to encode interest", "name", in.Name.String(), "err", err)
		f.sched.Post(func() {
			if onNack != nil {
				onNack(in, err.Error())
			}
		})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), in.lifetime())
		defer cancel()

		resp := new(wrapperspb.BytesValue)
		c, err := f.conn(addr)
		if err == nil {
			err = c.Invoke(ctx, expressMethod, wrapperspb.Bytes(payload), resp)
		}

		// 结果回到事件循环里处理
		f.sched.Post(func() {
			switch code := status.Code(err); {
			case err == nil:
				if onResponse != nil {
					onResponse(in, resp.GetValue())
				}
			case code == codes.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded):
				if onTimeout != nil {
					onTimeout(in)
				}
			default:
				reason := NackUnreachable
				if code == codes.NotFound {
					reason = NackNoRoute
				}
				f.logger.Debug("Interest nacked", "name", in.Name.String(), "addr", addr, "code", code.String())
				if onNack != nil {
					onNack(in, reason)
				}
			}
		})
	}()
}

// faceService 是 gRPC 入站处理：把请求投递给本地处理器，并等待回复或超时
type faceService struct {
	face *GRPCFace
}

func (s *faceService) Express(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	f := s.face
	in, err := decodeInterest(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed interest: %v", err)
	}

	l, ok := f.listeners.match(in.Name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no handler for %s", in.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, in.lifetime())
	defer cancel()

	out := make(chan []byte, 1)
	reply := onceReply(func(content []byte) { out <- content })
	f.sched.Post(func() { l.handler(in, reply) })

	select {
	case content := <-out:
		return wrapperspb.Bytes(content), nil
	case <-ctx.Done():
		return nil, status.Error(codes.DeadlineExceeded, "no reply within interest lifetime")
	}
}

func (f *GRPCFace) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for addr, c := range f.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(f.conns, addr)
	}
	return errors.Join(errs...)
}

package service

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ndnrepo/pkg/command"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/eventloop"
	"ndnrepo/pkg/manifest"
	"ndnrepo/pkg/router"
	"ndnrepo/pkg/storage"
	"ndnrepo/pkg/storage/memory"
	"ndnrepo/pkg/transport"
)

var (
	clusterPrefix = core.MustParseName("/repo")
	producerName  = core.MustParseName("/producer")
	objectName    = core.MustParseName("/obj/v1")
)

// testCluster 是跑在同一个虚拟时钟上的若干节点、一个生产者和一个客户端
type testCluster struct {
	t      *testing.T
	sched  *eventloop.Manual
	hub    *transport.Hub
	router *router.Router
	nodes  []*Node
	client *transport.Face
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestCluster(t *testing.T, size int, opts ...Option) *testCluster {
	t.Helper()
	c := &testCluster{
		t:      t,
		sched:  eventloop.NewManual(),
		hub:    transport.NewHub(),
		router: router.New(clusterPrefix, size),
	}
	for i := 0; i < size; i++ {
		blobs := memory.New()
		repo := storage.NewRepoStorage(blobs, 0, quietLogger())
		cfg := DefaultConfig(c.router.MemberPrefix(i))
		node := NewNode(cfg, c.sched, c.hub.NewFace(c.sched), repo,
			manifest.NewStore(blobs, c.router, quietLogger()),
			append([]Option{WithLogger(quietLogger())}, opts...)...,
		)
		require.NoError(t, node.Start(t.Context()))
		c.nodes = append(c.nodes, node)
	}
	c.client = c.hub.NewFace(c.sched)
	return c
}

// serveObject 注册一个生产者，提供 name 的 [0, last] 分段
// withFinal 为 false 时数据包不带最终分段号
func (c *testCluster) serveObject(name core.Name, last uint64, withFinal bool) *int {
	c.t.Helper()
	served := new(int)
	face := c.hub.NewFace(c.sched)
	_, err := face.Listen(producerName, func(in transport.Interest, reply transport.Responder) {
		if !name.IsPrefixOf(in.Name) {
			return
		}
		var content []byte
		var final *uint64
		if withFinal {
			f := last
			final = &f
		}
		if in.Name.Size() == name.Size() {
			content = []byte("single")
		} else {
			seg, err := in.Name.Segment()
			if err != nil || seg > last {
				return
			}
			content = []byte{byte(seg), byte(seg), byte(seg)}
		}
		d, err := core.NewData(in.Name, content, final)
		if err != nil {
			return
		}
		*served++
		reply(d.Bytes())
	})
	require.NoError(c.t, err)
	return served
}

// call 发出一条命令并执行到有回复为止 (不推进时钟)
func (c *testCluster) call(target core.Name, verb string, p *command.Parameter) *command.Response {
	c.t.Helper()
	var resp *command.Response
	c.callAsync(target, verb, p, time.Minute, func(r *command.Response) { resp = r })
	c.sched.Drain()
	require.NotNil(c.t, resp, "no reply to %s", verb)
	return resp
}

func (c *testCluster) callAsync(target core.Name, verb string, p *command.Parameter, lifetime time.Duration, fn func(*command.Response)) {
	c.t.Helper()
	in, err := command.NewInterest(target, verb, p, lifetime, nil)
	require.NoError(c.t, err)
	c.client.Express(in,
		func(_ transport.Interest, content []byte) {
			r, err := command.DecodeResponse(content)
			require.NoError(c.t, err)
			fn(r)
		},
		nil, nil,
	)
}

func u64(v uint64) *uint64 { return &v }

func segmentedInsert(name core.Name, start uint64, end *uint64) *command.Parameter {
	return &command.Parameter{
		Name:           name.String(),
		StartBlockID:   &start,
		EndBlockID:     end,
		ForwardingHint: producerName.String(),
	}
}

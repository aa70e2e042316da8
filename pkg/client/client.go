// Package client 是仓库集群的同步客户端，供 repoctl 和测试使用
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ndnrepo/pkg/command"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/eventloop"
	"ndnrepo/pkg/router"
	"ndnrepo/pkg/security"
	"ndnrepo/pkg/transport"
	"ndnrepo/pkg/types"
)

var (
	ErrTimeout = errors.New("request timed out")
	ErrNack    = errors.New("request nacked")
)

// StatusError 表示命令以非成功状态码结束
type StatusError struct {
	Verb     string
	Response *command.Response
}

func (e *StatusError) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("%s failed with status %d: %s", e.Verb, e.Response.StatusCode, e.Response.Message)
	}
	return fmt.Sprintf("%s failed with status %d", e.Verb, e.Response.StatusCode)
}

type Config struct {
	ClusterPrefix core.Name
	ClusterSize   int
	// Peers 是成员编号到 gRPC 地址的映射
	Peers    map[int]string
	Key      string
	Lifetime time.Duration
	// Parallel 是下载时同时在途的分段请求数
	Parallel int
}

// Client 在自己的事件循环上运行一个 GRPCFace，把异步回调转换为同步调用
type Client struct {
	cfg    Config
	face   *transport.GRPCFace
	router *router.Router
	signer security.Signer
	cancel context.CancelFunc
}

func New(cfg Config, opts ...transport.GRPCOption) (*Client, error) {
	_, signer, err := security.New(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid security key: %w", err)
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = transport.DefaultLifetime
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 8
	}

	loop := eventloop.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Client event loop stopped", "err", err)
		}
	}()

	c := &Client{
		cfg:    cfg,
		face:   transport.NewGRPCFace(loop, opts...),
		router: router.New(cfg.ClusterPrefix, cfg.ClusterSize),
		signer: signer,
		cancel: cancel,
	}
	for id, addr := range cfg.Peers {
		c.face.AddRoute(c.router.MemberPrefix(id), addr)
	}
	return c, nil
}

// Face 返回底层的 Face (发布内容时需要在上面注册前缀)
func (c *Client) Face() *transport.GRPCFace { return c.face }

func (c *Client) Router() *router.Router { return c.router }

// Member 返回第 id 个成员的前缀
func (c *Client) Member(id int) core.Name { return c.router.MemberPrefix(id) }

// express 同步发出一个请求
func (c *Client) express(ctx context.Context, in transport.Interest) ([]byte, error) {
	type result struct {
		content []byte
		err     error
	}
	ch := make(chan result, 1)
	c.face.Express(in,
		func(_ transport.Interest, content []byte) { ch <- result{content: content} },
		func(_ transport.Interest, reason string) { ch <- result{err: fmt.Errorf("%w: %s", ErrNack, reason)} },
		func(transport.Interest) { ch <- result{err: ErrTimeout} },
	)
	select {
	case r := <-ch:
		return r.content, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Command 向 target 发出一条命令并等待回复；状态码不在 1xx/2xx/3xx 时返回 StatusError
func (c *Client) Command(ctx context.Context, target core.Name, verb string, p *command.Parameter) (*command.Response, error) {
	in, err := command.NewInterest(target, verb, p, c.cfg.Lifetime, c.signer)
	if err != nil {
		return nil, err
	}
	content, err := c.express(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", verb, target, err)
	}
	resp, err := command.DecodeResponse(content)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= types.StatusValidationFailed {
		return resp, &StatusError{Verb: verb, Response: resp}
	}
	return resp, nil
}

// GetManifest 通过任意成员取回 name 的 Manifest
func (c *Client) GetManifest(ctx context.Context, via core.Name, name core.Name) (*core.Manifest, error) {
	resp, err := c.Command(ctx, via, command.VerbGet, &command.Parameter{Name: name.String()})
	if err != nil {
		return nil, err
	}
	m, _, err := core.DecodeManifest([]byte(resp.Manifest))
	return m, err
}

// FetchData 从 member 读取一个数据包
func (c *Client) FetchData(ctx context.Context, member, name core.Name) (*core.Data, error) {
	content, err := c.express(ctx, transport.Interest{
		Name:     command.DataName(member, name),
		Lifetime: c.cfg.Lifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s from %s: %w", name, member, err)
	}
	return core.DecodeData(content)
}

// Download 按 Manifest 从各分片节点取回全部分段，按顺序写入 w
// 每批最多 Parallel 个并发请求，批内乱序到达、按序写出
func (c *Client) Download(ctx context.Context, m *core.Manifest, w io.Writer) (int64, error) {
	if m.IsSinglePacket() {
		return c.downloadPacket(ctx, m, w)
	}
	if m.StartBlockID == nil || m.EndBlockID == nil {
		return 0, fmt.Errorf("manifest %s has an incomplete segment range", m.Name())
	}
	start, end := *m.StartBlockID, *m.EndBlockID

	var written int64
	for batch := start; batch <= end; batch += uint64(c.cfg.Parallel) {
		last := min(batch+uint64(c.cfg.Parallel)-1, end)
		parts := make([][]byte, last-batch+1)

		g, gctx := errgroup.WithContext(ctx)
		for seg := batch; seg <= last; seg++ {
			shard, ok := m.ShardFor(seg)
			if !ok {
				return written, fmt.Errorf("no shard holds segment %d", seg)
			}
			member, err := core.ParseName(shard.Name)
			if err != nil {
				return written, err
			}
			g.Go(func() error {
				d, err := c.FetchData(gctx, member, m.Name().AppendSegment(seg))
				if err != nil {
					return err
				}
				parts[seg-batch] = d.Content
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return written, err
		}

		for _, part := range parts {
			n, err := w.Write(part)
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
		if last == end {
			break
		}
	}
	return written, nil
}

// downloadPacket 单包对象直接从保存它的成员读取
func (c *Client) downloadPacket(ctx context.Context, m *core.Manifest, w io.Writer) (int64, error) {
	holder, err := core.ParseName(m.Holder)
	if err != nil {
		return 0, fmt.Errorf("manifest %s has a bad holder: %w", m.Name(), err)
	}
	d, err := c.FetchData(ctx, holder, m.Name())
	if err != nil {
		return 0, err
	}
	n, err := w.Write(d.Content)
	return int64(n), err
}

// WaitProcess 轮询 check 直到会话结束
func (c *Client) WaitProcess(ctx context.Context, member core.Name, pid types.ProcessID, interval time.Duration) (*command.Response, error) {
	id := uint64(pid)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		resp, err := c.Command(ctx, member, command.VerbCheck, &command.Parameter{ProcessID: &id})
		if err != nil {
			return resp, err
		}
		if resp.StatusCode == types.StatusOK {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) Close() error {
	err := c.face.Close()
	c.cancel()
	return err
}

// Package service 实现仓库节点的命令处理：插入、状态查询、删除、Manifest 登记与读取
//
// 所有处理器都运行在节点唯一的事件循环里，会话状态保存在 process.Table 中，
// 网络回调通过 ProcessID 找回会话，找不到时直接忽略。
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ndnrepo/pkg/command"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/eventloop"
	"ndnrepo/pkg/fetch"
	"ndnrepo/pkg/index"
	"ndnrepo/pkg/manifest"
	"ndnrepo/pkg/meta"
	"ndnrepo/pkg/metrics"
	"ndnrepo/pkg/process"
	"ndnrepo/pkg/security"
	"ndnrepo/pkg/storage"
	"ndnrepo/pkg/transport"
	"ndnrepo/pkg/types"
)

// Config 是单个节点的运行参数
type Config struct {
	// Prefix 是本节点的成员前缀 (/<cluster>/<id>)
	Prefix core.Name

	Fetch             fetch.Config
	ProcessDeleteTime time.Duration
	InterestLifetime  time.Duration
}

func DefaultConfig(prefix core.Name) Config {
	return Config{
		Prefix:            prefix,
		Fetch:             fetch.DefaultConfig(),
		ProcessDeleteTime: 10 * time.Second,
		InterestLifetime:  transport.DefaultLifetime,
	}
}

// Node 把存储、Manifest、传输和会话表组装成一个仓库节点
type Node struct {
	cfg   Config
	sched eventloop.Scheduler
	face  transport.Transport

	repo          *storage.RepoStorage
	manifests     *manifest.Store
	manifestIndex *index.Index
	catalog       *meta.Repository // 可选

	validator security.Validator
	signer    security.Signer
	metrics   *metrics.Metrics
	logger    *slog.Logger

	inserts  *process.Table[insertProcess]
	deletes  *process.Table[deleteProcess]
	forwards *process.Table[forwardedDelete]

	ctx      context.Context
	unlisten []func()
}

type Option func(*Node)

func WithValidator(v security.Validator, s security.Signer) Option {
	return func(n *Node) {
		n.validator = v
		n.signer = s
	}
}

// WithCatalog 启用关系型的 Manifest 目录
func WithCatalog(r *meta.Repository) Option {
	return func(n *Node) { n.catalog = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// NewNode 创建节点；调用 Start 之前不会处理任何请求
func NewNode(cfg Config, sched eventloop.Scheduler, face transport.Transport, repo *storage.RepoStorage, manifests *manifest.Store, opts ...Option) *Node {
	n := &Node{
		cfg:           cfg,
		sched:         sched,
		face:          face,
		repo:          repo,
		manifests:     manifests,
		manifestIndex: index.NewIndex(0),
		validator:     security.AcceptAll{},
		signer:        security.Unsigned{},
		logger:        slog.Default(),
		inserts:       process.NewTable[insertProcess](sched),
		deletes:       process.NewTable[deleteProcess](sched),
		forwards:      process.NewTable[forwardedDelete](sched),
		ctx:           context.Background(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.cfg.InterestLifetime <= 0 {
		n.cfg.InterestLifetime = transport.DefaultLifetime
	}
	n.logger = n.logger.With(slog.String("node", cfg.Prefix.String()))
	return n
}

func (n *Node) Prefix() core.Name { return n.cfg.Prefix }

// ManifestIndex 返回本节点负责的 Manifest 名字索引
func (n *Node) ManifestIndex() *index.Index { return n.manifestIndex }

// Start 重建索引并注册所有命令前缀
func (n *Node) Start(ctx context.Context) error {
	n.ctx = ctx

	// 1. 数据索引
	if err := n.repo.Initialize(ctx); err != nil {
		return err
	}
	n.metrics.SetPackets(n.repo.Index().Len())

	// 2. Manifest 索引：有目录时从目录恢复，否则扫描 Store
	if err := n.loadManifestIndex(ctx); err != nil {
		return err
	}

	// 3. 命令前缀
	routes := []struct {
		verb    string
		handler commandHandler
	}{
		{command.VerbInsert, n.onInsert},
		{command.VerbCheck, n.onCheck},
		{command.VerbDelete, n.onDelete},
		{command.VerbManifest, n.onManifest},
		{command.VerbDeleteManifest, n.onDeleteManifest},
		{command.VerbDeleteData, n.onDeleteData},
		{command.VerbGet, n.onGet},
		{command.VerbFind, n.onFind},
	}
	for _, r := range routes {
		if err := n.listen(n.cfg.Prefix.Append(r.verb), n.guard(r.verb, r.handler)); err != nil {
			return err
		}
	}
	// 数据读取是普通请求，不做签名校验
	if err := n.listen(n.cfg.Prefix.Append(command.VerbData), n.onData); err != nil {
		return err
	}

	n.logger.Info("Repository node started",
		slog.Int("packets", n.repo.Index().Len()),
		slog.Int("manifests", n.manifestIndex.Len()),
	)
	return nil
}

// Stop 取消所有前缀注册；在途会话随之失去入口
func (n *Node) Stop() {
	for _, fn := range n.unlisten {
		fn()
	}
	n.unlisten = nil
}

func (n *Node) listen(prefix core.Name, h transport.Handler) error {
	un, err := n.face.Listen(prefix, h)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", prefix, err)
	}
	n.unlisten = append(n.unlisten, un)
	return nil
}

func (n *Node) loadManifestIndex(ctx context.Context) error {
	n.manifestIndex.Reset()
	add := func(m *core.Manifest) error {
		_, err := n.manifestIndex.Insert(index.Entry{Name: m.Name(), Handle: m.Hash().String()})
		return err
	}

	if n.catalog != nil {
		return n.catalog.Each(ctx, func(model *meta.ManifestModel) error {
			m, err := model.ToManifest()
			if err != nil {
				n.logger.Warn("Skipping corrupted catalog row", "hash", model.Hash, "err", err)
				return nil
			}
			return add(m)
		})
	}
	return n.manifests.Enumerate(ctx, add)
}

// commandHandler 处理一个已经通过校验、参数已解析的命令
type commandHandler func(in transport.Interest, p *command.Parameter, reply transport.Responder)

// guard 先做签名校验再解析参数，失败时直接以状态码回复，不创建任何状态
func (n *Node) guard(verb string, h commandHandler) transport.Handler {
	return func(in transport.Interest, reply transport.Responder) {
		n.validator.Validate(in,
			func(valid transport.Interest) {
				p, err := command.Extract(valid)
				if err != nil {
					n.logger.Debug("Rejected command", "verb", verb, "err", err)
					n.respond(verb, reply, &command.Response{StatusCode: command.StatusOf(err), Message: err.Error()})
					return
				}
				h(valid, p, reply)
			},
			func(_ transport.Interest, err error) {
				n.logger.Warn("Command failed validation", "verb", verb, "err", err)
				n.respond(verb, reply, &command.Response{StatusCode: types.StatusValidationFailed})
			},
		)
	}
}

func (n *Node) respond(verb string, reply transport.Responder, resp *command.Response) {
	n.metrics.RecordCommand(verb, resp.StatusCode)
	reply(resp.Encode())
}

func (n *Node) reject(verb string, reply transport.Responder, err error) {
	n.respond(verb, reply, &command.Response{StatusCode: command.StatusOf(err), Message: err.Error()})
}

// sendCommand 向另一个节点发出命令，响应解码后交给 onResponse
// Nack 与超时都视为失败交给 onFail
func (n *Node) sendCommand(target core.Name, verb string, p *command.Parameter, onResponse func(*command.Response), onFail func(reason string)) {
	in, err := command.NewInterest(target, verb, p, n.cfg.InterestLifetime, n.signer)
	if err != nil {
		n.sched.Post(func() { onFail(err.Error()) })
		return
	}
	n.face.Express(in,
		func(_ transport.Interest, content []byte) {
			resp, err := command.DecodeResponse(content)
			if err != nil {
				onFail(err.Error())
				return
			}
			onResponse(resp)
		},
		func(_ transport.Interest, reason string) { onFail(reason) },
		func(_ transport.Interest) { onFail("timeout") },
	)
}

// isSelf 目标前缀是否就是本节点，是的话直接在本地处理
func (n *Node) isSelf(prefix core.Name) bool {
	return prefix.Equal(n.cfg.Prefix)
}

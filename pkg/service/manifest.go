package service

import (
	"errors"
	"fmt"
	"log/slog"

	"ndnrepo/pkg/command"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/index"
	"ndnrepo/pkg/manifest"
	"ndnrepo/pkg/transport"
	"ndnrepo/pkg/types"
)

// onManifest 在归属节点上登记一个分片，或者登记一个单包对象
func (n *Node) onManifest(_ transport.Interest, p *command.Parameter, reply transport.Responder) {
	name, err := p.ObjectName()
	if err != nil {
		n.reject(command.VerbManifest, reply, err)
		return
	}

	var m *core.Manifest
	switch {
	case p.Shard != nil:
		m, err = n.mergeShard(name, core.Shard{Name: p.Shard.Name, Start: p.Shard.Start, End: p.Shard.End})
	case p.Holder != "":
		m, err = n.savePacket(name, p.Holder)
	default:
		err = command.Malformed("missing shard")
	}
	if err != nil {
		n.reject(command.VerbManifest, reply, err)
		return
	}
	n.respond(command.VerbManifest, reply, &command.Response{
		StatusCode:   types.StatusOK,
		StartBlockID: m.StartBlockID,
		EndBlockID:   m.EndBlockID,
		Manifest:     string(m.Bytes()),
	})
}

// loadManifest 读出已有的 Manifest，没有就新建
func (n *Node) loadManifest(name core.Name) (*core.Manifest, error) {
	m, err := n.manifests.GetByName(n.ctx, name)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		return core.NewManifest(name), nil
	case errors.Is(err, manifest.ErrHashMismatch):
		// 用重新计算的 Hash 覆盖写回
		n.logger.Warn("Rewriting manifest with mismatched hash", "name", name.String())
		return m, nil
	case err != nil:
		return nil, err
	}
	return m, nil
}

// mergeShard 把分片并入 Manifest 并持久化，同时更新索引和目录
func (n *Node) mergeShard(name core.Name, shard core.Shard) (*core.Manifest, error) {
	m, err := n.loadManifest(name)
	if err != nil {
		return nil, err
	}

	// 合并分片，重叠属于参数冲突
	if err := m.AddShard(shard); err != nil {
		if errors.Is(err, core.ErrShardOverlap) || errors.Is(err, core.ErrShardRange) || errors.Is(err, core.ErrSinglePacket) {
			return nil, command.Conflict("%v", err)
		}
		return nil, err
	}
	if err := n.saveManifest(m); err != nil {
		return nil, err
	}

	n.logger.Info("Shard registered",
		slog.String("name", name.String()),
		slog.String("shard", shard.Name),
		slog.Uint64("start", shard.Start),
		slog.Uint64("end", shard.End),
	)
	return m, nil
}

// savePacket 为单包对象保存一个未分片的 Manifest
func (n *Node) savePacket(name core.Name, holder string) (*core.Manifest, error) {
	if _, err := core.ParseName(holder); err != nil {
		return nil, command.Malformed("bad holder: %v", err)
	}
	m, err := n.loadManifest(name)
	if err != nil {
		return nil, err
	}
	if err := m.SetSinglePacket(holder); err != nil {
		return nil, command.Conflict("%v", err)
	}
	if err := n.saveManifest(m); err != nil {
		return nil, err
	}

	n.logger.Info("Single packet registered", slog.String("name", name.String()), slog.String("holder", holder))
	return m, nil
}

// saveManifest 持久化 Manifest 并更新名字索引和目录
func (n *Node) saveManifest(m *core.Manifest) error {
	hash, err := n.manifests.Put(n.ctx, m)
	if err != nil {
		return err
	}
	if _, err := n.manifestIndex.Insert(index.Entry{Name: m.Name(), Handle: hash.String()}); err != nil {
		return fmt.Errorf("failed to index manifest %s: %w", m.Name(), err)
	}
	if n.catalog != nil {
		if err := n.catalog.IndexManifest(n.ctx, m); err != nil {
			// 目录只是投影，写失败不影响 Manifest 本身
			n.logger.Warn("Failed to update manifest catalog", "name", m.Name().String(), "err", err)
		}
	}
	return nil
}

// onFind 在归属节点上按名字和选择器查找 Manifest
func (n *Node) onFind(_ transport.Interest, p *command.Parameter, reply transport.Responder) {
	n.respond(command.VerbFind, reply, n.find(p))
}

func (n *Node) find(p *command.Parameter) *command.Response {
	name, err := p.ObjectName()
	if err != nil {
		return &command.Response{StatusCode: command.StatusOf(err), Message: err.Error()}
	}

	e, ok := n.manifestIndex.Select(name, p.Selectors())
	if !ok {
		return &command.Response{StatusCode: types.StatusNotFound, Message: "no manifest under " + name.String()}
	}
	m, err := n.manifests.Get(n.ctx, types.Hash(e.Handle))
	if err != nil && !errors.Is(err, manifest.ErrHashMismatch) {
		if errors.Is(err, manifest.ErrNotFound) {
			// 索引里有但 Store 里没有，顺手清掉
			n.manifestIndex.Erase(e.Name)
			return &command.Response{StatusCode: types.StatusNotFound, Message: "manifest missing for " + e.Name.String()}
		}
		n.logger.Error("Failed to read manifest", "name", e.Name.String(), "err", err)
		return &command.Response{StatusCode: types.StatusFailed, Message: err.Error()}
	}
	return &command.Response{
		StatusCode:   types.StatusOK,
		StartBlockID: m.StartBlockID,
		EndBlockID:   m.EndBlockID,
		Manifest:     string(m.Bytes()),
	}
}

// onGet 可以发给任意节点：转发 find 给归属节点并把结果原样带回
func (n *Node) onGet(_ transport.Interest, p *command.Parameter, reply transport.Responder) {
	name, err := p.ObjectName()
	if err != nil {
		n.reject(command.VerbGet, reply, err)
		return
	}

	owner := n.manifests.Owner(name)
	if n.isSelf(owner) {
		n.respond(command.VerbGet, reply, n.find(p))
		return
	}

	n.sendCommand(owner, command.VerbFind, p,
		func(resp *command.Response) {
			n.respond(command.VerbGet, reply, resp)
		},
		func(reason string) {
			n.logger.Warn("Manifest lookup failed", "name", name.String(), "owner", owner.String(), "reason", reason)
			n.respond(command.VerbGet, reply, &command.Response{StatusCode: types.StatusFailed, Message: reason})
		},
	)
}

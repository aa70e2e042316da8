package service

import (
	"errors"
	"log/slog"

	"ndnrepo/pkg/command"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/index"
	"ndnrepo/pkg/manifest"
	"ndnrepo/pkg/transport"
	"ndnrepo/pkg/types"
)

// deleteProcess 是归属节点上一次分片删除的状态
// 分片严格按顺序逐个删除，前一个分片成功之后才会发出下一个请求
type deleteProcess struct {
	reply    transport.Responder
	manifest *core.Manifest

	remaining []core.Shard
	current   core.Shard
	// whole 为 true 时全部分片删除后连同 Manifest 一起删除
	whole bool
	// holder 非空表示还要删除保存在该成员上的单包对象
	holder string

	response command.Response
}

// forwardedDelete 记录转发给归属节点的删除，check 据此转发到归属节点
type forwardedDelete struct {
	owner core.Name
}

// onDelete 可以发给任意节点：转发 deleteManifest 给 Manifest 的归属节点
// 转发时在本地分配会话 ID，归属节点使用同一个 ID
func (n *Node) onDelete(_ transport.Interest, p *command.Parameter, reply transport.Responder) {
	name, err := p.ObjectName()
	if err != nil {
		n.reject(command.VerbDelete, reply, err)
		return
	}

	owner := n.manifests.Owner(name)
	if n.isSelf(owner) {
		n.startDelete(command.VerbDelete, name, p, reply)
		return
	}

	fwd := &forwardedDelete{owner: owner}
	var id types.ProcessID
	if p.ProcessID != nil {
		id = types.ProcessID(*p.ProcessID)
		if !n.forwards.Put(id, fwd) {
			n.reject(command.VerbDelete, reply, command.Conflict("process %s already exists", id))
			return
		}
	} else {
		id = n.forwards.Create(fwd)
	}
	forwarded := *p
	pid := uint64(id)
	forwarded.ProcessID = &pid

	n.sendCommand(owner, command.VerbDeleteManifest, &forwarded,
		func(resp *command.Response) {
			n.forwards.DeferredRemove(id, n.cfg.ProcessDeleteTime)
			n.respond(command.VerbDelete, reply, resp)
		},
		func(reason string) {
			n.forwards.Remove(id)
			n.logger.Warn("Delete forwarding failed", "name", name.String(), "owner", owner.String(), "reason", reason)
			n.respond(command.VerbDelete, reply, &command.Response{StatusCode: types.StatusFailed, ProcessID: id, Message: reason})
		},
	)
}

// onDeleteManifest 在归属节点上启动顺序删除
func (n *Node) onDeleteManifest(_ transport.Interest, p *command.Parameter, reply transport.Responder) {
	name, err := p.ObjectName()
	if err != nil {
		n.reject(command.VerbDeleteManifest, reply, err)
		return
	}
	n.startDelete(command.VerbDeleteManifest, name, p, reply)
}

func (n *Node) startDelete(verb string, name core.Name, p *command.Parameter, reply transport.Responder) {
	// 1. 读 Manifest
	m, err := n.manifests.GetByName(n.ctx, name)
	if errors.Is(err, manifest.ErrNotFound) {
		n.respond(verb, reply, &command.Response{StatusCode: types.StatusNotFound, Message: "no manifest for " + name.String()})
		return
	}
	if err != nil && !errors.Is(err, manifest.ErrHashMismatch) {
		n.reject(verb, reply, err)
		return
	}

	// 2. 计算要删除的分片范围
	shards, whole := deletionPlan(m, p.StartBlockID, p.EndBlockID)
	proc := &deleteProcess{
		reply:     reply,
		manifest:  m,
		remaining: shards,
		whole:     whole,
	}
	if whole && m.IsSinglePacket() {
		proc.holder = m.Holder
	}

	var id types.ProcessID
	if p.ProcessID != nil {
		id = types.ProcessID(*p.ProcessID)
		if !n.deletes.Put(id, proc) {
			n.reject(verb, reply, command.Conflict("process %s already exists", id))
			return
		}
	} else {
		id = n.deletes.Create(proc)
	}
	n.metrics.ProcessStarted("delete")

	proc.response = command.Response{
		StatusCode:   types.StatusInProgress,
		ProcessID:    id,
		StartBlockID: p.StartBlockID,
		EndBlockID:   p.EndBlockID,
	}

	n.logger.Info("Delete started",
		slog.String("name", name.String()),
		slog.String("pid", id.String()),
		slog.Int("shards", len(shards)),
		slog.Bool("whole", whole),
	)
	n.nextShard(verb, id, proc)
}

// deletionPlan 返回与 [start, end] 相交的分片 (已裁剪)，以及是否覆盖了整个对象
// 未分片的 Manifest 没有分片可删，只判断范围是否覆盖了它记录的分段
func deletionPlan(m *core.Manifest, start, end *uint64) ([]core.Shard, bool) {
	if start == nil && end == nil {
		return append([]core.Shard(nil), m.Shards...), true
	}
	if !m.IsSharded() {
		var lo, hi uint64
		if m.StartBlockID != nil {
			lo = *m.StartBlockID
		}
		if m.EndBlockID != nil {
			hi = *m.EndBlockID
		}
		return nil, (start == nil || *start <= lo) && (end == nil || *end >= hi)
	}

	var out []core.Shard
	for _, s := range m.Shards {
		lo, hi := s.Start, s.End
		if start != nil && *start > lo {
			lo = *start
		}
		if end != nil && *end < hi {
			hi = *end
		}
		if lo > hi {
			continue
		}
		out = append(out, core.Shard{Name: s.Name, Start: lo, End: hi})
	}

	whole := m.IsSharded() &&
		(start == nil || *start <= m.Shards[0].Start) &&
		(end == nil || *end >= m.Shards[len(m.Shards)-1].End)
	return out, whole
}

// nextShard 处理下一个分片；分片删完再删单包对象，最后结束会话
func (n *Node) nextShard(verb string, id types.ProcessID, proc *deleteProcess) {
	if len(proc.remaining) == 0 {
		if proc.holder != "" {
			n.deletePacket(verb, id, proc)
			return
		}
		n.finishDelete(verb, id, proc)
		return
	}
	proc.current = proc.remaining[0]
	proc.remaining = proc.remaining[1:]
	shard := proc.current

	target, err := core.ParseName(shard.Name)
	if err != nil {
		n.failDelete(verb, id, proc, "bad shard name "+shard.Name)
		return
	}

	// 本节点负责的分片直接在本地删除
	if n.isSelf(target) {
		proc.response.DeleteNum += n.deleteRange(proc.manifest.Name(), shard.Start, shard.End)
		n.continueDelete(verb, id, proc)
		return
	}

	start, end := shard.Start, shard.End
	pid := uint64(id)
	n.sendDeleteData(verb, id, proc, target, "shard "+shard.Name, &command.Parameter{
		Name:         proc.manifest.Name().String(),
		StartBlockID: &start,
		EndBlockID:   &end,
		ProcessID:    &pid,
	})
}

// deletePacket 删除单包对象本身 (不带块号的 deleteData)
func (n *Node) deletePacket(verb string, id types.ProcessID, proc *deleteProcess) {
	holder := proc.holder
	proc.holder = ""
	name := proc.manifest.Name()

	target, err := core.ParseName(holder)
	if err != nil {
		n.failDelete(verb, id, proc, "bad holder "+holder)
		return
	}
	if n.isSelf(target) {
		removed, err := n.repo.DeleteData(n.ctx, name)
		if err != nil {
			n.failDelete(verb, id, proc, "failed to delete packet: "+err.Error())
			return
		}
		if removed {
			proc.response.DeleteNum++
		}
		n.continueDelete(verb, id, proc)
		return
	}

	pid := uint64(id)
	n.sendDeleteData(verb, id, proc, target, "holder "+holder, &command.Parameter{
		Name:      name.String(),
		ProcessID: &pid,
	})
}

// continueDelete 在下一轮事件里继续，避免本地删除时递归过深
func (n *Node) continueDelete(verb string, id types.ProcessID, proc *deleteProcess) {
	n.sched.Post(func() {
		if cur, ok := n.deletes.Get(id); ok && cur == proc {
			n.nextShard(verb, id, proc)
		}
	})
}

// sendDeleteData 把 deleteData 发给 target，成功后继续下一步，任何失败都结束整个删除
func (n *Node) sendDeleteData(verb string, id types.ProcessID, proc *deleteProcess, target core.Name, label string, p *command.Parameter) {
	n.sendCommand(target, command.VerbDeleteData, p,
		func(resp *command.Response) {
			cur, ok := n.deletes.Get(id)
			if !ok || cur != proc {
				return
			}
			if resp.StatusCode != types.StatusOK {
				n.failDelete(verb, id, proc, label+" refused: "+resp.Message)
				return
			}
			proc.response.DeleteNum += resp.DeleteNum
			n.nextShard(verb, id, proc)
		},
		func(reason string) {
			cur, ok := n.deletes.Get(id)
			if !ok || cur != proc {
				return
			}
			n.failDelete(verb, id, proc, label+": "+reason)
		},
	)
}

func (n *Node) finishDelete(verb string, id types.ProcessID, proc *deleteProcess) {
	// 全部分片都删除后才删除 Manifest
	if proc.whole {
		m := proc.manifest
		if _, err := n.manifests.Delete(n.ctx, m.Hash()); err != nil {
			n.failDelete(verb, id, proc, "failed to delete manifest: "+err.Error())
			return
		}
		n.manifestIndex.Erase(m.Name())
		if n.catalog != nil {
			if _, err := n.catalog.DeleteManifest(n.ctx, m.Hash()); err != nil {
				n.logger.Warn("Failed to update manifest catalog", "name", m.Name().String(), "err", err)
			}
		}
	}

	proc.response.StatusCode = types.StatusOK
	n.metrics.ProcessFinished("delete", "complete")
	n.deletes.DeferredRemove(id, n.cfg.ProcessDeleteTime)

	n.logger.Info("Delete complete",
		slog.String("name", proc.manifest.Name().String()),
		slog.String("pid", id.String()),
		slog.Uint64("deleted", proc.response.DeleteNum),
	)
	snapshot := proc.response
	n.respond(verb, proc.reply, &snapshot)
}

// failDelete 立即删除会话并向调用方回复 405
func (n *Node) failDelete(verb string, id types.ProcessID, proc *deleteProcess, reason string) {
	n.logger.Warn("Delete failed",
		slog.String("name", proc.manifest.Name().String()),
		slog.String("pid", id.String()),
		slog.String("reason", reason),
	)
	n.metrics.ProcessFinished("delete", "failed")
	n.deletes.Remove(id)

	proc.response.StatusCode = types.StatusFailed
	proc.response.Message = reason
	snapshot := proc.response
	n.respond(verb, proc.reply, &snapshot)
}

// onDeleteData 删除本地 [start, end] 范围内的分段，并回复实际删除的数量
// 两端都不带时删除与名字完全相同的单个数据包
func (n *Node) onDeleteData(_ transport.Interest, p *command.Parameter, reply transport.Responder) {
	name, err := p.ObjectName()
	if err != nil {
		n.reject(command.VerbDeleteData, reply, err)
		return
	}

	var count uint64
	switch {
	case p.StartBlockID != nil && p.EndBlockID != nil:
		count = n.deleteRange(name, *p.StartBlockID, *p.EndBlockID)
	case p.StartBlockID == nil && p.EndBlockID == nil:
		removed, err := n.repo.DeleteData(n.ctx, name)
		if err != nil {
			n.reject(command.VerbDeleteData, reply, err)
			return
		}
		if removed {
			count = 1
		}
	default:
		n.reject(command.VerbDeleteData, reply, command.Malformed("deleteData requires both start and end block ids"))
		return
	}

	resp := &command.Response{
		StatusCode:   types.StatusOK,
		DeleteNum:    count,
		StartBlockID: p.StartBlockID,
		EndBlockID:   p.EndBlockID,
	}
	if p.ProcessID != nil {
		resp.ProcessID = types.ProcessID(*p.ProcessID)
	}
	n.respond(command.VerbDeleteData, reply, resp)
}

// deleteRange 按分段号删除；只遍历索引里真实存在的分段，范围再大也不会空转
func (n *Node) deleteRange(name core.Name, start, end uint64) uint64 {
	var victims []core.Name
	n.repo.Index().Walk(name, func(e index.Entry) bool {
		if e.Name.Size() != name.Size()+1 {
			return true
		}
		seg, err := e.Name.Segment()
		if err != nil || seg < start || seg > end {
			return true
		}
		victims = append(victims, e.Name)
		return true
	})

	var count uint64
	for _, v := range victims {
		removed, err := n.repo.DeleteData(n.ctx, v)
		if err != nil {
			n.logger.Error("Failed to delete segment", "name", v.String(), "err", err)
			continue
		}
		if removed {
			count++
		}
	}
	return count
}

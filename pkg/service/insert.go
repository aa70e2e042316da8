package service

import (
	"errors"
	"log/slog"
	"time"

	"ndnrepo/pkg/command"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/fetch"
	"ndnrepo/pkg/transport"
	"ndnrepo/pkg/types"
)

// insertProcess 是一次插入会话的全部状态
type insertProcess struct {
	name     core.Name
	hint     core.Name
	lifetime time.Duration

	response command.Response

	// 分段插入时非空
	window *fetch.Window
	// 单包插入已经重试的次数
	retries int
}

func (p *insertProcess) segmented() bool { return p.window != nil }

// onInsert 受理插入命令：立即回复 100，然后从生产者拉取数据
func (n *Node) onInsert(_ transport.Interest, p *command.Parameter, reply transport.Responder) {
	name, err := p.ObjectName()
	if err != nil {
		n.reject(command.VerbInsert, reply, err)
		return
	}
	hint, err := p.Hint()
	if err != nil {
		n.reject(command.VerbInsert, reply, err)
		return
	}

	proc := &insertProcess{
		name:     name,
		hint:     hint,
		lifetime: p.Lifetime(n.cfg.InterestLifetime),
	}

	// 1. 分配会话 ID：调用方指定的 ID 不能冲突
	var id types.ProcessID
	if p.ProcessID != nil {
		id = types.ProcessID(*p.ProcessID)
		if !n.inserts.Put(id, proc) {
			n.reject(command.VerbInsert, reply, command.Conflict("process %s already exists", id))
			return
		}
	} else {
		id = n.inserts.Create(proc)
	}
	n.metrics.ProcessStarted("insert")

	proc.response = command.Response{
		StatusCode:   types.StatusAccepted,
		ProcessID:    id,
		StartBlockID: p.StartBlockID,
		EndBlockID:   p.EndBlockID,
	}
	n.respond(command.VerbInsert, reply, &proc.response)

	// 之后 check 看到的是 "进行中"
	proc.response.StatusCode = types.StatusInProgress

	n.logger.Info("Insert accepted",
		slog.String("name", name.String()),
		slog.String("pid", id.String()),
		slog.Bool("segmented", p.HasBlockIDs()),
	)

	// 2. 单包或分段
	if !p.HasBlockIDs() {
		n.fetchSingle(id, proc)
		return
	}
	var start uint64
	if p.StartBlockID != nil {
		start = *p.StartBlockID
	}
	proc.response.StartBlockID = &start

	w, first := fetch.NewWindow(n.cfg.Fetch, start, p.EndBlockID, n.sched.Now())
	proc.window = w
	for _, seg := range first {
		n.fetchSegment(id, proc, seg)
	}
}

// fetchSingle 拉取一个不分段的数据包
func (n *Node) fetchSingle(id types.ProcessID, proc *insertProcess) {
	in := transport.Interest{Name: proc.name, Hint: proc.hint, Lifetime: proc.lifetime}
	retry := func() {
		cur, ok := n.inserts.Get(id)
		if !ok || cur != proc {
			return
		}
		if proc.retries >= n.cfg.Fetch.RetryLimit {
			n.logger.Warn("Insert retry limit exhausted", "name", proc.name.String(), "pid", id.String())
			n.failInsert(id, proc, fetch.ErrRetryExhausted)
			return
		}
		proc.retries++
		n.metrics.RecordRetry()
		n.fetchSingle(id, proc)
	}

	n.face.Express(in,
		func(_ transport.Interest, content []byte) {
			cur, ok := n.inserts.Get(id)
			if !ok || cur != proc {
				return
			}
			stored := false
			if d, err := core.DecodeData(content); err != nil {
				n.logger.Warn("Dropping undecodable data", "name", proc.name.String(), "err", err)
			} else {
				stored = n.storeData(proc.name, d)
			}
			n.metrics.RecordSegment(stored)
			if !stored {
				n.failInsert(id, proc, fetch.ErrStalled)
				return
			}
			proc.response.InsertNum = 1
			n.completeInsert(id, proc)
		},
		func(_ transport.Interest, _ string) { retry() },
		func(_ transport.Interest) { retry() },
	)
}

// fetchSegment 为 seg 发出请求；重试时原样重发
func (n *Node) fetchSegment(id types.ProcessID, proc *insertProcess, seg uint64) {
	segName := proc.name.AppendSegment(seg)
	in := transport.Interest{Name: segName, Hint: proc.hint, Lifetime: proc.lifetime}
	onLost := func() {
		cur, ok := n.inserts.Get(id)
		if !ok || cur != proc {
			return
		}
		n.handleStep(id, proc, proc.window.OnTimeout(seg, n.sched.Now()))
	}

	n.face.Express(in,
		func(_ transport.Interest, content []byte) {
			cur, ok := n.inserts.Get(id)
			if !ok || cur != proc {
				return
			}
			var final *uint64
			stored := false
			if d, err := core.DecodeData(content); err != nil {
				n.logger.Warn("Dropping undecodable segment", "name", segName.String(), "err", err)
			} else {
				final = d.FinalBlockID
				stored = n.storeData(segName, d)
			}
			n.metrics.RecordSegment(stored)

			step := proc.window.OnArrival(seg, final, stored, n.sched.Now())
			proc.response.EndBlockID = proc.window.End()
			proc.response.InsertNum = proc.window.Inserted()
			n.handleStep(id, proc, step)
		},
		func(_ transport.Interest, _ string) { onLost() },
		func(_ transport.Interest) { onLost() },
	)
}

// storeData 写入数据包；名字必须与请求一致
func (n *Node) storeData(want core.Name, d *core.Data) bool {
	if !d.Name().Equal(want) {
		n.logger.Warn("Dropping data with unexpected name", "want", want.String(), "got", d.Name().String())
		return false
	}
	if _, err := n.repo.InsertData(n.ctx, d); err != nil {
		n.logger.Error("Failed to store data", "name", want.String(), "err", err)
		return false
	}
	return true
}

// handleStep 执行窗口给出的下一步
func (n *Node) handleStep(id types.ProcessID, proc *insertProcess, step fetch.Step) {
	switch step.Action {
	case fetch.Issue:
		n.fetchSegment(id, proc, step.Segment)
	case fetch.Retry:
		n.metrics.RecordRetry()
		n.fetchSegment(id, proc, step.Segment)
	case fetch.Complete:
		n.completeInsert(id, proc)
	case fetch.Fail:
		n.logger.Warn("Insert failed",
			slog.String("name", proc.name.String()),
			slog.String("pid", id.String()),
			slog.Uint64("segment", step.Segment),
			slog.Any("err", step.Err),
		)
		n.failInsert(id, proc, step.Err)
	}
}

func (n *Node) completeInsert(id types.ProcessID, proc *insertProcess) {
	proc.response.StatusCode = types.StatusOK
	n.metrics.ProcessFinished("insert", "complete")
	n.inserts.DeferredRemove(id, n.cfg.ProcessDeleteTime)

	n.logger.Info("Insert complete",
		slog.String("name", proc.name.String()),
		slog.String("pid", id.String()),
		slog.Uint64("inserted", proc.response.InsertNum),
	)
	if proc.segmented() {
		n.registerShard(proc)
		return
	}
	n.registerPacket(proc)
}

// failInsert 重试耗尽时立即删除会话，其他失败保留最终状态供 check 查询
func (n *Node) failInsert(id types.ProcessID, proc *insertProcess, err error) {
	proc.response.StatusCode = types.StatusFailed
	proc.response.Message = err.Error()

	if errors.Is(err, fetch.ErrRetryExhausted) {
		n.metrics.ProcessFinished("insert", "aborted")
		n.inserts.Remove(id)
		return
	}
	n.metrics.ProcessFinished("insert", "failed")
	n.inserts.DeferredRemove(id, n.cfg.ProcessDeleteTime)
}

// registerShard 把本节点保存的分段范围登记到 Manifest 的归属节点
func (n *Node) registerShard(proc *insertProcess) {
	start := proc.window.Start()
	end := proc.window.End()
	if end == nil {
		return
	}
	shard := core.Shard{Name: n.cfg.Prefix.String(), Start: start, End: *end}
	if n.isSelf(n.manifests.Owner(proc.name)) {
		if _, err := n.mergeShard(proc.name, shard); err != nil {
			n.logger.Warn("Failed to register shard", "name", proc.name.String(), "err", err)
		}
		return
	}
	n.register(proc.name, &command.Parameter{
		Name:  proc.name.String(),
		Shard: &command.ShardParam{Name: shard.Name, Start: shard.Start, End: shard.End},
	})
}

// registerPacket 登记一个保存在本节点的单包对象 (未分片的 Manifest)
func (n *Node) registerPacket(proc *insertProcess) {
	holder := n.cfg.Prefix.String()
	if n.isSelf(n.manifests.Owner(proc.name)) {
		if _, err := n.savePacket(proc.name, holder); err != nil {
			n.logger.Warn("Failed to register packet", "name", proc.name.String(), "err", err)
		}
		return
	}
	n.register(proc.name, &command.Parameter{Name: proc.name.String(), Holder: holder})
}

// register 把登记请求发给归属节点，失败只记日志
func (n *Node) register(name core.Name, p *command.Parameter) {
	owner := n.manifests.Owner(name)
	n.sendCommand(owner, command.VerbManifest, p,
		func(resp *command.Response) {
			if resp.StatusCode != types.StatusOK {
				n.logger.Warn("Manifest registration rejected",
					"name", name.String(), "owner", owner.String(), "status", resp.StatusCode, "msg", resp.Message)
			}
		},
		func(reason string) {
			n.logger.Warn("Manifest registration failed", "name", name.String(), "owner", owner.String(), "reason", reason)
		},
	)
}

// onCheck 查询插入或删除会话的状态
func (n *Node) onCheck(_ transport.Interest, p *command.Parameter, reply transport.Responder) {
	if p.ProcessID == nil {
		n.reject(command.VerbCheck, reply, command.Malformed("missing process id"))
		return
	}
	id := types.ProcessID(*p.ProcessID)

	if proc, ok := n.inserts.Get(id); ok {
		// 终点未知时顺延截止时间，已经过期则判定失败
		if proc.segmented() && proc.response.StatusCode == types.StatusInProgress && !proc.window.OnCheck(n.sched.Now()) {
			n.logger.Warn("Insert failed", "name", proc.name.String(), "pid", id.String(), "err", fetch.ErrNoEnd)
			n.failInsert(id, proc, fetch.ErrNoEnd)
		}
		snapshot := proc.response
		n.respond(command.VerbCheck, reply, &snapshot)
		return
	}
	if proc, ok := n.deletes.Get(id); ok {
		snapshot := proc.response
		n.respond(command.VerbCheck, reply, &snapshot)
		return
	}
	// 转发出去的删除由归属节点回答
	if fwd, ok := n.forwards.Get(id); ok {
		owner := fwd.owner
		n.sendCommand(owner, command.VerbCheck, p,
			func(resp *command.Response) { n.respond(command.VerbCheck, reply, resp) },
			func(reason string) {
				n.respond(command.VerbCheck, reply, &command.Response{StatusCode: types.StatusFailed, ProcessID: id, Message: reason})
			},
		)
		return
	}
	n.respond(command.VerbCheck, reply, &command.Response{StatusCode: types.StatusNotFound, ProcessID: id})
}

package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnrepo/pkg/command"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/manifest"
	"ndnrepo/pkg/transport"
	"ndnrepo/pkg/types"
)

// fakeShard 模拟一个分片节点，只处理 deleteData
type fakeShard struct {
	prefix core.Name
	silent bool
	calls  []command.Parameter
}

func (c *testCluster) addFakeShard(id int, order *[]string, silent bool) *fakeShard {
	c.t.Helper()
	fs := &fakeShard{prefix: c.router.MemberPrefix(id), silent: silent}
	face := c.hub.NewFace(c.sched)
	_, err := face.Listen(fs.prefix.Append(command.VerbDeleteData), func(in transport.Interest, reply transport.Responder) {
		p, err := command.Extract(in)
		require.NoError(c.t, err)
		fs.calls = append(fs.calls, *p)
		*order = append(*order, fs.prefix.String())
		if fs.silent {
			return
		}
		n := *p.EndBlockID - *p.StartBlockID + 1
		reply((&command.Response{StatusCode: types.StatusOK, DeleteNum: n}).Encode())
	})
	require.NoError(c.t, err)
	return fs
}

// seedManifest 在归属节点上登记两个分片 A=[0,2]、B=[3,5]
func seedManifest(t *testing.T, owner *Node, a, b core.Name) {
	t.Helper()
	_, err := owner.mergeShard(objectName, core.Shard{Name: a.String(), Start: 0, End: 2})
	require.NoError(t, err)
	_, err = owner.mergeShard(objectName, core.Shard{Name: b.String(), Start: 3, End: 5})
	require.NoError(t, err)
}

func TestDelete_ShardsInOrder(t *testing.T) {
	// 单节点集群：所有 Manifest 都归 /repo/0
	c := newTestCluster(t, 1)
	owner := c.nodes[0]

	var order []string
	a := c.addFakeShard(1, &order, false)
	b := c.addFakeShard(2, &order, false)
	seedManifest(t, owner, a.prefix, b.prefix)

	resp := c.call(owner.Prefix(), command.VerbDelete, &command.Parameter{Name: objectName.String()})
	assert.Equal(t, types.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(6), resp.DeleteNum)
	assert.Equal(t, []string{a.prefix.String(), b.prefix.String()}, order)

	// 每个分片收到的是自己的范围
	require.Len(t, a.calls, 1)
	assert.Equal(t, uint64(0), *a.calls[0].StartBlockID)
	assert.Equal(t, uint64(2), *a.calls[0].EndBlockID)
	require.Len(t, b.calls, 1)
	assert.Equal(t, uint64(3), *b.calls[0].StartBlockID)
	assert.Equal(t, uint64(5), *b.calls[0].EndBlockID)

	// 全部分片成功后 Manifest 也被删除
	_, err := owner.manifests.GetByName(t.Context(), objectName)
	assert.True(t, errors.Is(err, manifest.ErrNotFound))
	assert.Equal(t, 0, owner.ManifestIndex().Len())
}

func TestDelete_FailureOnFirstShardStops(t *testing.T) {
	c := newTestCluster(t, 1)
	owner := c.nodes[0]

	var order []string
	a := c.addFakeShard(1, &order, true)
	b := c.addFakeShard(2, &order, false)
	seedManifest(t, owner, a.prefix, b.prefix)

	var resp *command.Response
	c.callAsync(owner.Prefix(), command.VerbDelete, &command.Parameter{Name: objectName.String()}, time.Minute,
		func(r *command.Response) { resp = r })

	// A 在请求生存期内没有回复
	c.sched.Advance(owner.cfg.InterestLifetime + time.Second)
	require.NotNil(t, resp)
	assert.Equal(t, types.StatusFailed, resp.StatusCode)
	assert.Equal(t, []string{a.prefix.String()}, order)
	assert.Empty(t, b.calls, "nothing is sent to B after A fails")
	assert.Equal(t, 0, owner.deletes.Len())

	// Manifest 保留
	_, err := owner.manifests.GetByName(t.Context(), objectName)
	assert.NoError(t, err)
}

func TestDelete_PartialRangeKeepsManifest(t *testing.T) {
	c := newTestCluster(t, 1)
	owner := c.nodes[0]

	var order []string
	a := c.addFakeShard(1, &order, false)
	b := c.addFakeShard(2, &order, false)
	seedManifest(t, owner, a.prefix, b.prefix)

	resp := c.call(owner.Prefix(), command.VerbDelete, &command.Parameter{
		Name:         objectName.String(),
		StartBlockID: u64(4),
		EndBlockID:   u64(5),
	})
	assert.Equal(t, types.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{b.prefix.String()}, order)
	assert.Equal(t, uint64(4), *b.calls[0].StartBlockID)

	_, err := owner.manifests.GetByName(t.Context(), objectName)
	assert.NoError(t, err)
}

func TestDelete_UnknownObject(t *testing.T) {
	c := newTestCluster(t, 1)
	resp := c.call(c.nodes[0].Prefix(), command.VerbDelete, &command.Parameter{Name: "/missing"})
	assert.Equal(t, types.StatusNotFound, resp.StatusCode)
}

func TestDelete_LocalShardEndToEnd(t *testing.T) {
	c := newTestCluster(t, 1)
	node := c.nodes[0]
	c.serveObject(objectName, 4, true)

	ins := c.call(node.Prefix(), command.VerbInsert, segmentedInsert(objectName, 0, u64(4)))
	require.Equal(t, types.StatusAccepted, ins.StatusCode)
	require.Equal(t, 5, node.repo.Index().Len())

	resp := c.call(node.Prefix(), command.VerbDelete, &command.Parameter{Name: objectName.String()})
	assert.Equal(t, types.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(5), resp.DeleteNum)
	assert.Equal(t, 0, node.repo.Index().Len())
	assert.Equal(t, 0, node.ManifestIndex().Len())
}

func TestDeleteData_CountsRemovedSegments(t *testing.T) {
	c := newTestCluster(t, 1)
	node := c.nodes[0]
	c.serveObject(objectName, 4, true)
	c.call(node.Prefix(), command.VerbInsert, segmentedInsert(objectName, 0, u64(4)))

	// 范围超出实际存在的分段，只统计真正删除的
	resp := c.call(node.Prefix(), command.VerbDeleteData, &command.Parameter{
		Name:         objectName.String(),
		StartBlockID: u64(3),
		EndBlockID:   u64(1 << 40),
		ProcessID:    u64(9),
	})
	assert.Equal(t, types.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(2), resp.DeleteNum)
	assert.Equal(t, types.ProcessID(9), resp.ProcessID)
	assert.Equal(t, 3, node.repo.Index().Len())
}

func TestDeletionPlan(t *testing.T) {
	m := core.NewManifest(objectName)
	require.NoError(t, m.AddShard(core.Shard{Name: "/a", Start: 0, End: 2}))
	require.NoError(t, m.AddShard(core.Shard{Name: "/b", Start: 3, End: 5}))

	shards, whole := deletionPlan(m, nil, nil)
	assert.True(t, whole)
	assert.Len(t, shards, 2)

	shards, whole = deletionPlan(m, u64(1), u64(3))
	assert.False(t, whole)
	assert.Equal(t, []core.Shard{{Name: "/a", Start: 1, End: 2}, {Name: "/b", Start: 3, End: 3}}, shards)

	shards, whole = deletionPlan(m, u64(0), u64(10))
	assert.True(t, whole)
	assert.Len(t, shards, 2)
}

func TestDelete_SinglePacketObject(t *testing.T) {
	c := newTestCluster(t, 1)
	node := c.nodes[0]
	c.serveObject(objectName, 0, false)

	ins := c.call(node.Prefix(), command.VerbInsert, &command.Parameter{
		Name:           objectName.String(),
		ForwardingHint: producerName.String(),
	})
	require.Equal(t, types.StatusAccepted, ins.StatusCode)

	// 单包对象得到一个未分片的 Manifest，记录保存它的成员
	m, err := node.manifests.GetByName(t.Context(), objectName)
	require.NoError(t, err)
	assert.True(t, m.IsSinglePacket())
	assert.Equal(t, node.Prefix().String(), m.Holder)

	get := c.call(node.Prefix(), command.VerbGet, &command.Parameter{Name: objectName.String()})
	assert.Equal(t, types.StatusOK, get.StatusCode)

	resp := c.call(node.Prefix(), command.VerbDelete, &command.Parameter{Name: objectName.String()})
	assert.Equal(t, types.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), resp.DeleteNum)
	assert.False(t, node.repo.HasData(objectName))

	_, err = node.manifests.GetByName(t.Context(), objectName)
	assert.True(t, errors.Is(err, manifest.ErrNotFound))
	assert.Equal(t, 0, node.ManifestIndex().Len())
}

func TestDelete_SinglePacketOnAnotherMember(t *testing.T) {
	c := newTestCluster(t, 2)
	c.serveObject(objectName, 0, false)

	var owner, holder *Node
	for _, node := range c.nodes {
		if node.Prefix().Equal(c.router.ManifestOwner(objectName)) {
			owner = node
		} else {
			holder = node
		}
	}
	require.NotNil(t, owner)
	require.NotNil(t, holder)

	c.call(holder.Prefix(), command.VerbInsert, &command.Parameter{
		Name:           objectName.String(),
		ForwardingHint: producerName.String(),
	})
	c.sched.Drain()
	require.True(t, holder.repo.HasData(objectName))

	m, err := owner.manifests.GetByName(t.Context(), objectName)
	require.NoError(t, err)
	assert.Equal(t, holder.Prefix().String(), m.Holder)

	// 经由保存数据的节点发起删除，归属节点再回头删除数据包
	resp := c.call(holder.Prefix(), command.VerbDelete, &command.Parameter{Name: objectName.String()})
	assert.Equal(t, types.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), resp.DeleteNum)
	assert.False(t, holder.repo.HasData(objectName))
	assert.Equal(t, 0, owner.ManifestIndex().Len())
}

func TestDeletionPlan_Unsharded(t *testing.T) {
	m := core.NewManifest(objectName)
	require.NoError(t, m.SetSinglePacket("/a"))

	shards, whole := deletionPlan(m, nil, nil)
	assert.Empty(t, shards)
	assert.True(t, whole)

	_, whole = deletionPlan(m, u64(0), u64(0))
	assert.True(t, whole)

	_, whole = deletionPlan(m, u64(1), u64(3))
	assert.False(t, whole)
}

func TestDeleteData_ExactPacket(t *testing.T) {
	c := newTestCluster(t, 1)
	node := c.nodes[0]
	d, err := core.NewData(objectName, []byte("x"), nil)
	require.NoError(t, err)
	_, err = node.repo.InsertData(t.Context(), d)
	require.NoError(t, err)

	resp := c.call(node.Prefix(), command.VerbDeleteData, &command.Parameter{Name: objectName.String()})
	assert.Equal(t, types.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), resp.DeleteNum)
	assert.False(t, node.repo.HasData(objectName))

	resp = c.call(node.Prefix(), command.VerbDeleteData, &command.Parameter{Name: objectName.String()})
	assert.Equal(t, uint64(0), resp.DeleteNum)
}

// ownerAndFront 返回两节点集群里 objectName 的归属节点和另一个节点
func (c *testCluster) ownerAndFront() (*Node, *Node) {
	c.t.Helper()
	owner, front := c.nodes[0], c.nodes[1]
	if !owner.Prefix().Equal(c.router.ManifestOwner(objectName)) {
		owner, front = front, owner
	}
	return owner, front
}

func TestDelete_CheckThroughFrontNode(t *testing.T) {
	c := newTestCluster(t, 2)
	owner, front := c.ownerAndFront()

	var order []string
	a := c.addFakeShard(2, &order, true)
	b := c.addFakeShard(3, &order, false)
	seedManifest(t, owner, a.prefix, b.prefix)

	var resp *command.Response
	c.callAsync(front.Prefix(), command.VerbDelete, &command.Parameter{Name: objectName.String(), ProcessID: u64(77)}, time.Minute,
		func(r *command.Response) { resp = r })
	c.sched.Drain()
	require.Nil(t, resp, "the delete is still waiting on shard A")

	// 归属节点使用同一个 ID，经由前端节点查询得到它的状态
	_, ok := owner.deletes.Get(types.ProcessID(77))
	require.True(t, ok)
	check := c.call(front.Prefix(), command.VerbCheck, &command.Parameter{ProcessID: u64(77)})
	assert.Equal(t, types.StatusInProgress, check.StatusCode)
	assert.Equal(t, types.ProcessID(77), check.ProcessID)

	// 前端节点上同一个 ID 不能再用
	dup := c.call(front.Prefix(), command.VerbDelete, &command.Parameter{Name: objectName.String(), ProcessID: u64(77)})
	assert.Equal(t, types.StatusConflict, dup.StatusCode)

	c.sched.Advance(owner.cfg.InterestLifetime + time.Second)
	require.NotNil(t, resp)
	assert.Equal(t, types.StatusFailed, resp.StatusCode)
}

func TestDelete_CompletedCheckThroughFrontNode(t *testing.T) {
	c := newTestCluster(t, 2)
	owner, front := c.ownerAndFront()

	var order []string
	a := c.addFakeShard(2, &order, false)
	b := c.addFakeShard(3, &order, false)
	seedManifest(t, owner, a.prefix, b.prefix)

	resp := c.call(front.Prefix(), command.VerbDelete, &command.Parameter{Name: objectName.String()})
	require.Equal(t, types.StatusOK, resp.StatusCode)
	require.NotZero(t, resp.ProcessID)

	check := c.call(front.Prefix(), command.VerbCheck, &command.Parameter{ProcessID: u64(uint64(resp.ProcessID))})
	assert.Equal(t, types.StatusOK, check.StatusCode)
	assert.Equal(t, uint64(6), check.DeleteNum)

	// 宽限期过后两边都忘记这个会话
	c.sched.Advance(front.cfg.ProcessDeleteTime + time.Second)
	check = c.call(front.Prefix(), command.VerbCheck, &command.Parameter{ProcessID: u64(uint64(resp.ProcessID))})
	assert.Equal(t, types.StatusNotFound, check.StatusCode)
}

// Package process 维护长时间运行的插入/删除会话
package process

import (
	"math/rand/v2"
	"time"

	"ndnrepo/pkg/eventloop"
	"ndnrepo/pkg/types"
)

// Table 保存 ProcessID 到会话状态的映射
// 只能在所属的事件循环中访问
type Table[T any] struct {
	sched eventloop.Scheduler
	items map[types.ProcessID]*T
	rnd   func() uint64
}

func NewTable[T any](sched eventloop.Scheduler) *Table[T] {
	return &Table[T]{
		sched: sched,
		items: make(map[types.ProcessID]*T),
		rnd:   rand.Uint64,
	}
}

// Create 分配一个未被占用的随机 ID 并登记新会话
func (t *Table[T]) Create(v *T) types.ProcessID {
	for {
		id := types.ProcessID(t.rnd())
		if _, taken := t.items[id]; !taken {
			t.items[id] = v
			return id
		}
	}
}

// Put 以调用方指定的 ID 登记会话，ID 冲突时返回 false
func (t *Table[T]) Put(id types.ProcessID, v *T) bool {
	if _, taken := t.items[id]; taken {
		return false
	}
	t.items[id] = v
	return true
}

func (t *Table[T]) Get(id types.ProcessID) (*T, bool) {
	v, ok := t.items[id]
	return v, ok
}

// Remove 立即删除；之后针对这个 ID 的回调都会变成空操作
func (t *Table[T]) Remove(id types.ProcessID) {
	delete(t.items, id)
}

// DeferredRemove 在 delay 后删除会话，期间 check 仍然可以看到最终状态
// 只有届时表里还是同一个会话时才删除
func (t *Table[T]) DeferredRemove(id types.ProcessID, delay time.Duration) {
	v := t.items[id]
	t.sched.After(delay, func() {
		if cur, ok := t.items[id]; ok && cur == v {
			delete(t.items, id)
		}
	})
}

func (t *Table[T]) Len() int { return len(t.items) }

// IDs 返回当前所有的会话 ID (顺序不定)
func (t *Table[T]) IDs() []types.ProcessID {
	out := make([]types.ProcessID, 0, len(t.items))
	for id := range t.items {
		out = append(out, id)
	}
	return out
}

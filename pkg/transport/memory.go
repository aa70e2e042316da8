package transport

import (
	"sync"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/eventloop"
)

// Hub 是进程内的转发器，把多个 Face 连在一起 (测试与单机仿真使用)
type Hub struct {
	mu    sync.RWMutex
	faces []*Face

	// Drop 返回 true 的请求会被静默丢弃，用来模拟丢包
	Drop func(in Interest) bool
}

func NewHub() *Hub {
	return &Hub{}
}

// Face 是挂在 Hub 上的一个节点端口
type Face struct {
	hub       *Hub
	sched     eventloop.Scheduler
	listeners *listenerTable
}

var _ Transport = (*Face)(nil)

func (h *Hub) NewFace(sched eventloop.Scheduler) *Face {
	f := &Face{hub: h, sched: sched, listeners: newListenerTable()}
	h.mu.Lock()
	h.faces = append(h.faces, f)
	h.mu.Unlock()
	return f
}

func (f *Face) Listen(prefix core.Name, h Handler) (func(), error) {
	return f.listeners.add(prefix, h)
}

// route 在所有 Face 中做最长前缀匹配
func (h *Hub) route(name core.Name) (*Face, listener, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var (
		best     *Face
		bestL    listener
		bestSize = -1
	)
	for _, f := range h.faces {
		if l, ok := f.listeners.match(name); ok && l.prefix.Size() > bestSize {
			best, bestL, bestSize = f, l, l.prefix.Size()
		}
	}
	return best, bestL, best != nil
}

func (f *Face) Express(in Interest, onResponse ResponseFunc, onNack NackFunc, onTimeout TimeoutFunc) {
	// 所有状态只在请求方的事件循环里读写
	settled := false
	settle := func() bool {
		if settled {
			return false
		}
		settled = true
		return true
	}

	// 按提示选出目标 Face 后，在它内部按名字选处理器
	dst, l, ok := f.hub.route(in.routeName())
	if ok && len(in.Hint) > 0 {
		if byName, found := dst.listeners.match(in.Name); found {
			l = byName
		}
	}
	if !ok {
		f.sched.Post(func() {
			if settle() && onNack != nil {
				onNack(in, NackNoRoute)
			}
		})
		return
	}

	cancel := f.sched.After(in.lifetime(), func() {
		if settle() && onTimeout != nil {
			onTimeout(in)
		}
	})

	if drop := f.hub.Drop; drop != nil && drop(in) {
		return
	}

	reply := onceReply(func(content []byte) {
		f.sched.Post(func() {
			if settle() {
				cancel()
				if onResponse != nil {
					onResponse(in, content)
				}
			}
		})
	})
	dst.sched.Post(func() { l.handler(in, reply) })
}

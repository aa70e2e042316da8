// Package transport 定义节点之间请求/响应的传输契约，并提供内存和 gRPC 两种实现
package transport

import (
	"errors"
	"sync"
	"time"

	"ndnrepo/pkg/core"
)

var ErrPrefixConflict = errors.New("prefix already registered")

const (
	DefaultLifetime = 4 * time.Second

	// Nack 原因
	NackNoRoute     = "no-route"
	NackUnreachable = "unreachable"
)

// Interest 是一次请求
type Interest struct {
	Name     core.Name
	Payload  []byte        // 应用参数 (命令参数等)
	Lifetime time.Duration // 0 表示 DefaultLifetime
	Hint     core.Name     // 转发提示：非空时按它而不是 Name 选路
}

func (in Interest) lifetime() time.Duration {
	if in.Lifetime <= 0 {
		return DefaultLifetime
	}
	return in.Lifetime
}

// routeName 返回用于选路的名字
func (in Interest) routeName() core.Name {
	if len(in.Hint) > 0 {
		return in.Hint
	}
	return in.Name
}

// AddressHint 构造一个直接指向 gRPC 地址的转发提示 (/tcp/<host:port>)
// 用于路由表里没有登记的临时生产者
func AddressHint(addr string) core.Name {
	return core.Name{addrHintMarker, addr}
}

const addrHintMarker = "tcp"

func hintAddress(hint core.Name) (string, bool) {
	if hint.Size() == 2 && hint[0] == addrHintMarker {
		return hint[1], true
	}
	return "", false
}

type (
	ResponseFunc func(in Interest, content []byte)
	NackFunc     func(in Interest, reason string)
	TimeoutFunc  func(in Interest)
)

// Responder 用于回复一个入站请求，只有第一次调用生效
type Responder func(content []byte)

// Handler 处理某个前缀下的入站请求
// 不调用 reply 的请求会在请求方超时
type Handler func(in Interest, reply Responder)

// Transport 是处理器依赖的传输接口
// 回调总是在调用方的事件循环中执行，并且恰好执行三者之一
type Transport interface {
	Express(in Interest, onResponse ResponseFunc, onNack NackFunc, onTimeout TimeoutFunc)
	Listen(prefix core.Name, h Handler) (unlisten func(), err error)
}

// listenerTable 是最长前缀匹配的监听表
type listenerTable struct {
	mu      sync.RWMutex
	entries map[string]listener
}

type listener struct {
	prefix  core.Name
	handler Handler
}

func newListenerTable() *listenerTable {
	return &listenerTable{entries: make(map[string]listener)}
}

func (t *listenerTable) add(prefix core.Name, h Handler) (func(), error) {
	key := prefix.String()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; ok {
		return nil, ErrPrefixConflict
	}
	t.entries[key] = listener{prefix: prefix, handler: h}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.entries, key)
			t.mu.Unlock()
		})
	}, nil
}

// match 从最长的前缀开始查找
func (t *listenerTable) match(name core.Name) (listener, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for n := name.Size(); n >= 0; n-- {
		if l, ok := t.entries[name.Prefix(n).String()]; ok {
			return l, true
		}
	}
	return listener{}, false
}

// onceReply 保证一个请求至多被回复一次
func onceReply(fn func(content []byte)) Responder {
	var once sync.Once
	return func(content []byte) {
		once.Do(func() { fn(content) })
	}
}

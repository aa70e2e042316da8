// Package eventloop 提供单线程的事件循环
// 一个节点上的所有处理器、表格和引擎都只在同一个循环里被访问，因此不需要加锁
package eventloop

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler 是处理器依赖的最小调度接口
type Scheduler interface {
	// Post 把 fn 放到循环里执行 (总是异步)
	Post(fn func())
	// After 在 d 之后于循环内执行 fn，返回的函数可以取消它
	After(d time.Duration, fn func()) (cancel func())
	Now() time.Time
}

// Loop 是基于 channel 的真实事件循环
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

func New(queue int) *Loop {
	if queue <= 0 {
		queue = 1024
	}
	return &Loop{
		tasks: make(chan func(), queue),
		done:  make(chan struct{}),
	}
}

func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

func (l *Loop) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { t.Stop() }
}

func (l *Loop) Now() time.Time { return time.Now() }

// Run 阻塞执行任务，直到 ctx 结束
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// exec 单个任务 panic 不能拖垮整个节点
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event loop task panicked", "panic", r)
		}
	}()
	fn()
}

// Package fetch 实现分段拉取的信用窗口状态机
//
// Window 本身不做任何 I/O：调用方 (pkg/service) 把到达、超时、状态查询事件喂给它，
// 再根据返回的 Step 去发请求、重试或者结束会话。这样整个状态机可以脱离网络单独测试。
package fetch

import (
	"errors"
	"math"
	"time"
)

var (
	ErrNoEnd          = errors.New("no end segment determined in time")
	ErrRetryExhausted = errors.New("segment retry limit exhausted")
	ErrStalled        = errors.New("all requests settled but segments are missing")
)

// Config 是单个会话的窗口参数
type Config struct {
	Credit       int           `mapstructure:"credit" validate:"min=1"`
	RetryLimit   int           `mapstructure:"retry_limit" validate:"min=0"`
	NoEndTimeout time.Duration `mapstructure:"noend_timeout" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		Credit:       12,
		RetryLimit:   2,
		NoEndTimeout: 10 * time.Second,
	}
}

// Action 告诉驱动方下一步该做什么
type Action int

const (
	// Wait 不需要任何动作，等待下一个事件
	Wait Action = iota
	// Issue 为 Segment 发出新请求
	Issue
	// Retry 原样重发 Segment 的请求
	Retry
	// Complete 所有分段都已写入
	Complete
	// Fail 会话终止，原因在 Err 中
	Fail
)

func (a Action) String() string {
	switch a {
	case Wait:
		return "wait"
	case Issue:
		return "issue"
	case Retry:
		return "retry"
	case Complete:
		return "complete"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

type Step struct {
	Action  Action
	Segment uint64
	Err     error
}

// Window 记录一个分段会话的全部流控状态
type Window struct {
	cfg Config

	start uint64
	end   *uint64

	credit   int
	next     uint64
	pending  []uint64
	inflight map[uint64]int // 分段号 -> 已重试次数
	inserted uint64
	deadline time.Time
	done     bool
}

// NewWindow 初始化窗口并返回首批需要发出的分段
func NewWindow(cfg Config, start uint64, end *uint64, now time.Time) (*Window, []uint64) {
	w := &Window{
		cfg:      cfg,
		start:    start,
		inflight: make(map[uint64]int),
	}

	// 1. 确定初始窗口：不超过剩余范围 (终点未知时以最大分段号为界)
	initial := max(cfg.Credit, 1)
	last := uint64(math.MaxUint64)
	if end != nil {
		e := *end
		w.end = &e
		last = e
	} else {
		w.deadline = now.Add(cfg.NoEndTimeout)
	}
	// 用差值比较，避免 last-start+1 在整个分段空间上溢出
	if last-start < uint64(initial-1) {
		initial = int(last-start) + 1
	}
	w.credit = initial

	// 2. 每个信用发一个请求
	first := make([]uint64, 0, initial)
	for i := 0; i < initial; i++ {
		seg := start + uint64(i)
		w.inflight[seg] = 0
		w.credit--
		first = append(first, seg)
	}

	// 3. 下一个尚未发出的分段进入待发队列
	if top := start + uint64(initial-1); top < last {
		w.next = top + 1
		w.pending = append(w.pending, w.next)
	}
	return w, first
}

// OnArrival 处理一个分段的响应
// final 是响应携带的最终分段号，stored 表示分段是否成功写入存储
func (w *Window) OnArrival(seg uint64, final *uint64, stored bool, now time.Time) Step {
	if w.done {
		return Step{Action: Wait}
	}
	// 不在途的分段 (重复或过期的响应) 不能释放信用
	if _, ok := w.inflight[seg]; !ok {
		return Step{Action: Wait}
	}
	delete(w.inflight, seg)
	w.credit++

	// 终点只会收窄不会放宽
	if final != nil && *final >= w.start {
		if w.end == nil || *final < *w.end {
			f := *final
			w.end = &f
			w.trimPending()
		}
	}
	if stored && (w.end == nil || seg <= *w.end) {
		w.inserted++
	}
	return w.advance(now)
}

// OnTimeout 处理一个分段请求超时 (Nack 也按超时处理)
func (w *Window) OnTimeout(seg uint64, now time.Time) Step {
	if w.done {
		return Step{Action: Wait}
	}
	count, ok := w.inflight[seg]
	if !ok {
		return Step{Action: Wait}
	}

	// 终点收窄后，超出范围的请求直接放弃并归还信用
	if w.end != nil && seg > *w.end {
		delete(w.inflight, seg)
		w.credit++
		return w.advance(now)
	}

	if count >= w.cfg.RetryLimit {
		w.done = true
		return Step{Action: Fail, Segment: seg, Err: ErrRetryExhausted}
	}
	w.inflight[seg] = count + 1
	return Step{Action: Retry, Segment: seg}
}

// OnCheck 在状态查询时调用：终点未知则顺延截止时间
// 返回 false 表示截止时间已经过了，会话应判定失败
func (w *Window) OnCheck(now time.Time) bool {
	if w.done || w.end != nil {
		return true
	}
	if now.After(w.deadline) {
		w.done = true
		return false
	}
	w.deadline = now.Add(w.cfg.NoEndTimeout)
	return true
}

// advance 依次检查截止时间、完成条件和信用，决定是否发出下一个分段
func (w *Window) advance(now time.Time) Step {
	// 1. 终点未知且已超时
	if w.end == nil && now.After(w.deadline) {
		w.done = true
		return Step{Action: Fail, Err: ErrNoEnd}
	}

	// 2. 全部写入
	if w.end != nil && w.inserted > *w.end-w.start {
		w.done = true
		return Step{Action: Complete}
	}

	// 3. 没有信用或没有待发分段
	if w.credit == 0 || len(w.pending) == 0 {
		return w.checkStalled()
	}

	// 4. 取出下一个待发分段
	seg := w.pending[0]
	w.pending = w.pending[1:]
	if w.end != nil && seg > *w.end {
		return w.checkStalled()
	}
	w.inflight[seg] = 0
	w.credit--
	last := uint64(math.MaxUint64)
	if w.end != nil {
		last = *w.end
	}
	if seg < last {
		w.next = seg + 1
		w.pending = append(w.pending, w.next)
	}
	return Step{Action: Issue, Segment: seg}
}

// checkStalled 终点已知、没有在途请求、也没有可发的分段，但仍有缺失
// 这种情况只会在存储写入失败后出现，继续等待不会有任何进展
func (w *Window) checkStalled() Step {
	if w.end != nil && len(w.inflight) == 0 && len(w.pending) == 0 {
		w.done = true
		return Step{Action: Fail, Err: ErrStalled}
	}
	return Step{Action: Wait}
}

func (w *Window) trimPending() {
	kept := w.pending[:0]
	for _, seg := range w.pending {
		if seg <= *w.end {
			kept = append(kept, seg)
		}
	}
	w.pending = kept
}

func (w *Window) Start() uint64       { return w.start }
func (w *Window) Credit() int         { return w.credit }
func (w *Window) Outstanding() int    { return len(w.inflight) }
func (w *Window) Inserted() uint64    { return w.inserted }
func (w *Window) Deadline() time.Time { return w.deadline }
func (w *Window) Done() bool          { return w.done }

func (w *Window) InFlight(seg uint64) bool {
	_, ok := w.inflight[seg]
	return ok
}

// End 返回当前已知的终点 (未知时为 nil)
func (w *Window) End() *uint64 {
	if w.end == nil {
		return nil
	}
	e := *w.end
	return &e
}

// Retries 返回某个在途分段已经重试的次数
func (w *Window) Retries(seg uint64) int { return w.inflight[seg] }

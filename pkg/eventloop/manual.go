package eventloop

import (
	"sort"
	"time"
)

// Manual 是虚拟时钟调度器，只在调用 Drain/Advance 时执行任务
// 测试和仿真用它来精确控制超时
type Manual struct {
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    uint64
}

type manualTimer struct {
	at       time.Time
	seq      uint64
	fn       func()
	canceled bool
}

func NewManual() *Manual {
	return &Manual{now: time.Unix(1_700_000_000, 0)}
}

func (m *Manual) Post(fn func()) { m.queue = append(m.queue, fn) }

func (m *Manual) After(d time.Duration, fn func()) func() {
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return func() { t.canceled = true }
}

func (m *Manual) Now() time.Time { return m.now }

// Drain 执行所有已就绪的任务 (包括执行过程中新投递的)
func (m *Manual) Drain() {
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
	}
}

// Advance 推进虚拟时钟，并按到期顺序触发定时器
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	m.Drain()
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.at
		t.fn()
		m.Drain()
	}
	m.now = target
}

// Pending 返回尚未触发且未取消的定时器数量
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.canceled {
			n++
		}
	}
	return n
}

func (m *Manual) nextDue(target time.Time) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.canceled {
			live = append(live, t)
		}
	}
	m.timers = live
	if len(m.timers) == 0 {
		return nil
	}
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	t := m.timers[0]
	if t.at.After(target) {
		return nil
	}
	m.timers = m.timers[1:]
	return t
}

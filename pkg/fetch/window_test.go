package fetch

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func u64(v uint64) *uint64 { return &v }

func cfg(credit, retries int) Config {
	return Config{Credit: credit, RetryLimit: retries, NoEndTimeout: 10 * time.Second}
}

// checkCredit 验证信用守恒
func checkCredit(t *testing.T, w *Window, limit int) {
	t.Helper()
	assert.GreaterOrEqual(t, w.Credit(), 0)
	assert.LessOrEqual(t, w.Credit()+w.Outstanding(), limit)
}

func TestWindow_InitCapsToRange(t *testing.T) {
	w, first := NewWindow(cfg(12, 2), 0, u64(4), t0)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, first)
	assert.Equal(t, 0, w.Credit())
	assert.Equal(t, 5, w.Outstanding())

	w, first = NewWindow(cfg(3, 2), 10, nil, t0)
	assert.Equal(t, []uint64{10, 11, 12}, first)
	assert.Equal(t, t0.Add(10*time.Second), w.Deadline())
	assert.Nil(t, w.End())
}

func TestWindow_CompletesKnownRange(t *testing.T) {
	w, first := NewWindow(cfg(2, 2), 0, u64(4), t0)
	require.Equal(t, []uint64{0, 1}, first)

	outstanding := append([]uint64(nil), first...)
	for len(outstanding) > 0 {
		// 倒序响应，检验乱序到达
		seg := outstanding[len(outstanding)-1]
		outstanding = outstanding[:len(outstanding)-1]

		step := w.OnArrival(seg, nil, true, t0)
		checkCredit(t, w, 2)
		switch step.Action {
		case Issue:
			outstanding = append(outstanding, step.Segment)
		case Complete:
			assert.Empty(t, outstanding)
		case Wait:
		default:
			t.Fatalf("unexpected step %v", step.Action)
		}
	}
	assert.True(t, w.Done())
	assert.Equal(t, uint64(5), w.Inserted())
}

func TestWindow_LearnsEndFromFinalBlock(t *testing.T) {
	w, first := NewWindow(cfg(3, 2), 0, nil, t0)
	require.Equal(t, []uint64{0, 1, 2}, first)

	// 第一个响应就告知终点为 1，分段 2 超出范围
	step := w.OnArrival(0, u64(1), true, t0)
	assert.Equal(t, Wait, step.Action)
	assert.Equal(t, uint64(1), *w.End())

	// 超出终点的请求超时后直接归还信用
	step = w.OnTimeout(2, t0)
	assert.Equal(t, Wait, step.Action)
	assert.False(t, w.InFlight(2))

	step = w.OnArrival(1, u64(1), true, t0)
	assert.Equal(t, Complete, step.Action)
	assert.Equal(t, uint64(2), w.Inserted())
}

func TestWindow_EndOnlyNarrows(t *testing.T) {
	w, _ := NewWindow(cfg(4, 2), 0, nil, t0)
	w.OnArrival(0, u64(9), true, t0)
	w.OnArrival(1, u64(2), true, t0)
	w.OnArrival(2, u64(7), true, t0)
	assert.Equal(t, uint64(2), *w.End())
	assert.True(t, w.Done())
}

func TestWindow_RetryExhaustion(t *testing.T) {
	w, _ := NewWindow(cfg(2, 2), 0, u64(9), t0)

	for i := 1; i <= 2; i++ {
		step := w.OnTimeout(1, t0)
		require.Equal(t, Retry, step.Action)
		assert.Equal(t, uint64(1), step.Segment)
		assert.Equal(t, i, w.Retries(1))
	}

	step := w.OnTimeout(1, t0)
	assert.Equal(t, Fail, step.Action)
	assert.ErrorIs(t, step.Err, ErrRetryExhausted)

	// 失败后的任何事件都不再产生请求
	assert.Equal(t, Wait, w.OnArrival(0, nil, true, t0).Action)
	assert.Equal(t, Wait, w.OnTimeout(0, t0).Action)
}

func TestWindow_NoEndDeadline(t *testing.T) {
	w, _ := NewWindow(cfg(2, 5), 0, nil, t0)

	step := w.OnArrival(0, nil, true, t0.Add(time.Second))
	require.Equal(t, Issue, step.Action)
	assert.Equal(t, uint64(2), step.Segment)

	step = w.OnArrival(1, nil, true, t0.Add(11*time.Second))
	assert.Equal(t, Fail, step.Action)
	assert.ErrorIs(t, step.Err, ErrNoEnd)
	assert.Equal(t, Wait, w.OnArrival(2, nil, true, t0.Add(12*time.Second)).Action)
}

func TestWindow_CheckExtendsDeadline(t *testing.T) {
	w, _ := NewWindow(cfg(1, 5), 0, nil, t0)

	require.True(t, w.OnCheck(t0.Add(8*time.Second)))
	assert.Equal(t, t0.Add(18*time.Second), w.Deadline())

	step := w.OnArrival(0, nil, true, t0.Add(15*time.Second))
	assert.Equal(t, Issue, step.Action)

	assert.False(t, w.OnCheck(t0.Add(19*time.Second)))
	assert.True(t, w.Done())
}

func TestWindow_IgnoresUnknownArrivals(t *testing.T) {
	w, _ := NewWindow(cfg(2, 2), 0, u64(9), t0)

	step := w.OnArrival(7, nil, true, t0)
	assert.Equal(t, Wait, step.Action)
	assert.Equal(t, 0, w.Credit())
	assert.Equal(t, uint64(0), w.Inserted())

	w.OnArrival(0, nil, true, t0)
	// 重复响应
	w.OnArrival(0, nil, true, t0)
	checkCredit(t, w, 2)
	assert.Equal(t, uint64(1), w.Inserted())
}

func TestWindow_StorageFailureStalls(t *testing.T) {
	w, _ := NewWindow(cfg(4, 2), 0, u64(1), t0)

	assert.Equal(t, Wait, w.OnArrival(0, nil, false, t0).Action)
	step := w.OnArrival(1, nil, true, t0)
	assert.Equal(t, Fail, step.Action)
	assert.ErrorIs(t, step.Err, ErrStalled)
	assert.Equal(t, uint64(1), w.Inserted())
}

func TestWindow_WholeSegmentSpace(t *testing.T) {
	// [0, MaxUint64] 的长度在 uint64 里放不下，窗口仍然按信用发出请求
	w, first := NewWindow(cfg(4, 2), 0, u64(math.MaxUint64), t0)
	assert.Equal(t, []uint64{0, 1, 2, 3}, first)
	assert.Equal(t, 0, w.Credit())
	assert.Equal(t, 4, w.Outstanding())

	step := w.OnArrival(0, nil, true, t0)
	assert.Equal(t, Step{Action: Issue, Segment: 4}, step)
	assert.False(t, w.Done(), "one stored segment does not complete the whole space")
	checkCredit(t, w, 4)

	// 生产者给出终点后照常完成
	assert.Equal(t, Wait, w.OnArrival(1, u64(2), true, t0).Action)
	assert.Equal(t, uint64(2), *w.End())
	assert.Equal(t, Complete, w.OnArrival(2, u64(2), true, t0).Action)
	assert.Equal(t, uint64(3), w.Inserted())
	assert.Equal(t, Wait, w.OnTimeout(3, t0).Action)
}

func TestWindow_TopOfSegmentSpace(t *testing.T) {
	top := uint64(math.MaxUint64)
	w, first := NewWindow(cfg(12, 2), top-1, u64(top), t0)
	assert.Equal(t, []uint64{top - 1, top}, first)
	assert.Equal(t, 0, w.Credit())

	assert.Equal(t, Wait, w.OnArrival(top, nil, true, t0).Action)
	assert.Equal(t, Complete, w.OnArrival(top-1, nil, true, t0).Action)

	// 终点未知时也不会越过最大分段号
	w, first = NewWindow(cfg(12, 2), top-2, nil, t0)
	assert.Equal(t, []uint64{top - 2, top - 1, top}, first)
	assert.Equal(t, Wait, w.OnArrival(top, nil, true, t0).Action)
	assert.Equal(t, 2, w.Outstanding())
}

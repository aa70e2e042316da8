package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsPostedTasksInOrder(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	got := make(chan int, 3)
	for i := range 3 {
		l.Post(func() { got <- i })
	}
	for i := range 3 {
		assert.Equal(t, i, <-got)
	}

	fired := make(chan struct{})
	l.After(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	l := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	l.Post(func() { panic("boom") })
	ok := make(chan struct{})
	l.Post(func() { close(ok) })

	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("loop died after panic")
	}
}

func TestManual_AdvanceFiresInOrder(t *testing.T) {
	m := NewManual()
	start := m.Now()
	var order []string

	m.After(2*time.Second, func() { order = append(order, "b") })
	m.After(time.Second, func() {
		order = append(order, "a")
		// 定时器内部投递的任务在同一轮推进中执行
		m.Post(func() { order = append(order, "a-post") })
	})
	cancel := m.After(1500*time.Millisecond, func() { order = append(order, "canceled") })
	cancel()

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a", "a-post"}, order)
	assert.Equal(t, 1, m.Pending())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "a-post", "b"}, order)
	assert.Equal(t, start.Add(2500*time.Millisecond), m.Now())
	assert.Zero(t, m.Pending())
}

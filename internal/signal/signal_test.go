package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next[T any](t *testing.T, s *Signal[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := s.Next(ctx)
	require.NoError(t, err)
	return v
}

// quiet asserts that nothing more arrives on s for a while
func quiet[T any](t *testing.T, s *Signal[T]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	v, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "unexpected value %v", v)
}

func TestCellSubscribeStartsFromCurrentValue(t *testing.T) {
	c := NewCell(7)
	defer c.Close()
	s := c.Subscribe()
	defer s.Close()

	assert.Equal(t, 7, next(t, s))

	c.Set(8)
	c.Set(9)
	assert.Equal(t, 8, next(t, s))
	assert.Equal(t, 9, next(t, s))
	assert.Equal(t, 9, c.Get())
	quiet(t, s)
}

func TestCellBroadcastsToIndependentSubscribers(t *testing.T) {
	c := NewCell("a")
	defer c.Close()
	s1 := c.Subscribe()
	s2 := c.Subscribe()
	defer s1.Close()
	defer s2.Close()

	c.Set("b")
	c.Set("c")

	for _, s := range []*Signal[string]{s1, s2} {
		assert.Equal(t, "a", next(t, s))
		assert.Equal(t, "b", next(t, s))
		assert.Equal(t, "c", next(t, s))
	}
}

func TestCellPreservesOrderUnderConcurrentReaders(t *testing.T) {
	c := NewCell(0)
	defer c.Close()
	s := c.Subscribe()
	defer s.Close()

	const n = 1000
	var wg sync.WaitGroup
	wg.Add(1)
	got := make([]int, 0, n+1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for len(got) < n+1 {
			v, err := s.Next(ctx)
			if err != nil {
				return
			}
			got = append(got, v)
		}
	}()

	for i := 1; i <= n; i++ {
		c.Set(i)
	}
	wg.Wait()

	require.Len(t, got, n+1)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSetAllUpdatesGroupTogether(t *testing.T) {
	g := NewGroup()
	a, b := NewGroupCell(g, 1), NewGroupCell(g, 2)
	defer a.Close()
	defer b.Close()
	sa, sb := a.Subscribe(), b.Subscribe()
	defer sa.Close()
	defer sb.Close()

	SetAll([]*Cell[int]{a, b}, []int{10, 20})

	assert.Equal(t, 10, a.Get())
	assert.Equal(t, 20, b.Get())
	assert.Equal(t, []int{1, 10}, []int{next(t, sa), next(t, sa)})
	assert.Equal(t, []int{2, 20}, []int{next(t, sb), next(t, sb)})
}

func TestSetAllRejectsMixedGroups(t *testing.T) {
	a, b := NewCell(1), NewCell(2)
	defer a.Close()
	defer b.Close()

	assert.Panics(t, func() { SetAll([]*Cell[int]{a, b}, []int{3, 4}) })
	assert.Panics(t, func() { SetAll([]*Cell[int]{a}, []int{3, 4}) })
	assert.Equal(t, 1, a.Get())
}

func TestSignalClose(t *testing.T) {
	c := NewCell(1)
	defer c.Close()
	s := c.Subscribe()
	require.Equal(t, 1, c.Subscribers())

	s.Close()
	s.Close()
	assert.Equal(t, 0, c.Subscribers())

	c.Set(2)
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCellCloseEndsSignals(t *testing.T) {
	c := NewCell(1)
	s := c.Subscribe()
	defer s.Close()
	require.Equal(t, 1, next(t, s))

	c.Close()
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	c.Set(2)
	assert.Equal(t, 2, c.Get())

	_, err = c.Subscribe().Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSignalNextHonoursContext(t *testing.T) {
	c := NewCell(1)
	defer c.Close()
	s := c.Subscribe()
	defer s.Close()
	next(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

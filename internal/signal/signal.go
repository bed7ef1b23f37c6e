package signal

import (
	"context"
	"errors"
	"sync"

	"github.com/bvkgo/topic"
)

// ErrClosed is returned by Next after the signal was closed
var ErrClosed = errors.New("signal closed")

// Signal is one subscriber's ordered, unbounded view of a value stream
type Signal[T any] struct {
	recv    *topic.Receiver[T]
	ch      <-chan T
	onClose func()
	once    sync.Once
}

func newSignal[T any](r *topic.Receiver[T], ch <-chan T, onClose func()) *Signal[T] {
	return &Signal[T]{recv: r, ch: ch, onClose: onClose}
}

func closedSignal[T any]() *Signal[T] {
	ch := make(chan T)
	close(ch)
	return &Signal[T]{ch: ch}
}

// Next blocks until a value is available, the signal is closed or ctx is
// done.
func (s *Signal[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, context.Cause(ctx)
	case v, ok := <-s.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	}
}

// TryNext returns the next value if one is ready to be received
func (s *Signal[T]) TryNext() (v T, ok bool) {
	select {
	case v, ok = <-s.ch:
		return v, ok
	default:
		return v, false
	}
}

// Close detaches the signal from its source. Values not yet received are
// dropped.
func (s *Signal[T]) Close() {
	s.once.Do(func() {
		if s.recv != nil {
			s.recv.Unsubscribe()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
}

package signal

import (
	"context"
	"reflect"

	"github.com/bvkgo/topic"
)

// Combine derives a signal from cells using combine-latest semantics: fn is
// called with the latest value of every input whenever at least one input
// changed, and its result is emitted on the returned signal.
//
// The returned run function drives the combination and must be called
// exactly once; it blocks until ctx is done, then releases the input
// subscriptions and closes the signal. Updates that arrive before run gets
// to them are collapsed, so a burst of sets produces one emission computed
// from the final values, and a SetAll is never observed partially. The
// first emission carries the values the cells held when run started.
func Combine[T, R any](fn func([]T) R, cells ...*Cell[T]) (*Signal[R], func(context.Context)) {
	out := topic.New[R]()
	r, ch, err := out.Subscribe(0, false)
	if err != nil {
		out.Close()
		return closedSignal[R](), func(context.Context) {}
	}
	sig := newSignal(r, ch, nil)

	inputs := make([]*Signal[T], 0, len(cells))
	for _, c := range cells {
		in, err := c.subscribe(false)
		if err != nil {
			// A closed cell never changes again; its value is still read.
			continue
		}
		inputs = append(inputs, in)
	}

	run := func(ctx context.Context) {
		defer out.Close()
		defer func() {
			for _, in := range inputs {
				in.Close()
			}
		}()
		runCombine(ctx, fn, cells, inputs, out)
	}
	return sig, run
}

func runCombine[T, R any](ctx context.Context, fn func([]T) R, cells []*Cell[T], inputs []*Signal[T], out *topic.Topic[R]) {
	values := make([]T, len(cells))
	versions := make([]uint64, len(cells))
	seen := make([]uint64, len(cells))

	snapshot(cells, values, versions)
	copy(seen, versions)
	out.Send(fn(clone(values)))

	// Case 0 is ctx, case i+1 is inputs[i] and the last case is the default
	// used for polling. Closed inputs are disabled.
	all := make([]reflect.SelectCase, len(inputs)+2)
	all[0] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())}
	for i, in := range inputs {
		all[i+1] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(in.ch)}
	}
	all[len(all)-1] = reflect.SelectCase{Dir: reflect.SelectDefault}
	cases, poll := all[:len(all)-1], all
	open := len(inputs)

	for open > 0 {
		chosen, _, ok := reflect.Select(cases)
		if chosen == 0 {
			return
		}
		if !ok {
			cases[chosen].Chan = reflect.Value{}
			open--
			continue
		}

		// Drain whatever else is ready without blocking.
		for {
			chosen, _, ok := reflect.Select(poll)
			if chosen == len(poll)-1 {
				break
			}
			if chosen == 0 {
				return
			}
			if !ok {
				cases[chosen].Chan = reflect.Value{}
				open--
			}
		}

		snapshot(cells, values, versions)
		if !changed(seen, versions) {
			continue
		}
		copy(seen, versions)
		out.Send(fn(clone(values)))
	}

	<-ctx.Done()
}

func changed(seen, versions []uint64) bool {
	for i := range seen {
		if seen[i] != versions[i] {
			return true
		}
	}
	return false
}

func clone[T any](vs []T) []T {
	out := make([]T, len(vs))
	copy(out, vs)
	return out
}

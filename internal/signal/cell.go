// Package signal provides mutable cells whose updates are broadcast to any
// number of independent subscribers, and a combine-latest operator that
// derives a value from several cells.
//
// Every cell publishes its updates on a topic, so each subscriber gets an
// unbounded queue of its own and observes one cell's updates in the order
// they were set. Cells that change together share a Group: SetAll replaces
// several of them at once and Combine never observes half of such an update.
package signal

import (
	"sync"
	"sync/atomic"

	"github.com/bvkgo/topic"
)

// Group serialises updates and reads of the cells created in it
type Group struct {
	mu sync.Mutex
}

func NewGroup() *Group {
	return new(Group)
}

// Cell holds a single value of type T
type Cell[T any] struct {
	group   *Group
	value   T
	version uint64

	updates *topic.Topic[T]
	subs    atomic.Int32
}

// NewCell creates a cell holding initial in a group of its own
func NewCell[T any](initial T) *Cell[T] {
	return NewGroupCell(NewGroup(), initial)
}

// NewGroupCell creates a cell holding initial whose updates are serialised
// with the other cells of g
func NewGroupCell[T any](g *Group, initial T) *Cell[T] {
	c := &Cell[T]{
		group:   g,
		value:   initial,
		updates: topic.New[T](),
	}
	// Subscribers start from the most recent value sent on the topic.
	c.updates.Send(initial)
	return c
}

// Get returns the most recently set value
func (c *Cell[T]) Get() T {
	c.group.mu.Lock()
	defer c.group.mu.Unlock()
	return c.value
}

// Set replaces the value and broadcasts it to all current subscribers
func (c *Cell[T]) Set(v T) {
	c.group.mu.Lock()
	defer c.group.mu.Unlock()
	c.setLocked(v)
}

func (c *Cell[T]) setLocked(v T) {
	c.value = v
	c.version++
	c.updates.Send(v)
}

// SetAll replaces the values of cells of one group in a single update.
// cells[i] receives values[i]. It panics when the cells belong to
// different groups or the lengths differ.
func SetAll[T any](cells []*Cell[T], values []T) {
	if len(cells) != len(values) {
		panic("signal: SetAll length mismatch")
	}
	if len(cells) == 0 {
		return
	}

	g := cells[0].group
	for _, c := range cells[1:] {
		if c.group != g {
			panic("signal: SetAll across groups")
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for i, c := range cells {
		c.setLocked(values[i])
	}
}

// Subscribe returns a signal that yields the current value followed by every
// subsequent Set.
func (c *Cell[T]) Subscribe() *Signal[T] {
	s, err := c.subscribe(true)
	if err != nil {
		return closedSignal[T]()
	}
	return s
}

// Subscribers returns the number of open subscriptions
func (c *Cell[T]) Subscribers() int {
	return int(c.subs.Load())
}

// Close ends the cell's broadcast. Open signals are closed; Get and Set keep
// working without subscribers.
func (c *Cell[T]) Close() {
	c.updates.Close()
}

func (c *Cell[T]) subscribe(includeRecent bool) (*Signal[T], error) {
	r, ch, err := c.updates.Subscribe(0, includeRecent)
	if err != nil {
		return nil, err
	}
	c.subs.Add(1)
	return newSignal(r, ch, func() { c.subs.Add(-1) }), nil
}

// snapshot reads the values and versions of cells under their groups'
// locks. Cells of one group are read together.
func snapshot[T any](cells []*Cell[T], values []T, versions []uint64) {
	done := make([]bool, len(cells))
	for i, c := range cells {
		if done[i] {
			continue
		}
		g := c.group
		g.mu.Lock()
		for j := i; j < len(cells); j++ {
			if !done[j] && cells[j].group == g {
				values[j] = cells[j].value
				versions[j] = cells[j].version
				done[j] = true
			}
		}
		g.mu.Unlock()
	}
}

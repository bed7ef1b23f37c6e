package feed

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/devlongs/cyclearb/internal/pool"
)

// DispatchStats counts dispatched events
type DispatchStats struct {
	Pending   uint64
	Confirmed uint64
	Rejected  uint64
}

// Dispatcher applies events to a target and tracks the latest confirmed
// block
type Dispatcher struct {
	target Target

	latest    atomic.Uint64
	pending   atomic.Uint64
	confirmed atomic.Uint64
	rejected  atomic.Uint64
}

func NewDispatcher(target Target) *Dispatcher {
	return &Dispatcher{target: target}
}

// Dispatch applies one event
func (d *Dispatcher) Dispatch(ev Event) error {
	if err := d.target.Apply(ev); err != nil {
		d.rejected.Add(1)
		return err
	}

	if ev.State == pool.Pending {
		d.pending.Add(1)
		return nil
	}
	d.confirmed.Add(1)
	d.SetLatestBlock(ev.Block)
	return nil
}

// LatestBlock returns the highest confirmed block seen so far
func (d *Dispatcher) LatestBlock() uint64 {
	return d.latest.Load()
}

// SetLatestBlock raises the latest block; lower values are ignored
func (d *Dispatcher) SetLatestBlock(n uint64) {
	for {
		cur := d.latest.Load()
		if n <= cur || d.latest.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Pending:   d.pending.Load(),
		Confirmed: d.confirmed.Load(),
		Rejected:  d.rejected.Load(),
	}
}

// Run dispatches events until ctx is done or events is closed
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := d.Dispatch(ev); err != nil {
				log.Debug().
					Err(err).
					Str("pool", ev.Pool.Hex()).
					Str("state", ev.State.String()).
					Msg("Reserve event rejected")
			}
		}
	}
}

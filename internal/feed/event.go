// Package feed turns on-chain logs and mempool reserve frames into reserve
// events and applies them to the pools they name.
package feed

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devlongs/cyclearb/internal/pool"
	"github.com/devlongs/cyclearb/pkg/types"
)

// Event is one observed reserve state of a pool. A nil side leaves that
// reserve unchanged.
type Event struct {
	Pool  common.Address
	Left  *big.Int
	Right *big.Int
	State pool.State
	Block uint64
	RawTx []byte
}

// FromReserveUpdate converts a decoded on-chain log into a confirmed event
func FromReserveUpdate(u types.ReserveUpdate) Event {
	return Event{
		Pool:  u.Pool,
		Left:  u.Reserve0,
		Right: u.Reserve1,
		State: pool.Confirmed,
		Block: u.BlockNumber,
	}
}

// Target receives reserve events, usually the path registry
type Target interface {
	Apply(Event) error
}

// TargetFunc adapts a function to the Target interface
type TargetFunc func(Event) error

func (f TargetFunc) Apply(ev Event) error { return f(ev) }

// Source produces reserve events until ctx is done
type Source interface {
	Run(ctx context.Context, out chan<- Event) error
}

func send(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package pool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/devlongs/cyclearb/internal/signal"
	"github.com/devlongs/cyclearb/pkg/types"
)

// SequenceToken is a read-only, directional handle onto one side of a pool.
// It caches the side's token metadata and owns no mutable state.
type SequenceToken struct {
	pool  *Pool
	side  Side
	token types.Token
}

// NewSequenceToken returns the handle for one side of p
func NewSequenceToken(p *Pool, s Side) SequenceToken {
	return SequenceToken{
		pool:  p,
		side:  s,
		token: p.Token(s),
	}
}

// Pool returns the owning pool
func (t SequenceToken) Pool() *Pool { return t.pool }

// Side returns which side of the pool the handle views
func (t SequenceToken) Side() Side { return t.side }

// Token returns the cached token metadata
func (t SequenceToken) Token() types.Token { return t.token }

func (t SequenceToken) Symbol() string { return t.token.Symbol }

func (t SequenceToken) Decimals() uint8 { return t.token.Decimals }

func (t SequenceToken) Address() common.Address { return t.token.Address }

// SameAsset reports whether both handles refer to the same asset
func (t SequenceToken) SameAsset(o SequenceToken) bool {
	return t.token.SameAsset(o.token)
}

// Cell returns the observable raw reserve of this side
func (t SequenceToken) Cell(st State) *signal.Cell[decimal.Decimal] {
	return t.pool.Cell(t.side, st)
}

// Reserve returns the raw reserve in the token's smallest unit
func (t SequenceToken) Reserve(st State) decimal.Decimal {
	return t.pool.Reserve(t.side, st)
}

// Normalize converts a raw amount of this token into whole-token units
func (t SequenceToken) Normalize(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-int32(t.token.Decimals))
}

// Denormalize converts whole-token units into the token's smallest unit,
// truncating any fraction below one unit.
func (t SequenceToken) Denormalize(v decimal.Decimal) decimal.Decimal {
	return v.Shift(int32(t.token.Decimals)).Truncate(0)
}

func (t SequenceToken) String() string {
	return t.token.Symbol + "@" + t.pool.String()
}

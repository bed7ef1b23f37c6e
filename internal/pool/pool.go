// Package pool models two-sided liquidity pools whose pending and confirmed
// reserves are observable cells.
package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/devlongs/cyclearb/internal/signal"
	"github.com/devlongs/cyclearb/pkg/types"
)

// ErrNegativeReserve is returned when a reserve update carries a negative value
var ErrNegativeReserve = errors.New("negative reserve")

// Side selects one of the two tokens of a pool
type Side uint8

const (
	Left Side = iota
	Right
)

// Other returns the opposite side
func (s Side) Other() Side {
	if s == Left {
		return Right
	}
	return Left
}

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// State distinguishes mempool-observed reserves from block-confirmed ones
type State uint8

const (
	Pending State = iota
	Confirmed
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "confirmed"
}

type side struct {
	token     types.Token
	pending   *signal.Cell[decimal.Decimal]
	confirmed *signal.Cell[decimal.Decimal]
}

// Pool is one on-chain liquidity pool. Its identity, tokens and fee never
// change; only reserve values are replaced.
type Pool struct {
	address common.Address
	dex     string
	router  common.Address
	fee     Fee
	sides   [2]side

	mu         sync.Mutex
	pendingTxs [][]byte
}

// Config describes a pool at construction time
type Config struct {
	Address  common.Address
	DEX      string
	Router   common.Address
	Fee      Fee
	Token0   types.Token
	Token1   types.Token
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// New creates a pool whose pending and confirmed reserves both start at the
// given reserves.
func New(cfg Config) (*Pool, error) {
	r0, err := toReserve(cfg.Reserve0)
	if err != nil {
		return nil, fmt.Errorf("pool %s token0: %w", cfg.Address.Hex(), err)
	}
	r1, err := toReserve(cfg.Reserve1)
	if err != nil {
		return nil, fmt.Errorf("pool %s token1: %w", cfg.Address.Hex(), err)
	}

	fee := cfg.Fee
	if fee.Denominator == 0 {
		fee = DefaultFee
	}

	// One group per pool: an event replaces both reserves of a state at once.
	g := signal.NewGroup()
	p := &Pool{
		address: cfg.Address,
		dex:     cfg.DEX,
		router:  cfg.Router,
		fee:     fee,
	}
	p.sides[Left] = side{
		token:     cfg.Token0,
		pending:   signal.NewGroupCell(g, r0),
		confirmed: signal.NewGroupCell(g, r0),
	}
	p.sides[Right] = side{
		token:     cfg.Token1,
		pending:   signal.NewGroupCell(g, r1),
		confirmed: signal.NewGroupCell(g, r1),
	}
	return p, nil
}

// Address returns the pool contract address
func (p *Pool) Address() common.Address { return p.address }

// DEX returns the exchange identifier, e.g. "uniswap_v2"
func (p *Pool) DEX() string { return p.dex }

// Router returns the router used to trade against the pool
func (p *Pool) Router() common.Address { return p.router }

// Fee returns the swap fee
func (p *Pool) Fee() Fee { return p.fee }

// Token returns the token metadata of one side
func (p *Pool) Token(s Side) types.Token { return p.sides[s].token }

// Cell returns the observable reserve of one side in the given state
func (p *Pool) Cell(s Side, st State) *signal.Cell[decimal.Decimal] {
	if st == Pending {
		return p.sides[s].pending
	}
	return p.sides[s].confirmed
}

// Reserve returns the current raw reserve of one side
func (p *Pool) Reserve(s Side, st State) decimal.Decimal {
	return p.Cell(s, st).Get()
}

// SetReserve replaces one reserve and notifies its subscribers. Setting the
// current value is a no-op.
func (p *Pool) SetReserve(s Side, st State, v *big.Int) error {
	var vals [2]*big.Int
	vals[s] = v
	return p.set(st, vals)
}

// SetPending replaces the pending reserves. A nil value leaves that side
// unchanged.
func (p *Pool) SetPending(left, right *big.Int) error {
	return p.set(Pending, [2]*big.Int{left, right})
}

// SetConfirmed replaces the confirmed reserves. A nil value leaves that side
// unchanged.
func (p *Pool) SetConfirmed(left, right *big.Int) error {
	return p.set(Confirmed, [2]*big.Int{left, right})
}

// set replaces the non-nil reserves of st in one group update, so a
// combined view never sees the new left reserve with the old right one.
// Unchanged sides are skipped.
func (p *Pool) set(st State, vals [2]*big.Int) error {
	cells := make([]*signal.Cell[decimal.Decimal], 0, 2)
	next := make([]decimal.Decimal, 0, 2)
	for s, v := range vals {
		if v == nil {
			continue
		}
		r, err := toReserve(v)
		if err != nil {
			return fmt.Errorf("pool %s %s %s: %w", p.address.Hex(), st, Side(s), err)
		}
		if c := p.Cell(Side(s), st); !c.Get().Equal(r) {
			cells = append(cells, c)
			next = append(next, r)
		}
	}

	signal.SetAll(cells, next)
	return nil
}

// Close ends the reserve broadcasts of the pool
func (p *Pool) Close() {
	for _, sd := range p.sides {
		sd.pending.Close()
		sd.confirmed.Close()
	}
}

// AppendPendingTx queues a raw mempool transaction that touches the pool
func (p *Pool) AppendPendingTx(tx []byte) {
	cp := make([]byte, len(tx))
	copy(cp, tx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingTxs = append(p.pendingTxs, cp)
}

// PendingTxs returns a copy of the queued raw transactions
func (p *Pool) PendingTxs() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([][]byte, len(p.pendingTxs))
	copy(out, p.pendingTxs)
	return out
}

// ClearPendingTxs drops queued transactions, typically once a block confirms
func (p *Pool) ClearPendingTxs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingTxs = nil
}

// Record returns the pool's confirmed state in snapshot form
func (p *Pool) Record() types.PoolRecord {
	return types.PoolRecord{
		Address:        p.address,
		DEX:            p.dex,
		Router:         p.router,
		FeeNumerator:   p.fee.Numerator,
		FeeDenominator: p.fee.Denominator,
		Token0: types.TokenRecord{
			Token:   p.sides[Left].token,
			Reserve: p.Reserve(Left, Confirmed).String(),
		},
		Token1: types.TokenRecord{
			Token:   p.sides[Right].token,
			Reserve: p.Reserve(Right, Confirmed).String(),
		},
	}
}

// FromRecord builds a pool from its snapshot form
func FromRecord(rec types.PoolRecord) (*Pool, error) {
	r0, err := parseReserve(rec.Token0.Reserve)
	if err != nil {
		return nil, fmt.Errorf("pool %s token0: %w", rec.Address.Hex(), err)
	}
	r1, err := parseReserve(rec.Token1.Reserve)
	if err != nil {
		return nil, fmt.Errorf("pool %s token1: %w", rec.Address.Hex(), err)
	}

	return New(Config{
		Address:  rec.Address,
		DEX:      rec.DEX,
		Router:   rec.Router,
		Fee:      Fee{Numerator: rec.FeeNumerator, Denominator: rec.FeeDenominator},
		Token0:   rec.Token0.Token,
		Token1:   rec.Token1.Token,
		Reserve0: r0,
		Reserve1: r1,
	})
}

func (p *Pool) String() string {
	return fmt.Sprintf("%s(%s/%s)", p.address.Hex()[:10], p.sides[Left].token.Symbol, p.sides[Right].token.Symbol)
}

func parseReserve(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid reserve %q", s)
	}
	return v, nil
}

func toReserve(v *big.Int) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, nil
	}
	if v.Sign() < 0 {
		return decimal.Zero, ErrNegativeReserve
	}
	return decimal.NewFromBigInt(v, 0), nil
}

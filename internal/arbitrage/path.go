package arbitrage

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/devlongs/cyclearb/internal/pool"
)

// Slot positions of the canonical token order
const (
	SlotA1 = iota
	SlotB1
	SlotA2
	SlotB2
	SlotA3
	SlotB3
)

// Kind tags the shape of a path sequence
type Kind uint8

const (
	KindTwoCycle Kind = iota + 2
	KindThreeCycle
)

func (k Kind) String() string {
	switch k {
	case KindTwoCycle:
		return "two-cycle"
	case KindThreeCycle:
		return "three-cycle"
	}
	return "unknown"
}

// Sequence is the capability set shared by cyclic path variants. Only the
// three-pool cycle is implemented.
type Sequence interface {
	Kind() Kind
	Tokens() []pool.SequenceToken
	Pools() []*pool.Pool
	Index(st pool.State, precision int32) (decimal.Decimal, bool)
}

var _ Sequence = (*Path)(nil)

// Path is a canonical three-hop cycle. Tokens are ordered a1, b1, a2, b2,
// a3, b3 where leg i pairs ai with bi on pool i, and b1≡a2, b2≡a3, b3≡a1.
type Path struct {
	scenario Scenario
	pools    [3]*pool.Pool
	tokens   [6]pool.SequenceToken
}

func (p *Path) Kind() Kind { return KindThreeCycle }

// Scenario returns the orientation under which the path was canonicalized
func (p *Path) Scenario() Scenario { return p.scenario }

func (p *Path) Tokens() []pool.SequenceToken { return p.tokens[:] }

func (p *Path) Pools() []*pool.Pool { return p.pools[:] }

// Token returns the token in one canonical slot
func (p *Path) Token(slot int) pool.SequenceToken { return p.tokens[slot] }

// Closed reports whether consecutive legs share an asset and the last leg
// returns to the first asset.
func (p *Path) Closed() bool {
	t := p.tokens
	return t[SlotB1].SameAsset(t[SlotA2]) &&
		t[SlotB2].SameAsset(t[SlotA3]) &&
		t[SlotB3].SameAsset(t[SlotA1])
}

// Reserves returns the six reserves in slot order, normalized to whole-token
// units.
func (p *Path) Reserves(st pool.State) [6]decimal.Decimal {
	var out [6]decimal.Decimal
	for i, t := range p.tokens {
		out[i] = t.Normalize(t.Reserve(st))
	}
	return out
}

// Index returns the arbitrage index of the current reserves in state st
func (p *Path) Index(st pool.State, precision int32) (decimal.Decimal, bool) {
	return ArbIndex(p.Reserves(st), precision)
}

// Key identifies the path by its pool addresses in canonical order
func (p *Path) Key() string {
	return p.pools[0].Address().Hex() + "-" + p.pools[1].Address().Hex() + "-" + p.pools[2].Address().Hex()
}

// String renders the asset cycle, e.g. "USDT -> WETH -> DAI -> USDT"
func (p *Path) String() string {
	syms := []string{
		p.tokens[SlotA1].Symbol(),
		p.tokens[SlotB1].Symbol(),
		p.tokens[SlotB2].Symbol(),
		p.tokens[SlotB3].Symbol(),
	}
	return strings.Join(syms, " -> ")
}

// ArbIndex computes (a1/b1)·(a2/b2)·(a3/b3). The products are exact and a
// single division is rounded to precision digits. It reports false when a
// denominator reserve is zero.
func ArbIndex(r [6]decimal.Decimal, precision int32) (decimal.Decimal, bool) {
	num, den := indexTerms(r)
	if den.Sign() == 0 {
		return decimal.Zero, false
	}
	return num.DivRound(den, precision), true
}

// AboveThreshold reports whether the index of r is strictly greater than
// threshold, without rounding.
func AboveThreshold(r [6]decimal.Decimal, threshold decimal.Decimal) bool {
	num, den := indexTerms(r)
	if den.Sign() == 0 {
		return false
	}
	return num.GreaterThan(threshold.Mul(den))
}

func indexTerms(r [6]decimal.Decimal) (num, den decimal.Decimal) {
	num = r[SlotA1].Mul(r[SlotA2]).Mul(r[SlotA3])
	den = r[SlotB1].Mul(r[SlotB2]).Mul(r[SlotB3])
	return num, den
}

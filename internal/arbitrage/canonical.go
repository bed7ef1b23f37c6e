package arbitrage

import (
	"errors"
	"fmt"

	"github.com/devlongs/cyclearb/internal/pool"
)

// ErrAmbiguousScenario is returned when more than one cycle orientation
// matches a triple. It only happens for pools whose two legs are the same
// asset.
var ErrAmbiguousScenario = errors.New("more than one cycle scenario matches")

// Scenario identifies which leg of each pool links it to its neighbour.
//
// Bit 2 is the pool-1 leg shared with pool 2, bit 1 the pool-2 leg shared
// with pool 1 and bit 0 the pool-3 leg shared with pool 2. A clear bit means
// the left leg, a set bit the right leg.
type Scenario int8

const ScenarioNone Scenario = -1

const (
	ScenarioLLL Scenario = iota
	ScenarioLLR
	ScenarioLRL
	ScenarioLRR
	ScenarioRLL
	ScenarioRLR
	ScenarioRRL
	ScenarioRRR
)

func (s Scenario) String() string {
	if s < 0 || s > ScenarioRRR {
		return "none"
	}
	b := []byte("LLL")
	for i := 0; i < 3; i++ {
		if s&(1<<(2-i)) != 0 {
			b[i] = 'R'
		}
	}
	return string(b)
}

// scenarioTable selects the pool side for each canonical slot
// (a1, b1, a2, b2, a3, b3). Slot k reads pool k/2.
var scenarioTable = [8][6]pool.Side{
	ScenarioLLL: {pool.Right, pool.Left, pool.Left, pool.Right, pool.Left, pool.Right},
	ScenarioLLR: {pool.Right, pool.Left, pool.Left, pool.Right, pool.Right, pool.Left},
	ScenarioLRL: {pool.Right, pool.Left, pool.Right, pool.Left, pool.Left, pool.Right},
	ScenarioLRR: {pool.Right, pool.Left, pool.Right, pool.Left, pool.Right, pool.Left},
	ScenarioRLL: {pool.Left, pool.Right, pool.Left, pool.Right, pool.Left, pool.Right},
	ScenarioRLR: {pool.Left, pool.Right, pool.Left, pool.Right, pool.Right, pool.Left},
	ScenarioRRL: {pool.Left, pool.Right, pool.Right, pool.Left, pool.Left, pool.Right},
	ScenarioRRR: {pool.Left, pool.Right, pool.Right, pool.Left, pool.Right, pool.Left},
}

// legs holds the twelve pairwise leg equalities of a pool triple. aN is the
// left leg of pool N, bN the right leg.
type legs struct {
	a1a2, a1b2, b1a2, b1b2 bool
	a2a3, a2b3, b2a3, b2b3 bool
	a1a3, a1b3, b1a3, b1b3 bool
}

func compareLegs(p1, p2, p3 *pool.Pool) legs {
	a1, b1 := p1.Token(pool.Left), p1.Token(pool.Right)
	a2, b2 := p2.Token(pool.Left), p2.Token(pool.Right)
	a3, b3 := p3.Token(pool.Left), p3.Token(pool.Right)

	return legs{
		a1a2: a1.SameAsset(a2), a1b2: a1.SameAsset(b2), b1a2: b1.SameAsset(a2), b1b2: b1.SameAsset(b2),
		a2a3: a2.SameAsset(a3), a2b3: a2.SameAsset(b3), b2a3: b2.SameAsset(a3), b2b3: b2.SameAsset(b3),
		a1a3: a1.SameAsset(a3), a1b3: a1.SameAsset(b3), b1a3: b1.SameAsset(a3), b1b3: b1.SameAsset(b3),
	}
}

// scenarios evaluates the eight predicates. Each one links pool 1 to pool 2,
// pool 2 to pool 3 through the pool-2 leg not used by the first link, and
// closes pool 3 back onto the unused pool-1 leg.
func (l legs) scenarios() [8]bool {
	return [8]bool{
		ScenarioLLL: l.a1a2 && l.b2a3 && l.b1b3,
		ScenarioLLR: l.a1a2 && l.b2b3 && l.b1a3,
		ScenarioLRL: l.a1b2 && l.a2a3 && l.b1b3,
		ScenarioLRR: l.a1b2 && l.a2b3 && l.b1a3,
		ScenarioRLL: l.b1a2 && l.b2a3 && l.a1b3,
		ScenarioRLR: l.b1a2 && l.b2b3 && l.a1a3,
		ScenarioRRL: l.b1b2 && l.a2a3 && l.a1b3,
		ScenarioRRR: l.b1b2 && l.a2b3 && l.a1a3,
	}
}

// Classify returns the scenario under which the three pools form a closed
// cycle in the given order. ScenarioNone means they do not.
func Classify(p1, p2, p3 *pool.Pool) (Scenario, error) {
	fired := ScenarioNone
	for s, ok := range compareLegs(p1, p2, p3).scenarios() {
		if !ok {
			continue
		}
		if fired != ScenarioNone {
			return ScenarioNone, fmt.Errorf("%s, %s, %s: %w (%s and %s)", p1, p2, p3, ErrAmbiguousScenario, fired, Scenario(s))
		}
		fired = Scenario(s)
	}
	return fired, nil
}

// Canonicalize orders three pools into a three-hop cycle. It reports false
// when the pools do not form a cycle. Callers must not pass the same pool
// twice, and every pool is expected to have two distinct legs.
func Canonicalize(pools [3]*pool.Pool) (*Path, bool, error) {
	s, err := Classify(pools[0], pools[1], pools[2])
	if err != nil {
		return nil, false, err
	}
	if s == ScenarioNone {
		return nil, false, nil
	}

	p := &Path{
		scenario: s,
		pools:    pools,
	}
	for slot, side := range scenarioTable[s] {
		p.tokens[slot] = pool.NewSequenceToken(pools[slot/2], side)
	}
	return p, true, nil
}

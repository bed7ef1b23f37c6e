// Package registry owns the pool universe, discovers the three-pool cycles
// in it and runs one evaluator per cycle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/cyclearb/internal/arbitrage"
	"github.com/devlongs/cyclearb/internal/feed"
	"github.com/devlongs/cyclearb/internal/pool"
	"github.com/devlongs/cyclearb/internal/snapshot"
	"github.com/devlongs/cyclearb/pkg/types"
)

// ErrUnknownPool is returned when an event names a pool outside the registry
var ErrUnknownPool = errors.New("unknown pool")

var errAlreadyStarted = errors.New("registry already started")

// canonicalize is replaced in tests to observe the triples Build tries
var canonicalize = arbitrage.Canonicalize

// Config holds the settings shared by every evaluator
type Config struct {
	Evaluator arbitrage.Config
}

// Registry holds pools and the evaluators of the cycles between them
type Registry struct {
	cfg    Config
	pools  []*pool.Pool
	byAddr map[common.Address]*pool.Pool
	paths  []*arbitrage.Path

	mu         sync.Mutex
	started    bool
	evaluators []*arbitrage.Evaluator
}

// New indexes pools by address and discovers their cycles. Later pools with
// an address already seen are dropped.
func New(pools []*pool.Pool, cfg Config) *Registry {
	r := &Registry{
		cfg:    cfg,
		byAddr: make(map[common.Address]*pool.Pool, len(pools)),
	}
	for _, p := range pools {
		if _, ok := r.byAddr[p.Address()]; ok {
			log.Warn().Str("pool", p.Address().Hex()).Msg("Duplicate pool ignored")
			continue
		}
		r.byAddr[p.Address()] = p
		r.pools = append(r.pools, p)
	}
	r.paths = Build(r.pools)

	log.Info().
		Int("pools", len(r.pools)).
		Int("paths", len(r.paths)).
		Msg("Path registry built")
	return r
}

// FromSnapshot flattens the triples of a snapshot into distinct pools
func FromSnapshot(snap *snapshot.Snapshot) ([]*pool.Pool, error) {
	return FromTriples(snap.Triples)
}

// FromTriples builds one pool per distinct address in the triples
func FromTriples(triples []types.PoolTriple) ([]*pool.Pool, error) {
	seen := make(map[common.Address]bool)
	var pools []*pool.Pool
	for _, triple := range triples {
		for _, rec := range triple {
			if seen[rec.Address] {
				continue
			}
			seen[rec.Address] = true

			p, err := pool.FromRecord(rec)
			if err != nil {
				return nil, err
			}
			pools = append(pools, p)
		}
	}
	return pools, nil
}

// Build returns every three-pool cycle in pools. Only triples whose second
// and third pool share a token with the first and with each other are
// canonicalised. The result follows the order of pools.
func Build(pools []*pool.Pool) []*arbitrage.Path {
	nbrs := adjacency(pools)

	var paths []*arbitrage.Path
	for i := range pools {
		for _, j := range nbrs[i] {
			if j <= i {
				continue
			}
			for _, k := range intersect(nbrs[i], nbrs[j]) {
				if k <= j {
					continue
				}
				triple := [3]*pool.Pool{pools[i], pools[j], pools[k]}
				if duplicate(triple) {
					continue
				}

				p, ok, err := canonicalize(triple)
				if err != nil {
					log.Error().Err(err).Msg("Skipping pool triple")
					continue
				}
				if ok {
					paths = append(paths, p)
				}
			}
		}
	}
	return paths
}

// adjacency lists, for every pool, the sorted indices of the other pools
// sharing at least one token with it
func adjacency(pools []*pool.Pool) [][]int {
	byAsset := make(map[string][]int)
	for i, p := range pools {
		keys := [2]string{assetKey(p.Token(pool.Left)), assetKey(p.Token(pool.Right))}
		byAsset[keys[0]] = append(byAsset[keys[0]], i)
		if keys[1] != keys[0] {
			byAsset[keys[1]] = append(byAsset[keys[1]], i)
		}
	}

	nbrs := make([][]int, len(pools))
	for i, p := range pools {
		set := make(map[int]bool)
		for _, s := range []pool.Side{pool.Left, pool.Right} {
			for _, j := range byAsset[assetKey(p.Token(s))] {
				if j != i {
					set[j] = true
				}
			}
		}
		for j := range set {
			nbrs[i] = append(nbrs[i], j)
		}
		sort.Ints(nbrs[i])
	}
	return nbrs
}

func assetKey(t types.Token) string {
	if t.Address != (common.Address{}) {
		return t.Address.Hex()
	}
	return "symbol:" + t.Symbol
}

// intersect merges two sorted index lists
func intersect(a, b []int) []int {
	var out []int
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func duplicate(t [3]*pool.Pool) bool {
	a, b, c := t[0].Address(), t[1].Address(), t[2].Address()
	return a == b || b == c || a == c
}

// Start runs an evaluator for every path until ctx is done or Close is
// called
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errAlreadyStarted
	}
	r.started = true

	for _, p := range r.paths {
		e := arbitrage.NewEvaluator(p, r.cfg.Evaluator)
		if err := e.Start(ctx); err != nil {
			return fmt.Errorf("start evaluator %s: %w", p, err)
		}
		r.evaluators = append(r.evaluators, e)
	}

	log.Info().Int("evaluators", len(r.evaluators)).Msg("Path evaluators started")
	return nil
}

// Close stops every evaluator and ends the reserve broadcasts of the pools.
// Reserves can still be applied and read afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	evaluators := r.evaluators
	r.evaluators = nil
	r.mu.Unlock()

	for _, e := range evaluators {
		e.Close()
	}
	for _, p := range r.pools {
		p.Close()
	}
}

// Apply updates the reserves of the pool an event names. Pending events
// queue their raw transaction; confirmed events also reset the pending
// reserves to the confirmed state and drop queued transactions.
func (r *Registry) Apply(ev feed.Event) error {
	p, ok := r.byAddr[ev.Pool]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, ev.Pool.Hex())
	}

	switch ev.State {
	case pool.Pending:
		if err := p.SetPending(ev.Left, ev.Right); err != nil {
			return err
		}
		if len(ev.RawTx) > 0 {
			p.AppendPendingTx(ev.RawTx)
		}
	case pool.Confirmed:
		if err := p.SetConfirmed(ev.Left, ev.Right); err != nil {
			return err
		}
		p.ClearPendingTxs()
		if err := p.SetPending(ev.Left, ev.Right); err != nil {
			return err
		}
	}
	return nil
}

// Pool looks up a pool by address
func (r *Registry) Pool(addr common.Address) (*pool.Pool, bool) {
	p, ok := r.byAddr[addr]
	return p, ok
}

// Pools returns the pools in registration order
func (r *Registry) Pools() []*pool.Pool { return r.pools }

// Paths returns the discovered cycles
func (r *Registry) Paths() []*arbitrage.Path { return r.paths }

// Addresses returns the pool addresses, e.g. for a log filter
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, len(r.pools))
	for i, p := range r.pools {
		out[i] = p.Address()
	}
	return out
}

// Evaluators returns the running evaluators
func (r *Registry) Evaluators() []*arbitrage.Evaluator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*arbitrage.Evaluator, len(r.evaluators))
	copy(out, r.evaluators)
	return out
}

// Triples returns the pools of every path in canonical order, with their
// confirmed reserves
func (r *Registry) Triples() []types.PoolTriple {
	triples := make([]types.PoolTriple, len(r.paths))
	for i, p := range r.paths {
		for j, pl := range p.Pools() {
			triples[i][j] = pl.Record()
		}
	}
	return triples
}

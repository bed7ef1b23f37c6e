package registry

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/cyclearb/internal/arbitrage"
	"github.com/devlongs/cyclearb/internal/feed"
	"github.com/devlongs/cyclearb/internal/pool"
	"github.com/devlongs/cyclearb/internal/snapshot"
	"github.com/devlongs/cyclearb/pkg/types"
)

var (
	weth = types.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18}
	usdt = types.Token{Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Symbol: "USDT", Decimals: 6}
	dai  = types.Token{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Symbol: "DAI", Decimals: 18}
	wbtc = types.Token{Address: common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"), Symbol: "WBTC", Decimals: 8}
	link = types.Token{Address: common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA"), Symbol: "LINK", Decimals: 18}
	usdc = types.Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6}
)

func units(n int64, decimals uint8) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return exp.Mul(exp, big.NewInt(n))
}

func newPool(t *testing.T, id byte, t0, t1 types.Token, r0, r1 int64) *pool.Pool {
	t.Helper()
	p, err := pool.New(pool.Config{
		Address:  common.BytesToAddress([]byte{0xbb, id}),
		DEX:      "uniswap_v2",
		Token0:   t0,
		Token1:   t1,
		Reserve0: units(r0, t0.Decimals),
		Reserve1: units(r1, t1.Decimals),
	})
	require.NoError(t, err)
	return p
}

// universe holds the 1.10 triangle plus an unrelated pool
func universe(t *testing.T) []*pool.Pool {
	t.Helper()
	return []*pool.Pool{
		newPool(t, 1, weth, usdt, 1_000, 2_200_000),
		newPool(t, 2, wbtc, link, 10, 40_000),
		newPool(t, 3, weth, dai, 1_000, 2_000_000),
		newPool(t, 4, usdt, dai, 1_000_000, 1_000_000),
	}
}

// observeCanonicalize records every triple Build hands to Canonicalize
func observeCanonicalize(t *testing.T) *[][3]*pool.Pool {
	t.Helper()
	var seen [][3]*pool.Pool
	orig := canonicalize
	canonicalize = func(pools [3]*pool.Pool) (*arbitrage.Path, bool, error) {
		seen = append(seen, pools)
		return orig(pools)
	}
	t.Cleanup(func() { canonicalize = orig })
	return &seen
}

func TestBuildFindsTriangle(t *testing.T) {
	seen := observeCanonicalize(t)
	pools := universe(t)

	paths := Build(pools)
	require.Len(t, paths, 1)
	assert.True(t, paths[0].Closed())
	assert.Equal(t, "USDT -> WETH -> DAI -> USDT", paths[0].String())
	assert.Equal(t, []*pool.Pool{pools[0], pools[2], pools[3]}, paths[0].Pools())

	// The unrelated WBTC/LINK pool never reaches canonicalisation.
	require.Len(t, *seen, 1)
}

func TestBuildSkipsDisconnectedUniverse(t *testing.T) {
	seen := observeCanonicalize(t)
	pools := []*pool.Pool{
		newPool(t, 1, weth, usdt, 1, 1),
		newPool(t, 2, wbtc, link, 1, 1),
		newPool(t, 3, dai, usdc, 1, 1),
	}

	assert.Empty(t, Build(pools))
	assert.Empty(t, *seen)
}

func TestBuildSkipsParallelPools(t *testing.T) {
	pools := []*pool.Pool{
		newPool(t, 1, weth, usdt, 1_000, 2_000_000),
		newPool(t, 2, usdt, weth, 2_000_000, 1_000),
		newPool(t, 3, weth, usdt, 500, 1_000_000),
	}
	assert.Empty(t, Build(pools))
}

func TestBuildNeverCanonicalisesDuplicatePools(t *testing.T) {
	seen := observeCanonicalize(t)
	tri := universe(t)
	pools := []*pool.Pool{tri[0], tri[0], tri[2], tri[3]}

	paths := Build(pools)
	assert.Len(t, paths, 2)
	require.Len(t, *seen, 2)
	for _, triple := range *seen {
		assert.False(t, duplicate(triple), "duplicate triple %v", triple)
	}
}

func TestNewDropsDuplicateAddresses(t *testing.T) {
	pools := universe(t)
	r := New(append(pools, pools[0]), Config{})

	assert.Len(t, r.Pools(), 4)
	assert.Len(t, r.Paths(), 1)
	assert.Len(t, r.Addresses(), 4)

	p, ok := r.Pool(pools[2].Address())
	assert.True(t, ok)
	assert.Same(t, pools[2], p)
}

func TestApply(t *testing.T) {
	pools := universe(t)
	r := New(pools, Config{})
	addr := pools[0].Address()

	err := r.Apply(feed.Event{Pool: common.HexToAddress("0xdead"), State: pool.Pending, Left: big.NewInt(1)})
	assert.ErrorIs(t, err, ErrUnknownPool)

	require.NoError(t, r.Apply(feed.Event{
		Pool:  addr,
		State: pool.Pending,
		Right: units(2_000_000, 6),
		RawTx: []byte{0x01},
	}))
	assert.Equal(t, units(2_000_000, 6).String(), pools[0].Reserve(pool.Right, pool.Pending).String())
	assert.Equal(t, units(2_200_000, 6).String(), pools[0].Reserve(pool.Right, pool.Confirmed).String())
	assert.Equal(t, [][]byte{{0x01}}, pools[0].PendingTxs())

	require.NoError(t, r.Apply(feed.Event{
		Pool:  addr,
		State: pool.Confirmed,
		Left:  units(1_100, 18),
		Right: units(2_100_000, 6),
		Block: 42,
	}))
	for _, st := range []pool.State{pool.Pending, pool.Confirmed} {
		assert.Equal(t, units(1_100, 18).String(), pools[0].Reserve(pool.Left, st).String())
		assert.Equal(t, units(2_100_000, 6).String(), pools[0].Reserve(pool.Right, st).String())
	}
	assert.Empty(t, pools[0].PendingTxs())

	err = r.Apply(feed.Event{Pool: addr, State: pool.Pending, Left: big.NewInt(-1)})
	assert.ErrorIs(t, err, pool.ErrNegativeReserve)
}

// recomputations reads the evaluator recomputation counter for st
func recomputations(t *testing.T, reg *prometheus.Registry, st pool.State) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "arb_index_recomputations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "state" && l.GetValue() == st.String() {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRegistryEndToEnd(t *testing.T) {
	var calls atomic.Int32
	opt := arbitrage.OptimizerFunc(func(context.Context, arbitrage.Request) (*arbitrage.Result, error) {
		calls.Add(1)
		return nil, nil
	})

	reg := prometheus.NewRegistry()
	pools := universe(t)
	r := New(pools, Config{Evaluator: arbitrage.Config{Optimizer: opt, Metrics: arbitrage.NewMetrics(reg)}})
	require.NoError(t, r.Start(context.Background()))
	defer r.Close()
	assert.Error(t, r.Start(context.Background()))

	evs := r.Evaluators()
	require.Len(t, evs, 1)
	assert.Equal(t, arbitrage.Active, evs[0].State())

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	idx, ok := evs[0].Index(pool.Pending)
	require.True(t, ok)
	assert.True(t, idx.Equal(decimal.RequireFromString("1.1")), "index %s", idx)
	assert.Never(t, func() bool { return calls.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, float64(1), recomputations(t, reg, pool.Pending))

	// One two-sided event on one pool is exactly one more recomputation.
	require.NoError(t, r.Apply(feed.Event{
		Pool:  pools[0].Address(),
		Left:  units(1_000, weth.Decimals),
		Right: units(2_250_000, usdt.Decimals),
		State: pool.Pending,
	}))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, float64(2), recomputations(t, reg, pool.Pending))
	idx, ok = evs[0].Index(pool.Pending)
	require.True(t, ok)
	assert.True(t, idx.Equal(decimal.RequireFromString("1.125")), "index %s", idx)

	r.Close()
	assert.Equal(t, arbitrage.Stopped, evs[0].State())
	assert.Empty(t, r.Evaluators())
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := New(universe(t), Config{})
	triples := r.Triples()
	require.Len(t, triples, 1)

	pools, err := FromSnapshot(snapshot.New(1, append(triples, triples[0])))
	require.NoError(t, err)
	require.Len(t, pools, 3)

	again := New(pools, Config{})
	assert.Equal(t, triples, again.Triples())

	bad := triples[0]
	bad[1].Token0.Reserve = "not a number"
	_, err = FromTriples([]types.PoolTriple{bad})
	assert.Error(t, err)
}

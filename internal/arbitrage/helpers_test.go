package arbitrage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/cyclearb/internal/pool"
	"github.com/devlongs/cyclearb/pkg/types"
)

var (
	weth = types.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18}
	usdt = types.Token{Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Symbol: "USDT", Decimals: 6}
	dai  = types.Token{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Symbol: "DAI", Decimals: 18}
	usdc = types.Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6}
	wbtc = types.Token{Address: common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"), Symbol: "WBTC", Decimals: 8}
	link = types.Token{Address: common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA"), Symbol: "LINK", Decimals: 18}
)

var router = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")

// units returns n whole tokens in the smallest unit of a token with the
// given decimals.
func units(n int64, decimals uint8) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return exp.Mul(exp, big.NewInt(n))
}

func newPool(t *testing.T, id byte, t0, t1 types.Token, r0, r1 int64) *pool.Pool {
	t.Helper()
	p, err := pool.New(pool.Config{
		Address:  common.BytesToAddress([]byte{0xaa, id}),
		DEX:      "uniswap_v2",
		Router:   router,
		Token0:   t0,
		Token1:   t1,
		Reserve0: units(r0, t0.Decimals),
		Reserve1: units(r1, t1.Decimals),
	})
	require.NoError(t, err)
	return p
}

// trianglePools returns WETH/USDT, WETH/DAI and USDT/DAI pools whose
// arbitrage index is exactly 1.10.
func trianglePools(t *testing.T) [3]*pool.Pool {
	t.Helper()
	return [3]*pool.Pool{
		newPool(t, 1, weth, usdt, 1_000, 2_200_000),
		newPool(t, 2, weth, dai, 1_000, 2_000_000),
		newPool(t, 3, usdt, dai, 1_000_000, 1_000_000),
	}
}

func trianglePath(t *testing.T) *Path {
	t.Helper()
	p, ok, err := Canonicalize(trianglePools(t))
	require.NoError(t, err)
	require.True(t, ok)
	return p
}

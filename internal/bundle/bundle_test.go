package bundle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/cyclearb/pkg/types"
)

var (
	router    = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	recipient = common.HexToAddress("0x000000000000000000000000000000000000bEEF")
	usdt      = types.Token{Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Symbol: "USDT", Decimals: 6}
	dai       = types.Token{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Symbol: "DAI", Decimals: 18}
)

func testBundle() *Bundle {
	opp := &types.Opportunity{
		Type:        types.ArbitrageTypeCyclic,
		Path:        "USDT -> DAI -> USDT",
		Profit:      decimal.RequireFromString("1.5"),
		ProfitToken: usdt,
		TargetBlock: 100,
		Routes: []types.TradeRoute{
			{Router: router, TokenIn: usdt, TokenOut: dai, AmountIn: big.NewInt(1_000_000), AmountOut: big.NewInt(990_000_000_000_000_000)},
			{Router: router, TokenIn: dai, TokenOut: usdt, AmountIn: big.NewInt(990_000_000_000_000_000), AmountOut: big.NewInt(1_001_500)},
		},
	}
	return New(opp, [][]byte{{0x02, 0x01}})
}

func TestNewBundle(t *testing.T) {
	a, b := testBundle(), testBundle()
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, uint64(100), a.TargetBlock)
}

func TestBundleCalls(t *testing.T) {
	b := testBundle()
	calls, err := b.Calls(recipient, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	require.Len(t, calls, 2)

	for _, c := range calls {
		assert.Equal(t, router, c.To)
		// swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
		assert.Equal(t, "0x38ed1739", hexutil.Encode(c.Data[:4]))
	}
	assert.NotEqual(t, calls[0].Data, calls[1].Data)
}

type fakeCaller struct {
	method string
	args   []interface{}
	err    error
}

func (f *fakeCaller) CallContext(_ context.Context, _ interface{}, method string, args ...interface{}) error {
	f.method = method
	f.args = args
	return f.err
}

type fakeSigner struct{}

func (fakeSigner) Sign(_ context.Context, calls []Call, _ uint64) ([][]byte, error) {
	out := make([][]byte, len(calls))
	for i := range calls {
		out[i] = []byte{0xf0, byte(i)}
	}
	return out, nil
}

func TestRelaySubmitterSendsBundle(t *testing.T) {
	caller := &fakeCaller{}
	s := newRelaySubmitter(caller, RelayConfig{Recipient: recipient}, fakeSigner{})
	b := testBundle()

	require.NoError(t, s.Submit(context.Background(), b))
	assert.Equal(t, "eth_sendBundle", caller.method)
	require.Len(t, caller.args, 1)

	args := caller.args[0].(sendBundleArgs)
	assert.Equal(t, []string{"0x0201", "0xf000", "0xf001"}, args.Txs)
	assert.Equal(t, hexutil.Uint64(100), args.BlockNumber)
	assert.Equal(t, b.ID, args.ReplacementUUID)
}

func TestRelaySubmitterWithoutSigner(t *testing.T) {
	caller := &fakeCaller{}
	s := newRelaySubmitter(caller, RelayConfig{}, nil)

	assert.ErrorIs(t, s.Submit(context.Background(), testBundle()), ErrNoSigner)
	assert.Empty(t, caller.method)
}

func TestRelaySubmitterOpensBreaker(t *testing.T) {
	caller := &fakeCaller{err: errors.New("relay unavailable")}
	s := newRelaySubmitter(caller, RelayConfig{
		Breaker: BreakerConfig{Name: "relay", FailureThreshold: 2, Timeout: time.Hour},
	}, fakeSigner{})

	for i := 0; i < 2; i++ {
		err := s.Submit(context.Background(), testBundle())
		assert.ErrorIs(t, err, caller.err)
	}
	assert.Equal(t, BreakerOpen, s.Breaker().State())

	caller.method = ""
	assert.ErrorIs(t, s.Submit(context.Background(), testBundle()), ErrCircuitOpen)
	assert.Empty(t, caller.method)
}

func TestDryRunSubmitter(t *testing.T) {
	assert.NoError(t, DryRunSubmitter{Recipient: recipient}.Submit(context.Background(), testBundle()))
}

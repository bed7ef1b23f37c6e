package uniswapv3

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/cyclearb/internal/dex/erc20"
	"github.com/devlongs/cyclearb/internal/eth"
	"github.com/devlongs/cyclearb/pkg/types"
)

const Protocol = "uniswap_v3"

// Uniswap V3 Swap event signature
// event Swap(address indexed sender, address indexed recipient, int256 amount0, int256 amount1, uint160 sqrtPriceX96, uint128 liquidity, int24 tick)
var SwapEventSignature = common.HexToHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67")

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// Decoder turns Uniswap V3 swaps into virtual constant-product reserves
type Decoder struct {
	client eth.Caller

	mu        sync.RWMutex
	poolCache map[common.Address]*PoolInfo
}

// PoolInfo holds cached information about a V3 pool
type PoolInfo struct {
	Token0 common.Address
	Token1 common.Address
	Fee    uint32
}

// NewDecoder creates a new Uniswap V3 decoder
func NewDecoder(client eth.Caller) *Decoder {
	return &Decoder{
		client:    client,
		poolCache: make(map[common.Address]*PoolInfo),
	}
}

// VirtualReserves returns the constant-product reserves equivalent to the
// active liquidity range: x = L / sqrtP and y = L * sqrtP.
func VirtualReserves(sqrtPriceX96, liquidity *big.Int) (*big.Int, *big.Int) {
	if sqrtPriceX96.Sign() == 0 {
		return new(big.Int), new(big.Int)
	}
	x := new(big.Int).Lsh(liquidity, 96)
	x.Quo(x, sqrtPriceX96)
	y := new(big.Int).Mul(liquidity, sqrtPriceX96)
	y.Quo(y, q96)
	return x, y
}

// DecodeSwapLog decodes a V3 swap into the pool's virtual reserves after
// the swap.
func (d *Decoder) DecodeSwapLog(log ethtypes.Log) (*types.ReserveUpdate, error) {
	if len(log.Topics) < 3 {
		return nil, fmt.Errorf("invalid swap log: expected 3 topics, got %d", len(log.Topics))
	}
	if log.Topics[0] != SwapEventSignature {
		return nil, fmt.Errorf("not a Uniswap V3 swap event")
	}

	// amount0 (int256), amount1 (int256), sqrtPriceX96 (uint160), liquidity (uint128), tick (int24)
	if len(log.Data) < 160 {
		return nil, fmt.Errorf("invalid swap log data length: expected 160 bytes, got %d", len(log.Data))
	}

	sqrtPriceX96 := new(big.Int).SetBytes(log.Data[64:96])
	liquidity := new(big.Int).SetBytes(log.Data[96:128])
	r0, r1 := VirtualReserves(sqrtPriceX96, liquidity)

	return &types.ReserveUpdate{
		Pool:        log.Address,
		Protocol:    Protocol,
		Reserve0:    r0,
		Reserve1:    r1,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}, nil
}

// GetPoolInfo fetches and caches pool information
func (d *Decoder) GetPoolInfo(ctx context.Context, poolAddress common.Address) (*PoolInfo, error) {
	d.mu.RLock()
	info, ok := d.poolCache[poolAddress]
	d.mu.RUnlock()
	if ok {
		return info, nil
	}

	// token0() selector: 0x0dfe1681
	token0, err := d.call(ctx, poolAddress, "0dfe1681")
	if err != nil {
		return nil, fmt.Errorf("failed to get token0: %w", err)
	}
	// token1() selector: 0xd21220a7
	token1, err := d.call(ctx, poolAddress, "d21220a7")
	if err != nil {
		return nil, fmt.Errorf("failed to get token1: %w", err)
	}
	// fee() selector: 0xddca3f43
	fee, err := d.call(ctx, poolAddress, "ddca3f43")
	if err != nil {
		return nil, fmt.Errorf("failed to get fee: %w", err)
	}

	info = &PoolInfo{
		Token0: common.BytesToAddress(token0[12:32]),
		Token1: common.BytesToAddress(token1[12:32]),
		Fee:    uint32(new(big.Int).SetBytes(fee[:32]).Uint64()),
	}

	d.mu.Lock()
	d.poolCache[poolAddress] = info
	d.mu.Unlock()

	log.Debug().
		Str("pool", poolAddress.Hex()).
		Str("token0", info.Token0.Hex()).
		Str("token1", info.Token1.Hex()).
		Uint32("fee", info.Fee).
		Msg("Cached V3 pool info")

	return info, nil
}

// GetVirtualReserves reads slot0 and the active liquidity of a pool
func (d *Decoder) GetVirtualReserves(ctx context.Context, poolAddress common.Address) (*big.Int, *big.Int, error) {
	// slot0() selector: 0x3850c7bd
	slot0, err := d.call(ctx, poolAddress, "3850c7bd")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get slot0: %w", err)
	}
	// liquidity() selector: 0x1a686502
	liq, err := d.call(ctx, poolAddress, "1a686502")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get liquidity: %w", err)
	}

	r0, r1 := VirtualReserves(new(big.Int).SetBytes(slot0[:32]), new(big.Int).SetBytes(liq[:32]))
	return r0, r1, nil
}

// FetchPool reads a pool's tokens, fee tier and virtual reserves into a
// pool record traded through router.
func (d *Decoder) FetchPool(ctx context.Context, poolAddress, router common.Address) (*types.PoolRecord, error) {
	info, err := d.GetPoolInfo(ctx, poolAddress)
	if err != nil {
		return nil, err
	}
	t0, err := erc20.FetchToken(ctx, d.client, info.Token0)
	if err != nil {
		return nil, err
	}
	t1, err := erc20.FetchToken(ctx, d.client, info.Token1)
	if err != nil {
		return nil, err
	}
	r0, r1, err := d.GetVirtualReserves(ctx, poolAddress)
	if err != nil {
		return nil, err
	}

	return &types.PoolRecord{
		Address:        poolAddress,
		DEX:            Protocol,
		Router:         router,
		FeeNumerator:   info.Fee,
		FeeDenominator: 1_000_000,
		Token0:         types.TokenRecord{Token: t0, Reserve: r0.String()},
		Token1:         types.TokenRecord{Token: t1, Reserve: r1.String()},
	}, nil
}

func (d *Decoder) call(ctx context.Context, poolAddress common.Address, selector string) ([]byte, error) {
	msg := ethereum.CallMsg{
		To:   &poolAddress,
		Data: common.Hex2Bytes(selector),
	}

	result, err := d.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	if len(result) < 32 {
		return nil, fmt.Errorf("invalid response to %s", selector)
	}
	return result, nil
}

package uniswapv2

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/cyclearb/internal/dex/erc20"
	"github.com/devlongs/cyclearb/internal/eth"
	"github.com/devlongs/cyclearb/pkg/types"
)

const Protocol = "uniswap_v2"

// Sync event signature for reserve updates
// event Sync(uint112 reserve0, uint112 reserve1)
var SyncEventSignature = common.HexToHash("0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1")

// Decoder decodes Uniswap V2 reserve updates and reads pair state
type Decoder struct {
	client eth.Caller

	mu        sync.RWMutex
	poolCache map[common.Address]*PoolInfo
}

// PoolInfo holds cached information about a V2 pool
type PoolInfo struct {
	Token0 common.Address
	Token1 common.Address
}

// NewDecoder creates a new Uniswap V2 decoder
func NewDecoder(client eth.Caller) *Decoder {
	return &Decoder{
		client:    client,
		poolCache: make(map[common.Address]*PoolInfo),
	}
}

// DecodeSyncLog decodes a Sync log into the pair's new reserves
func (d *Decoder) DecodeSyncLog(log ethtypes.Log) (*types.ReserveUpdate, error) {
	if len(log.Topics) == 0 || log.Topics[0] != SyncEventSignature {
		return nil, fmt.Errorf("not a Uniswap V2 sync event")
	}
	if len(log.Data) < 64 {
		return nil, fmt.Errorf("invalid sync log data length: expected 64 bytes, got %d", len(log.Data))
	}

	return &types.ReserveUpdate{
		Pool:        log.Address,
		Protocol:    Protocol,
		Reserve0:    new(big.Int).SetBytes(log.Data[0:32]),
		Reserve1:    new(big.Int).SetBytes(log.Data[32:64]),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}, nil
}

// GetPoolInfo fetches and caches the pair's tokens
func (d *Decoder) GetPoolInfo(ctx context.Context, poolAddress common.Address) (*PoolInfo, error) {
	d.mu.RLock()
	info, ok := d.poolCache[poolAddress]
	d.mu.RUnlock()
	if ok {
		return info, nil
	}

	// token0() selector: 0x0dfe1681
	token0, err := d.callAddress(ctx, poolAddress, "0dfe1681")
	if err != nil {
		return nil, fmt.Errorf("failed to get token0: %w", err)
	}
	// token1() selector: 0xd21220a7
	token1, err := d.callAddress(ctx, poolAddress, "d21220a7")
	if err != nil {
		return nil, fmt.Errorf("failed to get token1: %w", err)
	}

	info = &PoolInfo{Token0: token0, Token1: token1}

	d.mu.Lock()
	d.poolCache[poolAddress] = info
	d.mu.Unlock()

	log.Debug().
		Str("pool", poolAddress.Hex()).
		Str("token0", token0.Hex()).
		Str("token1", token1.Hex()).
		Msg("Cached V2 pool info")

	return info, nil
}

func (d *Decoder) callAddress(ctx context.Context, poolAddress common.Address, selector string) (common.Address, error) {
	msg := ethereum.CallMsg{
		To:   &poolAddress,
		Data: common.Hex2Bytes(selector),
	}

	result, err := d.client.CallContract(ctx, msg, nil)
	if err != nil {
		return common.Address{}, err
	}
	if len(result) < 32 {
		return common.Address{}, fmt.Errorf("invalid response to %s", selector)
	}
	return common.BytesToAddress(result[12:32]), nil
}

// GetReserves fetches current reserves from a V2 pool
func (d *Decoder) GetReserves(ctx context.Context, poolAddress common.Address) (*big.Int, *big.Int, error) {
	// getReserves() selector: 0x0902f1ac
	msg := ethereum.CallMsg{
		To:   &poolAddress,
		Data: common.Hex2Bytes("0902f1ac"),
	}

	result, err := d.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(result) < 64 {
		return nil, nil, fmt.Errorf("invalid getReserves response")
	}

	return new(big.Int).SetBytes(result[0:32]), new(big.Int).SetBytes(result[32:64]), nil
}

// FetchPool reads a pair's tokens and reserves into a pool record traded
// through router.
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
	r0, r1, err := d.GetReserves(ctx, poolAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to get reserves of %s: %w", poolAddress.Hex(), err)
	}

	return &types.PoolRecord{
		Address:        poolAddress,
		DEX:            Protocol,
		Router:         router,
		FeeNumerator:   3,
		FeeDenominator: 1000,
		Token0:         types.TokenRecord{Token: t0, Reserve: r0.String()},
		Token1:         types.TokenRecord{Token: t1, Reserve: r1.String()},
	}, nil
}

const routerABI = `[{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}]`

var parseRouterABI = sync.OnceValues(func() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(routerABI))
})

// PackSwapExactTokensForTokens encodes a router swapExactTokensForTokens call
func PackSwapExactTokensForTokens(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	parsed, err := parseRouterABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack("swapExactTokensForTokens", amountIn, amountOutMin, path, to, deadline)
}

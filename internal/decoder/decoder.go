package decoder

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/cyclearb/internal/dex/uniswapv2"
	"github.com/devlongs/cyclearb/internal/dex/uniswapv3"
	"github.com/devlongs/cyclearb/internal/eth"
	"github.com/devlongs/cyclearb/pkg/types"
)

// ErrUnsupportedDEX is returned when a pool belongs to a disabled or
// unknown exchange
var ErrUnsupportedDEX = errors.New("unsupported dex")

// Decoder combines multiple DEX decoders
type Decoder struct {
	v2Decoder *uniswapv2.Decoder
	v3Decoder *uniswapv3.Decoder
}

// NewDecoder creates a unified decoder for all enabled DEXes
func NewDecoder(client eth.Caller, enableV2, enableV3 bool) *Decoder {
	d := &Decoder{}
	if enableV2 {
		d.v2Decoder = uniswapv2.NewDecoder(client)
	}
	if enableV3 {
		d.v3Decoder = uniswapv3.NewDecoder(client)
	}
	return d
}

// Topics returns the event signatures that carry reserve updates for the
// enabled DEXes
func (d *Decoder) Topics() []common.Hash {
	var topics []common.Hash
	if d.v2Decoder != nil {
		topics = append(topics, uniswapv2.SyncEventSignature)
	}
	if d.v3Decoder != nil {
		topics = append(topics, uniswapv3.SwapEventSignature)
	}
	return topics
}

// FilterQuery builds a log filter for reserve updates of the given pools
func (d *Decoder) FilterQuery(pools []common.Address) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: pools,
		Topics:    [][]common.Hash{d.Topics()},
	}
}

// DecodeLog decodes a reserve update based on its event signature. Logs of
// other events yield nil.
func (d *Decoder) DecodeLog(log ethtypes.Log) (*types.ReserveUpdate, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}

	switch log.Topics[0] {
	case uniswapv2.SyncEventSignature:
		if d.v2Decoder != nil {
			return d.v2Decoder.DecodeSyncLog(log)
		}
	case uniswapv3.SwapEventSignature:
		if d.v3Decoder != nil {
			return d.v3Decoder.DecodeSwapLog(log)
		}
	}

	return nil, nil
}

// DecodeLogs decodes a batch of logs in block and log order, skipping logs
// that fail to decode and those removed by a reorg
func (d *Decoder) DecodeLogs(logs []ethtypes.Log) []types.ReserveUpdate {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	var updates []types.ReserveUpdate
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		up, err := d.DecodeLog(lg)
		if err != nil {
			log.Debug().Err(err).Str("txHash", lg.TxHash.Hex()).Msg("Skipping undecodable log")
			continue
		}
		if up != nil {
			updates = append(updates, *up)
		}
	}
	return updates
}

// FetchPool reads a pool's current state from chain
func (d *Decoder) FetchPool(ctx context.Context, dex string, poolAddress, router common.Address) (*types.PoolRecord, error) {
	switch {
	case dex == uniswapv2.Protocol && d.v2Decoder != nil:
		return d.v2Decoder.FetchPool(ctx, poolAddress, router)
	case dex == uniswapv3.Protocol && d.v3Decoder != nil:
		return d.v3Decoder.FetchPool(ctx, poolAddress, router)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDEX, dex)
}

package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/cyclearb/internal/decoder"
	"github.com/devlongs/cyclearb/internal/eth"
	"github.com/devlongs/cyclearb/pkg/types"
)

const defaultReconnectDelay = 5 * time.Second

var errSubscriptionClosed = errors.New("subscription closed")

// logPos orders logs within the chain
type logPos struct {
	block uint64
	index uint
}

func (p logPos) after(q logPos) bool {
	return p.block > q.block || (p.block == q.block && p.index > q.index)
}

// LogSource streams confirmed reserve events decoded from Sync and Swap logs
// of a fixed set of pools. After every (re)subscription it fetches the logs
// emitted since the last one it delivered, so reconnects leave no gap.
type LogSource struct {
	sub            eth.LogSubscriber
	dec            *decoder.Decoder
	pools          []common.Address
	reconnectDelay time.Duration

	last logPos
}

func NewLogSource(sub eth.LogSubscriber, dec *decoder.Decoder, pools []common.Address, reconnectDelay time.Duration) *LogSource {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &LogSource{
		sub:            sub,
		dec:            dec,
		pools:          pools,
		reconnectDelay: reconnectDelay,
	}
}

// SetStartBlock marks every log up to and including block as already
// reflected in the pools' reserves
func (s *LogSource) SetStartBlock(block uint64) {
	s.last = logPos{block: block, index: ^uint(0)}
}

// Run subscribes to pool logs and resubscribes after failures until ctx is
// done
func (s *LogSource) Run(ctx context.Context, out chan<- Event) error {
	for {
		err := s.subscribe(ctx, out)
		if ctx.Err() != nil {
			return nil
		}

		log.Warn().
			Err(err).
			Dur("retryIn", s.reconnectDelay).
			Msg("Log subscription dropped")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *LogSource) subscribe(ctx context.Context, out chan<- Event) error {
	logs := make(chan ethtypes.Log, 256)
	sub, err := s.sub.SubscribeFilterLogs(ctx, s.dec.FilterQuery(s.pools), logs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to logs: %w", err)
	}
	defer sub.Unsubscribe()

	log.Info().Int("pools", len(s.pools)).Msg("Subscribed to pool logs")

	if err := s.backfill(ctx, out); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return errSubscriptionClosed
			}
			return err
		case lg := <-logs:
			if lg.Removed {
				continue
			}
			up, err := s.dec.DecodeLog(lg)
			if err != nil {
				log.Debug().Err(err).Str("txHash", lg.TxHash.Hex()).Msg("Skipping undecodable log")
				continue
			}
			if up == nil {
				continue
			}
			if err := s.deliver(ctx, out, *up); err != nil {
				return err
			}
		}
	}
}

// backfill delivers the logs emitted since the last delivered one. Live logs
// that overlap are dropped by deliver.
func (s *LogSource) backfill(ctx context.Context, out chan<- Event) error {
	if s.last.block == 0 {
		return nil
	}

	q := s.dec.FilterQuery(s.pools)
	q.FromBlock = new(big.Int).SetUint64(s.last.block)
	logs, err := s.sub.GetLogs(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to backfill logs: %w", err)
	}

	ups := s.dec.DecodeLogs(logs)
	for _, up := range ups {
		if err := s.deliver(ctx, out, up); err != nil {
			return err
		}
	}
	log.Debug().
		Uint64("fromBlock", s.last.block).
		Int("logs", len(ups)).
		Msg("Backfilled pool logs")
	return nil
}

func (s *LogSource) deliver(ctx context.Context, out chan<- Event, up types.ReserveUpdate) error {
	pos := logPos{block: up.BlockNumber, index: up.LogIndex}
	if !pos.after(s.last) {
		return nil
	}
	if err := send(ctx, out, FromReserveUpdate(up)); err != nil {
		return err
	}
	s.last = pos
	return nil
}

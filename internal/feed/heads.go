package feed

import (
	"context"
	"fmt"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/cyclearb/internal/eth"
)

// HeadTracker raises the dispatcher's latest block on every new header, so
// bundle targets stay current while the watched pools are quiet
type HeadTracker struct {
	sub            eth.HeadSubscriber
	blocks         *Dispatcher
	reconnectDelay time.Duration
}

func NewHeadTracker(sub eth.HeadSubscriber, blocks *Dispatcher, reconnectDelay time.Duration) *HeadTracker {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &HeadTracker{
		sub:            sub,
		blocks:         blocks,
		reconnectDelay: reconnectDelay,
	}
}

// Run follows new heads and resubscribes after failures until ctx is done
func (h *HeadTracker) Run(ctx context.Context) error {
	for {
		err := h.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}

		log.Warn().
			Err(err).
			Dur("retryIn", h.reconnectDelay).
			Msg("Head subscription dropped")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(h.reconnectDelay):
		}
	}
}

func (h *HeadTracker) follow(ctx context.Context) error {
	heads := make(chan *ethtypes.Header, 16)
	sub, err := h.sub.SubscribeNewHead(ctx, heads)
	if err != nil {
		return fmt.Errorf("failed to subscribe to heads: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return errSubscriptionClosed
			}
			return err
		case head := <-heads:
			if head == nil || head.Number == nil {
				continue
			}
			h.blocks.SetLatestBlock(head.Number.Uint64())
		}
	}
}

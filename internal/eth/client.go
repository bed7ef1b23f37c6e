package eth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/cyclearb/internal/config"
)

// Caller executes read-only contract calls
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// LogSubscriber streams contract logs matching a filter and fetches the
// ones a dropped subscription missed
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// HeadSubscriber streams new block headers
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Client wraps the Ethereum client with retry logic
type Client struct {
	client  *ethclient.Client
	cfg     config.RPCConfig
	chainID *big.Int
}

// NewClient connects to the node at cfg.URL, or cfg.WSUrl when set since
// log subscriptions need a websocket endpoint.
func NewClient(ctx context.Context, cfg config.RPCConfig) (*Client, error) {
	url := cfg.URL
	if cfg.WSUrl != "" {
		url = cfg.WSUrl
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}

	c := &Client{client: client, cfg: cfg}
	chainID, err := retry(ctx, c.cfg, "get chain ID", c.client.ChainID)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.chainID = chainID

	log.Info().
		Str("url", url).
		Str("chainID", chainID.String()).
		Msg("Connected to Ethereum node")

	return c, nil
}

// Close closes the client connection
func (c *Client) Close() {
	c.client.Close()
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// BlockNumber returns the latest block number with retry
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return retry(ctx, c.cfg, "get block number", c.client.BlockNumber)
}

// GetLogs fetches logs with the given filter with retry
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return retry(ctx, c.cfg, "get logs", func(ctx context.Context) ([]types.Log, error) {
		return c.client.FilterLogs(ctx, query)
	})
}

// CallContract executes a contract call with retry
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return retry(ctx, c.cfg, "call contract", func(ctx context.Context) ([]byte, error) {
		return c.client.CallContract(ctx, msg, blockNumber)
	})
}

// SubscribeFilterLogs streams logs matching q (requires WebSocket)
func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.client.SubscribeFilterLogs(ctx, q, ch)
}

// SubscribeNewHead subscribes to new block headers (requires WebSocket)
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.client.SubscribeNewHead(ctx, ch)
}

// retry runs fn up to cfg.RetryAttempts times, each attempt bounded by
// cfg.RequestTimeout.
func retry[T any](ctx context.Context, cfg config.RPCConfig, what string, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		callCtx := ctx
		var cancel context.CancelFunc = func() {}
		if cfg.RequestTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		}
		out, err = fn(callCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		if i == attempts-1 {
			break
		}

		log.Warn().Err(err).Int("attempt", i+1).Msgf("Failed to %s, retrying...", what)
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}

	return out, fmt.Errorf("failed to %s after %d attempts: %w", what, attempts, err)
}

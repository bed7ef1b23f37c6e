package bundle

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Signer turns router calls into signed raw transactions valid for the
// target block.
type Signer interface {
	Sign(ctx context.Context, calls []Call, targetBlock uint64) ([][]byte, error)
}

// RelayConfig configures a RelaySubmitter
type RelayConfig struct {
	URL               string
	RequestsPerSecond float64
	Burst             int
	Recipient         common.Address
	Deadline          time.Duration
	Breaker           BreakerConfig
}

type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

type sendBundleArgs struct {
	Txs             []string       `json:"txs"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	ReplacementUUID string         `json:"replacementUuid,omitempty"`
}

type sendBundleResult struct {
	BundleHash common.Hash `json:"bundleHash"`
}

// RelaySubmitter sends bundles to a builder relay with eth_sendBundle.
// Submissions are throttled and stop while the relay keeps failing.
type RelaySubmitter struct {
	cfg     RelayConfig
	caller  rpcCaller
	closer  func()
	signer  Signer
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// NewRelaySubmitter dials the relay. signer may be nil, in which case every
// submission fails with ErrNoSigner.
func NewRelaySubmitter(ctx context.Context, cfg RelayConfig, signer Signer) (*RelaySubmitter, error) {
	client, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("Connected to bundle relay")

	s := newRelaySubmitter(client, cfg, signer)
	s.closer = client.Close
	return s, nil
}

func newRelaySubmitter(caller rpcCaller, cfg RelayConfig, signer Signer) *RelaySubmitter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 2 * time.Minute
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = DefaultBreakerConfig("relay")
	}

	return &RelaySubmitter{
		cfg:     cfg,
		caller:  caller,
		signer:  signer,
		limiter: rate.NewLimiter(limit, burst),
		breaker: NewCircuitBreaker(cfg.Breaker),
	}
}

// Close releases the relay connection
func (s *RelaySubmitter) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// Breaker exposes the relay circuit breaker for monitoring
func (s *RelaySubmitter) Breaker() *CircuitBreaker { return s.breaker }

func (s *RelaySubmitter) Submit(ctx context.Context, b *Bundle) error {
	if s.signer == nil {
		return ErrNoSigner
	}
	if !s.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("relay rate limit: %w", err)
	}

	calls, err := b.Calls(s.cfg.Recipient, time.Now().Add(s.cfg.Deadline))
	if err != nil {
		return fmt.Errorf("failed to encode bundle %s: %w", b.ID, err)
	}
	signed, err := s.signer.Sign(ctx, calls, b.TargetBlock)
	if err != nil {
		return fmt.Errorf("failed to sign bundle %s: %w", b.ID, err)
	}

	args := sendBundleArgs{
		BlockNumber:     hexutil.Uint64(b.TargetBlock),
		ReplacementUUID: b.ID,
	}
	for _, tx := range b.Pending {
		args.Txs = append(args.Txs, hexutil.Encode(tx))
	}
	for _, tx := range signed {
		args.Txs = append(args.Txs, hexutil.Encode(tx))
	}

	var res sendBundleResult
	if err := s.caller.CallContext(ctx, &res, "eth_sendBundle", args); err != nil {
		s.breaker.RecordFailure()
		return fmt.Errorf("eth_sendBundle %s: %w", b.ID, err)
	}
	s.breaker.RecordSuccess()

	log.Info().
		Str("bundle", b.ID).
		Str("bundleHash", res.BundleHash.Hex()).
		Uint64("targetBlock", b.TargetBlock).
		Int("txs", len(args.Txs)).
		Msg("Bundle submitted")
	return nil
}

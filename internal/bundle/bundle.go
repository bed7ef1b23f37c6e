// Package bundle hands cyclic trades to block builders.
package bundle

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/cyclearb/internal/dex/uniswapv2"
	"github.com/devlongs/cyclearb/pkg/types"
)

// ErrNoSigner is returned by relay submission when no signer is configured
var ErrNoSigner = errors.New("no transaction signer configured")

// Bundle is an ordered set of transactions targeted at one block. Pending
// holds mempool transactions that must land before the swaps.
type Bundle struct {
	ID          string
	TargetBlock uint64
	Pending     [][]byte
	Opportunity *types.Opportunity
}

// New creates a bundle for opp. The target block is taken from the
// opportunity.
func New(opp *types.Opportunity, pending [][]byte) *Bundle {
	return &Bundle{
		ID:          uuid.NewString(),
		TargetBlock: opp.TargetBlock,
		Pending:     pending,
		Opportunity: opp,
	}
}

// Call is one unsigned router invocation
type Call struct {
	To   common.Address
	Data []byte
}

// Calls encodes every route of the bundle as a swapExactTokensForTokens
// call paying out to recipient.
func (b *Bundle) Calls(recipient common.Address, deadline time.Time) ([]Call, error) {
	routes := b.Opportunity.Routes
	calls := make([]Call, 0, len(routes))
	for _, r := range routes {
		data, err := uniswapv2.PackSwapExactTokensForTokens(
			r.AmountIn,
			r.AmountOut,
			[]common.Address{r.TokenIn.Address, r.TokenOut.Address},
			recipient,
			big.NewInt(deadline.Unix()),
		)
		if err != nil {
			return nil, err
		}
		calls = append(calls, Call{To: r.Router, Data: data})
	}
	return calls, nil
}

// Submitter delivers bundles to a block builder
type Submitter interface {
	Submit(ctx context.Context, b *Bundle) error
}

// SubmitterFunc adapts a function to the Submitter interface
type SubmitterFunc func(ctx context.Context, b *Bundle) error

func (f SubmitterFunc) Submit(ctx context.Context, b *Bundle) error {
	return f(ctx, b)
}

// DryRunSubmitter logs bundles instead of sending them
type DryRunSubmitter struct {
	Recipient common.Address
}

func (d DryRunSubmitter) Submit(_ context.Context, b *Bundle) error {
	calls, err := b.Calls(d.Recipient, time.Now().Add(time.Minute))
	if err != nil {
		return err
	}

	ev := log.Info().
		Str("bundle", b.ID).
		Uint64("targetBlock", b.TargetBlock).
		Int("pendingTxs", len(b.Pending)).
		Int("calls", len(calls))
	if opp := b.Opportunity; opp != nil {
		ev = ev.Str("path", opp.Path).
			Str("profit", opp.Profit.String()).
			Str("profitToken", opp.ProfitToken.Symbol)
	}
	ev.Msg("Dry-run bundle")
	return nil
}

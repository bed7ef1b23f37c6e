package arbitrage

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/devlongs/cyclearb/internal/pool"
	"github.com/devlongs/cyclearb/pkg/types"
)

var errBrokenRoute = errors.New("route is not a closed cycle")

// buildRoutes turns an optimizer result into the three swaps in execution
// order, with amounts in each token's smallest unit.
func buildRoutes(p *Path, res *Result) ([]types.TradeRoute, error) {
	legs := []struct {
		in, out pool.SequenceToken
		amtIn   decimal.Decimal
		amtOut  decimal.Decimal
	}{
		{p.Token(SlotB3), p.Token(SlotA3), res.DeltaA, res.DeltaB},
		{p.Token(SlotB2), p.Token(SlotA2), res.DeltaB, res.DeltaC},
		{p.Token(SlotB1), p.Token(SlotA1), res.DeltaC, res.DeltaAPrime},
	}

	routes := make([]types.TradeRoute, 0, len(legs))
	for _, l := range legs {
		in := l.in.Denormalize(l.amtIn)
		out := l.out.Denormalize(l.amtOut)
		if in.Sign() <= 0 || out.Sign() <= 0 {
			return nil, fmt.Errorf("leg %s -> %s on %s: amount below one unit", l.in.Symbol(), l.out.Symbol(), l.in.Pool())
		}
		routes = append(routes, types.TradeRoute{
			Pool:      l.in.Pool().Address(),
			Router:    l.in.Pool().Router(),
			TokenIn:   l.in.Token(),
			TokenOut:  l.out.Token(),
			AmountIn:  in.BigInt(),
			AmountOut: out.BigInt(),
		})
	}

	if err := verifyRoutes(routes); err != nil {
		return nil, err
	}
	return routes, nil
}

// verifyRoutes checks that every swap consumes the token produced by the
// previous one and that the last swap returns to the starting token.
func verifyRoutes(routes []types.TradeRoute) error {
	if len(routes) < 2 {
		return errBrokenRoute
	}

	first := routes[0].TokenIn
	last := routes[len(routes)-1].TokenOut
	if !first.SameAsset(last) {
		return fmt.Errorf("%w: starts with %s, ends with %s", errBrokenRoute, first.Symbol, last.Symbol)
	}

	for i := 0; i < len(routes)-1; i++ {
		if !routes[i].TokenOut.SameAsset(routes[i+1].TokenIn) {
			return fmt.Errorf("%w: hop %d yields %s, hop %d takes %s", errBrokenRoute, i, routes[i].TokenOut.Symbol, i+1, routes[i+1].TokenIn.Symbol)
		}
	}
	return nil
}

// collectPendingTxs gathers the queued mempool transactions of the pools,
// dropping duplicates.
func collectPendingTxs(pools []*pool.Pool) [][]byte {
	seen := make(map[string]struct{})
	var out [][]byte
	for _, p := range pools {
		for _, tx := range p.PendingTxs() {
			if _, ok := seen[string(tx)]; ok {
				continue
			}
			seen[string(tx)] = struct{}{}
			out = append(out, tx)
		}
	}
	return out
}

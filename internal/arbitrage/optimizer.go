package arbitrage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Request is the input of one optimization. Reserves are normalized and in
// slot order (a1, b1, a2, b2, a3, b3); Fees holds the input multiplier of
// each leg, e.g. 0.997.
type Request struct {
	Reserves [6]decimal.Decimal
	Fees     [3]decimal.Decimal
}

// Result describes the optimal trade around a cycle. DeltaA of asset a1 is
// sold, DeltaB and DeltaC are the intermediate amounts and DeltaAPrime is
// the amount of a1 received. Profit is DeltaAPrime - DeltaA.
type Result struct {
	DeltaA      decimal.Decimal
	DeltaB      decimal.Decimal
	DeltaC      decimal.Decimal
	DeltaAPrime decimal.Decimal
	Profit      decimal.Decimal
}

// Optimizer sizes a trade for a path. A nil result with a nil error means
// there is no profitable trade.
type Optimizer interface {
	Optimize(ctx context.Context, req Request) (*Result, error)
}

// OptimizerFunc adapts a function to the Optimizer interface
type OptimizerFunc func(ctx context.Context, req Request) (*Result, error)

func (f OptimizerFunc) Optimize(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

const defaultOptimizerPrecision = 32

// ClosedFormOptimizer solves the optimal input of a three-hop constant
// product cycle analytically.
//
// The index multiplies a_i/b_i, the marginal rate of swapping b_i into a_i,
// so the cycle it prices enters pool 3 with asset a1 on its b3 side, then
// swaps b2 into a2 and finally b1 into a1. The three hops are folded into
// one virtual pool (Ein, Eout) whose optimal input is
//
//	Δ = (sqrt(γ·Ein·Eout) - Ein) / γ
type ClosedFormOptimizer struct {
	// Precision is the number of decimal digits kept by divisions
	Precision int32
}

type hop struct {
	in, out decimal.Decimal
	fee     decimal.Decimal
}

func (h hop) amountOut(amountIn decimal.Decimal, prec int32) decimal.Decimal {
	in := amountIn.Mul(h.fee)
	return in.Mul(h.out).DivRound(h.in.Add(in), prec)
}

// then merges h with the following hop n into a single virtual pool
func (h hop) then(n hop, prec int32) hop {
	d := n.in.Add(n.fee.Mul(h.out))
	return hop{
		in:  h.in.Mul(n.in).DivRound(d, prec),
		out: n.fee.Mul(h.out).Mul(n.out).DivRound(d, prec),
		fee: h.fee,
	}
}

func (o ClosedFormOptimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prec := o.Precision
	if prec <= 0 {
		prec = defaultOptimizerPrecision
	}

	for i, fee := range req.Fees {
		if fee.Sign() <= 0 || fee.GreaterThan(decimal.New(1, 0)) {
			return nil, fmt.Errorf("leg %d: invalid fee multiplier %s", i+1, fee)
		}
	}
	r := req.Reserves
	for _, v := range r {
		if v.Sign() <= 0 {
			return nil, nil
		}
	}

	hops := [3]hop{
		{in: r[SlotB3], out: r[SlotA3], fee: req.Fees[2]},
		{in: r[SlotB2], out: r[SlotA2], fee: req.Fees[1]},
		{in: r[SlotB1], out: r[SlotA1], fee: req.Fees[0]},
	}
	v := hops[0].then(hops[1], prec).then(hops[2], prec)
	if v.in.Sign() <= 0 || v.out.Sign() <= 0 {
		return nil, nil
	}

	root, ok := sqrt(v.fee.Mul(v.in).Mul(v.out), prec)
	if !ok {
		return nil, nil
	}
	delta := root.Sub(v.in).DivRound(v.fee, prec)
	if delta.Sign() <= 0 {
		return nil, nil
	}

	var amounts [3]decimal.Decimal
	x := delta
	for i, h := range hops {
		x = h.amountOut(x, prec)
		amounts[i] = x
	}

	profit := amounts[2].Sub(delta)
	if profit.Sign() <= 0 {
		return nil, nil
	}

	return &Result{
		DeltaA:      delta,
		DeltaB:      amounts[0],
		DeltaC:      amounts[1],
		DeltaAPrime: amounts[2],
		Profit:      profit,
	}, nil
}

// sqrt returns the square root of v with prec fractional digits. It reports
// false for negative or non-finite input.
func sqrt(v decimal.Decimal, prec int32) (decimal.Decimal, bool) {
	if v.Sign() < 0 {
		return decimal.Zero, false
	}
	f, ok := new(big.Float).SetPrec(512).SetString(v.String())
	if !ok || f.IsInf() {
		return decimal.Zero, false
	}
	root := new(big.Float).SetPrec(512).Sqrt(f)
	d, err := decimal.NewFromString(root.Text('f', int(prec)))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

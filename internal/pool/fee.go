package pool

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultFee is the 0.3% fee charged by Uniswap V2 style pools
var DefaultFee = Fee{Numerator: 3, Denominator: 1000}

// Fee is an exact swap fee ratio
type Fee struct {
	Numerator   uint32
	Denominator uint32
}

// FeeFromTier converts a Uniswap V3 fee tier in hundredths of a bip (500,
// 3000, 10000) into a Fee.
func FeeFromTier(tier uint32) Fee {
	return Fee{Numerator: tier, Denominator: 1_000_000}
}

// Rate returns the fee as a decimal, e.g. 0.003
func (f Fee) Rate() decimal.Decimal {
	if f.Denominator == 0 {
		return decimal.Zero
	}
	return decimal.New(int64(f.Numerator), 0).DivRound(decimal.New(int64(f.Denominator), 0), 32)
}

// Multiplier returns the share of the input that reaches the pool, e.g. 0.997
func (f Fee) Multiplier() decimal.Decimal {
	return decimal.New(1, 0).Sub(f.Rate())
}

func (f Fee) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token represents an ERC20 token
type Token struct {
	Address  common.Address `json:"address" yaml:"address"`
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Name     string         `json:"name" yaml:"name"`
	Decimals uint8          `json:"decimals" yaml:"decimals"`
}

// SameAsset reports whether two tokens denote the same asset. Addresses are
// authoritative when both are set; symbols are compared otherwise.
func (t Token) SameAsset(o Token) bool {
	if t.Address != (common.Address{}) && o.Address != (common.Address{}) {
		return t.Address == o.Address
	}
	return t.Symbol == o.Symbol
}

// TokenRecord is a token together with its reserve as persisted in a pool
// snapshot. Reserve is a base-10 integer string in the token's smallest unit.
type TokenRecord struct {
	Token   `yaml:",inline"`
	Reserve string `json:"reserve" yaml:"reserve"`
}

// PoolRecord is the serialized form of one liquidity pool
type PoolRecord struct {
	Address        common.Address `json:"address" yaml:"address"`
	DEX            string         `json:"dex" yaml:"dex"`
	Router         common.Address `json:"router" yaml:"router"`
	FeeNumerator   uint32         `json:"feeNumerator" yaml:"feeNumerator"`
	FeeDenominator uint32         `json:"feeDenominator" yaml:"feeDenominator"`
	Token0         TokenRecord    `json:"token0" yaml:"token0"`
	Token1         TokenRecord    `json:"token1" yaml:"token1"`
}

// PoolTriple is three pools that were persisted together as a candidate cycle
type PoolTriple [3]PoolRecord

// TradeRoute describes one leg of a cyclic trade in fixed-point token units
type TradeRoute struct {
	Pool      common.Address
	Router    common.Address
	TokenIn   Token
	TokenOut  Token
	AmountIn  *big.Int
	AmountOut *big.Int
}

// Opportunity represents an arbitrage the evaluator decided to act on
type Opportunity struct {
	ID          string
	Type        ArbitrageType
	Path        string
	Index       decimal.Decimal
	Profit      decimal.Decimal
	ProfitToken Token
	Routes      []TradeRoute
	TargetBlock uint64
}

// ArbitrageType indicates the shape of the cycle an opportunity was found on
type ArbitrageType string

const ArbitrageTypeCyclic ArbitrageType = "cyclic" // A -> B -> C -> A

// ReserveUpdate is a pool's reserve state decoded from an on-chain event
type ReserveUpdate struct {
	Pool        common.Address
	Protocol    string
	Reserve0    *big.Int
	Reserve1    *big.Int
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

package payout

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// PercentageAmount returns balance * percentage / 100 rounded down to decimals.
// Rounding never goes up so the sum of legs cannot exceed the funded amount.
func PercentageAmount(balance, percentage decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	if decimals < 0 {
		return decimal.Zero, ErrInvalidTokenDecimals
	}
	if balance.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	if !percentage.IsPositive() || percentage.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, ErrInvalidPercentage
	}
	return balance.Mul(percentage).Shift(-2).RoundFloor(decimals), nil
}

// ScaleAmount converts raw on-chain units into a decimal amount.
func ScaleAmount(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// UnscaleAmount converts a decimal amount into raw on-chain units. Digits
// beyond decimals are truncated.
func UnscaleAmount(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidTokenDecimals
	}
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	return amount.Shift(decimals).RoundFloor(0).BigInt(), nil
}

// Package lend implements the lending core: pools, loans, interest
// accrual, and the per-pool priority ordering of at-risk loans.
package lend

import (
	"math/big"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// ExchangeRate derives the protocol-token price in underlying units:
// (onHand + totalDebt) / protocolSupply, quantized to RateDenom. While
// the supply is zero the configured initial rate applies.
func ExchangeRate(onHand, totalDebt, protocolSupply *big.Int, initial domain.Ratio) domain.Ratio {
	if protocolSupply == nil || protocolSupply.Sign() == 0 {
		return initial.Quantize(domain.RateDenom)
	}
	num := new(big.Int).Add(onHand, totalDebt)
	return domain.Ratio{Num: num, Den: new(big.Int).Set(protocolSupply)}.Quantize(domain.RateDenom)
}

// UtilizationRate returns borrows / (cash + borrows) in basis points.
// The denominator is floored at one so an empty pool reads as zero
// utilization rather than dividing by zero.
func UtilizationRate(cash, borrows *big.Int) uint64 {
	den := new(big.Int).Add(cash, borrows)
	if den.Sign() <= 0 {
		den.SetInt64(1)
	}
	num := new(big.Int).Mul(borrows, big.NewInt(domain.BasisPoints))
	num.Quo(num, den)
	return num.Uint64()
}

// BorrowingRate returns the annual borrowing rate in basis points for
// the given utilization: base + multiplier × utilization.
func BorrowingRate(baseBps, multiplierBps, utilizationBps uint64) uint64 {
	scaled := new(big.Int).Mul(new(big.Int).SetUint64(multiplierBps), new(big.Int).SetUint64(utilizationBps))
	scaled.Quo(scaled, big.NewInt(domain.BasisPoints))
	return baseBps + scaled.Uint64()
}

// Undercollateralized reports whether a position at the given margin
// must be liquidated: margin × debt ≥ collateral, both valued in the
// compare currency. Equality triggers.
func Undercollateralized(marginBps uint64, collateralValue, debtValue *big.Int) bool {
	lhs := new(big.Int).Mul(new(big.Int).SetUint64(marginBps), debtValue)
	rhs := new(big.Int).Mul(collateralValue, big.NewInt(domain.BasisPoints))
	return lhs.Cmp(rhs) >= 0
}

// MeetsMargin reports whether a requested position clears the margin:
// collateral / debt ≥ margin. Used on borrow and adjust, where equality
// is acceptable.
func MeetsMargin(marginBps uint64, collateralValue, debtValue *big.Int) bool {
	if debtValue.Sign() == 0 {
		return true
	}
	lhs := new(big.Int).Mul(collateralValue, big.NewInt(domain.BasisPoints))
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(marginBps), debtValue)
	return lhs.Cmp(rhs) >= 0
}

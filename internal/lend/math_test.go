package lend

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

func TestExchangeRate(t *testing.T) {
	initial := domain.NewRatio(2, 100)

	// No supply: the initial rate applies.
	r := ExchangeRate(big.NewInt(0), big.NewInt(0), big.NewInt(0), initial)
	assert.True(t, r.Equal(initial))

	// 1000 on hand, no debt, 50000 tokens: rate stays 0.02.
	r = ExchangeRate(big.NewInt(1000), big.NewInt(0), big.NewInt(50000), initial)
	assert.True(t, r.Equal(domain.NewRatio(2, 100)), "got %s", r)

	// Accrued interest raises the numerator: (900+110)/50000 = 0.0202.
	r = ExchangeRate(big.NewInt(900), big.NewInt(110), big.NewInt(50000), initial)
	assert.True(t, r.Equal(domain.NewRatio(202, 10000)), "got %s", r)
}

func TestUtilizationRate(t *testing.T) {
	// Empty pool reads zero, not a division by zero.
	assert.Equal(t, uint64(0), UtilizationRate(big.NewInt(0), big.NewInt(0)))

	// All cash, no borrows.
	assert.Equal(t, uint64(0), UtilizationRate(big.NewInt(1000), big.NewInt(0)))

	// 40000 borrowed of 10000000 total: 40 bps.
	assert.Equal(t, uint64(40), UtilizationRate(big.NewInt(9_960_000), big.NewInt(40_000)))

	// Fully borrowed.
	assert.Equal(t, uint64(10_000), UtilizationRate(big.NewInt(0), big.NewInt(500)))
}

func TestBorrowingRate(t *testing.T) {
	// base 250, multiplier 2000, utilization 40 bps: 250 + 2000*40/10000 = 258.
	assert.Equal(t, uint64(258), BorrowingRate(250, 2000, 40))

	// Zero utilization pays the base rate.
	assert.Equal(t, uint64(250), BorrowingRate(250, 2000, 0))

	// Full utilization adds the whole multiplier.
	assert.Equal(t, uint64(2250), BorrowingRate(250, 2000, 10_000))
}

func TestMarginChecks(t *testing.T) {
	const margin = 15_000 // 1.5x

	// Comfortably collateralized: neither side flags.
	assert.True(t, MeetsMargin(margin, big.NewInt(100), big.NewInt(50)))
	assert.False(t, Undercollateralized(margin, big.NewInt(100), big.NewInt(50)))

	// Exactly at the margin: the request passes and the trigger fires.
	// 75 collateral vs 50 debt at 1.5x is the boundary on both sides.
	assert.True(t, MeetsMargin(margin, big.NewInt(75), big.NewInt(50)))
	assert.True(t, Undercollateralized(margin, big.NewInt(75), big.NewInt(50)))

	// Below the margin.
	assert.False(t, MeetsMargin(margin, big.NewInt(74), big.NewInt(50)))
	assert.True(t, Undercollateralized(margin, big.NewInt(74), big.NewInt(50)))

	// Zero debt always meets the margin and never triggers.
	assert.True(t, MeetsMargin(margin, big.NewInt(0), big.NewInt(0)))
	assert.False(t, Undercollateralized(margin, big.NewInt(1), big.NewInt(0)))
}

package lend

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// 3650 bps annually with daily recording compounds at exactly 1.001 per
// period, which keeps the expected values readable.
const dailyTenPercentBps = 3650

func dailySchedule() AccrualSchedule {
	return AccrualSchedule{
		ChargingPeriod:  24 * time.Hour,
		RecordingPeriod: 24 * time.Hour,
	}
}

func TestAccrueInterestSinglePeriod(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	acc := AccrueInterest(
		domain.OneRatio(domain.CompoundDenom),
		big.NewInt(1_000_000),
		dailyTenPercentBps,
		start,
		start.Add(24*time.Hour),
		dailySchedule(),
	)

	require.Equal(t, int64(1), acc.Periods)
	assert.Equal(t, int64(1_001_000), acc.TotalDebt.Int64())
	assert.Equal(t, int64(1_000), acc.Interest.Int64())
	assert.Equal(t, start.Add(24*time.Hour), acc.LastAccrual)
	assert.True(t, acc.Compound.Equal(domain.NewRatio(1_001_000_000_000_000_000, domain.CompoundDenom)),
		"compound %s", acc.Compound)
}

func TestAccrueInterestCompoundsAcrossPeriods(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	acc := AccrueInterest(
		domain.OneRatio(domain.CompoundDenom),
		big.NewInt(1_000_000),
		dailyTenPercentBps,
		start,
		start.Add(48*time.Hour),
		dailySchedule(),
	)

	require.Equal(t, int64(2), acc.Periods)
	// 1.001^2 = 1.002001.
	assert.Equal(t, int64(1_002_001), acc.TotalDebt.Int64())
	assert.Equal(t, int64(2_001), acc.Interest.Int64())
}

func TestAccrueInterestPartialPeriodIsNoOp(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	compound := domain.OneRatio(domain.CompoundDenom)
	debt := big.NewInt(1_000_000)

	acc := AccrueInterest(compound, debt, dailyTenPercentBps, start, start.Add(12*time.Hour), dailySchedule())

	assert.Equal(t, int64(0), acc.Periods)
	assert.Equal(t, int64(0), acc.Interest.Int64())
	assert.Equal(t, int64(1_000_000), acc.TotalDebt.Int64())
	// The clock does not advance, so the half period keeps accruing.
	assert.Equal(t, start, acc.LastAccrual)
}

func TestAccrueInterestKeepsRemainder(t *testing.T) {
	// 36 hours is one whole period plus a 12 hour remainder.
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	acc := AccrueInterest(
		domain.OneRatio(domain.CompoundDenom),
		big.NewInt(1_000_000),
		dailyTenPercentBps,
		start,
		start.Add(36*time.Hour),
		dailySchedule(),
	)

	require.Equal(t, int64(1), acc.Periods)
	assert.Equal(t, start.Add(24*time.Hour), acc.LastAccrual)

	// Folding the remainder later picks up where the last fold stopped.
	next := AccrueInterest(acc.Compound, acc.TotalDebt, dailyTenPercentBps, acc.LastAccrual, start.Add(48*time.Hour), dailySchedule())
	require.Equal(t, int64(1), next.Periods)
	assert.Equal(t, int64(1_002_001), next.TotalDebt.Int64())
}

func TestAccrueInterestZeroDebt(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	acc := AccrueInterest(
		domain.OneRatio(domain.CompoundDenom),
		big.NewInt(0),
		dailyTenPercentBps,
		start,
		start.Add(24*time.Hour),
		dailySchedule(),
	)

	// The index still moves so later loans rebase correctly.
	require.Equal(t, int64(1), acc.Periods)
	assert.Equal(t, int64(0), acc.TotalDebt.Int64())
	assert.Equal(t, int64(0), acc.Interest.Int64())
}

func TestRatPow(t *testing.T) {
	r := big.NewRat(3, 2)
	assert.Equal(t, 0, ratPow(r, 0).Cmp(big.NewRat(1, 1)))
	assert.Equal(t, 0, ratPow(r, 1).Cmp(big.NewRat(3, 2)))
	assert.Equal(t, 0, ratPow(r, 4).Cmp(big.NewRat(81, 16)))
}

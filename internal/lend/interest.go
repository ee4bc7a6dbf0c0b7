package lend

import (
	"math/big"
	"time"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// yearDuration is the accrual year used to convert annual rates into
// per-period factors.
const yearDuration = 365 * 24 * time.Hour

// AccrualSchedule fixes the cadence at which interest compounds.
// RecordingPeriod is the granularity of the compounded index; interest
// accrues in whole recording periods and never fractionally.
// ChargingPeriod bounds how often the scheduler asks a pool to accrue.
type AccrualSchedule struct {
	ChargingPeriod  time.Duration
	RecordingPeriod time.Duration
}

// DefaultSchedule charges daily and records daily.
func DefaultSchedule() AccrualSchedule {
	return AccrualSchedule{
		ChargingPeriod:  24 * time.Hour,
		RecordingPeriod: 24 * time.Hour,
	}
}

// Accrual is the outcome of folding elapsed time into a pool's
// compounded-interest index.
type Accrual struct {
	Compound    domain.Ratio
	TotalDebt   *big.Int
	LastAccrual time.Time
	Interest    *big.Int
	Periods     int64
}

// AccrueInterest folds the recording periods elapsed between last and
// now into the pool's compounded index and total debt. Zero elapsed
// periods returns the inputs unchanged, so the fold is idempotent when
// called repeatedly within one period. lastAccrual advances by whole
// periods only; the remainder keeps accruing next time.
func AccrueInterest(compound domain.Ratio, totalDebt *big.Int, annualRateBps uint64, last, now time.Time, sched AccrualSchedule) Accrual {
	unchanged := Accrual{
		Compound:    compound,
		TotalDebt:   totalDebt,
		LastAccrual: last,
		Interest:    big.NewInt(0),
	}
	if sched.RecordingPeriod <= 0 || !now.After(last) {
		return unchanged
	}
	periods := int64(now.Sub(last) / sched.RecordingPeriod)
	if periods <= 0 {
		return unchanged
	}

	// Per-period simple factor: 1 + rate × recordingPeriod / year.
	rate := new(big.Rat).SetFrac64(int64(annualRateBps), domain.BasisPoints)
	periodShare := new(big.Rat).SetFrac64(int64(sched.RecordingPeriod), int64(yearDuration))
	factor := new(big.Rat).Mul(rate, periodShare)
	factor.Add(factor, big.NewRat(1, 1))

	folded := ratPow(factor, periods)

	newCompound := ratToRatio(new(big.Rat).Mul(compound.Rat(), folded), domain.CompoundDenom)
	newDebt := applyRat(totalDebt, folded)
	interest := new(big.Int).Sub(newDebt, totalDebt)

	return Accrual{
		Compound:    newCompound,
		TotalDebt:   newDebt,
		LastAccrual: last.Add(time.Duration(periods) * sched.RecordingPeriod),
		Interest:    interest,
		Periods:     periods,
	}
}

// ratPow raises r to the n-th power by repeated squaring.
func ratPow(r *big.Rat, n int64) *big.Rat {
	out := big.NewRat(1, 1)
	base := new(big.Rat).Set(r)
	for n > 0 {
		if n&1 == 1 {
			out.Mul(out, base)
		}
		base.Mul(base, base)
		n >>= 1
	}
	return out
}

// applyRat scales v by r, rounding half up.
func applyRat(v *big.Int, r *big.Rat) *big.Int {
	out := new(big.Int).Mul(v, r.Num())
	den := r.Denom()
	half := new(big.Int).Add(den, big.NewInt(1))
	half.Rsh(half, 1)
	out.Add(out, half)
	return out.Quo(out, den)
}

// ratToRatio quantizes a big.Rat onto a fixed denominator, half up.
func ratToRatio(r *big.Rat, den int64) domain.Ratio {
	d := big.NewInt(den)
	num := new(big.Int).Mul(r.Num(), d)
	half := new(big.Int).Add(r.Denom(), big.NewInt(1))
	half.Rsh(half, 1)
	num.Add(num, half)
	num.Quo(num, r.Denom())
	return domain.Ratio{Num: num, Den: d}
}

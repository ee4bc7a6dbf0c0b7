package domain

import (
	"fmt"
	"math/big"
)

const (
	// BasisPoints is the denominator used for rate quantization.
	BasisPoints = 10_000

	// RateDenom is the fixed denominator for exchange-rate quantization.
	// Quantizing keeps repeated derivations from accumulating unbounded
	// precision.
	RateDenom = 100_000_000

	// CompoundDenom is the fixed denominator for the pool-wide
	// compounded-interest ratio. 1e18 matches the index precision used
	// for debt scaling.
	CompoundDenom = 1_000_000_000_000_000_000
)

// Ratio is a non-negative rational with an explicit denominator. It is
// used for exchange rates, utilization, borrowing rates, and the
// compounded-interest index. Ratios are plain numbers; brand checking
// happens where amounts enter a computation.
type Ratio struct {
	Num *big.Int
	Den *big.Int
}

// NewRatio builds a ratio from int64 parts. Panics on a zero or
// negative denominator; ratios are constructed from trusted constants
// and quantization, never raw user input.
func NewRatio(num, den int64) Ratio {
	if den <= 0 {
		panic("ratio: denominator must be positive")
	}
	return Ratio{Num: big.NewInt(num), Den: big.NewInt(den)}
}

// RatioFromBps builds a ratio of bps/10000.
func RatioFromBps(bps uint64) Ratio {
	return Ratio{Num: new(big.Int).SetUint64(bps), Den: big.NewInt(BasisPoints)}
}

// OneRatio returns 1/1 quantized to the given denominator.
func OneRatio(den int64) Ratio {
	return NewRatio(den, den)
}

// Clone returns a deep copy.
func (r Ratio) Clone() Ratio {
	return Ratio{Num: new(big.Int).Set(r.Num), Den: new(big.Int).Set(r.Den)}
}

// IsZero reports whether the ratio's numerator is zero.
func (r Ratio) IsZero() bool {
	return r.Num == nil || r.Num.Sign() == 0
}

// Rat converts the ratio to a big.Rat for rate folding.
func (r Ratio) Rat() *big.Rat {
	if r.Den == nil || r.Den.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(r.Num, r.Den)
}

// Quantize re-expresses the ratio over the given denominator, rounding
// half up.
func (r Ratio) Quantize(den int64) Ratio {
	d := big.NewInt(den)
	num := new(big.Int).Mul(r.Num, d)
	num.Add(num, halfUp(r.Den))
	num.Quo(num, r.Den)
	return Ratio{Num: num, Den: d}
}

// Apply scales v by the ratio (v × num / den), rounding half up.
func (r Ratio) Apply(v *big.Int) *big.Int {
	if v == nil || v.Sign() == 0 || r.IsZero() {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(v, r.Num)
	out.Add(out, halfUp(r.Den))
	out.Quo(out, r.Den)
	return out
}

// ApplyInverse scales v by the inverted ratio (v × den / num), rounding
// half up. Returns zero when the numerator is zero.
func (r Ratio) ApplyInverse(v *big.Int) *big.Int {
	if v == nil || v.Sign() == 0 || r.IsZero() {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(v, r.Den)
	out.Add(out, halfUp(r.Num))
	out.Quo(out, r.Num)
	return out
}

// Equal reports whether two ratios represent the same value.
func (r Ratio) Equal(o Ratio) bool {
	return r.Rat().Cmp(o.Rat()) == 0
}

// String renders the ratio for diagnostics.
func (r Ratio) String() string {
	return fmt.Sprintf("%s/%s", r.Num, r.Den)
}

func halfUp(den *big.Int) *big.Int {
	if den == nil || den.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(den, big.NewInt(1))
	return half.Rsh(half, 1)
}

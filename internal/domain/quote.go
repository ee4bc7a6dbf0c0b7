package domain

import (
	"math/big"
	"time"
)

// PriceQuote is an immutable observation from an external price feed:
// AmountIn units of the priced asset were worth AmountOut units of the
// compare currency at Timestamp. Two independent quote streams feed
// every at-risk check: the collateral's underlying asset in the compare
// currency and the debt asset in the compare currency.
type PriceQuote struct {
	AmountIn  Amount
	AmountOut Amount
	Timestamp time.Time
}

// Value converts v units of the priced asset into the compare currency
// at this quote's price (v × out / in), rounding half up.
func (q PriceQuote) Value(v *big.Int) (*big.Int, error) {
	if q.AmountIn.Value == nil || q.AmountIn.Value.Sign() == 0 {
		return big.NewInt(0), nil
	}
	r := Ratio{Num: q.AmountOut.Value, Den: q.AmountIn.Value}
	return r.Apply(v), nil
}

// ValueOf converts an Amount, checking that the amount carries the
// quote's input brand.
func (q PriceQuote) ValueOf(a Amount) (Amount, error) {
	if err := sameBrand(a, q.AmountIn); err != nil {
		return Amount{}, err
	}
	v, err := q.Value(a.Value)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Brand: q.AmountOut.Brand, Value: v}, nil
}

// IsZero reports whether the quote is unset.
func (q PriceQuote) IsZero() bool {
	return q.AmountIn.Value == nil
}

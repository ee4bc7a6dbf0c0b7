// Package domain defines the core types shared across the lending
// protocol: branded amounts, ratios, price quotes, the error taxonomy,
// and the persistence/cache interfaces implemented by the store and
// cache packages.
package domain

import (
	"fmt"
	"math/big"
)

// Brand identifies an asset type. Two amounts may only be combined when
// their brands match; every arithmetic helper enforces this and returns
// ErrBrandMismatch otherwise.
type Brand string

// Amount is a quantity of a single asset. Value is always non-negative
// in committed state; intermediate arithmetic may produce negative
// values that callers must reject.
type Amount struct {
	Brand Brand
	Value *big.Int
}

// NewAmount builds an Amount from an int64 value.
func NewAmount(brand Brand, value int64) Amount {
	return Amount{Brand: brand, Value: big.NewInt(value)}
}

// NewAmountBig builds an Amount from a big.Int, copying the value so the
// caller retains ownership of its argument.
func NewAmountBig(brand Brand, value *big.Int) Amount {
	if value == nil {
		return Amount{Brand: brand, Value: big.NewInt(0)}
	}
	return Amount{Brand: brand, Value: new(big.Int).Set(value)}
}

// ZeroAmount returns the empty amount of the given brand.
func ZeroAmount(brand Brand) Amount {
	return Amount{Brand: brand, Value: big.NewInt(0)}
}

// Clone returns a deep copy of the amount.
func (a Amount) Clone() Amount {
	return NewAmountBig(a.Brand, a.Value)
}

// IsZero reports whether the amount's value is zero (or unset).
func (a Amount) IsZero() bool {
	return a.Value == nil || a.Value.Sign() == 0
}

// Sign returns the sign of the amount's value.
func (a Amount) Sign() int {
	if a.Value == nil {
		return 0
	}
	return a.Value.Sign()
}

// Add returns a+b, failing when the brands differ.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := sameBrand(a, b); err != nil {
		return Amount{}, err
	}
	return Amount{Brand: a.Brand, Value: new(big.Int).Add(a.Value, b.Value)}, nil
}

// Sub returns a-b, failing when the brands differ. The result may be
// negative; callers decide whether that is acceptable.
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := sameBrand(a, b); err != nil {
		return Amount{}, err
	}
	return Amount{Brand: a.Brand, Value: new(big.Int).Sub(a.Value, b.Value)}, nil
}

// Cmp compares a against b (-1, 0, +1), failing when the brands differ.
func (a Amount) Cmp(b Amount) (int, error) {
	if err := sameBrand(a, b); err != nil {
		return 0, err
	}
	return a.Value.Cmp(b.Value), nil
}

// Min returns the smaller of a and b, failing when the brands differ.
func (a Amount) Min(b Amount) (Amount, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return Amount{}, err
	}
	if c <= 0 {
		return a.Clone(), nil
	}
	return b.Clone(), nil
}

// String renders the amount for diagnostics.
func (a Amount) String() string {
	if a.Value == nil {
		return fmt.Sprintf("0 %s", a.Brand)
	}
	return fmt.Sprintf("%s %s", a.Value.String(), a.Brand)
}

func sameBrand(a, b Amount) error {
	if a.Brand != b.Brand {
		return fmt.Errorf("%w: %s vs %s", ErrBrandMismatch, a.Brand, b.Brand)
	}
	if a.Value == nil || b.Value == nil {
		return fmt.Errorf("amount of brand %s has no value", a.Brand)
	}
	return nil
}

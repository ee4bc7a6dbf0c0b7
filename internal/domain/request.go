package domain

import "fmt"

// BorrowRequest carries the arguments for opening a new loan. It
// replaces the loosely-typed argument bags the protocol's offer
// boundary historically used; Validate rejects incomplete requests with
// a named field instead of a generic assertion.
type BorrowRequest struct {
	// Borrower is the account opening the loan.
	Borrower string
	// Collateral is the protocol-token amount pledged, denominated in
	// the collateral pool's protocol token.
	Collateral Amount
	// CollateralUnderlying names the collateral pool's underlying asset
	// so the right price stream can be consulted.
	CollateralUnderlying Brand
	// WantDebt is the requested debt, denominated in the debt pool's
	// underlying asset.
	WantDebt Amount
}

// Validate checks every required field and returns ErrMissingField
// naming the first absent one.
func (r BorrowRequest) Validate() error {
	if r.Borrower == "" {
		return fmt.Errorf("%w: borrower", ErrMissingField)
	}
	if r.Collateral.Brand == "" || r.Collateral.Value == nil {
		return fmt.Errorf("%w: collateral", ErrMissingField)
	}
	if r.CollateralUnderlying == "" {
		return fmt.Errorf("%w: collateral underlying brand", ErrMissingField)
	}
	if r.WantDebt.Brand == "" || r.WantDebt.Value == nil {
		return fmt.Errorf("%w: want debt", ErrMissingField)
	}
	if r.Collateral.Sign() <= 0 {
		return fmt.Errorf("collateral must be positive, got %s", r.Collateral)
	}
	if r.WantDebt.Sign() <= 0 {
		return fmt.Errorf("want debt must be positive, got %s", r.WantDebt)
	}
	return nil
}

// AdjustRequest is a give/want delta against an open loan. Zero-value
// amounts (nil Value) mean "no change on that axis". GiveCollateral and
// WantCollateral are mutually exclusive, as are GiveDebt (repay) and
// WantDebt (draw more).
type AdjustRequest struct {
	GiveCollateral Amount
	WantCollateral Amount
	GiveDebt       Amount
	WantDebt       Amount
}

// Validate rejects contradictory or empty adjustments.
func (r AdjustRequest) Validate() error {
	set := func(a Amount) bool { return a.Value != nil && a.Sign() > 0 }
	if set(r.GiveCollateral) && set(r.WantCollateral) {
		return fmt.Errorf("adjust: give and want collateral are mutually exclusive")
	}
	if set(r.GiveDebt) && set(r.WantDebt) {
		return fmt.Errorf("adjust: give and want debt are mutually exclusive")
	}
	if !set(r.GiveCollateral) && !set(r.WantCollateral) && !set(r.GiveDebt) && !set(r.WantDebt) {
		return fmt.Errorf("%w: adjust requires at least one delta", ErrMissingField)
	}
	return nil
}

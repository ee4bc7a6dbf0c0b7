package domain

import "errors"

var (
	// ErrBrandMismatch marks a computation that mixed incompatible asset
	// types. Programmer or configuration error; never recovered.
	ErrBrandMismatch = errors.New("brand mismatch")

	// ErrInsufficientLiquidity means a pool cannot cover a redeem or
	// borrow. Recoverable: retry smaller or wait for deposits.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrUndercollateralizedRequest rejects a borrow whose collateral
	// does not cover the requested debt by the liquidation margin.
	ErrUndercollateralizedRequest = errors.New("undercollateralized request")

	// ErrInsufficientCollateralization rejects a balance adjustment that
	// would leave the loan below the liquidation margin.
	ErrInsufficientCollateralization = errors.New("insufficient collateralization")

	// ErrCollateralLimitExceeded rejects an operation that would push a
	// pool's pledged collateral above its governance-set limit.
	ErrCollateralLimitExceeded = errors.New("collateral limit exceeded")

	// ErrRepaymentShort rejects a close whose repayment does not cover
	// the loan's live debt.
	ErrRepaymentShort = errors.New("repayment short of debt")

	// ErrInvalidPhaseTransition marks an operation attempted on a loan
	// in the wrong phase. Programmer error; never recovered.
	ErrInvalidPhaseTransition = errors.New("invalid loan phase transition")

	// ErrPoolNotBorrowable rejects a borrow against a pool whose debt
	// asset is not flagged borrowable.
	ErrPoolNotBorrowable = errors.New("pool asset not borrowable")

	// ErrCollateralNotEnabled rejects collateral from a pool whose
	// protocol token is not flagged usable as collateral.
	ErrCollateralNotEnabled = errors.New("pool token not usable as collateral")

	// ErrSlippageExceeded is surfaced by the AMM collaborator when a
	// swap cannot meet its price bound.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrInsufficientPoolLiquidity is surfaced by the AMM collaborator
	// when the venue cannot fill the requested size.
	ErrInsufficientPoolLiquidity = errors.New("insufficient amm pool liquidity")

	// ErrMissingField rejects a boundary request struct with a required
	// field unset.
	ErrMissingField = errors.New("missing required field")

	// ErrPoolNotFound and ErrLoanNotFound are lookup failures at the API
	// and registry boundaries.
	ErrPoolNotFound = errors.New("pool not found")
	ErrLoanNotFound = errors.New("loan not found")
)

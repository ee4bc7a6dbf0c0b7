package ammswap

// quoteResponse is the venue's answer to a pricing query.
type quoteResponse struct {
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	BrandIn   string `json:"brand_in"`
	BrandOut  string `json:"brand_out"`
}

// swapRequest submits a swap with a minimum-out bound.
type swapRequest struct {
	BrandIn   string `json:"brand_in"`
	BrandOut  string `json:"brand_out"`
	AmountIn  string `json:"amount_in"`
	MinOut    string `json:"min_out"`
	RequestID string `json:"request_id"`
}

// swapResponse reports the executed amounts.
type swapResponse struct {
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	TxID      string `json:"tx_id"`
}

// errorResponse is the venue's error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Venue error codes.
const (
	codeSlippage     = "slippage_exceeded"
	codeNoLiquidity  = "insufficient_liquidity"
	codeRateLimited  = "rate_limited"
	codeInvalidBrand = "invalid_brand"
)

// Package ammswap is the REST client for the AMM venue that liquidation
// collateral is sold through.
package ammswap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// Client talks to the AMM's swap API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// limiter gates outbound calls; nil disables gating.
	limiter   domain.RateLimiter
	rateLimit int
	rateWin   time.Duration
}

// NewClient creates a new AMM client.
//
// baseURL is the API root, e.g. "https://amm.example.com/api/v1".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetRateLimiter gates outbound calls at limit per window.
func (c *Client) SetRateLimiter(l domain.RateLimiter, limit int, window time.Duration) {
	c.limiter = l
	c.rateLimit = limit
	c.rateWin = window
}

// InputPrice quotes how much of inBrand must be given to receive out.
func (c *Client) InputPrice(ctx context.Context, out domain.Amount, inBrand domain.Brand) (domain.Amount, error) {
	params := url.Values{}
	params.Set("brand_in", string(inBrand))
	params.Set("brand_out", string(out.Brand))
	params.Set("amount_out", out.Value.String())

	body, err := c.doRequest(ctx, http.MethodGet, "/price/input?"+params.Encode(), nil)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("ammswap: input price: %w", err)
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Amount{}, fmt.Errorf("ammswap: decode input price: %w", err)
	}
	v, ok := new(big.Int).SetString(resp.AmountIn, 10)
	if !ok {
		return domain.Amount{}, fmt.Errorf("ammswap: bad amount_in %q", resp.AmountIn)
	}
	return domain.NewAmountBig(inBrand, v), nil
}

// OutputPrice quotes how much of outBrand the given input fetches.
func (c *Client) OutputPrice(ctx context.Context, in domain.Amount, outBrand domain.Brand) (domain.Amount, error) {
	params := url.Values{}
	params.Set("brand_in", string(in.Brand))
	params.Set("brand_out", string(outBrand))
	params.Set("amount_in", in.Value.String())

	body, err := c.doRequest(ctx, http.MethodGet, "/price/output?"+params.Encode(), nil)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("ammswap: output price: %w", err)
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Amount{}, fmt.Errorf("ammswap: decode output price: %w", err)
	}
	v, ok := new(big.Int).SetString(resp.AmountOut, 10)
	if !ok {
		return domain.Amount{}, fmt.Errorf("ammswap: bad amount_out %q", resp.AmountOut)
	}
	return domain.NewAmountBig(outBrand, v), nil
}

// SwapIn sells in for outBrand, failing with ErrSlippageExceeded when
// the venue cannot deliver minOut.
func (c *Client) SwapIn(ctx context.Context, in domain.Amount, outBrand domain.Brand, minOut domain.Amount) (domain.Amount, error) {
	req := swapRequest{
		BrandIn:   string(in.Brand),
		BrandOut:  string(outBrand),
		AmountIn:  in.Value.String(),
		MinOut:    minOut.Value.String(),
		RequestID: uuid.NewString(),
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/swap", req)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("ammswap: swap: %w", err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Amount{}, fmt.Errorf("ammswap: decode swap: %w", err)
	}
	v, ok := new(big.Int).SetString(resp.AmountOut, 10)
	if !ok {
		return domain.Amount{}, fmt.Errorf("ammswap: bad amount_out %q", resp.AmountOut)
	}
	return domain.NewAmountBig(outBrand, v), nil
}

// doRequest builds, sends, and reads an HTTP request against the venue.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if c.limiter != nil {
		ok, err := c.limiter.Allow(ctx, "ammswap", c.rateLimit, c.rateWin)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("rate limited locally")
		}
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps venue error codes onto the protocol's taxonomy so
// callers can branch on sentinel errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch apiErr.Code {
	case codeSlippage:
		return fmt.Errorf("%w: %s", domain.ErrSlippageExceeded, apiErr.Message)
	case codeNoLiquidity:
		return fmt.Errorf("%w: %s", domain.ErrInsufficientPoolLiquidity, apiErr.Message)
	case codeRateLimited:
		return fmt.Errorf("rate limited: %s", apiErr.Message)
	case codeInvalidBrand:
		return fmt.Errorf("%w: %s", domain.ErrBrandMismatch, apiErr.Message)
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: HTTP 429")
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

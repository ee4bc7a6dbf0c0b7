package handler

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// amountJSON is the wire form of an Amount: the brand plus the value as a
// decimal string so 256-bit quantities survive JSON number limits.
type amountJSON struct {
	Brand string `json:"brand"`
	Value string `json:"value"`
}

func encodeAmount(a domain.Amount) amountJSON {
	v := "0"
	if a.Value != nil {
		v = a.Value.String()
	}
	return amountJSON{Brand: string(a.Brand), Value: v}
}

// decodeAmount parses an amountJSON into a domain.Amount, optionally
// forcing the brand (for endpoints where the path already names it).
func decodeAmount(in amountJSON, forceBrand domain.Brand) (domain.Amount, error) {
	brand := domain.Brand(in.Brand)
	if forceBrand != "" {
		brand = forceBrand
	}
	if brand == "" {
		return domain.Amount{}, fmt.Errorf("amount brand is required")
	}
	v, ok := new(big.Int).SetString(in.Value, 10)
	if !ok {
		return domain.Amount{}, fmt.Errorf("invalid amount value %q", in.Value)
	}
	return domain.NewAmountBig(brand, v), nil
}

// quoteJSON is the wire form of a PriceQuote.
type quoteJSON struct {
	AmountIn  amountJSON `json:"amount_in"`
	AmountOut amountJSON `json:"amount_out"`
	Timestamp time.Time  `json:"timestamp"`
}

func encodeQuote(q domain.PriceQuote) quoteJSON {
	return quoteJSON{
		AmountIn:  encodeAmount(q.AmountIn),
		AmountOut: encodeAmount(q.AmountOut),
		Timestamp: q.Timestamp,
	}
}

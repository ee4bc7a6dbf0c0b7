package postgres

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// Amounts travel to NUMERIC columns as decimal strings; pgx handles the
// conversion in both directions.

func amountArg(a domain.Amount) *string {
	if a.Value == nil {
		return nil
	}
	s := a.Value.String()
	return &s
}

func scanAmount(brand domain.Brand, s *string) (domain.Amount, error) {
	if s == nil {
		return domain.Amount{Brand: brand}, nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return domain.Amount{}, fmt.Errorf("postgres: parse numeric %q", *s)
	}
	return domain.NewAmountBig(brand, v), nil
}

func scanRatio(num, den string) (domain.Ratio, error) {
	n, ok := new(big.Int).SetString(num, 10)
	if !ok {
		return domain.Ratio{}, fmt.Errorf("postgres: parse ratio numerator %q", num)
	}
	d, ok := new(big.Int).SetString(den, 10)
	if !ok {
		return domain.Ratio{}, fmt.Errorf("postgres: parse ratio denominator %q", den)
	}
	return domain.Ratio{Num: n, Den: d}, nil
}

// quoteJSON is the JSONB shape of a persisted price quote.
type quoteJSON struct {
	InBrand  string    `json:"in_brand"`
	In       string    `json:"in"`
	OutBrand string    `json:"out_brand"`
	Out      string    `json:"out"`
	At       time.Time `json:"at"`
}

func marshalQuote(q domain.PriceQuote) ([]byte, error) {
	if q.IsZero() {
		return json.Marshal(quoteJSON{})
	}
	return json.Marshal(quoteJSON{
		InBrand:  string(q.AmountIn.Brand),
		In:       q.AmountIn.Value.String(),
		OutBrand: string(q.AmountOut.Brand),
		Out:      q.AmountOut.Value.String(),
		At:       q.Timestamp,
	})
}

func unmarshalQuote(data []byte) (domain.PriceQuote, error) {
	var qj quoteJSON
	if err := json.Unmarshal(data, &qj); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("postgres: unmarshal quote: %w", err)
	}
	if qj.In == "" {
		return domain.PriceQuote{}, nil
	}
	in, ok := new(big.Int).SetString(qj.In, 10)
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("postgres: parse quote in %q", qj.In)
	}
	out, ok := new(big.Int).SetString(qj.Out, 10)
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("postgres: parse quote out %q", qj.Out)
	}
	return domain.PriceQuote{
		AmountIn:  domain.NewAmountBig(domain.Brand(qj.InBrand), in),
		AmountOut: domain.NewAmountBig(domain.Brand(qj.OutBrand), out),
		Timestamp: qj.At,
	}, nil
}

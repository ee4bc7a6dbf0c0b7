package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// pair's latest quote is stored at "quote:{asset}:{compare}" with
// fields "in", "out", and "ts" (Unix nanosecond timestamp). Amounts are
// stored as decimal strings so arbitrary-precision values round-trip.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(asset, compare domain.Brand) string {
	return "quote:" + string(asset) + ":" + string(compare)
}

// SetQuote stores the latest quote for a pair.
func (qc *QuoteCache) SetQuote(ctx context.Context, asset, compare domain.Brand, q domain.PriceQuote) error {
	fields := map[string]interface{}{
		"in":  q.AmountIn.Value.String(),
		"out": q.AmountOut.Value.String(),
		"ts":  strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, quoteKey(asset, compare), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", asset, compare, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a pair. The second return is
// false when no quote has been seen.
func (qc *QuoteCache) GetQuote(ctx context.Context, asset, compare domain.Brand) (domain.PriceQuote, bool, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(asset, compare)).Result()
	if err != nil {
		return domain.PriceQuote{}, false, fmt.Errorf("redis: get quote %s/%s: %w", asset, compare, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, false, nil
	}

	in, ok := new(big.Int).SetString(vals["in"], 10)
	if !ok {
		return domain.PriceQuote{}, false, fmt.Errorf("redis: parse quote in %q", vals["in"])
	}
	out, ok := new(big.Int).SetString(vals["out"], 10)
	if !ok {
		return domain.PriceQuote{}, false, fmt.Errorf("redis: parse quote out %q", vals["out"])
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, false, fmt.Errorf("redis: parse quote ts: %w", err)
	}

	q := domain.PriceQuote{
		AmountIn:  domain.NewAmountBig(asset, in),
		AmountOut: domain.NewAmountBig(compare, out),
	}
	q.Timestamp = timeFromNano(tsNano)
	return q, true, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)

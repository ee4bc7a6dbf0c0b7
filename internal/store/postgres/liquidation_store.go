package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// LiquidationStore implements domain.LiquidationStore using PostgreSQL.
type LiquidationStore struct {
	pool *pgxpool.Pool
}

// NewLiquidationStore creates a LiquidationStore backed by the given
// connection pool.
func NewLiquidationStore(pool *pgxpool.Pool) *LiquidationStore {
	return &LiquidationStore{pool: pool}
}

// Create inserts a new audit row at trigger time.
func (s *LiquidationStore) Create(ctx context.Context, rec domain.LiquidationRecord) error {
	collatQuote, err := marshalQuote(rec.CollateralQuote)
	if err != nil {
		return fmt.Errorf("postgres: marshal collateral quote: %w", err)
	}
	debtQuote, err := marshalQuote(rec.DebtQuote)
	if err != nil {
		return fmt.Errorf("postgres: marshal debt quote: %w", err)
	}

	const query = `
		INSERT INTO liquidations (
			id, loan_id, borrower, debt_pool, collateral_pool, debt,
			collateral_brand, collateral_quote, debt_quote, status,
			failure_reason, triggered_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.LoanID, rec.Borrower,
		string(rec.DebtPool), string(rec.CollateralPool), amountArg(rec.Debt),
		collateralBrand(rec), collatQuote, debtQuote,
		rec.Status, rec.FailureReason, rec.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create liquidation %s: %w", rec.ID, err)
	}
	return nil
}

// Update finalizes an audit row with the outcome of the sale.
func (s *LiquidationStore) Update(ctx context.Context, rec domain.LiquidationRecord) error {
	const query = `
		UPDATE liquidations SET
			debt_with_penalty = $2,
			collateral_sold = $3,
			proceeds_out = $4,
			leftover = $5,
			status = $6,
			failure_reason = $7,
			settled_at = $8
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		rec.ID,
		amountArg(rec.DebtWithPenalty), amountArg(rec.CollateralSold),
		amountArg(rec.ProceedsOut), amountArg(rec.Leftover),
		rec.Status, rec.FailureReason, rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update liquidation %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update liquidation %s: no such row", rec.ID)
	}
	return nil
}

// Get returns one audit row by id.
func (s *LiquidationStore) Get(ctx context.Context, id string) (domain.LiquidationRecord, error) {
	rec, err := scanLiquidation(s.pool.QueryRow(ctx, liquidationSelect+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LiquidationRecord{}, fmt.Errorf("postgres: liquidation %s not found", id)
	}
	if err != nil {
		return domain.LiquidationRecord{}, fmt.Errorf("postgres: get liquidation %s: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns audit rows newest first.
func (s *LiquidationStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.LiquidationRecord, error) {
	query := liquidationSelect + " ORDER BY triggered_at DESC"
	args := []any{}
	if opts.Limit > 0 {
		query += " LIMIT $1"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET $2"
			args = append(args, opts.Offset)
		}
	}
	return s.list(ctx, query, args...)
}

// ListSettledBefore returns settled rows older than the cutoff, oldest
// first, for the archiver.
func (s *LiquidationStore) ListSettledBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.LiquidationRecord, error) {
	query := liquidationSelect + " WHERE status = $1 AND settled_at < $2 ORDER BY settled_at"
	args := []any{domain.LiquidationSettled, cutoff}
	if opts.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, opts.Limit)
	}
	return s.list(ctx, query, args...)
}

const liquidationSelect = `
	SELECT id, loan_id, borrower, debt_pool, collateral_pool,
	       debt::text, debt_with_penalty::text, collateral_sold::text,
	       proceeds_out::text, leftover::text, collateral_brand,
	       collateral_quote, debt_quote, status, failure_reason,
	       triggered_at, settled_at
	FROM liquidations`

func (s *LiquidationStore) list(ctx context.Context, query string, args ...any) ([]domain.LiquidationRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations: %w", err)
	}
	defer rows.Close()

	var recs []domain.LiquidationRecord
	for rows.Next() {
		rec, err := scanLiquidation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list liquidations rows: %w", err)
	}
	return recs, nil
}

func scanLiquidation(row pgx.Row) (domain.LiquidationRecord, error) {
	var (
		rec                            domain.LiquidationRecord
		debtPool, collatPool, brand    string
		debt                           string
		withPenalty, sold, out, left   *string
		collatQuote, debtQuote         []byte
	)
	err := row.Scan(
		&rec.ID, &rec.LoanID, &rec.Borrower, &debtPool, &collatPool,
		&debt, &withPenalty, &sold, &out, &left, &brand,
		&collatQuote, &debtQuote, &rec.Status, &rec.FailureReason,
		&rec.TriggeredAt, &rec.SettledAt,
	)
	if err != nil {
		return domain.LiquidationRecord{}, err
	}

	rec.DebtPool = domain.Brand(debtPool)
	rec.CollateralPool = domain.Brand(collatPool)
	if rec.Debt, err = scanAmount(rec.DebtPool, &debt); err != nil {
		return domain.LiquidationRecord{}, err
	}
	if rec.DebtWithPenalty, err = scanAmount(rec.DebtPool, withPenalty); err != nil {
		return domain.LiquidationRecord{}, err
	}
	if rec.CollateralSold, err = scanAmount(domain.Brand(brand), sold); err != nil {
		return domain.LiquidationRecord{}, err
	}
	if rec.ProceedsOut, err = scanAmount(rec.DebtPool, out); err != nil {
		return domain.LiquidationRecord{}, err
	}
	if rec.Leftover, err = scanAmount(domain.Brand(brand), left); err != nil {
		return domain.LiquidationRecord{}, err
	}
	if rec.CollateralQuote, err = unmarshalQuote(collatQuote); err != nil {
		return domain.LiquidationRecord{}, err
	}
	if rec.DebtQuote, err = unmarshalQuote(debtQuote); err != nil {
		return domain.LiquidationRecord{}, err
	}
	return rec, nil
}

// collateralBrand resolves the protocol-token brand recorded with the
// audit row, falling back to the sold amount when set.
func collateralBrand(rec domain.LiquidationRecord) string {
	if rec.CollateralSold.Brand != "" {
		return string(rec.CollateralSold.Brand)
	}
	if rec.Leftover.Brand != "" {
		return string(rec.Leftover.Brand)
	}
	return string(rec.CollateralPool)
}

// Compile-time interface check.
var _ domain.LiquidationStore = (*LiquidationStore)(nil)

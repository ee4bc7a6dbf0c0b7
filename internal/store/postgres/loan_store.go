package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// LoanStore implements domain.LoanStore using PostgreSQL.
type LoanStore struct {
	pool *pgxpool.Pool
}

// NewLoanStore creates a LoanStore backed by the given connection pool.
func NewLoanStore(pool *pgxpool.Pool) *LoanStore {
	return &LoanStore{pool: pool}
}

// Upsert writes a loan record, replacing any previous row.
func (s *LoanStore) Upsert(ctx context.Context, rec domain.LoanRecord) error {
	const query = `
		INSERT INTO loans (
			id, borrower, debt_pool, collateral_pool, collateral_brand,
			collateral, debt_snapshot, interest_snap_num, interest_snap_den,
			phase, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		ON CONFLICT (id) DO UPDATE SET
			collateral = EXCLUDED.collateral,
			debt_snapshot = EXCLUDED.debt_snapshot,
			interest_snap_num = EXCLUDED.interest_snap_num,
			interest_snap_den = EXCLUDED.interest_snap_den,
			phase = EXCLUDED.phase,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Borrower, string(rec.DebtPool), string(rec.CollateralPool),
		string(rec.Collateral.Brand),
		amountArg(rec.Collateral), amountArg(rec.DebtSnapshot),
		rec.InterestSnapshot.Num.String(), rec.InterestSnapshot.Den.String(),
		rec.Phase,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert loan %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns one loan by id.
func (s *LoanStore) Get(ctx context.Context, id string) (domain.LoanRecord, error) {
	rec, err := scanLoan(s.pool.QueryRow(ctx, loanSelect+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LoanRecord{}, fmt.Errorf("%w: %s", domain.ErrLoanNotFound, id)
	}
	if err != nil {
		return domain.LoanRecord{}, fmt.Errorf("postgres: get loan %s: %w", id, err)
	}
	return rec, nil
}

// ListByPool returns loans against one debt pool, newest first.
func (s *LoanStore) ListByPool(ctx context.Context, debtPool domain.Brand, opts domain.ListOpts) ([]domain.LoanRecord, error) {
	return s.list(ctx, loanSelect+" WHERE debt_pool = $1 ORDER BY updated_at DESC", string(debtPool), opts)
}

// ListByPhase returns loans in one phase, newest first.
func (s *LoanStore) ListByPhase(ctx context.Context, phase string, opts domain.ListOpts) ([]domain.LoanRecord, error) {
	return s.list(ctx, loanSelect+" WHERE phase = $1 ORDER BY updated_at DESC", phase, opts)
}

const loanSelect = `
	SELECT id, borrower, debt_pool, collateral_pool, collateral_brand,
	       collateral::text, debt_snapshot::text,
	       interest_snap_num::text, interest_snap_den::text,
	       phase, updated_at
	FROM loans`

func (s *LoanStore) list(ctx context.Context, query, filter string, opts domain.ListOpts) ([]domain.LoanRecord, error) {
	args := []any{filter}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET $3"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list loans: %w", err)
	}
	defer rows.Close()

	var recs []domain.LoanRecord
	for rows.Next() {
		rec, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan loan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list loans rows: %w", err)
	}
	return recs, nil
}

func scanLoan(row pgx.Row) (domain.LoanRecord, error) {
	var (
		rec                         domain.LoanRecord
		debtPool, collatPool, brand string
		collateral, debtSnap        string
		snapNum, snapDen            string
	)
	err := row.Scan(
		&rec.ID, &rec.Borrower, &debtPool, &collatPool, &brand,
		&collateral, &debtSnap, &snapNum, &snapDen,
		&rec.Phase, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.LoanRecord{}, err
	}

	rec.DebtPool = domain.Brand(debtPool)
	rec.CollateralPool = domain.Brand(collatPool)
	if rec.Collateral, err = scanAmount(domain.Brand(brand), &collateral); err != nil {
		return domain.LoanRecord{}, err
	}
	if rec.DebtSnapshot, err = scanAmount(rec.DebtPool, &debtSnap); err != nil {
		return domain.LoanRecord{}, err
	}
	if rec.InterestSnapshot, err = scanRatio(snapNum, snapDen); err != nil {
		return domain.LoanRecord{}, err
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.LoanStore = (*LoanStore)(nil)

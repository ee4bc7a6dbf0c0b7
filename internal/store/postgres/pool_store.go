package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Upsert writes a pool snapshot, replacing any previous row.
func (s *PoolStore) Upsert(ctx context.Context, snap domain.PoolSnapshot) error {
	const query = `
		INSERT INTO pools (
			underlying, protocol_token, on_hand, total_debt, protocol_supply,
			total_pledged, compound_num, compound_den, last_accrual,
			liquidation_bps, base_rate_bps, multiplier_bps, penalty_rate_bps,
			borrowable, usable_as_collat, collateral_limit, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW())
		ON CONFLICT (underlying) DO UPDATE SET
			on_hand = EXCLUDED.on_hand,
			total_debt = EXCLUDED.total_debt,
			protocol_supply = EXCLUDED.protocol_supply,
			total_pledged = EXCLUDED.total_pledged,
			compound_num = EXCLUDED.compound_num,
			compound_den = EXCLUDED.compound_den,
			last_accrual = EXCLUDED.last_accrual,
			liquidation_bps = EXCLUDED.liquidation_bps,
			base_rate_bps = EXCLUDED.base_rate_bps,
			multiplier_bps = EXCLUDED.multiplier_bps,
			penalty_rate_bps = EXCLUDED.penalty_rate_bps,
			borrowable = EXCLUDED.borrowable,
			usable_as_collat = EXCLUDED.usable_as_collat,
			collateral_limit = EXCLUDED.collateral_limit,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		string(snap.Underlying), string(snap.ProtocolToken),
		amountArg(snap.OnHand), amountArg(snap.TotalDebt), amountArg(snap.ProtocolSupply),
		amountArg(snap.TotalPledged),
		snap.Compound.Num.String(), snap.Compound.Den.String(), snap.LastAccrual,
		snap.LiquidationBps, snap.BaseRateBps, snap.MultiplierBps, snap.PenaltyRateBps,
		snap.Borrowable, snap.UsableAsCollat, amountArg(snap.CollateralLimit),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pool %s: %w", snap.Underlying, err)
	}
	return nil
}

// Get returns the snapshot for one underlying brand.
func (s *PoolStore) Get(ctx context.Context, underlying domain.Brand) (domain.PoolSnapshot, error) {
	const query = `
		SELECT underlying, protocol_token, on_hand::text, total_debt::text,
		       protocol_supply::text, total_pledged::text,
		       compound_num::text, compound_den::text, last_accrual,
		       liquidation_bps, base_rate_bps, multiplier_bps, penalty_rate_bps,
		       borrowable, usable_as_collat, collateral_limit::text, updated_at
		FROM pools WHERE underlying = $1`

	snap, err := scanPool(s.pool.QueryRow(ctx, query, string(underlying)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PoolSnapshot{}, fmt.Errorf("%w: %s", domain.ErrPoolNotFound, underlying)
	}
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("postgres: get pool %s: %w", underlying, err)
	}
	return snap, nil
}

// List returns snapshots ordered by underlying brand.
func (s *PoolStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.PoolSnapshot, error) {
	query := `
		SELECT underlying, protocol_token, on_hand::text, total_debt::text,
		       protocol_supply::text, total_pledged::text,
		       compound_num::text, compound_den::text, last_accrual,
		       liquidation_bps, base_rate_bps, multiplier_bps, penalty_rate_bps,
		       borrowable, usable_as_collat, collateral_limit::text, updated_at
		FROM pools ORDER BY underlying`
	args := []any{}
	if opts.Limit > 0 {
		query += " LIMIT $1"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET $2"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var snaps []domain.PoolSnapshot
	for rows.Next() {
		snap, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return snaps, nil
}

func scanPool(row pgx.Row) (domain.PoolSnapshot, error) {
	var (
		snap                            domain.PoolSnapshot
		underlying, token               string
		onHand, debt, supply, pledged   string
		compoundNum, compoundDen        string
		limit                           *string
	)
	err := row.Scan(
		&underlying, &token, &onHand, &debt, &supply, &pledged,
		&compoundNum, &compoundDen, &snap.LastAccrual,
		&snap.LiquidationBps, &snap.BaseRateBps, &snap.MultiplierBps, &snap.PenaltyRateBps,
		&snap.Borrowable, &snap.UsableAsCollat, &limit, &snap.UpdatedAt,
	)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}

	snap.Underlying = domain.Brand(underlying)
	snap.ProtocolToken = domain.Brand(token)
	if snap.OnHand, err = scanAmount(snap.Underlying, &onHand); err != nil {
		return domain.PoolSnapshot{}, err
	}
	if snap.TotalDebt, err = scanAmount(snap.Underlying, &debt); err != nil {
		return domain.PoolSnapshot{}, err
	}
	if snap.ProtocolSupply, err = scanAmount(snap.ProtocolToken, &supply); err != nil {
		return domain.PoolSnapshot{}, err
	}
	if snap.TotalPledged, err = scanAmount(snap.ProtocolToken, &pledged); err != nil {
		return domain.PoolSnapshot{}, err
	}
	if snap.Compound, err = scanRatio(compoundNum, compoundDen); err != nil {
		return domain.PoolSnapshot{}, err
	}
	if snap.CollateralLimit, err = scanAmount(snap.ProtocolToken, limit); err != nil {
		return domain.PoolSnapshot{}, err
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.PoolStore = (*PoolStore)(nil)

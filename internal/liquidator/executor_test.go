package liquidator

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/lend"
)

// fakeAMM answers one InputPrice and one SwapIn with canned values and
// records what the executor asked for.
type fakeAMM struct {
	neededIn domain.Amount
	swapOut  domain.Amount
	priceErr error
	swapErr  error

	gotRequired domain.Amount
	gotIn       domain.Amount
	gotMinOut   domain.Amount
}

func (f *fakeAMM) InputPrice(_ context.Context, out domain.Amount, inBrand domain.Brand) (domain.Amount, error) {
	f.gotRequired = out.Clone()
	if f.priceErr != nil {
		return domain.Amount{}, f.priceErr
	}
	if f.neededIn.Brand != inBrand {
		return domain.Amount{}, fmt.Errorf("unexpected in brand %s", inBrand)
	}
	return f.neededIn.Clone(), nil
}

func (f *fakeAMM) SwapIn(_ context.Context, in domain.Amount, outBrand domain.Brand, minOut domain.Amount) (domain.Amount, error) {
	f.gotIn = in.Clone()
	f.gotMinOut = minOut.Clone()
	if f.swapErr != nil {
		return domain.Amount{}, f.swapErr
	}
	if f.swapOut.Brand != outBrand {
		return domain.Amount{}, fmt.Errorf("unexpected out brand %s", outBrand)
	}
	return f.swapOut.Clone(), nil
}

// fakeAudits keeps the last written record per liquidation id.
type fakeAudits struct {
	created int
	updated int
	last    domain.LiquidationRecord
}

func (f *fakeAudits) Create(_ context.Context, rec domain.LiquidationRecord) error {
	f.created++
	f.last = rec
	return nil
}

func (f *fakeAudits) Update(_ context.Context, rec domain.LiquidationRecord) error {
	f.updated++
	f.last = rec
	return nil
}

func (f *fakeAudits) Get(context.Context, string) (domain.LiquidationRecord, error) {
	return f.last, nil
}

func (f *fakeAudits) ListRecent(context.Context, domain.ListOpts) ([]domain.LiquidationRecord, error) {
	return nil, nil
}

func (f *fakeAudits) ListSettledBefore(context.Context, time.Time, domain.ListOpts) ([]domain.LiquidationRecord, error) {
	return nil, nil
}

// liquidationFixture builds an ATOM debt pool and an OSMO collateral
// pool with one breached loan: 10000 aOSMO (200 OSMO at rate 0.02)
// behind 500 ATOM of debt, penalty 10%.
func liquidationFixture(t *testing.T) (*lend.Registry, *lend.Loan, *lend.Pool, *lend.Pool) {
	t.Helper()

	atom := lend.NewPool(lend.PoolConfig{
		Underlying:    "ATOM",
		ProtocolToken: "aATOM",
		InitialRate:   domain.NewRatio(2, 100),
		Params: lend.RiskParams{
			LiquidationMarginBps: 15_000,
			PenaltyRateBps:       1000,
			Borrowable:           true,
		},
	})
	osmo := lend.NewPool(lend.PoolConfig{
		Underlying:    "OSMO",
		ProtocolToken: "aOSMO",
		InitialRate:   domain.NewRatio(2, 100),
		Params: lend.RiskParams{
			LiquidationMarginBps: 15_000,
			UsableAsCollateral:   true,
		},
	})

	_, err := atom.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	// The collateral pool holds real deposits so redeemed tokens pay out.
	_, err = osmo.Deposit(domain.NewAmount("OSMO", 10_000))
	require.NoError(t, err)

	require.NoError(t, osmo.Pledge(domain.NewAmount("aOSMO", 10_000)))
	loan, err := atom.OpenLoan(domain.BorrowRequest{
		Borrower:             "alice",
		Collateral:           domain.NewAmount("aOSMO", 10_000),
		CollateralUnderlying: "OSMO",
		WantDebt:             domain.NewAmount("ATOM", 500),
	}, big.NewInt(2), big.NewInt(1))
	require.NoError(t, err)

	reg := lend.NewRegistry()
	require.NoError(t, reg.Add(atom))
	require.NoError(t, reg.Add(osmo))
	return reg, loan, atom, osmo
}

func TestExecutorSettlesFullRecovery(t *testing.T) {
	reg, loan, atom, osmo := liquidationFixture(t)

	// The venue wants 150 OSMO for the 550 ATOM required; the loan holds
	// 200 OSMO worth, so the sale is fully sized and minOut binds.
	amm := &fakeAMM{
		neededIn: domain.NewAmount("OSMO", 150),
		swapOut:  domain.NewAmount("ATOM", 560),
	}
	audits := &fakeAudits{}
	exec := New(Deps{Registry: reg, AMM: amm, Audits: audits})

	exec.Liquidate(context.Background(), loan, domain.PriceQuote{}, domain.PriceQuote{})

	// required = 500 × 1.10.
	assert.Equal(t, int64(550), amm.gotRequired.Value.Int64())
	assert.Equal(t, int64(150), amm.gotIn.Value.Int64())
	assert.Equal(t, int64(550), amm.gotMinOut.Value.Int64())

	assert.Equal(t, lend.PhaseLiquidated, loan.Phase)
	assert.Equal(t, int64(0), loan.DebtSnapshot.Value.Int64())
	// 150 OSMO at rate 0.02 redeemed 7500 aOSMO; 2500 stay with the loan.
	assert.Equal(t, int64(2500), loan.Collateral.Value.Int64())

	snap := atom.Snapshot()
	assert.Equal(t, int64(1060), snap.OnHand.Value.Int64())
	assert.Equal(t, int64(0), snap.TotalDebt.Value.Int64())

	// Sold and leftover tokens both left the pledge ledger.
	assert.Equal(t, int64(0), osmo.Snapshot().TotalPledged.Value.Int64())

	require.Equal(t, 1, audits.created)
	assert.Equal(t, domain.LiquidationSettled, audits.last.Status)
	assert.Equal(t, int64(550), audits.last.DebtWithPenalty.Value.Int64())
	assert.Equal(t, int64(7500), audits.last.CollateralSold.Value.Int64())
	assert.Equal(t, int64(560), audits.last.ProceedsOut.Value.Int64())
	assert.Equal(t, int64(2500), audits.last.Leftover.Value.Int64())
	require.NotNil(t, audits.last.SettledAt)
}

func TestExecutorSellsEverythingWhenShort(t *testing.T) {
	reg, loan, atom, _ := liquidationFixture(t)

	// The venue wants more OSMO than the loan holds: sell all 200 with
	// no minimum, book whatever comes back.
	amm := &fakeAMM{
		neededIn: domain.NewAmount("OSMO", 300),
		swapOut:  domain.NewAmount("ATOM", 400),
	}
	audits := &fakeAudits{}
	exec := New(Deps{Registry: reg, AMM: amm, Audits: audits})

	exec.Liquidate(context.Background(), loan, domain.PriceQuote{}, domain.PriceQuote{})

	assert.Equal(t, int64(200), amm.gotIn.Value.Int64())
	assert.Equal(t, int64(0), amm.gotMinOut.Value.Int64())

	assert.Equal(t, lend.PhaseLiquidated, loan.Phase)
	assert.Equal(t, int64(0), loan.Collateral.Value.Int64())

	snap := atom.Snapshot()
	assert.Equal(t, int64(900), snap.OnHand.Value.Int64())
	assert.Equal(t, int64(0), snap.TotalDebt.Value.Int64())
	assert.Equal(t, domain.LiquidationSettled, audits.last.Status)
}

func TestExecutorFailedSwapLeavesLoanLiquidating(t *testing.T) {
	reg, loan, atom, _ := liquidationFixture(t)

	amm := &fakeAMM{
		neededIn: domain.NewAmount("OSMO", 150),
		swapErr:  domain.ErrSlippageExceeded,
	}
	audits := &fakeAudits{}
	exec := New(Deps{Registry: reg, AMM: amm, Audits: audits})

	exec.Liquidate(context.Background(), loan, domain.PriceQuote{}, domain.PriceQuote{})

	// The loan froze and must not return to active.
	assert.Equal(t, lend.PhaseLiquidating, loan.Phase)
	assert.Equal(t, int64(500), loan.DebtSnapshot.Value.Int64())
	assert.Equal(t, int64(500), atom.Snapshot().TotalDebt.Value.Int64())

	assert.Equal(t, domain.LiquidationFailed, audits.last.Status)
	assert.Contains(t, audits.last.FailureReason, "swap collateral")
	assert.Nil(t, audits.last.SettledAt)
}

func TestExecutorFailedPricingStalls(t *testing.T) {
	reg, loan, _, osmo := liquidationFixture(t)

	amm := &fakeAMM{priceErr: domain.ErrInsufficientPoolLiquidity}
	audits := &fakeAudits{}
	exec := New(Deps{Registry: reg, AMM: amm, Audits: audits})

	exec.Liquidate(context.Background(), loan, domain.PriceQuote{}, domain.PriceQuote{})

	assert.Equal(t, lend.PhaseLiquidating, loan.Phase)
	// Nothing was redeemed; the pledge is intact.
	assert.Equal(t, int64(10_000), osmo.Snapshot().TotalPledged.Value.Int64())
	assert.Equal(t, domain.LiquidationFailed, audits.last.Status)
}

func TestExecutorDetectOnly(t *testing.T) {
	reg, loan, atom, _ := liquidationFixture(t)

	audits := &fakeAudits{}
	exec := New(Deps{Registry: reg, Audits: audits, DetectOnly: true})

	exec.Liquidate(context.Background(), loan, domain.PriceQuote{}, domain.PriceQuote{})

	assert.Equal(t, lend.PhaseActive, loan.Phase)
	assert.Equal(t, int64(500), atom.Snapshot().TotalDebt.Value.Int64())
	assert.Equal(t, 0, audits.created)
}

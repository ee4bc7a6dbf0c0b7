package lend

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestPool(clock *fakeClock) *Pool {
	p := NewPool(PoolConfig{
		Underlying:    "ATOM",
		ProtocolToken: "aATOM",
		InitialRate:   domain.NewRatio(2, 100),
		Params: RiskParams{
			LiquidationMarginBps: 15_000,
			BaseRateBps:          250,
			MultiplierBps:        2000,
			PenaltyRateBps:       1000,
			Borrowable:           true,
			UsableAsCollateral:   true,
		},
		Schedule: dailySchedule(),
	})
	p.now = clock.Now
	p.lastAccrual = clock.Now()
	return p
}

func openTestLoan(t *testing.T, p *Pool, debt int64) *Loan {
	t.Helper()
	l, err := p.OpenLoan(domain.BorrowRequest{
		Borrower:             "alice",
		Collateral:           domain.NewAmount("aOSMO", 10_000),
		CollateralUnderlying: "OSMO",
		WantDebt:             domain.NewAmount("ATOM", debt),
	}, big.NewInt(200), big.NewInt(100))
	require.NoError(t, err)
	return l
}

func TestPoolDepositMintsAtExchangeRate(t *testing.T) {
	p := newTestPool(newFakeClock())

	minted, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	assert.Equal(t, domain.Brand("aATOM"), minted.Brand)
	assert.Equal(t, int64(50_000), minted.Value.Int64())

	// The rate is unchanged by a deposit.
	assert.True(t, p.ExchangeRate().Equal(domain.NewRatio(2, 100)))
}

func TestPoolDepositRejectsWrongBrand(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("OSMO", 1000))
	assert.ErrorIs(t, err, domain.ErrBrandMismatch)
	_, err = p.Deposit(domain.NewAmount("ATOM", 0))
	assert.Error(t, err)
}

func TestPoolRedeemRoundTrip(t *testing.T) {
	p := newTestPool(newFakeClock())

	minted, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)

	payout, err := p.Redeem(minted)
	require.NoError(t, err)
	assert.Equal(t, domain.Brand("ATOM"), payout.Brand)
	assert.Equal(t, int64(1000), payout.Value.Int64())
}

func TestPoolRedeemRejectsLentOutFunds(t *testing.T) {
	p := newTestPool(newFakeClock())

	minted, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	openTestLoan(t, p, 600)

	// Only 400 remains on hand; redeeming the full supply needs 1000.
	_, err = p.Redeem(minted)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	// A partial redeem within on-hand funds still works.
	payout, err := p.Redeem(domain.NewAmount("aATOM", 10_000))
	require.NoError(t, err)
	assert.Equal(t, int64(200), payout.Value.Int64())
}

func TestPoolPledgeEnforcesLimit(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(clock)
	params := p.Params()
	params.CollateralLimit = domain.NewAmount("aATOM", 100)
	p.UpdateRiskParams(params)

	require.NoError(t, p.Pledge(domain.NewAmount("aATOM", 60)))
	require.NoError(t, p.Pledge(domain.NewAmount("aATOM", 40)))
	err := p.Pledge(domain.NewAmount("aATOM", 1))
	assert.ErrorIs(t, err, domain.ErrCollateralLimitExceeded)

	require.NoError(t, p.Unpledge(domain.NewAmount("aATOM", 50)))
	require.NoError(t, p.Pledge(domain.NewAmount("aATOM", 1)))
}

func TestPoolPledgeRequiresCollateralFlag(t *testing.T) {
	p := newTestPool(newFakeClock())
	params := p.Params()
	params.UsableAsCollateral = false
	p.UpdateRiskParams(params)

	err := p.Pledge(domain.NewAmount("aATOM", 10))
	assert.ErrorIs(t, err, domain.ErrCollateralNotEnabled)
}

func TestPoolOpenLoan(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)

	l := openTestLoan(t, p, 500)
	assert.Equal(t, PhaseActive, l.Phase)
	assert.Equal(t, int64(500), l.DebtSnapshot.Value.Int64())

	snap := p.Snapshot()
	assert.Equal(t, int64(500), snap.OnHand.Value.Int64())
	assert.Equal(t, int64(500), snap.TotalDebt.Value.Int64())
	assert.Equal(t, 1, p.Priority("OSMO").Len())
}

func TestPoolOpenLoanRejectsThinCollateral(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)

	// 149 compare units of collateral against 100 of debt misses 1.5x.
	_, err = p.OpenLoan(domain.BorrowRequest{
		Borrower:             "alice",
		Collateral:           domain.NewAmount("aOSMO", 10_000),
		CollateralUnderlying: "OSMO",
		WantDebt:             domain.NewAmount("ATOM", 500),
	}, big.NewInt(149), big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrUndercollateralizedRequest)

	// Exactly at the margin opens.
	_, err = p.OpenLoan(domain.BorrowRequest{
		Borrower:             "alice",
		Collateral:           domain.NewAmount("aOSMO", 10_000),
		CollateralUnderlying: "OSMO",
		WantDebt:             domain.NewAmount("ATOM", 500),
	}, big.NewInt(150), big.NewInt(100))
	assert.NoError(t, err)
}

func TestPoolOpenLoanRejectsOverdraw(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)

	_, err = p.OpenLoan(domain.BorrowRequest{
		Borrower:             "alice",
		Collateral:           domain.NewAmount("aOSMO", 10_000),
		CollateralUnderlying: "OSMO",
		WantDebt:             domain.NewAmount("ATOM", 1001),
	}, big.NewInt(10_000), big.NewInt(1001))
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestPoolOpenLoanRequiresBorrowable(t *testing.T) {
	p := newTestPool(newFakeClock())
	params := p.Params()
	params.Borrowable = false
	p.UpdateRiskParams(params)
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)

	_, err = p.OpenLoan(domain.BorrowRequest{
		Borrower:             "alice",
		Collateral:           domain.NewAmount("aOSMO", 10_000),
		CollateralUnderlying: "OSMO",
		WantDebt:             domain.NewAmount("ATOM", 100),
	}, big.NewInt(200), big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrPoolNotBorrowable)
}

func TestPoolAdjustLoanRepay(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	accept := func(c, d domain.Amount) (*big.Int, *big.Int, error) {
		return big.NewInt(200), big.NewInt(50), nil
	}
	_, err = p.AdjustLoan(l.ID, domain.AdjustRequest{
		GiveDebt: domain.NewAmount("ATOM", 300),
	}, accept)
	require.NoError(t, err)
	assert.Equal(t, int64(200), l.DebtSnapshot.Value.Int64())

	snap := p.Snapshot()
	assert.Equal(t, int64(800), snap.OnHand.Value.Int64())
	assert.Equal(t, int64(200), snap.TotalDebt.Value.Int64())

	// Overpaying caps at the outstanding debt.
	_, err = p.AdjustLoan(l.ID, domain.AdjustRequest{
		GiveDebt: domain.NewAmount("ATOM", 9999),
	}, accept)
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.DebtSnapshot.Value.Int64())
	assert.Equal(t, int64(0), p.Snapshot().TotalDebt.Value.Int64())
}

func TestPoolAdjustLoanDraw(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	accept := func(c, d domain.Amount) (*big.Int, *big.Int, error) {
		return big.NewInt(300), big.NewInt(150), nil
	}
	_, err = p.AdjustLoan(l.ID, domain.AdjustRequest{
		WantDebt: domain.NewAmount("ATOM", 200),
	}, accept)
	require.NoError(t, err)
	assert.Equal(t, int64(700), l.DebtSnapshot.Value.Int64())

	// Drawing past the funds on hand fails before valuation.
	_, err = p.AdjustLoan(l.ID, domain.AdjustRequest{
		WantDebt: domain.NewAmount("ATOM", 301),
	}, accept)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestPoolAdjustLoanMarginGuard(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	reject := func(c, d domain.Amount) (*big.Int, *big.Int, error) {
		return big.NewInt(100), big.NewInt(100), nil
	}
	_, err = p.AdjustLoan(l.ID, domain.AdjustRequest{
		WantCollateral: domain.NewAmount("aOSMO", 5000),
	}, reject)
	assert.ErrorIs(t, err, domain.ErrInsufficientCollateralization)

	// The failed adjustment left the loan untouched.
	assert.Equal(t, int64(10_000), l.Collateral.Value.Int64())
	assert.Equal(t, int64(500), l.DebtSnapshot.Value.Int64())
}

func TestPoolAdjustLoanWithdrawCollateral(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	accept := func(c, d domain.Amount) (*big.Int, *big.Int, error) {
		return big.NewInt(160), big.NewInt(100), nil
	}
	_, err = p.AdjustLoan(l.ID, domain.AdjustRequest{
		WantCollateral: domain.NewAmount("aOSMO", 2000),
	}, accept)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), l.Collateral.Value.Int64())

	// Withdrawing more than is pledged fails outright.
	_, err = p.AdjustLoan(l.ID, domain.AdjustRequest{
		WantCollateral: domain.NewAmount("aOSMO", 8001),
	}, accept)
	assert.Error(t, err)
}

func TestPoolAdjustLoanPhaseGuard(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	_, err = p.BeginLiquidation(l.ID)
	require.NoError(t, err)

	_, err = p.AdjustLoan(l.ID, domain.AdjustRequest{
		GiveDebt: domain.NewAmount("ATOM", 500),
	}, func(c, d domain.Amount) (*big.Int, *big.Int, error) {
		return big.NewInt(200), big.NewInt(0), nil
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPhaseTransition)
}

func TestPoolCloseLoanRequiresFullRepayment(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	_, err = p.CloseLoan(l.ID, domain.NewAmount("ATOM", 499))
	assert.ErrorIs(t, err, domain.ErrRepaymentShort)
	assert.Equal(t, PhaseActive, l.Phase)

	res, err := p.CloseLoan(l.ID, domain.NewAmount("ATOM", 500))
	require.NoError(t, err)
	assert.Equal(t, domain.Brand("aOSMO"), res.Collateral.Brand)
	assert.Equal(t, int64(10_000), res.Collateral.Value.Int64())
	assert.Equal(t, int64(0), res.Refund.Value.Int64())
	assert.False(t, res.WasLiquidated)
	assert.Equal(t, PhaseClosed, l.Phase)

	snap := p.Snapshot()
	assert.Equal(t, int64(1000), snap.OnHand.Value.Int64())
	assert.Equal(t, int64(0), snap.TotalDebt.Value.Int64())
	assert.Equal(t, 0, p.Priority("OSMO").Len())

	// A closed loan cannot be closed twice.
	_, err = p.CloseLoan(l.ID, domain.NewAmount("ATOM", 500))
	assert.ErrorIs(t, err, domain.ErrInvalidPhaseTransition)
}

func TestPoolCloseLoanRefundsOverpayment(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	res, err := p.CloseLoan(l.ID, domain.NewAmount("ATOM", 520))
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.Refund.Value.Int64())
	assert.Equal(t, domain.Brand("ATOM"), res.Refund.Brand)

	// Only the debt lands in the pool; the excess goes back out.
	assert.Equal(t, int64(1000), p.Snapshot().OnHand.Value.Int64())
}

func TestPoolLiquidatedLoanClaimsLeftoverCollateral(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	_, err = p.BeginLiquidation(l.ID)
	require.NoError(t, err)
	require.NoError(t, p.SettleLiquidation(l.ID, domain.NewAmount("ATOM", 480), domain.NewAmount("aOSMO", 700)))

	// The debt was written off at settlement, so the claim takes no
	// payment and hands back the unsold collateral.
	res, err := p.CloseLoan(l.ID, domain.ZeroAmount("ATOM"))
	require.NoError(t, err)
	assert.Equal(t, int64(700), res.Collateral.Value.Int64())
	assert.Equal(t, domain.Brand("aOSMO"), res.Collateral.Brand)
	assert.True(t, res.WasLiquidated)
	assert.Equal(t, PhaseClosed, l.Phase)
	assert.Equal(t, int64(0), l.Collateral.Value.Int64())

	// The claim moves no pool funds.
	assert.Equal(t, int64(980), p.Snapshot().OnHand.Value.Int64())
	assert.Equal(t, int64(0), p.Snapshot().TotalDebt.Value.Int64())

	// A claimed loan cannot be claimed twice.
	_, err = p.CloseLoan(l.ID, domain.ZeroAmount("ATOM"))
	assert.ErrorIs(t, err, domain.ErrInvalidPhaseTransition)
}

func TestPoolLiquidationLifecycle(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	frozen, err := p.BeginLiquidation(l.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseLiquidating, frozen.Phase)
	assert.Equal(t, 0, p.Priority("OSMO").Len())

	err = p.SettleLiquidation(l.ID, domain.NewAmount("ATOM", 480), domain.NewAmount("aOSMO", 700))
	require.NoError(t, err)
	assert.Equal(t, PhaseLiquidated, l.Phase)
	assert.Equal(t, int64(0), l.DebtSnapshot.Value.Int64())
	assert.Equal(t, int64(700), l.Collateral.Value.Int64())

	snap := p.Snapshot()
	assert.Equal(t, int64(980), snap.OnHand.Value.Int64())
	assert.Equal(t, int64(0), snap.TotalDebt.Value.Int64())
}

func TestPoolSettleTwoLiquidations(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	a := openTestLoan(t, p, 300)
	b := openTestLoan(t, p, 400)

	_, err = p.BeginLiquidation(a.ID)
	require.NoError(t, err)
	_, err = p.BeginLiquidation(b.ID)
	require.NoError(t, err)

	require.NoError(t, p.SettleLiquidation(a.ID, domain.NewAmount("ATOM", 300), domain.ZeroAmount("aOSMO")))
	require.NoError(t, p.SettleLiquidation(b.ID, domain.NewAmount("ATOM", 350), domain.ZeroAmount("aOSMO")))

	// Each settlement removes the loan's frozen debt from the total even
	// when the sale recovered less.
	assert.Equal(t, int64(0), p.Snapshot().TotalDebt.Value.Int64())
	assert.Equal(t, int64(950), p.Snapshot().OnHand.Value.Int64())
}

func TestPoolLiquidatingLoanNeverReactivates(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	_, err = p.BeginLiquidation(l.ID)
	require.NoError(t, err)

	// Neither closing nor a second freeze is a legal transition.
	_, err = p.CloseLoan(l.ID, domain.NewAmount("ATOM", 9999))
	assert.ErrorIs(t, err, domain.ErrInvalidPhaseTransition)
	_, err = p.BeginLiquidation(l.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidPhaseTransition)
}

func TestPoolInterestAccruesOverTime(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(clock)
	_, err := p.Deposit(domain.NewAmount("ATOM", 1_000_000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500_000)

	before := p.ExchangeRate()
	clock.Advance(24 * time.Hour)

	interest := p.ChargeInterest(clock.Now())
	assert.Positive(t, interest.Sign())

	// The borrower owes more than the snapshot; depositors earn it
	// through a higher exchange rate.
	debt, err := p.CurrentDebt(l.ID)
	require.NoError(t, err)
	assert.Greater(t, debt.Value.Int64(), int64(500_000))
	assert.Equal(t, 1, p.ExchangeRate().Rat().Cmp(before.Rat()))

	// Charging again inside the same period adds nothing.
	again := p.ChargeInterest(clock.Now())
	assert.Equal(t, int64(0), again.Int64())
}

func TestPoolPriorityOrderingSurvivesAccrual(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(clock)
	_, err := p.Deposit(domain.NewAmount("ATOM", 1_000_000))
	require.NoError(t, err)

	risky := openTestLoan(t, p, 400_000)
	_, err = p.OpenLoan(domain.BorrowRequest{
		Borrower:             "bob",
		Collateral:           domain.NewAmount("aOSMO", 100_000),
		CollateralUnderlying: "OSMO",
		WantDebt:             domain.NewAmount("ATOM", 100_000),
	}, big.NewInt(400), big.NewInt(100))
	require.NoError(t, err)

	store := p.Priority("OSMO")
	require.NotNil(t, store.MostAtRisk())
	assert.Equal(t, risky.ID, store.MostAtRisk().ID)

	// Accrued interest scales every loan's debt by the same index, so
	// the ordering is unchanged without any re-keying.
	clock.Advance(48 * time.Hour)
	p.ChargeInterest(clock.Now())
	assert.Equal(t, risky.ID, store.MostAtRisk().ID)
}

func TestPoolPositionBalancesReturnsCopies(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	collateral, debt, err := p.PositionBalances(l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), collateral.Value.Int64())
	assert.Equal(t, int64(500), debt.Value.Int64())

	// Mutating the returned amounts must not reach the loan.
	collateral.Value.SetInt64(1)
	debt.Value.SetInt64(1)
	fresh, _, err := p.PositionBalances(l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), fresh.Value.Int64())
	assert.Equal(t, int64(500), l.DebtSnapshot.Value.Int64())

	_, _, err = p.PositionBalances("missing")
	assert.ErrorIs(t, err, domain.ErrLoanNotFound)
}

func TestPoolPositionBalancesDuringAdjustments(t *testing.T) {
	p := newTestPool(newFakeClock())
	_, err := p.Deposit(domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	l := openTestLoan(t, p, 500)

	accept := func(c, d domain.Amount) (*big.Int, *big.Int, error) {
		return big.NewInt(1_000_000), big.NewInt(1), nil
	}

	// Collateral reads race against adjustments unless both go through
	// the pool's lock.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := p.AdjustLoan(l.ID, domain.AdjustRequest{
				GiveCollateral: domain.NewAmount("aOSMO", 1),
			}, accept)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _, err := p.PositionBalances(l.ID)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	collateral, _, err := p.PositionBalances(l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_050), collateral.Value.Int64())
}

package lending

import (
	"testing"

	"github.com/holiman/uint256"
)

func newTestPool(rateBps uint64) *Pool {
	return &Pool{
		Asset:          "TEST",
		TotalDeposited: uint256.NewInt(1_000_000),
		TotalBorrowed:  uint256.NewInt(500_000),
		Params: RiskParameters{
			MaxLTVBps:               5000,
			LiquidationThresholdBps: 8000,
			LiquidationBonusBps:     500,
			InterestRateBps:         rateBps,
		},
		BorrowIndex: Ray(),
		LastAccrual: 1_000,
	}
}

func TestAccrueOneYearAtTenPercent(t *testing.T) {
	pool := newTestPool(1000)
	if err := accrue(pool, 1_000+SecondsPerYear); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	wantIndex := uint256.MustFromDecimal("1100000000000000000000000000")
	if !pool.BorrowIndex.Eq(wantIndex) {
		t.Fatalf("expected index %s, got %s", wantIndex, pool.BorrowIndex)
	}
	if pool.TotalBorrowed.Uint64() != 550_000 {
		t.Fatalf("expected total borrowed 550000, got %s", pool.TotalBorrowed)
	}
	if pool.TotalDeposited.Uint64() != 1_050_000 {
		t.Fatalf("expected interest credited to deposits, got %s", pool.TotalDeposited)
	}
	if pool.LastAccrual != 1_000+SecondsPerYear {
		t.Fatalf("expected last accrual advanced, got %d", pool.LastAccrual)
	}
}

func TestAccrueKeepsLiquidityConstant(t *testing.T) {
	pool := newTestPool(777)
	before := pool.AvailableLiquidity()
	if err := accrue(pool, 1_000+12_345_678); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !pool.AvailableLiquidity().Eq(before) {
		t.Fatalf("liquidity changed from %s to %s", before, pool.AvailableLiquidity())
	}
	if pool.TotalBorrowed.Gt(pool.TotalDeposited) {
		t.Fatalf("borrowed %s exceeds deposited %s", pool.TotalBorrowed, pool.TotalDeposited)
	}
}

func TestAccrueIgnoresNonAdvancingClock(t *testing.T) {
	pool := newTestPool(1000)
	if err := accrue(pool, 500); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !pool.BorrowIndex.Eq(ray) || pool.LastAccrual != 1_000 {
		t.Fatalf("expected untouched pool, got index %s at %d", pool.BorrowIndex, pool.LastAccrual)
	}
}

func TestAccrueZeroRateOnlyMovesTimestamp(t *testing.T) {
	pool := newTestPool(0)
	if err := accrue(pool, 5_000); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !pool.BorrowIndex.Eq(ray) || pool.TotalBorrowed.Uint64() != 500_000 {
		t.Fatalf("zero rate must not change debt")
	}
	if pool.LastAccrual != 5_000 {
		t.Fatalf("expected timestamp update, got %d", pool.LastAccrual)
	}
}

func TestRealizeDebtRoundsUp(t *testing.T) {
	pool := newTestPool(0)
	// index 1.5 ray
	pool.BorrowIndex = uint256.MustFromDecimal("1500000000000000000000000000")
	position := &Position{
		Asset:             "TEST",
		Deposited:         uint256.NewInt(100),
		BorrowedPrincipal: uint256.NewInt(3),
		IndexSnapshot:     Ray(),
	}
	if err := realizeDebt(position, pool); err != nil {
		t.Fatalf("realize: %v", err)
	}
	if position.BorrowedPrincipal.Uint64() != 5 {
		t.Fatalf("expected ceil(4.5)=5, got %s", position.BorrowedPrincipal)
	}
	if !position.IndexSnapshot.Eq(pool.BorrowIndex) {
		t.Fatalf("expected snapshot moved to pool index")
	}
}

func TestPreviewAccrualDoesNotMutate(t *testing.T) {
	pool := newTestPool(1000)
	position := &Position{Asset: "TEST", Deposited: uint256.NewInt(10), BorrowedPrincipal: uint256.NewInt(1_000), IndexSnapshot: Ray()}
	previewPool, previewPos, err := PreviewAccrual(pool, position, 1_000+SecondsPerYear)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if previewPos.BorrowedPrincipal.Uint64() != 1_100 {
		t.Fatalf("expected previewed debt 1100, got %s", previewPos.BorrowedPrincipal)
	}
	if previewPool.LastAccrual == pool.LastAccrual {
		t.Fatalf("expected preview pool to advance")
	}
	if !pool.BorrowIndex.Eq(ray) || position.BorrowedPrincipal.Uint64() != 1_000 {
		t.Fatalf("preview mutated its inputs")
	}
}

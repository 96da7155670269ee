package lending

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"lendpool/crypto"
)

func TestConcurrentLiquidationsSerialize(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(0)
	if _, err := h.engine.Deposit(h.ctx, testAlice, "USDC", amt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.engine.Borrow(h.ctx, testAlice, "USDC", amt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := h.engine.SetPrice(h.ctx, testAuthority, "USDC", amt(5)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	const liquidators = 8
	addrs := make([]crypto.Address, liquidators)
	for i := range addrs {
		addrs[i] = crypto.DeriveAddress("test", fmt.Sprintf("liquidator-%d", i))
		h.store.credit("USDC", addrs[i], 1_000)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < liquidators; i++ {
		wg.Add(1)
		go func(addr crypto.Address) {
			defer wg.Done()
			_, err := h.engine.Liquidate(h.ctx, addr, testAlice, "USDC", amt(100))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrNotUndercollateralized) && !errors.Is(err, ErrOverRepay) && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected liquidation error: %v", err)
			}
		}(addrs[i])
	}
	wg.Wait()

	if succeeded == 0 {
		t.Fatalf("expected at least one liquidation to succeed")
	}
	position := h.position(testAlice)
	if got := position.BorrowedPrincipal.Uint64(); got != 500-uint64(succeeded)*100 {
		t.Fatalf("debt %d does not match %d successful liquidations", got, succeeded)
	}
	pool := h.pool()
	if pool.TotalBorrowed.Gt(pool.TotalDeposited) {
		t.Fatalf("invariant broken: borrowed %s deposited %s", pool.TotalBorrowed, pool.TotalDeposited)
	}
	if !pool.TotalDeposited.Eq(position.Deposited) {
		t.Fatalf("pool deposits %s diverged from sole position %s", pool.TotalDeposited, position.Deposited)
	}
}

func TestConcurrentBorrowsRespectLimits(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(0)
	const borrowers = 10
	addrs := make([]crypto.Address, borrowers)
	for i := range addrs {
		addrs[i] = crypto.DeriveAddress("test", fmt.Sprintf("borrower-%d", i))
		h.store.credit("USDC", addrs[i], 100)
		if _, err := h.engine.Deposit(h.ctx, addrs[i], "USDC", amt(100)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < borrowers; i++ {
		wg.Add(1)
		go func(addr crypto.Address) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := h.engine.Borrow(h.ctx, addr, "USDC", amt(60))
				if err != nil && !errors.Is(err, ErrOverLTV) && !errors.Is(err, ErrInsufficientFunds) {
					t.Errorf("unexpected borrow error: %v", err)
				}
			}
		}(addrs[i])
	}
	wg.Wait()

	pool := h.pool()
	if pool.TotalBorrowed.Gt(pool.TotalDeposited) {
		t.Fatalf("invariant broken: borrowed %s deposited %s", pool.TotalBorrowed, pool.TotalDeposited)
	}
	for _, addr := range addrs {
		health, err := h.engine.Health(h.ctx, "USDC", addr)
		if err != nil {
			t.Fatalf("health: %v", err)
		}
		if health.OverMaxLTV {
			t.Fatalf("position %s over max LTV after concurrent borrows", addr)
		}
	}
}

package main

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/lending"
)

const testScenario = `
Seed = 7
Steps = 150
Asset = "usdc"
AdvanceSeconds = 3600
MinAmount = 1
MaxAmount = 500
PriceShockChance = 0.2
PriceShockBps = 3000

[Bank]
MaxLTVBps = 5000
LiquidationThresholdBps = 8000
LiquidationBonusBps = 500
InterestRateBps = 2000

[PriceFeed]
Price = "100"
DecimalsExponent = 2

[[Users]]
Name = "alice"
Balance = "5000"
InitialDeposit = "2000"

[[Users]]
Name = "bob"
Balance = "5000"
InitialDeposit = "1000"
`

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newLocalSim(t *testing.T, raw string) (*Simulator, *localDriver) {
	t.Helper()
	sc, err := ParseScenario([]byte(raw))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	authority, users, err := buildParticipants(sc, "")
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	d, err := newLocalDriver("", sc.Asset)
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	t.Cleanup(d.Close)
	return NewSimulator(sc, d, authority, users, quietLogger()), d
}

func TestParseScenarioAppliesDefaults(t *testing.T) {
	sc, err := ParseScenario([]byte(testScenario))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sc.Asset != "USDC" || sc.Authority.Name != "authority" {
		t.Fatalf("defaults not applied: %+v", sc)
	}
	if sc.Bank.InterestRateBps != 2000 {
		t.Fatalf("unexpected bank %+v", sc.Bank)
	}
}

func TestParseScenarioRejectsInvalidInput(t *testing.T) {
	cases := map[string]string{
		"unknown field":   testScenario + "\nBogus = 1\n",
		"min above max":   strings.Replace(testScenario, "MinAmount = 1", "MinAmount = 900", 1),
		"bad risk params": strings.Replace(testScenario, "MaxLTVBps = 5000", "MaxLTVBps = 9000", 1),
		"zero price":      strings.Replace(testScenario, `Price = "100"`, `Price = "0"`, 1),
		"shock chance":    strings.Replace(testScenario, "PriceShockChance = 0.2", "PriceShockChance = 1.5", 1),
		"remote no token": testScenario + "\n[Remote]\nURL = \"http://127.0.0.1:8480\"\n",
		"single user":     testScenario[:strings.Index(testScenario, "[[Users]]\nName = \"bob\"")],
	}
	for name, raw := range cases {
		if _, err := ParseScenario([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSimulatorIsDeterministic(t *testing.T) {
	ctx := context.Background()
	first, d1 := newLocalSim(t, testScenario)
	if err := first.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, d2 := newLocalSim(t, testScenario)
	if err := second.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first.Stats(), second.Stats()) {
		t.Fatalf("stats diverged:\n%v\n%v", first.Stats(), second.Stats())
	}
	p1, err := d1.Pool(ctx)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	p2, err := d2.Pool(ctx)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if !p1.Deposited.Eq(p2.Deposited) || !p1.Borrowed.Eq(p2.Borrowed) {
		t.Fatalf("pool totals diverged: %+v vs %+v", p1, p2)
	}
}

func TestSimulatorPreservesPoolInvariants(t *testing.T) {
	ctx := context.Background()
	sim, d := newLocalSim(t, testScenario)
	if err := sim.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	pool, err := d.Pool(ctx)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.Borrowed.Gt(pool.Deposited) {
		t.Fatalf("borrowed %s exceeds deposited %s", pool.Borrowed, pool.Deposited)
	}
	vault, err := d.Balance(ctx, &participant{addr: lending.VaultAddress("USDC")})
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	if vault.Lt(pool.Available) {
		t.Fatalf("vault holds %s but pool reports %s available", vault, pool.Available)
	}
	total := 0
	for _, results := range sim.Stats() {
		for _, n := range results {
			total += n
		}
	}
	if total < 150 {
		t.Fatalf("expected at least one outcome per step, got %d", total)
	}
}

func TestSweepLiquidatesAfterPriceCrash(t *testing.T) {
	ctx := context.Background()
	sim, d := newLocalSim(t, testScenario)
	if err := d.Setup(ctx, sim.sc, sim.authority, sim.users); err != nil {
		t.Fatalf("setup: %v", err)
	}
	alice, bob := sim.users[0], sim.users[1]
	if err := d.Deposit(ctx, alice, uint256.NewInt(2_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// value = 2000 * 100 / 100, max borrow 1000.
	if err := d.Borrow(ctx, alice, uint256.NewInt(1_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := d.SetPrice(ctx, sim.authority, uint256.NewInt(50)); err != nil {
		t.Fatalf("crash price: %v", err)
	}
	if err := sim.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := sim.Stats().Count(actionLiquidate, resultOK); got != 1 {
		t.Fatalf("expected one liquidation, got %d (%v)", got, sim.Stats())
	}
	health, err := d.Health(ctx, alice)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Debt.Uint64() != 500 {
		t.Fatalf("expected half the debt repaid, got %s", health.Debt)
	}
	balance, err := d.Balance(ctx, bob)
	if err != nil {
		t.Fatalf("bob balance: %v", err)
	}
	// 500 * 10500 * 100 / (10000 * 50) = 1050 seized.
	if balance.Uint64() != 5_000-500+1_050 {
		t.Fatalf("unexpected liquidator balance %s", balance)
	}
}

func TestStatsClassifiesRejections(t *testing.T) {
	stats := make(Stats)
	stats.record(actionBorrow, lending.ErrOverLTV)
	stats.record(actionBorrow, nil)
	stats.record(actionRepay, lending.ErrOverRepay)
	if stats.Count(actionBorrow, "OverLTV") != 1 || stats.Count(actionBorrow, resultOK) != 1 {
		t.Fatalf("unexpected borrow stats %v", stats)
	}
	if stats.Count(actionRepay, "OverRepay") != 1 {
		t.Fatalf("unexpected repay stats %v", stats)
	}
}

func TestRunSampleScenario(t *testing.T) {
	if err := run("scenario.toml", "", 25, 0, quietLogger()); err != nil {
		t.Fatalf("run sample scenario: %v", err)
	}
}

func TestKeygenPrintsDecodableAddress(t *testing.T) {
	var out strings.Builder
	if err := keygen(&out); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "address: lp1") {
		t.Fatalf("unexpected keygen output %q", out.String())
	}
	if _, err := crypto.DecodeAddress(strings.TrimPrefix(lines[0], "address: ")); err != nil {
		t.Fatalf("decode generated address: %v", err)
	}
}

// checkedDriver asserts the pool properties around every state change the
// simulator makes against the in-process engine.
type checkedDriver struct {
	*localDriver
	t      *testing.T
	checks int
}

func (c *checkedDriver) pool(ctx context.Context) poolSnapshot {
	c.t.Helper()
	pool, err := c.localDriver.Pool(ctx)
	if err != nil {
		c.t.Fatalf("pool: %v", err)
	}
	return pool
}

func (c *checkedDriver) solvent(ctx context.Context, op string) poolSnapshot {
	c.t.Helper()
	pool := c.pool(ctx)
	if pool.Borrowed.Gt(pool.Deposited) {
		c.t.Fatalf("after %s: borrowed %s exceeds deposited %s", op, pool.Borrowed, pool.Deposited)
	}
	c.checks++
	return pool
}

func (c *checkedDriver) withinMaxLTV(ctx context.Context, op string, p *participant) {
	c.t.Helper()
	health, err := c.engine.Health(ctx, c.asset, p.addr)
	if err != nil {
		c.t.Fatalf("health: %v", err)
	}
	if !health.Debt.IsZero() && health.OverMaxLTV {
		c.t.Fatalf("after %s: %s debt %s above max LTV of value %s", op, p.name, health.Debt, health.CollateralValue)
	}
}

func (c *checkedDriver) SetPrice(ctx context.Context, authority *participant, price *uint256.Int) error {
	err := c.localDriver.SetPrice(ctx, authority, price)
	c.solvent(ctx, "set price")
	return err
}

func (c *checkedDriver) Deposit(ctx context.Context, p *participant, amount *uint256.Int) error {
	before := c.pool(ctx)
	err := c.localDriver.Deposit(ctx, p, amount)
	after := c.solvent(ctx, actionDeposit)
	if after.Deposited.Lt(before.Deposited) {
		c.t.Fatalf("deposit lowered deposits from %s to %s", before.Deposited, after.Deposited)
	}
	return err
}

func (c *checkedDriver) Borrow(ctx context.Context, p *participant, amount *uint256.Int) error {
	err := c.localDriver.Borrow(ctx, p, amount)
	c.solvent(ctx, actionBorrow)
	if err == nil {
		c.withinMaxLTV(ctx, actionBorrow, p)
	}
	return err
}

func (c *checkedDriver) Repay(ctx context.Context, p *participant, amount *uint256.Int) error {
	before := c.pool(ctx)
	err := c.localDriver.Repay(ctx, p, amount)
	after := c.solvent(ctx, actionRepay)
	if after.Borrowed.Gt(before.Borrowed) {
		c.t.Fatalf("repay raised borrowed from %s to %s", before.Borrowed, after.Borrowed)
	}
	return err
}

func (c *checkedDriver) Withdraw(ctx context.Context, p *participant, amount *uint256.Int) error {
	err := c.localDriver.Withdraw(ctx, p, amount)
	c.solvent(ctx, actionWithdraw)
	if err == nil {
		c.withinMaxLTV(ctx, actionWithdraw, p)
	}
	return err
}

func (c *checkedDriver) Liquidate(ctx context.Context, liquidator, borrower *participant, amount *uint256.Int) error {
	err := c.localDriver.Liquidate(ctx, liquidator, borrower, amount)
	c.solvent(ctx, actionLiquidate)
	return err
}

func (c *checkedDriver) Advance(seconds uint64) {
	c.localDriver.Advance(seconds)
	c.solvent(context.Background(), "advance")
}

func TestSimulatorHoldsPoolPropertiesEveryStep(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 1234} {
		sc, err := ParseScenario([]byte(testScenario))
		if err != nil {
			t.Fatalf("parse scenario: %v", err)
		}
		sc.Seed = seed
		authority, users, err := buildParticipants(sc, "")
		if err != nil {
			t.Fatalf("participants: %v", err)
		}
		local, err := newLocalDriver("", sc.Asset)
		if err != nil {
			t.Fatalf("driver: %v", err)
		}
		checked := &checkedDriver{localDriver: local, t: t}
		sim := NewSimulator(sc, checked, authority, users, quietLogger())
		if err := sim.Run(context.Background()); err != nil {
			t.Fatalf("seed %d: run: %v", seed, err)
		}
		local.Close()
		// Each step advances the clock and applies one action.
		if checked.checks < 2*sc.Steps {
			t.Fatalf("seed %d: only %d checks for %d steps", seed, checked.checks, sc.Steps)
		}
	}
}

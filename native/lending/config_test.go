package lending

import (
	"context"
	"strings"
	"testing"
)

func genesisTOML() string {
	return `
[[Banks]]
Asset = "usdc"
Authority = "` + testAuthority.String() + `"
MaxLTVBps = 5000
LiquidationThresholdBps = 8000
LiquidationBonusBps = 500
InterestRateBps = 300

[[PriceFeeds]]
Asset = "USDC"
Authority = "` + testAuthority.String() + `"
Price = "100"
DecimalsExponent = 1

[[Balances]]
Asset = "USDC"
Address = "` + testAlice.String() + `"
Amount = "5000"
`
}

func TestGenesisApplySeedsEngine(t *testing.T) {
	genesis, err := ParseGenesis([]byte(genesisTOML()))
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	h := newHarness(t)
	if err := genesis.Apply(context.Background(), h.engine, h.store); err != nil {
		t.Fatalf("apply: %v", err)
	}
	pool := h.pool()
	if pool.Vault != VaultAddress("USDC") {
		t.Fatalf("expected derived vault, got %s", pool.Vault)
	}
	if pool.Params.InterestRateBps != 300 || pool.Authority != testAuthority {
		t.Fatalf("unexpected pool %+v", pool)
	}
	if got := h.store.balance("USDC", testAlice); got.Uint64() != 5_000 {
		t.Fatalf("expected funded balance, got %s", got)
	}
	if _, err := h.engine.Deposit(h.ctx, testAlice, "USDC", amt(5_000)); err != nil {
		t.Fatalf("deposit after genesis: %v", err)
	}
}

func TestGenesisApplyResumesWithoutDoubleCredit(t *testing.T) {
	genesis, err := ParseGenesis([]byte(genesisTOML()))
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	h := newHarness(t)
	params := genesis.Banks[0].RiskParameters
	if _, err := h.engine.InitBank(h.ctx, testAuthority, "USDC", params); err != nil {
		t.Fatalf("init bank: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := genesis.Apply(h.ctx, h.engine, h.store); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	if got := h.store.balance("USDC", testAlice); got.Uint64() != 5_000 {
		t.Fatalf("expected a single credit of 5000, got %s", got)
	}
	if _, err := h.engine.PriceFeed(h.ctx, "USDC"); err != nil {
		t.Fatalf("price feed after resume: %v", err)
	}
}

func TestGenesisRejectsVaultOverride(t *testing.T) {
	raw := strings.Replace(genesisTOML(), "MaxLTVBps = 5000", "Vault = \"" + testAuthority.String() + "\"\nMaxLTVBps = 5000", 1)
	if _, err := ParseGenesis([]byte(raw)); err == nil || !strings.Contains(err.Error(), "unknown fields") {
		t.Fatalf("expected vault key to be rejected, got %v", err)
	}
}

func TestGenesisRejectsUnknownFields(t *testing.T) {
	_, err := ParseGenesis([]byte(genesisTOML() + "\nUnexpected = true\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown fields") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestGenesisValidatesParameters(t *testing.T) {
	raw := strings.Replace(genesisTOML(), "MaxLTVBps = 5000", "MaxLTVBps = 9000", 1)
	if _, err := ParseGenesis([]byte(raw)); err == nil {
		t.Fatalf("expected invalid risk parameters to fail")
	}
	raw = strings.Replace(genesisTOML(), `Price = "100"`, `Price = "0"`, 1)
	if _, err := ParseGenesis([]byte(raw)); err == nil {
		t.Fatalf("expected zero price to fail")
	}
}

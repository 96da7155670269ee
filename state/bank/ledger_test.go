package bank

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/storage"
)

func TestLedgerTransfer(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	alice := crypto.DeriveAddress("test", "alice")
	bob := crypto.DeriveAddress("test", "bob")

	if err := ledger.Credit("usdc", alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balances, err := ledger.Transfer("USDC", alice, bob, uint256.NewInt(40))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if balances.From.Uint64() != 60 || balances.To.Uint64() != 40 {
		t.Fatalf("unexpected balances %s/%s", balances.From, balances.To)
	}
	got, err := ledger.Balance("USDC", bob)
	if err != nil || got.Uint64() != 40 {
		t.Fatalf("expected bob 40, got %v err %v", got, err)
	}
}

func TestLedgerRejectsOverdraft(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	alice := crypto.DeriveAddress("test", "alice")
	bob := crypto.DeriveAddress("test", "bob")
	if err := ledger.Credit("USDC", alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := ledger.Transfer("USDC", alice, bob, uint256.NewInt(11))
	if !errors.Is(err, lending.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	got, _ := ledger.Balance("USDC", alice)
	if got.Uint64() != 10 {
		t.Fatalf("overdraft changed balance to %s", got)
	}
}

func TestLedgerSelfTransferIsNoop(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	alice := crypto.DeriveAddress("test", "alice")
	if err := ledger.Credit("USDC", alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := ledger.Transfer("USDC", alice, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	got, _ := ledger.Balance("USDC", alice)
	if got.Uint64() != 10 {
		t.Fatalf("self transfer changed balance to %s", got)
	}
}

func TestLedgerAssetsAreIsolated(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	alice := crypto.DeriveAddress("test", "alice")
	if err := ledger.Credit("USDC", alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	got, err := ledger.Balance("DAI", alice)
	if err != nil || !got.IsZero() {
		t.Fatalf("expected empty DAI balance, got %v err %v", got, err)
	}
}

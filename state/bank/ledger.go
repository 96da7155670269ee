package bank

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/storage"
)

// KV is the subset of storage the ledger needs. Both storage.Database and
// storage.Overlay satisfy it.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
}

var balancePrefix = []byte("balance:")

func balanceKey(asset string, addr crypto.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(asset)+1+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, asset...)
	buf = append(buf, ':')
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

// Ledger keeps per-asset token balances and implements lending.TokenLedger.
type Ledger struct {
	kv KV
}

// NewLedger returns a ledger persisting balances in kv.
func NewLedger(kv KV) *Ledger {
	return &Ledger{kv: kv}
}

// Balance returns the balance of addr, zero when never funded.
func (l *Ledger) Balance(asset string, addr crypto.Address) (*uint256.Int, error) {
	raw, err := l.kv.Get(balanceKey(lending.NormalizeAsset(asset), addr))
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("bank: load balance: %w", err)
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func (l *Ledger) setBalance(asset string, addr crypto.Address, amount *uint256.Int) error {
	if err := l.kv.Put(balanceKey(asset, addr), amount.Bytes()); err != nil {
		return fmt.Errorf("bank: store balance: %w", err)
	}
	return nil
}

// Credit mints amount into addr. It is used for genesis allocations and the
// development faucet.
func (l *Ledger) Credit(asset string, addr crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	asset = lending.NormalizeAsset(asset)
	current, err := l.Balance(asset, addr)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return lending.ErrArithmeticOverflow
	}
	return l.setBalance(asset, addr, next)
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(asset string, from, to crypto.Address, amount *uint256.Int) (lending.Balances, error) {
	asset = lending.NormalizeAsset(asset)
	if amount == nil {
		amount = new(uint256.Int)
	}
	fromBal, err := l.Balance(asset, from)
	if err != nil {
		return lending.Balances{}, err
	}
	if fromBal.Lt(amount) {
		return lending.Balances{}, fmt.Errorf("bank: %s balance %s below %s: %w", from, fromBal.Dec(), amount.Dec(), lending.ErrInsufficientFunds)
	}
	if from == to {
		return lending.Balances{From: fromBal, To: new(uint256.Int).Set(fromBal)}, nil
	}
	toBal, err := l.Balance(asset, to)
	if err != nil {
		return lending.Balances{}, err
	}
	nextTo, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return lending.Balances{}, lending.ErrArithmeticOverflow
	}
	nextFrom := new(uint256.Int).Sub(fromBal, amount)
	if err := l.setBalance(asset, from, nextFrom); err != nil {
		return lending.Balances{}, err
	}
	if err := l.setBalance(asset, to, nextTo); err != nil {
		return lending.Balances{}, err
	}
	return lending.Balances{From: nextFrom, To: nextTo}, nil
}

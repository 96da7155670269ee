// Package lendingstore persists lending pools, positions, price feeds and
// token balances in a storage.Database.
package lendingstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/state/bank"
	"lendpool/storage"
)

var (
	poolPrefix      = []byte("lending:pool:")
	positionPrefix  = []byte("lending:position:")
	priceFeedPrefix = []byte("lending:pricefeed:")
	poolListKey     = ethcrypto.Keccak256([]byte("lending:pool-list"))
	genesisKey      = ethcrypto.Keccak256([]byte("lending:genesis"))
)

func poolKey(asset string) []byte {
	return ethcrypto.Keccak256(poolPrefix, []byte(asset))
}

func positionKey(asset string, owner crypto.Address) []byte {
	return ethcrypto.Keccak256(positionPrefix, []byte(asset), []byte{':'}, owner.Bytes())
}

func priceFeedKey(asset string) []byte {
	return ethcrypto.Keccak256(priceFeedPrefix, []byte(asset))
}

type kv interface {
	bank.KV
	Has(key []byte) (bool, error)
}

// Store implements lending.Store on top of a storage.Database. Each Update
// runs against a storage.Overlay that is written as one batch on success.
type Store struct {
	mu sync.RWMutex
	db storage.Database
}

var (
	_ lending.Store         = (*Store)(nil)
	_ lending.GenesisLedger = (*Store)(nil)
)

// New wraps db.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// View runs fn against the committed state.
func (s *Store) View(fn func(lending.StateView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&view{kv: s.db, ledger: bank.NewLedger(s.db)})
}

// Update runs fn in a transaction. Every write, including ledger transfers,
// is discarded when fn fails.
func (s *Store) Update(fn func(lending.StateTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	overlay := storage.NewOverlay(s.db)
	tx := &txn{view: view{kv: overlay, ledger: bank.NewLedger(overlay)}, overlay: overlay}
	if err := fn(tx); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		return fmt.Errorf("lending store: commit: %w", err)
	}
	return nil
}

// Credit mints ledger balance outside of pool accounting.
func (s *Store) Credit(asset string, addr crypto.Address, amount *uint256.Int) error {
	return s.Update(func(tx lending.StateTx) error {
		return tx.(*txn).ledger.Credit(asset, addr, amount)
	})
}

// GenesisApplied reports whether the genesis marker has been committed.
func (s *Store) GenesisApplied() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Has(genesisKey)
}

// CreditGenesis credits every allocation and writes the genesis marker in the
// same batch. Once the marker exists it does nothing.
func (s *Store) CreditGenesis(credits []lending.Credit) error {
	return s.Update(func(tx lending.StateTx) error {
		t := tx.(*txn)
		done, err := t.overlay.Has(genesisKey)
		if err != nil || done {
			return err
		}
		for _, credit := range credits {
			if err := t.ledger.Credit(credit.Asset, credit.Address, credit.Amount); err != nil {
				return fmt.Errorf("credit %s: %w", credit.Address, err)
			}
		}
		return t.overlay.Put(genesisKey, []byte{1})
	})
}

type view struct {
	kv     kv
	ledger *bank.Ledger
}

func (v *view) load(key []byte, out interface{}) (bool, error) {
	raw, err := v.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("lending store: decode: %w", err)
	}
	return true, nil
}

func (v *view) GetPool(asset string) (*lending.Pool, error) {
	var rec poolRecord
	ok, err := v.load(poolKey(asset), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.pool(), nil
}

func (v *view) GetPosition(asset string, owner crypto.Address) (*lending.Position, error) {
	var rec positionRecord
	ok, err := v.load(positionKey(asset, owner), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.position(), nil
}

func (v *view) GetPriceFeed(asset string) (*lending.PriceFeed, error) {
	var rec priceFeedRecord
	ok, err := v.load(priceFeedKey(asset), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.priceFeed(), nil
}

func (v *view) ListPools() ([]string, error) {
	var assets []string
	if _, err := v.load(poolListKey, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (v *view) Balance(asset string, addr crypto.Address) (*uint256.Int, error) {
	return v.ledger.Balance(asset, addr)
}

type txn struct {
	view
	overlay *storage.Overlay
}

func (t *txn) store(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("lending store: encode: %w", err)
	}
	return t.overlay.Put(key, encoded)
}

func (t *txn) PutPool(pool *lending.Pool) error {
	if pool == nil {
		return lending.ErrInvalidParams
	}
	key := poolKey(pool.Asset)
	exists, err := t.overlay.Has(key)
	if err != nil {
		return err
	}
	if !exists {
		assets, err := t.ListPools()
		if err != nil {
			return err
		}
		assets = append(assets, pool.Asset)
		sort.Strings(assets)
		if err := t.store(poolListKey, assets); err != nil {
			return err
		}
	}
	return t.store(key, newPoolRecord(pool))
}

func (t *txn) PutPosition(position *lending.Position) error {
	if position == nil {
		return lending.ErrInvalidParams
	}
	return t.store(positionKey(position.Asset, position.Owner), newPositionRecord(position))
}

func (t *txn) PutPriceFeed(feed *lending.PriceFeed) error {
	if feed == nil {
		return lending.ErrInvalidParams
	}
	return t.store(priceFeedKey(feed.Asset), newPriceFeedRecord(feed))
}

func (t *txn) Transfer(asset string, from, to crypto.Address, amount *uint256.Int) (lending.Balances, error) {
	return t.ledger.Transfer(asset, from, to, amount)
}

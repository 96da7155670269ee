package lending

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"lendpool/crypto"
)

type positionKey struct {
	asset string
	owner crypto.Address
}

type balanceKey struct {
	asset string
	addr  crypto.Address
}

type memSnapshot struct {
	pools     map[string]*Pool
	positions map[positionKey]*Position
	feeds     map[string]*PriceFeed
	balances  map[balanceKey]*uint256.Int
}

func newMemSnapshot() *memSnapshot {
	return &memSnapshot{
		pools:     make(map[string]*Pool),
		positions: make(map[positionKey]*Position),
		feeds:     make(map[string]*PriceFeed),
		balances:  make(map[balanceKey]*uint256.Int),
	}
}

func (s *memSnapshot) clone() *memSnapshot {
	out := newMemSnapshot()
	for k, v := range s.pools {
		out.pools[k] = v.Clone()
	}
	for k, v := range s.positions {
		out.positions[k] = v.Clone()
	}
	for k, v := range s.feeds {
		out.feeds[k] = v.Clone()
	}
	for k, v := range s.balances {
		out.balances[k] = cloneInt(v)
	}
	return out
}

func (s *memSnapshot) GetPool(asset string) (*Pool, error) {
	return s.pools[asset].Clone(), nil
}

func (s *memSnapshot) GetPosition(asset string, owner crypto.Address) (*Position, error) {
	return s.positions[positionKey{asset, owner}].Clone(), nil
}

func (s *memSnapshot) GetPriceFeed(asset string) (*PriceFeed, error) {
	return s.feeds[asset].Clone(), nil
}

func (s *memSnapshot) ListPools() ([]string, error) {
	out := make([]string, 0, len(s.pools))
	for asset := range s.pools {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memSnapshot) Balance(asset string, addr crypto.Address) (*uint256.Int, error) {
	return cloneInt(s.balances[balanceKey{asset, addr}]), nil
}

// memStore is an in-memory Store whose transactions work on a private copy
// that replaces the committed snapshot only on success.
type memStore struct {
	mu       sync.RWMutex
	state    *memSnapshot
	failNext error
	commits  int
	genesis  bool
}

func newMemStore() *memStore {
	return &memStore{state: newMemSnapshot()}
}

func (m *memStore) View(fn func(StateView) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

func (m *memStore) Update(fn func(StateTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{memSnapshot: m.state.clone(), store: m}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.memSnapshot
	m.commits++
	return nil
}

func (m *memStore) credit(asset string, addr crypto.Address, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey{NormalizeAsset(asset), addr}
	current := orZero(m.state.balances[key])
	m.state.balances[key] = new(uint256.Int).Add(current, uint256.NewInt(amount))
}

func (m *memStore) GenesisApplied() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.genesis, nil
}

func (m *memStore) CreditGenesis(credits []Credit) error {
	if applied, _ := m.GenesisApplied(); applied {
		return nil
	}
	for _, c := range credits {
		m.credit(c.Asset, c.Address, c.Amount.Uint64())
	}
	m.mu.Lock()
	m.genesis = true
	m.mu.Unlock()
	return nil
}

func (m *memStore) balance(asset string, addr crypto.Address) *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneInt(m.state.balances[balanceKey{NormalizeAsset(asset), addr}])
}

type memTx struct {
	*memSnapshot
	store *memStore
}

func (tx *memTx) PutPool(pool *Pool) error {
	tx.pools[pool.Asset] = pool.Clone()
	return nil
}

func (tx *memTx) PutPosition(position *Position) error {
	tx.positions[positionKey{position.Asset, position.Owner}] = position.Clone()
	return nil
}

func (tx *memTx) PutPriceFeed(feed *PriceFeed) error {
	tx.feeds[feed.Asset] = feed.Clone()
	return nil
}

func (tx *memTx) Transfer(asset string, from, to crypto.Address, amount *uint256.Int) (Balances, error) {
	if err := tx.store.failNext; err != nil {
		tx.store.failNext = nil
		return Balances{}, err
	}
	fromKey := balanceKey{asset, from}
	toKey := balanceKey{asset, to}
	fromBal := orZero(tx.balances[fromKey])
	if fromBal.Lt(amount) {
		return Balances{}, fmt.Errorf("transfer %s: %w", asset, ErrInsufficientFunds)
	}
	tx.balances[fromKey] = new(uint256.Int).Sub(fromBal, amount)
	tx.balances[toKey] = new(uint256.Int).Add(orZero(tx.balances[toKey]), amount)
	return Balances{From: cloneInt(tx.balances[fromKey]), To: cloneInt(tx.balances[toKey])}, nil
}

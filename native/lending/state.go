package lending

import (
	"github.com/holiman/uint256"

	"lendpool/crypto"
)

// StateView exposes read access to lending records. Getters return (nil, nil)
// when a record does not exist.
type StateView interface {
	GetPool(asset string) (*Pool, error)
	GetPosition(asset string, owner crypto.Address) (*Position, error)
	GetPriceFeed(asset string) (*PriceFeed, error)
	ListPools() ([]string, error)
	Balance(asset string, addr crypto.Address) (*uint256.Int, error)
}

// StateTx is the read-write view handed to a single engine operation.
type StateTx interface {
	StateView
	TokenLedger
	PutPool(pool *Pool) error
	PutPosition(position *Position) error
	PutPriceFeed(feed *PriceFeed) error
}

// Store persists lending records. Update commits every write made through the
// transaction, including ledger transfers, only when fn returns nil; readers
// never observe a partially applied transaction.
type Store interface {
	View(fn func(StateView) error) error
	Update(fn func(StateTx) error) error
}

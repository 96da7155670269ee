package lending

import (
	"github.com/holiman/uint256"

	"lendpool/crypto"
)

// Balances reports the post-transfer balances of both transfer parties.
type Balances struct {
	From *uint256.Int
	To   *uint256.Int
}

// TokenLedger moves tokens between accounts. Implementations return
// ErrInsufficientFunds (possibly wrapped) when the sender's balance is too low
// and must not retry internally. The engine only reaches the ledger through a
// StateTx so transfers commit or roll back together with record writes.
type TokenLedger interface {
	Transfer(asset string, from, to crypto.Address, amount *uint256.Int) (Balances, error)
}

package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"lendpool/core/types"
	"lendpool/crypto"
)

const (
	TypeLendingBankInitialized      = "lending.bank_initialized"
	TypeLendingPriceFeedInitialized = "lending.pricefeed_initialized"
	TypeLendingPriceUpdated         = "lending.price_updated"
	TypeLendingRateUpdated          = "lending.rate_updated"
	TypeLendingDeposit              = "lending.deposit"
	TypeLendingBorrow               = "lending.borrow"
	TypeLendingRepay                = "lending.repay"
	TypeLendingWithdraw             = "lending.withdraw"
	TypeLendingLiquidate            = "lending.liquidate"
)

// LendingAction is emitted after a position-changing operation commits.
// Account is the position owner; it differs from Actor only for liquidations.
type LendingAction struct {
	Type           string
	Asset          string
	Actor          crypto.Address
	Account        crypto.Address
	Amount         *uint256.Int
	Seized         *uint256.Int
	TotalDeposited *uint256.Int
	TotalBorrowed  *uint256.Int
	Timestamp      uint64
}

func (e LendingAction) EventType() string { return e.Type }

func (e LendingAction) Event() *types.Event {
	attrs := map[string]string{
		"asset":          normalizeAsset(e.Asset),
		"actor":          e.Actor.String(),
		"account":        e.Account.String(),
		"amount":         formatUint(e.Amount),
		"totalDeposited": formatUint(e.TotalDeposited),
		"totalBorrowed":  formatUint(e.TotalBorrowed),
		"timestamp":      strconv.FormatUint(e.Timestamp, 10),
	}
	if e.Seized != nil {
		attrs["seized"] = formatUint(e.Seized)
	}
	return &types.Event{Type: e.Type, Attributes: attrs}
}

// LendingConfigChanged is emitted when a pool or price feed is created or its
// authority-controlled values change.
type LendingConfigChanged struct {
	Type      string
	Asset     string
	Authority crypto.Address
	Values    map[string]string
	Timestamp uint64
}

func (e LendingConfigChanged) EventType() string { return e.Type }

func (e LendingConfigChanged) Event() *types.Event {
	attrs := make(map[string]string, len(e.Values)+3)
	for k, v := range e.Values {
		attrs[k] = v
	}
	attrs["asset"] = normalizeAsset(e.Asset)
	attrs["authority"] = e.Authority.String()
	attrs["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	return &types.Event{Type: e.Type, Attributes: attrs}
}

func formatUint(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

package lending

import (
	"strings"

	"github.com/holiman/uint256"

	"lendpool/crypto"
)

// RiskParameters groups the per-pool safety limits, all expressed in basis
// points.
type RiskParameters struct {
	// MaxLTVBps bounds the debt a position may open against its collateral
	// value.
	MaxLTVBps uint64 `toml:"MaxLTVBps" yaml:"max_ltv_bps" json:"maxLtvBps"`
	// LiquidationThresholdBps is the loan-to-value above which a position
	// becomes eligible for liquidation.
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps" yaml:"liquidation_threshold_bps" json:"liquidationThresholdBps"`
	// LiquidationBonusBps is the extra collateral awarded to liquidators as
	// a share of the repaid debt.
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps" yaml:"liquidation_bonus_bps" json:"liquidationBonusBps"`
	// InterestRateBps is the flat annual borrow rate.
	InterestRateBps uint64 `toml:"InterestRateBps" yaml:"interest_rate_bps" json:"interestRateBps"`
}

// Validate enforces 0 < maxLTV <= threshold < 10000, bonus < 10000-threshold
// and a rate no greater than 100% a year.
func (p RiskParameters) Validate() error {
	if p.MaxLTVBps == 0 || p.MaxLTVBps > p.LiquidationThresholdBps {
		return ErrInvalidParams
	}
	if p.LiquidationThresholdBps >= BasisPoints {
		return ErrInvalidParams
	}
	if p.LiquidationBonusBps >= BasisPoints-p.LiquidationThresholdBps {
		return ErrInvalidParams
	}
	if p.InterestRateBps > BasisPoints {
		return ErrInvalidParams
	}
	return nil
}

// Pool captures the aggregate accounting state for one asset.
type Pool struct {
	Asset     string
	Authority crypto.Address
	// Vault is the custodial account holding the pool's tokens.
	Vault          crypto.Address
	TotalDeposited *uint256.Int
	TotalBorrowed  *uint256.Int
	Params         RiskParameters
	// BorrowIndex is the cumulative ray-scaled interest factor applied to
	// every position's principal.
	BorrowIndex *uint256.Int
	// LastAccrual is the unix timestamp (seconds) of the last index update.
	LastAccrual uint64
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalDeposited = cloneInt(p.TotalDeposited)
	clone.TotalBorrowed = cloneInt(p.TotalBorrowed)
	clone.BorrowIndex = cloneInt(p.BorrowIndex)
	return &clone
}

// AvailableLiquidity returns the free vault balance totalDeposited -
// totalBorrowed.
func (p *Pool) AvailableLiquidity() *uint256.Int {
	return subFloor(p.TotalDeposited, p.TotalBorrowed)
}

func (p *Pool) ensureDefaults() {
	if p.TotalDeposited == nil {
		p.TotalDeposited = zero()
	}
	if p.TotalBorrowed == nil {
		p.TotalBorrowed = zero()
	}
	if isZero(p.BorrowIndex) {
		p.BorrowIndex = Ray()
	}
}

// PositionState is derived from balances and never stored.
type PositionState string

const (
	StateNoPosition         PositionState = "none"
	StateCollateralOnly     PositionState = "collateral"
	StateCollateralWithDebt PositionState = "collateral_with_debt"
)

// Position maintains the balances of a single owner inside a pool.
type Position struct {
	Asset             string
	Owner             crypto.Address
	Deposited         *uint256.Int
	BorrowedPrincipal *uint256.Int
	// IndexSnapshot is the pool borrow index at the last accrual-aware touch.
	IndexSnapshot *uint256.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Deposited = cloneInt(p.Deposited)
	clone.BorrowedPrincipal = cloneInt(p.BorrowedPrincipal)
	clone.IndexSnapshot = cloneInt(p.IndexSnapshot)
	return &clone
}

// State classifies the position from its balances.
func (p *Position) State() PositionState {
	if p == nil {
		return StateNoPosition
	}
	if !isZero(p.BorrowedPrincipal) {
		return StateCollateralWithDebt
	}
	if !isZero(p.Deposited) {
		return StateCollateralOnly
	}
	return StateNoPosition
}

func (p *Position) ensureDefaults() {
	if p.Deposited == nil {
		p.Deposited = zero()
	}
	if p.BorrowedPrincipal == nil {
		p.BorrowedPrincipal = zero()
	}
	if isZero(p.IndexSnapshot) {
		p.IndexSnapshot = Ray()
	}
}

// PriceFeed holds the current price of one asset. Prices are scaled by
// 10^DecimalsExponent.
type PriceFeed struct {
	Asset            string
	Price            *uint256.Int
	DecimalsExponent uint8
	Authority        crypto.Address
	UpdatedAt        uint64
}

// Clone returns a deep copy of the price feed.
func (f *PriceFeed) Clone() *PriceFeed {
	if f == nil {
		return nil
	}
	clone := *f
	clone.Price = cloneInt(f.Price)
	return &clone
}

// NormalizeAsset canonicalises an asset identifier.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

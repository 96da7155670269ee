package lending

import "github.com/holiman/uint256"

// CollateralValue returns deposited * price / 10^exp, rounded down.
func CollateralValue(deposited *uint256.Int, feed *PriceFeed) (*uint256.Int, error) {
	if feed == nil || isZero(feed.Price) {
		return nil, ErrInvalidPrice
	}
	scale, err := pow10(feed.DecimalsExponent)
	if err != nil {
		return nil, err
	}
	return mulDiv(deposited, feed.Price, scale)
}

// MaxBorrowable returns collateralValue * maxLTV / 10000.
func MaxBorrowable(deposited *uint256.Int, pool *Pool, feed *PriceFeed) (*uint256.Int, error) {
	value, err := CollateralValue(deposited, feed)
	if err != nil {
		return nil, err
	}
	return mulDiv(value, uint256.NewInt(pool.Params.MaxLTVBps), basisPoints)
}

// IsOverMaxLTV reports debt*10000 > value*maxLTV. Equality is allowed.
func IsOverMaxLTV(debt, value *uint256.Int, pool *Pool) (bool, error) {
	return exceedsRatio(debt, value, pool.Params.MaxLTVBps)
}

// IsLiquidatable reports debt*10000 > value*liquidationThreshold. Equality is
// healthy.
func IsLiquidatable(debt, value *uint256.Int, pool *Pool) (bool, error) {
	return exceedsRatio(debt, value, pool.Params.LiquidationThresholdBps)
}

func exceedsRatio(debt, value *uint256.Int, bps uint64) (bool, error) {
	if isZero(debt) {
		return false, nil
	}
	lhs, err := mul(debt, basisPoints)
	if err != nil {
		return false, err
	}
	rhs, err := mul(value, uint256.NewInt(bps))
	if err != nil {
		return false, err
	}
	return lhs.Gt(rhs), nil
}

// HealthFactorBps returns value*threshold/debt in basis points; values below
// 10000 are liquidatable. A debt-free position reports the maximum value.
func HealthFactorBps(debt, value *uint256.Int, pool *Pool) (*uint256.Int, error) {
	if isZero(debt) {
		return new(uint256.Int).SetAllOne(), nil
	}
	return mulDiv(value, uint256.NewInt(pool.Params.LiquidationThresholdBps), debt)
}

// SeizeAmount returns min(deposited, repay*(10000+bonus)*10^exp/(10000*price)).
// Any bonus the collateral cannot cover is forfeited.
func SeizeAmount(repay, deposited *uint256.Int, pool *Pool, feed *PriceFeed) (*uint256.Int, error) {
	if feed == nil || isZero(feed.Price) {
		return nil, ErrInvalidPrice
	}
	bonus := uint256.NewInt(BasisPoints + pool.Params.LiquidationBonusBps)
	numerator, err := mul(repay, bonus)
	if err != nil {
		return nil, err
	}
	scale, err := pow10(feed.DecimalsExponent)
	if err != nil {
		return nil, err
	}
	denominator, err := mul(basisPoints, feed.Price)
	if err != nil {
		return nil, err
	}
	seize, err := mulDiv(numerator, scale, denominator)
	if err != nil {
		return nil, err
	}
	return minInt(seize, orZero(deposited)), nil
}

// Health summarises a position's risk at a point in time.
type Health struct {
	Debt            *uint256.Int
	CollateralValue *uint256.Int
	MaxBorrowable   *uint256.Int
	HealthFactorBps *uint256.Int
	OverMaxLTV      bool
	Liquidatable    bool
}

// Assess evaluates the risk functions for a realized position.
func Assess(pool *Pool, position *Position, feed *PriceFeed) (Health, error) {
	deposited, debt := zero(), zero()
	if position != nil {
		deposited = orZero(position.Deposited)
		debt = orZero(position.BorrowedPrincipal)
	}
	value, err := CollateralValue(deposited, feed)
	if err != nil {
		return Health{}, err
	}
	maxBorrow, err := mulDiv(value, uint256.NewInt(pool.Params.MaxLTVBps), basisPoints)
	if err != nil {
		return Health{}, err
	}
	factor, err := HealthFactorBps(debt, value, pool)
	if err != nil {
		return Health{}, err
	}
	over, err := IsOverMaxLTV(debt, value, pool)
	if err != nil {
		return Health{}, err
	}
	liquidatable, err := IsLiquidatable(debt, value, pool)
	if err != nil {
		return Health{}, err
	}
	return Health{
		Debt:            cloneInt(debt),
		CollateralValue: value,
		MaxBorrowable:   maxBorrow,
		HealthFactorBps: factor,
		OverMaxLTV:      over,
		Liquidatable:    liquidatable,
	}, nil
}

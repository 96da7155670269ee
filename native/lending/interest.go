package lending

import "github.com/holiman/uint256"

// interestFactor returns the ray-scaled simple interest factor
// 1 + rateBps*elapsed/(SecondsPerYear*10000).
func interestFactor(rateBps, elapsed uint64) (*uint256.Int, error) {
	if rateBps == 0 || elapsed == 0 {
		return Ray(), nil
	}
	scaledRate, err := mul(ray, uint256.NewInt(rateBps))
	if err != nil {
		return nil, err
	}
	increment, err := mulDiv(scaledRate, uint256.NewInt(elapsed), yearBps)
	if err != nil {
		return nil, err
	}
	return add(ray, increment)
}

// accrue advances the pool's borrow index and total debt to now. Interest
// earned is credited to TotalDeposited as well, so the free vault liquidity
// totalDeposited-totalBorrowed is unchanged by accrual. The pool is mutated in
// place; callers work on a loaded copy inside a transaction.
func accrue(pool *Pool, now uint64) error {
	pool.ensureDefaults()
	if now <= pool.LastAccrual {
		return nil
	}
	elapsed := now - pool.LastAccrual
	factor, err := interestFactor(pool.Params.InterestRateBps, elapsed)
	if err != nil {
		return err
	}
	if factor.Eq(ray) {
		pool.LastAccrual = now
		return nil
	}

	index, err := mulDiv(pool.BorrowIndex, factor, ray)
	if err != nil {
		return err
	}
	borrowed, err := mulDivUp(pool.TotalBorrowed, factor, ray)
	if err != nil {
		return err
	}
	interest, err := sub(borrowed, pool.TotalBorrowed)
	if err != nil {
		return err
	}
	deposited, err := add(pool.TotalDeposited, interest)
	if err != nil {
		return err
	}

	pool.BorrowIndex = index
	pool.TotalBorrowed = borrowed
	pool.TotalDeposited = deposited
	pool.LastAccrual = now
	return nil
}

// realizeDebt rolls the position's principal forward to the pool's current
// index: principal = principal * index / snapshot (rounded up), snapshot =
// index.
func realizeDebt(position *Position, pool *Pool) error {
	position.ensureDefaults()
	pool.ensureDefaults()
	if position.BorrowedPrincipal.IsZero() || position.IndexSnapshot.Eq(pool.BorrowIndex) {
		position.IndexSnapshot = cloneInt(pool.BorrowIndex)
		return nil
	}
	debt, err := mulDivUp(position.BorrowedPrincipal, pool.BorrowIndex, position.IndexSnapshot)
	if err != nil {
		return err
	}
	position.BorrowedPrincipal = debt
	position.IndexSnapshot = cloneInt(pool.BorrowIndex)
	return nil
}

// PreviewAccrual returns copies of pool and position with interest applied up
// to now without persisting anything. position may be nil.
func PreviewAccrual(pool *Pool, position *Position, now uint64) (*Pool, *Position, error) {
	if pool == nil {
		return nil, nil, ErrNotFound
	}
	p := pool.Clone()
	if err := accrue(p, now); err != nil {
		return nil, nil, err
	}
	if position == nil {
		return p, nil, nil
	}
	pos := position.Clone()
	if err := realizeDebt(pos, p); err != nil {
		return nil, nil, err
	}
	return p, pos, nil
}

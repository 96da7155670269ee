package lending

import "github.com/holiman/uint256"

const (
	// SecondsPerYear is the accrual year length (365 days).
	SecondsPerYear = 31_536_000
	// BasisPoints is the denominator for every *_bps parameter.
	BasisPoints = 10_000
)

var (
	basisPoints = uint256.NewInt(BasisPoints)
	ray         = uint256.MustFromDecimal("1000000000000000000000000000") // 1e27 precision
	yearBps     = uint256.NewInt(SecondsPerYear * BasisPoints)
)

// Ray returns a fresh copy of the 1.0 borrow index value.
func Ray() *uint256.Int { return new(uint256.Int).Set(ray) }

func zero() *uint256.Int { return new(uint256.Int) }

func isZero(x *uint256.Int) bool { return x == nil || x.IsZero() }

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return zero()
	}
	return x
}

func cloneInt(x *uint256.Int) *uint256.Int {
	if x == nil {
		return zero()
	}
	return new(uint256.Int).Set(x)
}

func add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(orZero(a), orZero(b))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(orZero(a), orZero(b))
	if underflow {
		return nil, ErrArithmeticUnderflow
	}
	return out, nil
}

// subFloor subtracts b from a, stopping at zero. It is only used for pool
// aggregates where per-position rounding can leave the total a few units
// below the sum of realized debts.
func subFloor(a, b *uint256.Int) *uint256.Int {
	out, underflow := new(uint256.Int).SubOverflow(orZero(a), orZero(b))
	if underflow {
		return zero()
	}
	return out
}

func mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(orZero(a), orZero(b))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// mulDiv computes floor(a*b/d) with a 512-bit intermediate product.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if isZero(d) {
		return nil, ErrArithmeticOverflow
	}
	out, overflow := new(uint256.Int).MulDivOverflow(orZero(a), orZero(b), d)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// mulDivUp computes ceil(a*b/d).
func mulDivUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	out, err := mulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(orZero(a), orZero(b), d).IsZero() {
		return out, nil
	}
	return add(out, uint256.NewInt(1))
}

// pow10 returns 10^exp or ErrArithmeticOverflow when it does not fit.
func pow10(exp uint8) (*uint256.Int, error) {
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < exp; i++ {
		var overflow bool
		out, overflow = new(uint256.Int).MulOverflow(out, ten)
		if overflow {
			return nil, ErrArithmeticOverflow
		}
	}
	return out, nil
}

func minInt(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

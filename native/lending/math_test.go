package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestMulDivUpRoundsOnlyWithRemainder(t *testing.T) {
	exact, err := mulDivUp(uint256.NewInt(10), uint256.NewInt(3), uint256.NewInt(5))
	if err != nil {
		t.Fatalf("mulDivUp: %v", err)
	}
	if exact.Uint64() != 6 {
		t.Fatalf("expected 6, got %s", exact)
	}
	rounded, err := mulDivUp(uint256.NewInt(10), uint256.NewInt(3), uint256.NewInt(4))
	if err != nil {
		t.Fatalf("mulDivUp: %v", err)
	}
	if rounded.Uint64() != 8 {
		t.Fatalf("expected ceil(7.5)=8, got %s", rounded)
	}
}

func TestArithmeticOverflowIsReported(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := add(max, uint256.NewInt(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected add overflow, got %v", err)
	}
	if _, err := mul(max, uint256.NewInt(2)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected mul overflow, got %v", err)
	}
	if _, err := sub(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrArithmeticUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if _, err := mulDiv(max, max, uint256.NewInt(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected mulDiv overflow, got %v", err)
	}
	if _, err := mulDiv(uint256.NewInt(1), uint256.NewInt(1), zero()); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected division by zero to fail, got %v", err)
	}
}

func TestMulDivUsesWideIntermediate(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	out, err := mulDiv(max, uint256.NewInt(3), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("mulDiv: %v", err)
	}
	if !out.Eq(max) {
		t.Fatalf("expected max, got %s", out)
	}
}

func TestSubFloorClampsAtZero(t *testing.T) {
	if got := subFloor(uint256.NewInt(3), uint256.NewInt(5)); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
	if got := subFloor(uint256.NewInt(5), uint256.NewInt(3)); got.Uint64() != 2 {
		t.Fatalf("expected 2, got %s", got)
	}
}

func TestPow10(t *testing.T) {
	v, err := pow10(18)
	if err != nil {
		t.Fatalf("pow10: %v", err)
	}
	if v.Dec() != "1000000000000000000" {
		t.Fatalf("unexpected 10^18: %s", v.Dec())
	}
	if _, err := pow10(77); err != nil {
		t.Fatalf("10^77 fits in 256 bits: %v", err)
	}
	if _, err := pow10(78); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected 10^78 overflow, got %v", err)
	}
}

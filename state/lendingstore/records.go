package lendingstore

import (
	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/lending"
)

// The stored forms are kept separate from the engine types so the RLP layout
// only changes deliberately.

type poolRecord struct {
	Asset                   string
	Authority               crypto.Address
	Vault                   crypto.Address
	TotalDeposited          *uint256.Int
	TotalBorrowed           *uint256.Int
	MaxLTVBps               uint64
	LiquidationThresholdBps uint64
	LiquidationBonusBps     uint64
	InterestRateBps         uint64
	BorrowIndex             *uint256.Int
	LastAccrual             uint64
}

type positionRecord struct {
	Asset             string
	Owner             crypto.Address
	Deposited         *uint256.Int
	BorrowedPrincipal *uint256.Int
	IndexSnapshot     *uint256.Int
}

type priceFeedRecord struct {
	Asset            string
	Price            *uint256.Int
	DecimalsExponent uint8
	Authority        crypto.Address
	UpdatedAt        uint64
}

func nonNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func newPoolRecord(p *lending.Pool) *poolRecord {
	return &poolRecord{
		Asset:                   p.Asset,
		Authority:               p.Authority,
		Vault:                   p.Vault,
		TotalDeposited:          nonNil(p.TotalDeposited),
		TotalBorrowed:           nonNil(p.TotalBorrowed),
		MaxLTVBps:               p.Params.MaxLTVBps,
		LiquidationThresholdBps: p.Params.LiquidationThresholdBps,
		LiquidationBonusBps:     p.Params.LiquidationBonusBps,
		InterestRateBps:         p.Params.InterestRateBps,
		BorrowIndex:             nonNil(p.BorrowIndex),
		LastAccrual:             p.LastAccrual,
	}
}

func (r *poolRecord) pool() *lending.Pool {
	return &lending.Pool{
		Asset:          r.Asset,
		Authority:      r.Authority,
		Vault:          r.Vault,
		TotalDeposited: nonNil(r.TotalDeposited),
		TotalBorrowed:  nonNil(r.TotalBorrowed),
		Params: lending.RiskParameters{
			MaxLTVBps:               r.MaxLTVBps,
			LiquidationThresholdBps: r.LiquidationThresholdBps,
			LiquidationBonusBps:     r.LiquidationBonusBps,
			InterestRateBps:         r.InterestRateBps,
		},
		BorrowIndex: nonNil(r.BorrowIndex),
		LastAccrual: r.LastAccrual,
	}
}

func newPositionRecord(p *lending.Position) *positionRecord {
	return &positionRecord{
		Asset:             p.Asset,
		Owner:             p.Owner,
		Deposited:         nonNil(p.Deposited),
		BorrowedPrincipal: nonNil(p.BorrowedPrincipal),
		IndexSnapshot:     nonNil(p.IndexSnapshot),
	}
}

func (r *positionRecord) position() *lending.Position {
	return &lending.Position{
		Asset:             r.Asset,
		Owner:             r.Owner,
		Deposited:         nonNil(r.Deposited),
		BorrowedPrincipal: nonNil(r.BorrowedPrincipal),
		IndexSnapshot:     nonNil(r.IndexSnapshot),
	}
}

func newPriceFeedRecord(f *lending.PriceFeed) *priceFeedRecord {
	return &priceFeedRecord{
		Asset:            f.Asset,
		Price:            nonNil(f.Price),
		DecimalsExponent: f.DecimalsExponent,
		Authority:        f.Authority,
		UpdatedAt:        f.UpdatedAt,
	}
}

func (r *priceFeedRecord) priceFeed() *lending.PriceFeed {
	return &lending.PriceFeed{
		Asset:            r.Asset,
		Price:            nonNil(r.Price),
		DecimalsExponent: r.DecimalsExponent,
		Authority:        r.Authority,
		UpdatedAt:        r.UpdatedAt,
	}
}

package server

import (
	"github.com/holiman/uint256"

	"lendpool/native/lending"
)

type bankRequest struct {
	Asset                   string `json:"asset"`
	MaxLTVBps               uint64 `json:"maxLtvBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
	InterestRateBps         uint64 `json:"interestRateBps"`
}

type priceFeedRequest struct {
	Asset            string `json:"asset"`
	Price            string `json:"price"`
	DecimalsExponent uint8  `json:"decimalsExponent"`
}

type priceRequest struct {
	Price string `json:"price"`
}

type rateRequest struct {
	InterestRateBps uint64 `json:"interestRateBps"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

type faucetRequest struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type poolResponse struct {
	Asset                   string `json:"asset"`
	Authority               string `json:"authority"`
	Vault                   string `json:"vault"`
	TotalDeposited          string `json:"totalDeposited"`
	TotalBorrowed           string `json:"totalBorrowed"`
	AvailableLiquidity      string `json:"availableLiquidity"`
	MaxLTVBps               uint64 `json:"maxLtvBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
	InterestRateBps         uint64 `json:"interestRateBps"`
	BorrowIndex             string `json:"borrowIndex"`
	LastAccrual             uint64 `json:"lastAccrual"`
}

type positionResponse struct {
	Asset     string `json:"asset"`
	Owner     string `json:"owner"`
	Deposited string `json:"deposited"`
	Debt      string `json:"debt"`
	State     string `json:"state"`
}

type priceFeedResponse struct {
	Asset            string `json:"asset"`
	Price            string `json:"price"`
	DecimalsExponent uint8  `json:"decimalsExponent"`
	Authority        string `json:"authority"`
	UpdatedAt        uint64 `json:"updatedAt"`
}

type healthResponse struct {
	Debt            string `json:"debt"`
	CollateralValue string `json:"collateralValue"`
	MaxBorrowable   string `json:"maxBorrowable"`
	HealthFactorBps string `json:"healthFactorBps"`
	OverMaxLTV      bool   `json:"overMaxLtv"`
	Liquidatable    bool   `json:"liquidatable"`
}

type receiptResponse struct {
	Op        string             `json:"op"`
	Asset     string             `json:"asset"`
	Actor     string             `json:"actor"`
	Account   string             `json:"account,omitempty"`
	Amount    string             `json:"amount,omitempty"`
	Seized    string             `json:"seized,omitempty"`
	Position  *positionResponse  `json:"position,omitempty"`
	Pool      *poolResponse      `json:"pool,omitempty"`
	PriceFeed *priceFeedResponse `json:"priceFeed,omitempty"`
	Timestamp uint64             `json:"timestamp"`
}

type balanceResponse struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type historyEntry struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Asset      string            `json:"asset"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func toPoolResponse(p *lending.Pool) *poolResponse {
	if p == nil {
		return nil
	}
	return &poolResponse{
		Asset:                   p.Asset,
		Authority:               p.Authority.String(),
		Vault:                   p.Vault.String(),
		TotalDeposited:          decString(p.TotalDeposited),
		TotalBorrowed:           decString(p.TotalBorrowed),
		AvailableLiquidity:      decString(p.AvailableLiquidity()),
		MaxLTVBps:               p.Params.MaxLTVBps,
		LiquidationThresholdBps: p.Params.LiquidationThresholdBps,
		LiquidationBonusBps:     p.Params.LiquidationBonusBps,
		InterestRateBps:         p.Params.InterestRateBps,
		BorrowIndex:             decString(p.BorrowIndex),
		LastAccrual:             p.LastAccrual,
	}
}

func toPositionResponse(p *lending.Position) *positionResponse {
	if p == nil {
		return nil
	}
	return &positionResponse{
		Asset:     p.Asset,
		Owner:     p.Owner.String(),
		Deposited: decString(p.Deposited),
		Debt:      decString(p.BorrowedPrincipal),
		State:     string(p.State()),
	}
}

func toPriceFeedResponse(f *lending.PriceFeed) *priceFeedResponse {
	if f == nil {
		return nil
	}
	return &priceFeedResponse{
		Asset:            f.Asset,
		Price:            decString(f.Price),
		DecimalsExponent: f.DecimalsExponent,
		Authority:        f.Authority.String(),
		UpdatedAt:        f.UpdatedAt,
	}
}

func toHealthResponse(h lending.Health) healthResponse {
	return healthResponse{
		Debt:            decString(h.Debt),
		CollateralValue: decString(h.CollateralValue),
		MaxBorrowable:   decString(h.MaxBorrowable),
		HealthFactorBps: decString(h.HealthFactorBps),
		OverMaxLTV:      h.OverMaxLTV,
		Liquidatable:    h.Liquidatable,
	}
}

func toReceiptResponse(r *lending.Receipt) receiptResponse {
	out := receiptResponse{
		Op:        string(r.Op),
		Asset:     r.Asset,
		Actor:     r.Actor.String(),
		Position:  toPositionResponse(r.Position),
		Pool:      toPoolResponse(r.Pool),
		PriceFeed: toPriceFeedResponse(r.PriceFeed),
		Timestamp: r.Timestamp,
	}
	if !r.Account.IsZero() {
		out.Account = r.Account.String()
	}
	if r.Amount != nil {
		out.Amount = r.Amount.Dec()
	}
	if r.Seized != nil {
		out.Seized = r.Seized.Dec()
	}
	return out
}

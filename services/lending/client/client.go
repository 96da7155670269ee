// Package client is a thin HTTP client for the lendingd API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/lending"
)

// Pool mirrors the bank representation returned by the API. Amounts are
// decimal strings.
type Pool struct {
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

// Position mirrors an owner's position.
type Position struct {
	Asset     string `json:"asset"`
	Owner     string `json:"owner"`
	Deposited string `json:"deposited"`
	Debt      string `json:"debt"`
	State     string `json:"state"`
}

// PriceFeed mirrors a price feed.
type PriceFeed struct {
	Asset            string `json:"asset"`
	Price            string `json:"price"`
	DecimalsExponent uint8  `json:"decimalsExponent"`
	Authority        string `json:"authority"`
	UpdatedAt        uint64 `json:"updatedAt"`
}

// Health mirrors a risk assessment.
type Health struct {
	Debt            string `json:"debt"`
	CollateralValue string `json:"collateralValue"`
	MaxBorrowable   string `json:"maxBorrowable"`
	HealthFactorBps string `json:"healthFactorBps"`
	OverMaxLTV      bool   `json:"overMaxLtv"`
	Liquidatable    bool   `json:"liquidatable"`
}

// Receipt is returned by every mutating call.
type Receipt struct {
	Op        string     `json:"op"`
	Asset     string     `json:"asset"`
	Actor     string     `json:"actor"`
	Account   string     `json:"account,omitempty"`
	Amount    string     `json:"amount,omitempty"`
	Seized    string     `json:"seized,omitempty"`
	Position  *Position  `json:"position,omitempty"`
	Pool      *Pool      `json:"pool,omitempty"`
	PriceFeed *PriceFeed `json:"priceFeed,omitempty"`
	Timestamp uint64     `json:"timestamp"`
}

// Balance is a ledger balance.
type Balance struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// APIError is a non-2xx response. It matches the lending error sentinels via
// errors.Is so callers can classify failures with lending.Code.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lendingd: %d %s: %s", e.Status, e.Code, e.Message)
}

var sentinels = map[string]error{
	"InvalidParams":          lending.ErrInvalidParams,
	"InvalidAmount":          lending.ErrInvalidAmount,
	"InvalidPrice":           lending.ErrInvalidPrice,
	"Unauthorized":           lending.ErrUnauthorized,
	"InsufficientFunds":      lending.ErrInsufficientFunds,
	"OverLTV":                lending.ErrOverLTV,
	"OverRepay":              lending.ErrOverRepay,
	"NotUndercollateralized": lending.ErrNotUndercollateralized,
	"ArithmeticOverflow":     lending.ErrArithmeticOverflow,
	"ArithmeticUnderflow":    lending.ErrArithmeticUnderflow,
	"NotFound":               lending.ErrNotFound,
	"AlreadyInitialized":     lending.ErrAlreadyInitialized,
}

// Unwrap exposes the lending sentinel matching the response code.
func (e *APIError) Unwrap() error { return sentinels[e.Code] }

// Client calls one lendingd endpoint with one bearer token. The token
// determines the caller address of every mutation.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New returns a client for baseURL (for example "http://127.0.0.1:8480").
func New(baseURL, token string) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base url %q must include scheme and host", baseURL)
	}
	return &Client{base: parsed, token: strings.TrimSpace(token), http: &http.Client{Timeout: 15 * time.Second}}, nil
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// InitBank creates the pool for asset. The server derives the vault.
func (c *Client) InitBank(ctx context.Context, asset string, params lending.RiskParameters) (*Receipt, error) {
	body := map[string]interface{}{
		"asset":                   asset,
		"maxLtvBps":               params.MaxLTVBps,
		"liquidationThresholdBps": params.LiquidationThresholdBps,
		"liquidationBonusBps":     params.LiquidationBonusBps,
		"interestRateBps":         params.InterestRateBps,
	}
	return call[Receipt](ctx, c, http.MethodPost, "/v1/banks", body)
}

// InitPriceFeed creates the price feed for asset.
func (c *Client) InitPriceFeed(ctx context.Context, asset string, price *uint256.Int, decimalsExponent uint8) (*Receipt, error) {
	body := map[string]interface{}{"asset": asset, "price": dec(price), "decimalsExponent": decimalsExponent}
	return call[Receipt](ctx, c, http.MethodPost, "/v1/pricefeeds", body)
}

// SetPrice updates the price for asset.
func (c *Client) SetPrice(ctx context.Context, asset string, price *uint256.Int) (*Receipt, error) {
	return call[Receipt](ctx, c, http.MethodPost, "/v1/pricefeeds/"+url.PathEscape(asset)+"/price", map[string]string{"price": dec(price)})
}

// SetInterestRate updates the pool's annual rate.
func (c *Client) SetInterestRate(ctx context.Context, asset string, rateBps uint64) (*Receipt, error) {
	return call[Receipt](ctx, c, http.MethodPost, bankPath(asset, "rate"), map[string]uint64{"interestRateBps": rateBps})
}

// Deposit moves amount from the caller into the pool.
func (c *Client) Deposit(ctx context.Context, asset string, amount *uint256.Int) (*Receipt, error) {
	return c.amountOp(ctx, asset, "deposit", amount)
}

// Borrow draws amount against the caller's collateral.
func (c *Client) Borrow(ctx context.Context, asset string, amount *uint256.Int) (*Receipt, error) {
	return c.amountOp(ctx, asset, "borrow", amount)
}

// Repay reduces the caller's debt.
func (c *Client) Repay(ctx context.Context, asset string, amount *uint256.Int) (*Receipt, error) {
	return c.amountOp(ctx, asset, "repay", amount)
}

// Withdraw releases collateral to the caller.
func (c *Client) Withdraw(ctx context.Context, asset string, amount *uint256.Int) (*Receipt, error) {
	return c.amountOp(ctx, asset, "withdraw", amount)
}

// Liquidate repays part of borrower's debt in exchange for collateral.
func (c *Client) Liquidate(ctx context.Context, asset string, borrower crypto.Address, amount *uint256.Int) (*Receipt, error) {
	body := map[string]string{"borrower": borrower.String(), "amount": dec(amount)}
	return call[Receipt](ctx, c, http.MethodPost, bankPath(asset, "liquidate"), body)
}

// Pool fetches a single pool.
func (c *Client) Pool(ctx context.Context, asset string) (*Pool, error) {
	return call[Pool](ctx, c, http.MethodGet, bankPath(asset, ""), nil)
}

// Pools lists every pool.
func (c *Client) Pools(ctx context.Context) ([]Pool, error) {
	out, err := call[[]Pool](ctx, c, http.MethodGet, "/v1/banks", nil)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// PriceFeed fetches the feed for asset.
func (c *Client) PriceFeed(ctx context.Context, asset string) (*PriceFeed, error) {
	return call[PriceFeed](ctx, c, http.MethodGet, "/v1/pricefeeds/"+url.PathEscape(asset), nil)
}

// Position fetches owner's position.
func (c *Client) Position(ctx context.Context, asset string, owner crypto.Address) (*Position, error) {
	return call[Position](ctx, c, http.MethodGet, bankPath(asset, "positions/"+owner.String()), nil)
}

// Health fetches owner's risk assessment.
func (c *Client) Health(ctx context.Context, asset string, owner crypto.Address) (*Health, error) {
	return call[Health](ctx, c, http.MethodGet, bankPath(asset, "positions/"+owner.String()+"/health"), nil)
}

// Balance fetches owner's ledger balance.
func (c *Client) Balance(ctx context.Context, asset string, owner crypto.Address) (*Balance, error) {
	return call[Balance](ctx, c, http.MethodGet, bankPath(asset, "balances/"+owner.String()), nil)
}

// Fund credits owner through the development faucet.
func (c *Client) Fund(ctx context.Context, asset string, owner crypto.Address, amount *uint256.Int) (*Balance, error) {
	body := map[string]string{"asset": asset, "address": owner.String(), "amount": dec(amount)}
	return call[Balance](ctx, c, http.MethodPost, "/v1/faucet", body)
}

func (c *Client) amountOp(ctx context.Context, asset, op string, amount *uint256.Int) (*Receipt, error) {
	return call[Receipt](ctx, c, http.MethodPost, bankPath(asset, op), map[string]string{"amount": dec(amount)})
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	target := *c.base
	target.Path = c.base.Path + path
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "Internal"
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func call[T any](ctx context.Context, c *Client, method, path string, body interface{}) (*T, error) {
	var out T
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func bankPath(asset, suffix string) string {
	path := "/v1/banks/" + url.PathEscape(asset)
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// ParseAmount decodes a decimal string returned by the API.
func ParseAmount(raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.Join(lending.ErrInvalidAmount, err)
	}
	return v, nil
}

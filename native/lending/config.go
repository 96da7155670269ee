package lending

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"lendpool/crypto"
)

// Genesis describes the pools, price feeds and balances seeded at startup.
type Genesis struct {
	Banks      []BankConfig      `toml:"Banks"`
	PriceFeeds []PriceFeedConfig `toml:"PriceFeeds"`
	Balances   []BalanceConfig   `toml:"Balances"`
}

// BankConfig seeds one pool. The vault is derived from the asset name.
type BankConfig struct {
	Asset     string `toml:"Asset"`
	Authority string `toml:"Authority"`
	RiskParameters
}

// PriceFeedConfig seeds one price feed.
type PriceFeedConfig struct {
	Asset            string `toml:"Asset"`
	Authority        string `toml:"Authority"`
	Price            string `toml:"Price"`
	DecimalsExponent uint8  `toml:"DecimalsExponent"`
}

// BalanceConfig credits an account before any pool operation runs.
type BalanceConfig struct {
	Asset   string `toml:"Asset"`
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// Funder mints ledger balances outside of pool accounting. Reference stores
// implement it for the development faucet.
type Funder interface {
	Credit(asset string, addr crypto.Address, amount *uint256.Int) error
}

// Credit is one genesis allocation.
type Credit struct {
	Asset   string
	Address crypto.Address
	Amount  *uint256.Int
}

// GenesisLedger finalises genesis. CreditGenesis credits every allocation and
// records the genesis marker in a single write, and does nothing once the
// marker exists.
type GenesisLedger interface {
	GenesisApplied() (bool, error)
	CreditGenesis(credits []Credit) error
}

// VaultAddress returns the deterministic vault account for asset.
func VaultAddress(asset string) crypto.Address {
	return crypto.DeriveAddress("vault", NormalizeAsset(asset))
}

// LoadGenesis decodes a TOML genesis file. Unknown keys are rejected.
func LoadGenesis(path string) (*Genesis, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lending genesis: path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lending genesis: read: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis decodes and validates genesis TOML.
func ParseGenesis(data []byte) (*Genesis, error) {
	var genesis Genesis
	meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&genesis)
	if err != nil {
		return nil, fmt.Errorf("lending genesis: decode: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("lending genesis: unknown fields %v", undecoded)
	}
	if err := genesis.Validate(); err != nil {
		return nil, err
	}
	return &genesis, nil
}

// Validate checks addresses, amounts and risk parameters without touching
// state.
func (g *Genesis) Validate() error {
	if g == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(g.Banks))
	for i, bank := range g.Banks {
		asset := NormalizeAsset(bank.Asset)
		if asset == "" {
			return fmt.Errorf("lending genesis: bank %d: asset required", i)
		}
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("lending genesis: bank %s declared twice", asset)
		}
		seen[asset] = struct{}{}
		if _, err := crypto.DecodeAddress(bank.Authority); err != nil {
			return fmt.Errorf("lending genesis: bank %s authority: %w", asset, err)
		}
		if err := bank.RiskParameters.Validate(); err != nil {
			return fmt.Errorf("lending genesis: bank %s: %w", asset, err)
		}
	}
	for i, feed := range g.PriceFeeds {
		if NormalizeAsset(feed.Asset) == "" {
			return fmt.Errorf("lending genesis: price feed %d: asset required", i)
		}
		if _, err := crypto.DecodeAddress(feed.Authority); err != nil {
			return fmt.Errorf("lending genesis: price feed %s authority: %w", feed.Asset, err)
		}
		price, err := ParseAmount(feed.Price)
		if err != nil || price.IsZero() {
			return fmt.Errorf("lending genesis: price feed %s: %w", feed.Asset, ErrInvalidPrice)
		}
	}
	for i, balance := range g.Balances {
		if NormalizeAsset(balance.Asset) == "" {
			return fmt.Errorf("lending genesis: balance %d: asset required", i)
		}
		if _, err := crypto.DecodeAddress(balance.Address); err != nil {
			return fmt.Errorf("lending genesis: balance %d address: %w", i, err)
		}
		if _, err := ParseAmount(balance.Amount); err != nil {
			return fmt.Errorf("lending genesis: balance %d: %w", i, err)
		}
	}
	return nil
}

// Apply initialises every bank and price feed through the engine, then
// credits the balances together with the genesis marker. Banks and feeds that
// already exist are left untouched, so a run interrupted before the marker was
// written resumes on the next start without minting balances twice.
func (g *Genesis) Apply(ctx context.Context, engine *Engine, ledger GenesisLedger) error {
	if g == nil {
		return nil
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if ledger == nil {
		return errors.New("lending genesis: ledger required")
	}
	applied, err := ledger.GenesisApplied()
	if err != nil {
		return fmt.Errorf("lending genesis: %w", err)
	}
	if applied {
		return nil
	}
	for _, bank := range g.Banks {
		authority, _ := crypto.DecodeAddress(bank.Authority)
		if _, err := engine.InitBank(ctx, authority, bank.Asset, bank.RiskParameters); err != nil && !errors.Is(err, ErrAlreadyInitialized) {
			return fmt.Errorf("lending genesis: init bank %s: %w", bank.Asset, err)
		}
	}
	for _, feed := range g.PriceFeeds {
		authority, _ := crypto.DecodeAddress(feed.Authority)
		price, _ := ParseAmount(feed.Price)
		if _, err := engine.InitPriceFeed(ctx, authority, feed.Asset, price, feed.DecimalsExponent); err != nil && !errors.Is(err, ErrAlreadyInitialized) {
			return fmt.Errorf("lending genesis: init price feed %s: %w", feed.Asset, err)
		}
	}
	credits := make([]Credit, 0, len(g.Balances))
	for _, balance := range g.Balances {
		addr, _ := crypto.DecodeAddress(balance.Address)
		amount, _ := ParseAmount(balance.Amount)
		credits = append(credits, Credit{Asset: NormalizeAsset(balance.Asset), Address: addr, Amount: amount})
	}
	if err := ledger.CreditGenesis(credits); err != nil {
		return fmt.Errorf("lending genesis: credit balances: %w", err)
	}
	return nil
}

// ParseAmount decodes a base-10 amount string.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrInvalidAmount
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return value, nil
}

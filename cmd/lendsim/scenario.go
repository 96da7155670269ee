package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/lending"
)

// Scenario describes one simulation run.
type Scenario struct {
	Seed       int64  `toml:"Seed"`
	Steps      int    `toml:"Steps"`
	IntervalMS int    `toml:"IntervalMS"`
	Asset      string `toml:"Asset"`
	// AdvanceSeconds moves the simulated clock forward on every step so
	// interest accrues during local runs.
	AdvanceSeconds uint64 `toml:"AdvanceSeconds"`
	MinAmount      uint64 `toml:"MinAmount"`
	MaxAmount      uint64 `toml:"MaxAmount"`

	// PriceShockChance is the per-step probability of a price move of up to
	// PriceShockBps in either direction.
	PriceShockChance float64 `toml:"PriceShockChance"`
	PriceShockBps    uint64  `toml:"PriceShockBps"`

	Bank      lending.RiskParameters `toml:"Bank"`
	PriceFeed PriceFeedScenario      `toml:"PriceFeed"`
	Authority UserScenario           `toml:"Authority"`
	Users     []UserScenario         `toml:"Users"`
	Remote    RemoteScenario         `toml:"Remote"`
}

// PriceFeedScenario is the initial price.
type PriceFeedScenario struct {
	Price            string `toml:"Price"`
	DecimalsExponent uint8  `toml:"DecimalsExponent"`
}

// UserScenario is one simulated participant. Address defaults to an address
// derived from Name; Token is only used against a remote lendingd.
type UserScenario struct {
	Name    string `toml:"Name"`
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Balance string `toml:"Balance"`
	// InitialDeposit is supplied before the first step.
	InitialDeposit string `toml:"InitialDeposit"`
}

// RemoteScenario points the simulator at a running lendingd instead of an
// in-process engine.
type RemoteScenario struct {
	URL string `toml:"URL"`
}

// LoadScenario reads and validates a TOML scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes data and applies defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	meta, err := toml.Decode(string(data), &sc)
	if err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("scenario: unknown fields %v", undecoded)
	}
	sc.applyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) applyDefaults() {
	sc.Asset = lending.NormalizeAsset(sc.Asset)
	if sc.Asset == "" {
		sc.Asset = "USDC"
	}
	if sc.Steps == 0 {
		sc.Steps = 100
	}
	if sc.MinAmount == 0 {
		sc.MinAmount = 1
	}
	if sc.MaxAmount == 0 {
		sc.MaxAmount = 1_000
	}
	if sc.PriceFeed.Price == "" {
		sc.PriceFeed.Price = "100"
	}
	if sc.Authority.Name == "" {
		sc.Authority.Name = "authority"
	}
}

// Validate checks the scenario is runnable.
func (sc *Scenario) Validate() error {
	if sc.Steps < 0 {
		return fmt.Errorf("scenario: steps must be non-negative")
	}
	if sc.MinAmount > sc.MaxAmount {
		return fmt.Errorf("scenario: min amount %d exceeds max amount %d", sc.MinAmount, sc.MaxAmount)
	}
	if sc.PriceShockChance < 0 || sc.PriceShockChance > 1 {
		return fmt.Errorf("scenario: price shock chance must be within [0,1]")
	}
	if sc.PriceShockBps >= lending.BasisPoints {
		return fmt.Errorf("scenario: price shock must be below %d bps", lending.BasisPoints)
	}
	if err := sc.Bank.Validate(); err != nil {
		return fmt.Errorf("scenario bank: %w", err)
	}
	if _, err := parsePositive(sc.PriceFeed.Price); err != nil {
		return fmt.Errorf("scenario price: %w", err)
	}
	if len(sc.Users) < 2 {
		return fmt.Errorf("scenario: at least two users are required")
	}
	remote := strings.TrimSpace(sc.Remote.URL) != ""
	seen := make(map[crypto.Address]string)
	for _, user := range append([]UserScenario{sc.Authority}, sc.Users...) {
		if strings.TrimSpace(user.Name) == "" {
			return fmt.Errorf("scenario: user name required")
		}
		addr, err := user.address()
		if err != nil {
			return fmt.Errorf("scenario user %s: %w", user.Name, err)
		}
		if other, dup := seen[addr]; dup {
			return fmt.Errorf("scenario: users %s and %s share an address", other, user.Name)
		}
		seen[addr] = user.Name
		for field, raw := range map[string]string{"balance": user.Balance, "initial deposit": user.InitialDeposit} {
			if raw == "" {
				continue
			}
			if _, err := lending.ParseAmount(raw); err != nil {
				return fmt.Errorf("scenario user %s %s: %w", user.Name, field, err)
			}
		}
		if remote && strings.TrimSpace(user.Token) == "" {
			return fmt.Errorf("scenario user %s: token required for remote runs", user.Name)
		}
	}
	return nil
}

func (u UserScenario) address() (crypto.Address, error) {
	if raw := strings.TrimSpace(u.Address); raw != "" {
		return crypto.DecodeAddress(raw)
	}
	return crypto.DeriveAddress("lendsim", strings.ToLower(strings.TrimSpace(u.Name))), nil
}

func parsePositive(raw string) (*uint256.Int, error) {
	v, err := lending.ParseAmount(raw)
	if err != nil {
		return nil, err
	}
	if v.IsZero() {
		return nil, lending.ErrInvalidAmount
	}
	return v, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/services/lending/client"
	"lendpool/state/lendingstore"
	"lendpool/storage"
)

type participant struct {
	name    string
	addr    crypto.Address
	balance *uint256.Int
	deposit *uint256.Int
	api     *client.Client
}

type poolSnapshot struct {
	Deposited *uint256.Int
	Borrowed  *uint256.Int
	Available *uint256.Int
}

type healthSnapshot struct {
	Debt         *uint256.Int
	Liquidatable bool
}

// driver is the surface the simulator exercises. The local driver runs an
// in-process engine; the remote driver talks to lendingd over HTTP.
type driver interface {
	Setup(ctx context.Context, sc *Scenario, authority *participant, users []*participant) error
	SetPrice(ctx context.Context, authority *participant, price *uint256.Int) error
	Price(ctx context.Context) (*uint256.Int, error)
	Deposit(ctx context.Context, p *participant, amount *uint256.Int) error
	Borrow(ctx context.Context, p *participant, amount *uint256.Int) error
	Repay(ctx context.Context, p *participant, amount *uint256.Int) error
	Withdraw(ctx context.Context, p *participant, amount *uint256.Int) error
	Liquidate(ctx context.Context, liquidator, borrower *participant, amount *uint256.Int) error
	Health(ctx context.Context, p *participant) (healthSnapshot, error)
	Balance(ctx context.Context, p *participant) (*uint256.Int, error)
	Pool(ctx context.Context) (poolSnapshot, error)
	Advance(seconds uint64)
	Close()
}

type localDriver struct {
	asset  string
	db     storage.Database
	store  *lendingstore.Store
	engine *lending.Engine
	now    time.Time
}

func newLocalDriver(dataDir string, asset string) (*localDriver, error) {
	var db storage.Database = storage.NewMemDB()
	if dataDir != "" {
		level, err := storage.NewLevelDB(dataDir)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", dataDir, err)
		}
		db = level
	}
	store := lendingstore.New(db)
	d := &localDriver{
		asset:  asset,
		db:     db,
		store:  store,
		engine: lending.NewEngine(store),
		now:    time.Unix(1_700_000_000, 0).UTC(),
	}
	d.engine.SetClock(func() time.Time { return d.now })
	return d, nil
}

func (d *localDriver) Setup(ctx context.Context, sc *Scenario, authority *participant, users []*participant) error {
	price, err := parsePositive(sc.PriceFeed.Price)
	if err != nil {
		return err
	}
	if _, err := d.engine.InitBank(ctx, authority.addr, d.asset, sc.Bank); err != nil && !errors.Is(err, lending.ErrAlreadyInitialized) {
		return fmt.Errorf("init bank: %w", err)
	}
	if _, err := d.engine.InitPriceFeed(ctx, authority.addr, d.asset, price, sc.PriceFeed.DecimalsExponent); err != nil && !errors.Is(err, lending.ErrAlreadyInitialized) {
		return fmt.Errorf("init price feed: %w", err)
	}
	for _, p := range append([]*participant{authority}, users...) {
		if p.balance == nil || p.balance.IsZero() {
			continue
		}
		if err := d.store.Credit(d.asset, p.addr, p.balance); err != nil {
			return fmt.Errorf("fund %s: %w", p.name, err)
		}
	}
	return nil
}

func (d *localDriver) SetPrice(ctx context.Context, authority *participant, price *uint256.Int) error {
	_, err := d.engine.SetPrice(ctx, authority.addr, d.asset, price)
	return err
}

func (d *localDriver) Price(ctx context.Context) (*uint256.Int, error) {
	feed, err := d.engine.PriceFeed(ctx, d.asset)
	if err != nil {
		return nil, err
	}
	return feed.Price, nil
}

func (d *localDriver) Deposit(ctx context.Context, p *participant, amount *uint256.Int) error {
	_, err := d.engine.Deposit(ctx, p.addr, d.asset, amount)
	return err
}

func (d *localDriver) Borrow(ctx context.Context, p *participant, amount *uint256.Int) error {
	_, err := d.engine.Borrow(ctx, p.addr, d.asset, amount)
	return err
}

func (d *localDriver) Repay(ctx context.Context, p *participant, amount *uint256.Int) error {
	_, err := d.engine.Repay(ctx, p.addr, d.asset, amount)
	return err
}

func (d *localDriver) Withdraw(ctx context.Context, p *participant, amount *uint256.Int) error {
	_, err := d.engine.Withdraw(ctx, p.addr, d.asset, amount)
	return err
}

func (d *localDriver) Liquidate(ctx context.Context, liquidator, borrower *participant, amount *uint256.Int) error {
	_, err := d.engine.Liquidate(ctx, liquidator.addr, borrower.addr, d.asset, amount)
	return err
}

func (d *localDriver) Health(ctx context.Context, p *participant) (healthSnapshot, error) {
	health, err := d.engine.Health(ctx, d.asset, p.addr)
	if err != nil {
		return healthSnapshot{}, err
	}
	return healthSnapshot{Debt: health.Debt, Liquidatable: health.Liquidatable}, nil
}

func (d *localDriver) Balance(ctx context.Context, p *participant) (*uint256.Int, error) {
	return d.engine.Balance(ctx, d.asset, p.addr)
}

func (d *localDriver) Pool(ctx context.Context) (poolSnapshot, error) {
	pool, err := d.engine.Pool(ctx, d.asset)
	if err != nil {
		return poolSnapshot{}, err
	}
	return poolSnapshot{Deposited: pool.TotalDeposited, Borrowed: pool.TotalBorrowed, Available: pool.AvailableLiquidity()}, nil
}

func (d *localDriver) Advance(seconds uint64) {
	d.now = d.now.Add(time.Duration(seconds) * time.Second)
}

func (d *localDriver) Close() { d.db.Close() }

// remoteDriver drives a running lendingd. Every participant carries its own
// API token, and balances are funded through the development faucet.
type remoteDriver struct {
	asset  string
	reader *client.Client
}

func newRemoteDriver(baseURL, asset string, authority *participant, users []*participant) (*remoteDriver, error) {
	for _, p := range append([]*participant{authority}, users...) {
		if p.api == nil {
			return nil, fmt.Errorf("participant %s has no api client", p.name)
		}
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("remote url required")
	}
	return &remoteDriver{asset: asset, reader: authority.api}, nil
}

func (d *remoteDriver) Setup(ctx context.Context, sc *Scenario, authority *participant, users []*participant) error {
	price, err := parsePositive(sc.PriceFeed.Price)
	if err != nil {
		return err
	}
	if _, err := authority.api.InitBank(ctx, d.asset, sc.Bank); err != nil && !errors.Is(err, lending.ErrAlreadyInitialized) {
		return fmt.Errorf("init bank: %w", err)
	}
	if _, err := authority.api.InitPriceFeed(ctx, d.asset, price, sc.PriceFeed.DecimalsExponent); err != nil && !errors.Is(err, lending.ErrAlreadyInitialized) {
		return fmt.Errorf("init price feed: %w", err)
	}
	for _, p := range append([]*participant{authority}, users...) {
		if p.balance == nil || p.balance.IsZero() {
			continue
		}
		if _, err := p.api.Fund(ctx, d.asset, p.addr, p.balance); err != nil {
			return fmt.Errorf("fund %s: %w", p.name, err)
		}
	}
	return nil
}

func (d *remoteDriver) SetPrice(ctx context.Context, authority *participant, price *uint256.Int) error {
	_, err := authority.api.SetPrice(ctx, d.asset, price)
	return err
}

func (d *remoteDriver) Price(ctx context.Context) (*uint256.Int, error) {
	feed, err := d.reader.PriceFeed(ctx, d.asset)
	if err != nil {
		return nil, err
	}
	return client.ParseAmount(feed.Price)
}

func (d *remoteDriver) Deposit(ctx context.Context, p *participant, amount *uint256.Int) error {
	_, err := p.api.Deposit(ctx, d.asset, amount)
	return err
}

func (d *remoteDriver) Borrow(ctx context.Context, p *participant, amount *uint256.Int) error {
	_, err := p.api.Borrow(ctx, d.asset, amount)
	return err
}

func (d *remoteDriver) Repay(ctx context.Context, p *participant, amount *uint256.Int) error {
	_, err := p.api.Repay(ctx, d.asset, amount)
	return err
}

func (d *remoteDriver) Withdraw(ctx context.Context, p *participant, amount *uint256.Int) error {
	_, err := p.api.Withdraw(ctx, d.asset, amount)
	return err
}

func (d *remoteDriver) Liquidate(ctx context.Context, liquidator, borrower *participant, amount *uint256.Int) error {
	_, err := liquidator.api.Liquidate(ctx, d.asset, borrower.addr, amount)
	return err
}

func (d *remoteDriver) Health(ctx context.Context, p *participant) (healthSnapshot, error) {
	health, err := d.reader.Health(ctx, d.asset, p.addr)
	if err != nil {
		return healthSnapshot{}, err
	}
	debt, err := client.ParseAmount(health.Debt)
	if err != nil {
		return healthSnapshot{}, err
	}
	return healthSnapshot{Debt: debt, Liquidatable: health.Liquidatable}, nil
}

func (d *remoteDriver) Balance(ctx context.Context, p *participant) (*uint256.Int, error) {
	balance, err := d.reader.Balance(ctx, d.asset, p.addr)
	if err != nil {
		return nil, err
	}
	return client.ParseAmount(balance.Balance)
}

func (d *remoteDriver) Pool(ctx context.Context) (poolSnapshot, error) {
	pool, err := d.reader.Pool(ctx, d.asset)
	if err != nil {
		return poolSnapshot{}, err
	}
	var snap poolSnapshot
	for _, field := range []struct {
		raw string
		dst **uint256.Int
	}{
		{pool.TotalDeposited, &snap.Deposited},
		{pool.TotalBorrowed, &snap.Borrowed},
		{pool.AvailableLiquidity, &snap.Available},
	} {
		v, err := client.ParseAmount(field.raw)
		if err != nil {
			return poolSnapshot{}, err
		}
		*field.dst = v
	}
	return snap, nil
}

// Advance is a no-op remotely; lendingd accrues on wall-clock time.
func (d *remoteDriver) Advance(uint64) {}

func (d *remoteDriver) Close() {}

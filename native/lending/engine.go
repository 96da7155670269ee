package lending

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"lendpool/core/events"
	"lendpool/crypto"
)

// Operation names the engine handlers for logs, metrics and receipts.
type Operation string

const (
	OpInitBank        Operation = "init_bank"
	OpInitPriceFeed   Operation = "init_price_feed"
	OpSetPrice        Operation = "set_price"
	OpSetInterestRate Operation = "set_interest_rate"
	OpDeposit         Operation = "deposit"
	OpBorrow          Operation = "borrow"
	OpRepay           Operation = "repay"
	OpWithdraw        Operation = "withdraw"
	OpLiquidate       Operation = "liquidate"
)

// Receipt describes the committed effect of a handler.
type Receipt struct {
	Op      Operation
	Asset   string
	Actor   crypto.Address
	Account crypto.Address
	Amount  *uint256.Int
	// Seized is only set for liquidations.
	Seized    *uint256.Int
	Position  *Position
	Pool      *Pool
	PriceFeed *PriceFeed
	Timestamp uint64
}

// Engine orchestrates the state transitions of the lending pools. Operations
// on the same asset are serialised by a per-asset lock; each operation runs
// inside one Store transaction so the token transfer and the record writes
// commit together.
type Engine struct {
	store   Store
	clock   func() time.Time
	emitter events.Emitter
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine constructs an engine persisting through store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:   store,
		clock:   time.Now,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		locks:   make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source used for interest accrual.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetEmitter wires the sink receiving events after each committed operation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

func (e *Engine) now() uint64 {
	ts := e.clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// assetLock returns the single-writer lock for asset. Locks are allocated
// only for assets that already have a pool or price feed, or for the
// operations that create one, so requests naming unknown assets leave the
// table untouched.
func (e *Engine) assetLock(op Operation, asset string) (*sync.Mutex, error) {
	e.mu.Lock()
	lock, ok := e.locks[asset]
	e.mu.Unlock()
	if ok {
		return lock, nil
	}
	if op != OpInitBank && op != OpInitPriceFeed {
		known := false
		err := e.store.View(func(view StateView) error {
			pool, err := view.GetPool(asset)
			if err != nil || pool != nil {
				known = pool != nil
				return err
			}
			feed, err := view.GetPriceFeed(asset)
			known = feed != nil
			return err
		})
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, ErrNotFound
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if lock, ok := e.locks[asset]; ok {
		return lock, nil
	}
	lock = &sync.Mutex{}
	e.locks[asset] = lock
	return lock, nil
}

func (e *Engine) reject(op Operation, asset string, err error) {
	e.logger.Info("lending operation rejected",
		slog.String("op", string(op)),
		slog.String("asset", asset),
		slog.String("reason", Code(err)),
		slog.Any("error", err))
}

// execute runs fn as one atomic unit under the asset's single-writer lock.
// The event returned by fn is emitted only after the transaction commits.
func (e *Engine) execute(ctx context.Context, op Operation, asset string, fn func(tx StateTx, now uint64) (*Receipt, events.Event, error)) (*Receipt, error) {
	if e == nil || e.store == nil {
		return nil, ErrNilState
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	asset = NormalizeAsset(asset)
	if asset == "" {
		return nil, ErrInvalidParams
	}

	lock, err := e.assetLock(op, asset)
	if err != nil {
		e.reject(op, asset, err)
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	now := e.now()
	var (
		receipt *Receipt
		evt     events.Event
	)
	err = e.store.Update(func(tx StateTx) error {
		var err error
		receipt, evt, err = fn(tx, now)
		return err
	})
	if err != nil {
		e.reject(op, asset, err)
		return nil, err
	}
	if receipt != nil {
		receipt.Op = op
		receipt.Asset = asset
		receipt.Timestamp = now
	}
	if evt != nil {
		e.emitter.Emit(evt)
	}
	e.logger.Debug("lending operation committed",
		slog.String("op", string(op)),
		slog.String("asset", asset))
	return receipt, nil
}

// InitBank creates the pool for asset with caller as its authority. The vault
// is always the address derived from the asset, so custody can never be an
// account someone holds keys for.
func (e *Engine) InitBank(ctx context.Context, caller crypto.Address, asset string, params RiskParameters) (*Receipt, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if caller.IsZero() {
		return nil, ErrInvalidParams
	}
	asset = NormalizeAsset(asset)
	vault := VaultAddress(asset)
	return e.execute(ctx, OpInitBank, asset, func(tx StateTx, now uint64) (*Receipt, events.Event, error) {
		existing, err := tx.GetPool(asset)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			return nil, nil, ErrAlreadyInitialized
		}
		pool := &Pool{
			Asset:          asset,
			Authority:      caller,
			Vault:          vault,
			TotalDeposited: zero(),
			TotalBorrowed:  zero(),
			Params:         params,
			BorrowIndex:    Ray(),
			LastAccrual:    now,
		}
		if err := tx.PutPool(pool); err != nil {
			return nil, nil, err
		}
		evt := events.LendingConfigChanged{
			Type:      events.TypeLendingBankInitialized,
			Asset:     asset,
			Authority: caller,
			Values: map[string]string{
				"vault":                   vault.String(),
				"maxLtvBps":               strconv.FormatUint(params.MaxLTVBps, 10),
				"liquidationThresholdBps": strconv.FormatUint(params.LiquidationThresholdBps, 10),
				"liquidationBonusBps":     strconv.FormatUint(params.LiquidationBonusBps, 10),
				"interestRateBps":         strconv.FormatUint(params.InterestRateBps, 10),
			},
			Timestamp: now,
		}
		return &Receipt{Actor: caller, Pool: pool.Clone()}, evt, nil
	})
}

// InitPriceFeed creates the price feed for asset with caller as its authority.
func (e *Engine) InitPriceFeed(ctx context.Context, caller crypto.Address, asset string, price *uint256.Int, decimalsExponent uint8) (*Receipt, error) {
	if isZero(price) {
		return nil, ErrInvalidPrice
	}
	if caller.IsZero() {
		return nil, ErrInvalidParams
	}
	if _, err := pow10(decimalsExponent); err != nil {
		return nil, ErrInvalidParams
	}
	asset = NormalizeAsset(asset)
	return e.execute(ctx, OpInitPriceFeed, asset, func(tx StateTx, now uint64) (*Receipt, events.Event, error) {
		existing, err := tx.GetPriceFeed(asset)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			return nil, nil, ErrAlreadyInitialized
		}
		feed := &PriceFeed{
			Asset:            asset,
			Price:            cloneInt(price),
			DecimalsExponent: decimalsExponent,
			Authority:        caller,
			UpdatedAt:        now,
		}
		if err := tx.PutPriceFeed(feed); err != nil {
			return nil, nil, err
		}
		evt := events.LendingConfigChanged{
			Type:      events.TypeLendingPriceFeedInitialized,
			Asset:     asset,
			Authority: caller,
			Values: map[string]string{
				"price":            feed.Price.Dec(),
				"decimalsExponent": strconv.FormatUint(uint64(decimalsExponent), 10),
			},
			Timestamp: now,
		}
		return &Receipt{Actor: caller, Amount: cloneInt(price), PriceFeed: feed.Clone()}, evt, nil
	})
}

// SetPrice updates the feed price. Only the feed authority may call it.
func (e *Engine) SetPrice(ctx context.Context, caller crypto.Address, asset string, price *uint256.Int) (*Receipt, error) {
	return e.execute(ctx, OpSetPrice, asset, func(tx StateTx, now uint64) (*Receipt, events.Event, error) {
		feed, err := e.loadPriceFeed(tx, NormalizeAsset(asset))
		if err != nil {
			return nil, nil, err
		}
		if caller != feed.Authority {
			return nil, nil, ErrUnauthorized
		}
		if isZero(price) {
			return nil, nil, ErrInvalidPrice
		}
		feed.Price = cloneInt(price)
		feed.UpdatedAt = now
		if err := tx.PutPriceFeed(feed); err != nil {
			return nil, nil, err
		}
		evt := events.LendingConfigChanged{
			Type:      events.TypeLendingPriceUpdated,
			Asset:     feed.Asset,
			Authority: caller,
			Values:    map[string]string{"price": feed.Price.Dec()},
			Timestamp: now,
		}
		return &Receipt{Actor: caller, Amount: cloneInt(price), PriceFeed: feed.Clone()}, evt, nil
	})
}

// SetInterestRate changes the pool's annual rate. Interest up to now accrues at
// the previous rate before the change takes effect.
func (e *Engine) SetInterestRate(ctx context.Context, caller crypto.Address, asset string, rateBps uint64) (*Receipt, error) {
	if rateBps > BasisPoints {
		return nil, ErrInvalidParams
	}
	return e.execute(ctx, OpSetInterestRate, asset, func(tx StateTx, now uint64) (*Receipt, events.Event, error) {
		pool, err := e.loadPool(tx, NormalizeAsset(asset), now)
		if err != nil {
			return nil, nil, err
		}
		if caller != pool.Authority {
			return nil, nil, ErrUnauthorized
		}
		pool.Params.InterestRateBps = rateBps
		if err := tx.PutPool(pool); err != nil {
			return nil, nil, err
		}
		evt := events.LendingConfigChanged{
			Type:      events.TypeLendingRateUpdated,
			Asset:     pool.Asset,
			Authority: caller,
			Values:    map[string]string{"interestRateBps": strconv.FormatUint(rateBps, 10)},
			Timestamp: now,
		}
		return &Receipt{Actor: caller, Pool: pool.Clone()}, evt, nil
	})
}

// Deposit moves amount from owner into the vault and credits the owner's
// position, creating it on first use.
func (e *Engine) Deposit(ctx context.Context, owner crypto.Address, asset string, amount *uint256.Int) (*Receipt, error) {
	if isZero(amount) {
		return nil, ErrInvalidAmount
	}
	return e.execute(ctx, OpDeposit, asset, func(tx StateTx, now uint64) (*Receipt, events.Event, error) {
		pool, err := e.loadPool(tx, NormalizeAsset(asset), now)
		if err != nil {
			return nil, nil, err
		}
		position, err := e.loadPosition(tx, pool, owner)
		if err != nil {
			return nil, nil, err
		}
		deposited, err := add(position.Deposited, amount)
		if err != nil {
			return nil, nil, err
		}
		total, err := add(pool.TotalDeposited, amount)
		if err != nil {
			return nil, nil, err
		}
		if _, err := tx.Transfer(pool.Asset, owner, pool.Vault, amount); err != nil {
			return nil, nil, err
		}
		position.Deposited = deposited
		pool.TotalDeposited = total
		return e.commit(tx, events.TypeLendingDeposit, owner, owner, amount, nil, pool, position, now)
	})
}

// Borrow sends amount from the vault to owner provided the resulting debt stays
// within the max loan-to-value and the vault has free liquidity.
func (e *Engine) Borrow(ctx context.Context, owner crypto.Address, asset string, amount *uint256.Int) (*Receipt, error) {
	if isZero(amount) {
		return nil, ErrInvalidAmount
	}
	return e.execute(ctx, OpBorrow, asset, func(tx StateTx, now uint64) (*Receipt, events.Event, error) {
		pool, err := e.loadPool(tx, NormalizeAsset(asset), now)
		if err != nil {
			return nil, nil, err
		}
		feed, err := e.loadPriceFeed(tx, pool.Asset)
		if err != nil {
			return nil, nil, err
		}
		position, err := e.loadPosition(tx, pool, owner)
		if err != nil {
			return nil, nil, err
		}
		newDebt, err := add(position.BorrowedPrincipal, amount)
		if err != nil {
			return nil, nil, err
		}
		value, err := CollateralValue(position.Deposited, feed)
		if err != nil {
			return nil, nil, err
		}
		over, err := IsOverMaxLTV(newDebt, value, pool)
		if err != nil {
			return nil, nil, err
		}
		if over {
			return nil, nil, ErrOverLTV
		}
		if pool.AvailableLiquidity().Lt(amount) {
			return nil, nil, ErrInsufficientFunds
		}
		total, err := add(pool.TotalBorrowed, amount)
		if err != nil {
			return nil, nil, err
		}
		if _, err := tx.Transfer(pool.Asset, pool.Vault, owner, amount); err != nil {
			return nil, nil, err
		}
		position.BorrowedPrincipal = newDebt
		pool.TotalBorrowed = total
		return e.commit(tx, events.TypeLendingBorrow, owner, owner, amount, nil, pool, position, now)
	})
}

// Repay moves amount from owner into the vault and reduces the owner's debt.
// Amounts above the outstanding debt are rejected rather than clamped.
func (e *Engine) Repay(ctx context.Context, owner crypto.Address, asset string, amount *uint256.Int) (*Receipt, error) {
	if isZero(amount) {
		return nil, ErrInvalidAmount
	}
	return e.execute(ctx, OpRepay, asset, func(tx StateTx, now uint64) (*Receipt, events.Event, error) {
		pool, err := e.loadPool(tx, NormalizeAsset(asset), now)
		if err != nil {
			return nil, nil, err
		}
		position, err := e.loadPosition(tx, pool, owner)
		if err != nil {
			return nil, nil, err
		}
		if amount.Gt(position.BorrowedPrincipal) {
			return nil, nil, ErrOverRepay
		}
		debt, err := sub(position.BorrowedPrincipal, amount)
		if err != nil {
			return nil, nil, err
		}
		if _, err := tx.Transfer(pool.Asset, owner, pool.Vault, amount); err != nil {
			return nil, nil, err
		}
		position.BorrowedPrincipal = debt
		pool.TotalBorrowed = subFloor(pool.TotalBorrowed, amount)
		return e.commit(tx, events.TypeLendingRepay, owner, owner, amount, nil, pool, position, now)
	})
}

// Withdraw releases collateral back to owner while keeping the remaining debt
// within the max loan-to-value.
func (e *Engine) Withdraw(ctx context.Context, owner crypto.Address, asset string, amount *uint256.Int) (*Receipt, error) {
	if isZero(amount) {
		return nil, ErrInvalidAmount
	}
	return e.execute(ctx, OpWithdraw, asset, func(tx StateTx, now uint64) (*Receipt, events.Event, error) {
		pool, err := e.loadPool(tx, NormalizeAsset(asset), now)
		if err != nil {
			return nil, nil, err
		}
		position, err := e.loadPosition(tx, pool, owner)
		if err != nil {
			return nil, nil, err
		}
		if amount.Gt(position.Deposited) {
			return nil, nil, ErrInsufficientFunds
		}
		remaining, err := sub(position.Deposited, amount)
		if err != nil {
			return nil, nil, err
		}
		if !position.BorrowedPrincipal.IsZero() {
			feed, err := e.loadPriceFeed(tx, pool.Asset)
			if err != nil {
				return nil, nil, err
			}
			value, err := CollateralValue(remaining, feed)
			if err != nil {
				return nil, nil, err
			}
			over, err := IsOverMaxLTV(position.BorrowedPrincipal, value, pool)
			if err != nil {
				return nil, nil, err
			}
			if over {
				return nil, nil, ErrOverLTV
			}
		}
		if pool.AvailableLiquidity().Lt(amount) {
			return nil, nil, ErrInsufficientFunds
		}
		total, err := sub(pool.TotalDeposited, amount)
		if err != nil {
			return nil, nil, err
		}
		if _, err := tx.Transfer(pool.Asset, pool.Vault, owner, amount); err != nil {
			return nil, nil, err
		}
		position.Deposited = remaining
		pool.TotalDeposited = total
		return e.commit(tx, events.TypeLendingWithdraw, owner, owner, amount, nil, pool, position, now)
	})
}

// Liquidate lets liquidator repay part or all of an undercollateralised
// borrower's debt in exchange for collateral worth the repaid amount plus the
// pool's liquidation bonus. Seizure is capped at the borrower's deposit and
// any bonus the deposit cannot cover is forfeited.
func (e *Engine) Liquidate(ctx context.Context, liquidator, borrower crypto.Address, asset string, repayAmount *uint256.Int) (*Receipt, error) {
	if isZero(repayAmount) {
		return nil, ErrInvalidAmount
	}
	return e.execute(ctx, OpLiquidate, asset, func(tx StateTx, now uint64) (*Receipt, events.Event, error) {
		pool, err := e.loadPool(tx, NormalizeAsset(asset), now)
		if err != nil {
			return nil, nil, err
		}
		feed, err := e.loadPriceFeed(tx, pool.Asset)
		if err != nil {
			return nil, nil, err
		}
		position, err := e.loadPosition(tx, pool, borrower)
		if err != nil {
			return nil, nil, err
		}
		value, err := CollateralValue(position.Deposited, feed)
		if err != nil {
			return nil, nil, err
		}
		liquidatable, err := IsLiquidatable(position.BorrowedPrincipal, value, pool)
		if err != nil {
			return nil, nil, err
		}
		if !liquidatable {
			return nil, nil, ErrNotUndercollateralized
		}
		if repayAmount.Gt(position.BorrowedPrincipal) {
			return nil, nil, ErrOverRepay
		}
		seize, err := SeizeAmount(repayAmount, position.Deposited, pool, feed)
		if err != nil {
			return nil, nil, err
		}

		debt, err := sub(position.BorrowedPrincipal, repayAmount)
		if err != nil {
			return nil, nil, err
		}
		deposited, err := sub(position.Deposited, seize)
		if err != nil {
			return nil, nil, err
		}
		borrowed := subFloor(pool.TotalBorrowed, repayAmount)
		if pool.TotalDeposited.Lt(seize) {
			return nil, nil, ErrInsufficientFunds
		}
		totalDeposited := new(uint256.Int).Sub(pool.TotalDeposited, seize)
		// The seized collateral must leave the vault without pushing
		// outstanding debt above the remaining deposits.
		if totalDeposited.Lt(borrowed) {
			return nil, nil, ErrInsufficientFunds
		}

		if _, err := tx.Transfer(pool.Asset, liquidator, pool.Vault, repayAmount); err != nil {
			return nil, nil, err
		}
		if !seize.IsZero() {
			if _, err := tx.Transfer(pool.Asset, pool.Vault, liquidator, seize); err != nil {
				return nil, nil, err
			}
		}
		position.BorrowedPrincipal = debt
		position.Deposited = deposited
		pool.TotalBorrowed = borrowed
		pool.TotalDeposited = totalDeposited
		return e.commit(tx, events.TypeLendingLiquidate, liquidator, borrower, repayAmount, seize, pool, position, now)
	})
}

func (e *Engine) commit(tx StateTx, eventType string, actor, account crypto.Address, amount, seized *uint256.Int, pool *Pool, position *Position, now uint64) (*Receipt, events.Event, error) {
	if err := tx.PutPosition(position); err != nil {
		return nil, nil, err
	}
	if err := tx.PutPool(pool); err != nil {
		return nil, nil, err
	}
	evt := events.LendingAction{
		Type:           eventType,
		Asset:          pool.Asset,
		Actor:          actor,
		Account:        account,
		Amount:         cloneInt(amount),
		TotalDeposited: cloneInt(pool.TotalDeposited),
		TotalBorrowed:  cloneInt(pool.TotalBorrowed),
		Timestamp:      now,
	}
	if seized != nil {
		evt.Seized = cloneInt(seized)
	}
	receipt := &Receipt{
		Actor:    actor,
		Account:  account,
		Amount:   cloneInt(amount),
		Position: position.Clone(),
		Pool:     pool.Clone(),
	}
	if seized != nil {
		receipt.Seized = cloneInt(seized)
	}
	return receipt, evt, nil
}

// loadPool reads the pool and accrues interest up to now.
func (e *Engine) loadPool(view StateView, asset string, now uint64) (*Pool, error) {
	pool, err := view.GetPool(asset)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNotFound
	}
	pool = pool.Clone()
	if err := accrue(pool, now); err != nil {
		return nil, err
	}
	return pool, nil
}

func (e *Engine) loadPriceFeed(view StateView, asset string) (*PriceFeed, error) {
	feed, err := view.GetPriceFeed(asset)
	if err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, ErrNotFound
	}
	return feed.Clone(), nil
}

// loadPosition reads the owner's position and realizes its debt against the
// already-accrued pool. A missing position is returned empty so the handler
// checks reject it the same way as a drained one.
func (e *Engine) loadPosition(view StateView, pool *Pool, owner crypto.Address) (*Position, error) {
	if owner.IsZero() {
		return nil, ErrInvalidParams
	}
	position, err := view.GetPosition(pool.Asset, owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Asset: pool.Asset, Owner: owner}
	} else {
		position = position.Clone()
	}
	if err := realizeDebt(position, pool); err != nil {
		return nil, err
	}
	return position, nil
}

// previewPool reads the stored pool and previews interest up to now.
func (e *Engine) previewPool(view StateView, asset string, now uint64) (*Pool, error) {
	stored, err := view.GetPool(asset)
	if err != nil {
		return nil, err
	}
	pool, _, err := PreviewAccrual(stored, nil, now)
	return pool, err
}

// Pool returns the stored pool with interest previewed up to now.
func (e *Engine) Pool(ctx context.Context, asset string) (*Pool, error) {
	var out *Pool
	err := e.view(ctx, func(view StateView) error {
		pool, err := e.previewPool(view, NormalizeAsset(asset), e.now())
		if err != nil {
			return err
		}
		out = pool
		return nil
	})
	return out, err
}

// Pools lists every initialised pool.
func (e *Engine) Pools(ctx context.Context) ([]*Pool, error) {
	var out []*Pool
	err := e.view(ctx, func(view StateView) error {
		assets, err := view.ListPools()
		if err != nil {
			return err
		}
		now := e.now()
		for _, asset := range assets {
			pool, err := e.previewPool(view, asset, now)
			if err != nil {
				return err
			}
			out = append(out, pool)
		}
		return nil
	})
	return out, err
}

// PriceFeed returns the stored price feed.
func (e *Engine) PriceFeed(ctx context.Context, asset string) (*PriceFeed, error) {
	var out *PriceFeed
	err := e.view(ctx, func(view StateView) error {
		feed, err := e.loadPriceFeed(view, NormalizeAsset(asset))
		if err != nil {
			return err
		}
		out = feed
		return nil
	})
	return out, err
}

// Position returns the owner's position with debt previewed up to now.
// ErrNotFound is returned when the owner never deposited.
func (e *Engine) Position(ctx context.Context, asset string, owner crypto.Address) (*Position, error) {
	if owner.IsZero() {
		return nil, ErrInvalidParams
	}
	var out *Position
	err := e.view(ctx, func(view StateView) error {
		asset := NormalizeAsset(asset)
		pool, err := view.GetPool(asset)
		if err != nil {
			return err
		}
		stored, err := view.GetPosition(asset, owner)
		if err != nil {
			return err
		}
		if pool == nil || stored == nil {
			return ErrNotFound
		}
		_, out, err = PreviewAccrual(pool, stored, e.now())
		return err
	})
	return out, err
}

// Health evaluates the owner's position against the current price.
func (e *Engine) Health(ctx context.Context, asset string, owner crypto.Address) (Health, error) {
	if owner.IsZero() {
		return Health{}, ErrInvalidParams
	}
	var out Health
	err := e.view(ctx, func(view StateView) error {
		asset := NormalizeAsset(asset)
		stored, err := view.GetPool(asset)
		if err != nil {
			return err
		}
		if stored == nil {
			return ErrNotFound
		}
		feed, err := e.loadPriceFeed(view, asset)
		if err != nil {
			return err
		}
		position, err := view.GetPosition(asset, owner)
		if err != nil {
			return err
		}
		if position == nil {
			position = &Position{Asset: asset, Owner: owner}
		}
		pool, position, err := PreviewAccrual(stored, position, e.now())
		if err != nil {
			return err
		}
		out, err = Assess(pool, position, feed)
		return err
	})
	return out, err
}

// Balance returns the owner's ledger balance for asset.
func (e *Engine) Balance(ctx context.Context, asset string, owner crypto.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(ctx, func(view StateView) error {
		balance, err := view.Balance(NormalizeAsset(asset), owner)
		if err != nil {
			return err
		}
		out = cloneInt(balance)
		return nil
	})
	return out, err
}

func (e *Engine) view(ctx context.Context, fn func(StateView) error) error {
	if e == nil || e.store == nil {
		return ErrNilState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.store.View(fn)
}

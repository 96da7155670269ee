package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"lendpool/native/lending"
)

const (
	actionDeposit   = "deposit"
	actionBorrow    = "borrow"
	actionRepay     = "repay"
	actionWithdraw  = "withdraw"
	actionLiquidate = "liquidate"
	actionSetPrice  = "set_price"

	resultOK = "ok"
)

var userActions = []string{actionDeposit, actionBorrow, actionRepay, actionWithdraw}

// Stats counts outcomes per action. Rejections are keyed by error code.
type Stats map[string]map[string]int

func (s Stats) record(action string, err error) {
	result := resultOK
	if err != nil {
		result = lending.Code(err)
	}
	if s[action] == nil {
		s[action] = make(map[string]int)
	}
	s[action][result]++
}

// Count returns the number of outcomes recorded for action and result.
func (s Stats) Count(action, result string) int { return s[action][result] }

// Simulator drives random traffic against a driver. A fixed seed yields the
// same sequence of actions.
type Simulator struct {
	sc        *Scenario
	driver    driver
	authority *participant
	users     []*participant
	rng       *rand.Rand
	logger    *slog.Logger
	stats     Stats
	sleep     func(context.Context, time.Duration) error
}

// NewSimulator builds participants from sc.
func NewSimulator(sc *Scenario, d driver, authority *participant, users []*participant, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		sc:        sc,
		driver:    d,
		authority: authority,
		users:     users,
		rng:       rand.New(rand.NewSource(sc.Seed)),
		logger:    logger,
		stats:     make(Stats),
		sleep:     sleepContext,
	}
}

// Stats exposes the outcome counters.
func (s *Simulator) Stats() Stats { return s.stats }

// Run seeds the pool, then executes steps until the scenario is exhausted
// or ctx is cancelled. Business rejections are counted; any other failure
// aborts the run.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.driver.Setup(ctx, s.sc, s.authority, s.users); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	for _, p := range s.users {
		if p.deposit == nil || p.deposit.IsZero() {
			continue
		}
		if err := s.apply(ctx, actionDeposit, p, p.deposit); err != nil {
			return err
		}
	}
	interval := time.Duration(s.sc.IntervalMS) * time.Millisecond
	for step := 1; step <= s.sc.Steps; step++ {
		if err := ctx.Err(); err != nil {
			s.logger.Info("simulation interrupted", slog.Int("step", step))
			return nil
		}
		if err := s.step(ctx, step); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("step %d: %w", step, err)
		}
		if interval > 0 {
			if err := s.sleep(ctx, interval); err != nil {
				return nil
			}
		}
	}
	return nil
}

func (s *Simulator) step(ctx context.Context, step int) error {
	s.driver.Advance(s.sc.AdvanceSeconds)
	if s.sc.PriceShockChance > 0 && s.rng.Float64() < s.sc.PriceShockChance {
		if err := s.shockPrice(ctx); err != nil {
			return err
		}
	}
	user := s.users[s.rng.Intn(len(s.users))]
	action := userActions[s.rng.Intn(len(userActions))]
	if err := s.apply(ctx, action, user, s.amount()); err != nil {
		return err
	}
	if err := s.sweep(ctx); err != nil {
		return err
	}
	pool, err := s.driver.Pool(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("step",
		slog.Int("step", step),
		slog.String("op", action),
		slog.String("user", user.name),
		slog.String("vault", pool.Available.Dec()),
		slog.String("borrowed", pool.Borrowed.Dec()),
		slog.String("deposited", pool.Deposited.Dec()))
	return nil
}

// apply runs one user action. Rejections are logged and counted.
func (s *Simulator) apply(ctx context.Context, action string, p *participant, amount *uint256.Int) error {
	var err error
	switch action {
	case actionDeposit:
		err = s.driver.Deposit(ctx, p, amount)
	case actionBorrow:
		err = s.driver.Borrow(ctx, p, amount)
	case actionRepay:
		err = s.driver.Repay(ctx, p, amount)
	case actionWithdraw:
		err = s.driver.Withdraw(ctx, p, amount)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return s.observe(action, p.name, amount, err)
}

func (s *Simulator) observe(action, user string, amount *uint256.Int, err error) error {
	s.stats.record(action, err)
	if err == nil {
		return nil
	}
	code := lending.Code(err)
	if code == "Internal" {
		return err
	}
	s.logger.Debug("rejected",
		slog.String("op", action),
		slog.String("user", user),
		slog.String("amount", amount.Dec()),
		slog.String("reason", code))
	return nil
}

func (s *Simulator) amount() *uint256.Int {
	span := s.sc.MaxAmount - s.sc.MinAmount + 1
	return uint256.NewInt(s.sc.MinAmount + uint64(s.rng.Int63n(int64(span))))
}

// shockPrice moves the price by up to PriceShockBps in a random direction.
func (s *Simulator) shockPrice(ctx context.Context) error {
	current, err := s.driver.Price(ctx)
	if err != nil {
		return err
	}
	move := uint64(s.rng.Int63n(int64(s.sc.PriceShockBps) + 1))
	factor := uint64(lending.BasisPoints) + move
	if s.rng.Intn(2) == 0 {
		factor = uint64(lending.BasisPoints) - move
	}
	next := new(uint256.Int).Mul(current, uint256.NewInt(factor))
	next.Div(next, uint256.NewInt(lending.BasisPoints))
	if next.IsZero() {
		next.SetOne()
	}
	err = s.driver.SetPrice(ctx, s.authority, next)
	if err == nil {
		s.logger.Info("price shock", slog.String("from", current.Dec()), slog.String("to", next.Dec()))
	}
	return s.observe(actionSetPrice, s.authority.name, next, err)
}

// sweep liquidates every undercollateralized user, repaying half the debt
// from the richest other participant.
func (s *Simulator) sweep(ctx context.Context) error {
	for _, borrower := range s.users {
		health, err := s.driver.Health(ctx, borrower)
		if err != nil {
			return err
		}
		if !health.Liquidatable {
			continue
		}
		liquidator, balance, err := s.richestExcept(ctx, borrower)
		if err != nil {
			return err
		}
		if liquidator == nil {
			continue
		}
		repay := new(uint256.Int).Rsh(health.Debt, 1)
		if repay.IsZero() {
			repay = new(uint256.Int).Set(health.Debt)
		}
		if repay.Gt(balance) {
			repay = balance
		}
		if repay.IsZero() {
			continue
		}
		err = s.driver.Liquidate(ctx, liquidator, borrower, repay)
		if err == nil {
			s.logger.Info("liquidation",
				slog.String("liquidator", liquidator.name),
				slog.String("borrower", borrower.name),
				slog.String("amount", repay.Dec()))
		}
		if err := s.observe(actionLiquidate, liquidator.name, repay, err); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) richestExcept(ctx context.Context, borrower *participant) (*participant, *uint256.Int, error) {
	var (
		best    *participant
		balance = new(uint256.Int)
	)
	for _, p := range s.users {
		if p == borrower {
			continue
		}
		b, err := s.driver.Balance(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		if best == nil || b.Gt(balance) {
			best, balance = p, b
		}
	}
	return best, balance, nil
}

// Report logs the outcome counters in a stable order.
func (s *Simulator) Report() {
	actions := make([]string, 0, len(s.stats))
	for action := range s.stats {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		results := make([]string, 0, len(s.stats[action]))
		for result := range s.stats[action] {
			results = append(results, result)
		}
		sort.Strings(results)
		attrs := []any{slog.String("op", action)}
		for _, result := range results {
			attrs = append(attrs, slog.Int(result, s.stats[action][result]))
		}
		s.logger.Info("summary", attrs...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

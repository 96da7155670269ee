// Package server exposes the lending engine over HTTP. Mutations are
// authenticated; the caller address resolved by the Authenticator is the
// actor of every operation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/observability"
	"lendpool/services/lending/journal"
)

const (
	requestBodyLimit = 1 << 20 // 1 MiB
	defaultTimeout   = 10 * time.Second
)

// Engine is the subset of *lending.Engine served over HTTP.
type Engine interface {
	InitBank(ctx context.Context, caller crypto.Address, asset string, params lending.RiskParameters) (*lending.Receipt, error)
	InitPriceFeed(ctx context.Context, caller crypto.Address, asset string, price *uint256.Int, decimalsExponent uint8) (*lending.Receipt, error)
	SetPrice(ctx context.Context, caller crypto.Address, asset string, price *uint256.Int) (*lending.Receipt, error)
	SetInterestRate(ctx context.Context, caller crypto.Address, asset string, rateBps uint64) (*lending.Receipt, error)
	Deposit(ctx context.Context, owner crypto.Address, asset string, amount *uint256.Int) (*lending.Receipt, error)
	Borrow(ctx context.Context, owner crypto.Address, asset string, amount *uint256.Int) (*lending.Receipt, error)
	Repay(ctx context.Context, owner crypto.Address, asset string, amount *uint256.Int) (*lending.Receipt, error)
	Withdraw(ctx context.Context, owner crypto.Address, asset string, amount *uint256.Int) (*lending.Receipt, error)
	Liquidate(ctx context.Context, liquidator, borrower crypto.Address, asset string, repayAmount *uint256.Int) (*lending.Receipt, error)

	Pool(ctx context.Context, asset string) (*lending.Pool, error)
	Pools(ctx context.Context) ([]*lending.Pool, error)
	PriceFeed(ctx context.Context, asset string) (*lending.PriceFeed, error)
	Position(ctx context.Context, asset string, owner crypto.Address) (*lending.Position, error)
	Health(ctx context.Context, asset string, owner crypto.Address) (lending.Health, error)
	Balance(ctx context.Context, asset string, owner crypto.Address) (*uint256.Int, error)
}

// History serves persisted events.
type History interface {
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// FaucetOptions configures the development funding endpoint.
type FaucetOptions struct {
	Enabled bool
	// MaxAmount caps a single faucet credit; nil means uncapped.
	MaxAmount *uint256.Int
	Funder    lending.Funder
}

// Options wires the server's collaborators. Engine and Auth are required.
type Options struct {
	Engine         Engine
	Auth           *Authenticator
	Limiter        *RateLimiter
	Hub            *Hub
	History        History
	Faucet         FaucetOptions
	Logger         *slog.Logger
	Timeout        time.Duration
	OriginPatterns []string
}

// Server routes HTTP requests to the lending engine.
type Server struct {
	engine         Engine
	auth           *Authenticator
	limiter        *RateLimiter
	hub            *Hub
	history        History
	faucet         FaucetOptions
	logger         *slog.Logger
	timeout        time.Duration
	originPatterns []string
}

// New validates opts and returns a server.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	if opts.Auth == nil {
		return nil, errors.New("server: authenticator required")
	}
	if opts.Faucet.Enabled && opts.Faucet.Funder == nil {
		return nil, errors.New("server: faucet enabled without a funder")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	origins := opts.OriginPatterns
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		engine:         opts.Engine,
		auth:           opts.Auth,
		limiter:        opts.Limiter,
		hub:            opts.Hub,
		history:        opts.History,
		faucet:         opts.Faucet,
		logger:         logger,
		timeout:        timeout,
		originPatterns: origins,
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.auth.Middleware)
		v1.Use(s.limiter.Middleware)

		v1.Get("/banks", s.listBanks)
		v1.Post("/banks", s.initBank)
		v1.Route("/banks/{asset}", func(bank chi.Router) {
			bank.Get("/", s.getBank)
			bank.Post("/rate", s.setInterestRate)
			bank.Post("/deposit", s.amountHandler(lending.OpDeposit, s.engine.Deposit))
			bank.Post("/borrow", s.amountHandler(lending.OpBorrow, s.engine.Borrow))
			bank.Post("/repay", s.amountHandler(lending.OpRepay, s.engine.Repay))
			bank.Post("/withdraw", s.amountHandler(lending.OpWithdraw, s.engine.Withdraw))
			bank.Post("/liquidate", s.liquidate)
			bank.Get("/positions/{owner}", s.getPosition)
			bank.Get("/positions/{owner}/health", s.getHealth)
			bank.Get("/balances/{owner}", s.getBalance)
		})

		v1.Post("/pricefeeds", s.initPriceFeed)
		v1.Get("/pricefeeds/{asset}", s.getPriceFeed)
		v1.Post("/pricefeeds/{asset}/price", s.setPrice)

		v1.Get("/events", s.handleEventStream)
		v1.Get("/events/history", s.listHistory)
		v1.Post("/faucet", s.fund)
	})
	return r
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// execute runs op on behalf of the authenticated caller and writes the
// receipt or the mapped error.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, op lending.Operation, asset string, fn func(ctx context.Context, caller crypto.Address) (*lending.Receipt, error)) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, errUnauthenticated)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	start := time.Now()
	receipt, err := fn(ctx, caller)
	result := "ok"
	if err != nil {
		result = lending.Code(err)
	}
	observability.Lending().ObserveOperation(string(op), lending.NormalizeAsset(asset), result, time.Since(start))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

type amountOperation func(ctx context.Context, owner crypto.Address, asset string, amount *uint256.Int) (*lending.Receipt, error)

func (s *Server) amountHandler(op lending.Operation, fn amountOperation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asset := chi.URLParam(r, "asset")
		var req amountRequest
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, err)
			return
		}
		amount, err := lending.ParseAmount(req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		s.execute(w, r, op, asset, func(ctx context.Context, caller crypto.Address) (*lending.Receipt, error) {
			return fn(ctx, caller, asset, amount)
		})
	}
}

func (s *Server) initBank(w http.ResponseWriter, r *http.Request) {
	var req bankRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	params := lending.RiskParameters{
		MaxLTVBps:               req.MaxLTVBps,
		LiquidationThresholdBps: req.LiquidationThresholdBps,
		LiquidationBonusBps:     req.LiquidationBonusBps,
		InterestRateBps:         req.InterestRateBps,
	}
	s.execute(w, r, lending.OpInitBank, req.Asset, func(ctx context.Context, caller crypto.Address) (*lending.Receipt, error) {
		return s.engine.InitBank(ctx, caller, req.Asset, params)
	})
}

func (s *Server) setInterestRate(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req rateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.execute(w, r, lending.OpSetInterestRate, asset, func(ctx context.Context, caller crypto.Address) (*lending.Receipt, error) {
		return s.engine.SetInterestRate(ctx, caller, asset, req.InterestRateBps)
	})
}

func (s *Server) initPriceFeed(w http.ResponseWriter, r *http.Request) {
	var req priceFeedRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	s.execute(w, r, lending.OpInitPriceFeed, req.Asset, func(ctx context.Context, caller crypto.Address) (*lending.Receipt, error) {
		return s.engine.InitPriceFeed(ctx, caller, req.Asset, price, req.DecimalsExponent)
	})
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req priceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	s.execute(w, r, lending.OpSetPrice, asset, func(ctx context.Context, caller crypto.Address) (*lending.Receipt, error) {
		return s.engine.SetPrice(ctx, caller, asset, price)
	})
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := lending.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.execute(w, r, lending.OpLiquidate, asset, func(ctx context.Context, caller crypto.Address) (*lending.Receipt, error) {
		return s.engine.Liquidate(ctx, caller, borrower, asset, amount)
	})
}

func (s *Server) listBanks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	pools, err := s.engine.Pools(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*poolResponse, 0, len(pools))
	for _, pool := range pools {
		out = append(out, toPoolResponse(pool))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBank(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	pool, err := s.engine.Pool(ctx, chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolResponse(pool))
}

func (s *Server) getPriceFeed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	feed, err := s.engine.PriceFeed(ctx, chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceFeedResponse(feed))
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	position, err := s.engine.Position(ctx, chi.URLParam(r, "asset"), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(position))
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	health, err := s.engine.Health(ctx, chi.URLParam(r, "asset"), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHealthResponse(health))
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	asset := lending.NormalizeAsset(chi.URLParam(r, "asset"))
	ctx, cancel := s.context(r.Context())
	defer cancel()
	balance, err := s.engine.Balance(ctx, asset, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Asset: asset, Address: owner.String(), Balance: decString(balance)})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Unavailable", Message: "event journal disabled"})
		return
	}
	query := journal.Query{
		Asset: r.URL.Query().Get("asset"),
		Type:  r.URL.Query().Get("type"),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: after: %v", errBadRequest, err))
			return
		}
		query.AfterSeq = after
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: limit: %v", errBadRequest, err))
			return
		}
		query.Limit = limit
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	entries, err := s.history.List(ctx, query)
	if err != nil {
		s.logger.Error("list event history", slog.Any("error", err))
		writeError(w, err)
		return
	}
	out := make([]historyEntry, 0, len(entries))
	for _, entry := range entries {
		attrs, err := entry.Decode()
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, historyEntry{
			Seq:        entry.Seq,
			ID:         entry.EventID.String(),
			Type:       entry.Type,
			Asset:      entry.Asset,
			Attributes: attrs,
			CreatedAt:  entry.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// fund credits ledger balance out of thin air. It is only mounted in
// development deployments.
func (s *Server) fund(w http.ResponseWriter, r *http.Request) {
	if !s.faucet.Enabled {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NotFound", Message: "faucet disabled"})
		return
	}
	var req faucetRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset := lending.NormalizeAsset(req.Asset)
	if asset == "" {
		writeError(w, fmt.Errorf("%w: asset required", lending.ErrInvalidParams))
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := lending.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if amount.IsZero() {
		writeError(w, lending.ErrInvalidAmount)
		return
	}
	if s.faucet.MaxAmount != nil && amount.Gt(s.faucet.MaxAmount) {
		writeError(w, fmt.Errorf("%w: faucet limit is %s", lending.ErrInvalidAmount, s.faucet.MaxAmount.Dec()))
		return
	}
	if err := s.faucet.Funder.Credit(asset, addr, amount); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	balance, err := s.engine.Balance(ctx, asset, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("faucet credit", slog.String("asset", asset), slog.String("amount", amount.Dec()))
	writeJSON(w, http.StatusOK, balanceResponse{Asset: asset, Address: addr.String(), Balance: decString(balance)})
}

func decodeRequest(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: address: %v", lending.ErrInvalidParams, err)
	}
	return addr, nil
}

func parsePrice(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, lending.ErrInvalidPrice
	}
	price, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lending.ErrInvalidPrice, err)
	}
	return price, nil
}

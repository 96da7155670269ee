package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendpool/core/events"
	"lendpool/native/lending"
	"lendpool/observability"
	"lendpool/observability/logging"
	telemetry "lendpool/observability/otel"
	"lendpool/services/lending/journal"
	lendingserver "lendpool/services/lending/server"
	"lendpool/services/lendingd/config"
	"lendpool/state/lendingstore"
	"lendpool/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("LENDPOOL_ENV"))
	}
	logger := logging.Setup("lendingd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	if err := run(cfg, env, logger); err != nil {
		logger.Error("lendingd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, env string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	endpoint := cfg.Telemetry.Endpoint
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	headers := cfg.Telemetry.Headers
	if headers == "" {
		headers = os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "lendingd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := openDatabase(cfg.DataDir, cfg.Backend)
	if err != nil {
		return err
	}
	defer db.Close()

	store := lendingstore.New(db)
	engine := lending.NewEngine(store)
	engine.SetLogger(logger.With(slog.String("component", "lending")))
	if err := applyGenesis(ctx, cfg.GenesisFile, store, engine, logger); err != nil {
		return err
	}

	hub := lendingserver.NewHub(logger)
	emitters := events.Fanout{observability.NewEventRecorder(observability.Lending()), hub}
	var history lendingserver.History
	if cfg.Journal.DSN != "" {
		j, err := openJournal(cfg.Journal.DSN, logger)
		if err != nil {
			return err
		}
		emitters = append(emitters, j)
		history = j
	}
	engine.SetEmitter(emitters)
	recordPoolTotals(ctx, engine, logger)

	auth, err := lendingserver.NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return err
	}
	faucet := lendingserver.FaucetOptions{Enabled: cfg.Faucet.Enabled, Funder: store}
	if cfg.Faucet.MaxAmount != "" {
		limit, err := lending.ParseAmount(cfg.Faucet.MaxAmount)
		if err != nil {
			return fmt.Errorf("faucet max_amount: %w", err)
		}
		faucet.MaxAmount = limit
	}
	srv, err := lendingserver.New(lendingserver.Options{
		Engine:  engine,
		Auth:    auth,
		Limiter: lendingserver.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		Hub:     hub,
		History: history,
		Faucet:  faucet,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			_ = listener.Close()
			return errors.New("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(srv.Handler(), "lendingd"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("load tls keypair: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", slog.String("listen", cfg.ListenAddress), slog.Bool("tls", cfg.TLS.Enabled()))
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func openDatabase(dataDir, backend string) (storage.Database, error) {
	if dataDir == "" {
		return storage.NewMemDB(), nil
	}
	if backend == config.BackendBolt {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		path := filepath.Join(dataDir, "state.db")
		db, err := storage.NewBoltDB(path, nil)
		if err != nil {
			return nil, fmt.Errorf("open bolt %s: %w", path, err)
		}
		return db, nil
	}
	db, err := storage.NewLevelDB(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dataDir, err)
	}
	return db, nil
}

// applyGenesis seeds the store until the genesis marker is committed. A
// start that failed half way through genesis resumes it on the next start.
func applyGenesis(ctx context.Context, path string, store *lendingstore.Store, engine *lending.Engine, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	applied, err := store.GenesisApplied()
	if err != nil {
		return fmt.Errorf("inspect store: %w", err)
	}
	if applied {
		logger.Info("genesis already applied, skipping", slog.String("genesis", path))
		return nil
	}
	genesis, err := lending.LoadGenesis(path)
	if err != nil {
		return err
	}
	if err := genesis.Apply(ctx, engine, store); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	logger.Info("genesis applied",
		slog.Int("banks", len(genesis.Banks)),
		slog.Int("price_feeds", len(genesis.PriceFeeds)),
		slog.Int("balances", len(genesis.Balances)))
	return nil
}

func openJournal(dsn string, logger *slog.Logger) (*journal.Journal, error) {
	db, err := journal.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := journal.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return journal.New(db, logger.With(slog.String("component", "journal"))), nil
}

// recordPoolTotals primes the pool gauges so dashboards show restored state
// before the first event arrives.
func recordPoolTotals(ctx context.Context, engine *lending.Engine, logger *slog.Logger) {
	pools, err := engine.Pools(ctx)
	if err != nil {
		logger.Warn("list pools", slog.Any("error", err))
		return
	}
	metrics := observability.Lending()
	for _, pool := range pools {
		deposited, _ := strconv.ParseFloat(pool.TotalDeposited.Dec(), 64)
		borrowed, _ := strconv.ParseFloat(pool.TotalBorrowed.Dec(), 64)
		metrics.SetPoolTotals(pool.Asset, deposited, borrowed)
	}
}

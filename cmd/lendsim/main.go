// Command lendsim drives random deposit, borrow, repay and withdraw traffic
// against a lending pool, with price shocks and liquidation sweeps, and logs
// the pool's vault and borrowed totals after every step.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/observability/logging"
	"lendpool/services/lending/client"
)

func main() {
	scenarioPath := flag.String("scenario", "cmd/lendsim/scenario.toml", "path to the TOML scenario")
	dataDir := flag.String("data-dir", "", "LevelDB directory for local runs (in-memory when empty)")
	steps := flag.Int("steps", -1, "override the scenario step count")
	seed := flag.Int64("seed", 0, "override the scenario seed")
	level := flag.String("log-level", "info", "log level")
	genKey := flag.Bool("keygen", false, "print a fresh account key and its address, then exit")
	flag.Parse()

	if *genKey {
		if err := keygen(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := logging.Setup("lendsim", strings.TrimSpace(os.Getenv("LENDPOOL_ENV")), logging.Options{Level: *level})
	if err := run(*scenarioPath, *dataDir, *steps, *seed, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scenarioPath, dataDir string, steps int, seed int64, logger *slog.Logger) error {
	sc, err := LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	if steps >= 0 {
		sc.Steps = steps
	}
	if seed != 0 {
		sc.Seed = seed
	}
	remote := strings.TrimSpace(sc.Remote.URL)
	authority, users, err := buildParticipants(sc, remote)
	if err != nil {
		return err
	}

	var d driver
	if remote != "" {
		d, err = newRemoteDriver(remote, sc.Asset, authority, users)
	} else {
		d, err = newLocalDriver(dataDir, sc.Asset)
	}
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("simulation starting",
		slog.String("asset", sc.Asset),
		slog.Int("steps", sc.Steps),
		slog.Int64("seed", sc.Seed),
		slog.Bool("remote", remote != ""))
	sim := NewSimulator(sc, d, authority, users, logger)
	runErr := sim.Run(ctx)
	sim.Report()
	return runErr
}

func buildParticipants(sc *Scenario, remoteURL string) (*participant, []*participant, error) {
	build := func(u UserScenario) (*participant, error) {
		addr, err := u.address()
		if err != nil {
			return nil, err
		}
		p := &participant{name: u.Name, addr: addr, balance: new(uint256.Int), deposit: new(uint256.Int)}
		if u.Balance != "" {
			if p.balance, err = parsePositive(u.Balance); err != nil {
				return nil, fmt.Errorf("user %s balance: %w", u.Name, err)
			}
		}
		if u.InitialDeposit != "" {
			if p.deposit, err = parsePositive(u.InitialDeposit); err != nil {
				return nil, fmt.Errorf("user %s initial deposit: %w", u.Name, err)
			}
		}
		if remoteURL != "" {
			if p.api, err = client.New(remoteURL, u.Token); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
	authority, err := build(sc.Authority)
	if err != nil {
		return nil, nil, err
	}
	users := make([]*participant, 0, len(sc.Users))
	for _, u := range sc.Users {
		p, err := build(u)
		if err != nil {
			return nil, nil, err
		}
		users = append(users, p)
	}
	return authority, users, nil
}

// keygen prints a new secp256k1 key and the lp address derived from it, for
// binding API tokens or JWT subjects to a real account.
func keygen(w io.Writer) error {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	_, err = fmt.Fprintf(w, "address: %s\nprivate_key: %s\n", key.PubKey().Address(), hex.EncodeToString(key.Bytes()))
	return err
}

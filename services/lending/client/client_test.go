package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/services/lending/client"
	"lendpool/services/lending/server"
	"lendpool/services/lendingd/config"
	"lendpool/state/lendingstore"
	"lendpool/storage"
)

var (
	authority = crypto.DeriveAddress("test", "authority")
	alice     = crypto.DeriveAddress("test", "alice")
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := lendingstore.New(storage.NewMemDB())
	engine := lending.NewEngine(store)
	auth, err := server.NewAuthenticator(config.AuthConfig{APITokens: []config.TokenBinding{
		{Token: "authority-token", Address: authority.String()},
		{Token: "alice-token", Address: alice.String()},
	}}, nil)
	require.NoError(t, err)
	srv, err := server.New(server.Options{
		Engine: engine,
		Auth:   auth,
		Faucet: server.FaucetOptions{Enabled: true, Funder: store},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientRoundTrip(t *testing.T) {
	ts := newServer(t)
	ctx := context.Background()
	admin, err := client.New(ts.URL, "authority-token")
	require.NoError(t, err)
	user, err := client.New(ts.URL+"/", "alice-token")
	require.NoError(t, err)

	params := lending.RiskParameters{MaxLTVBps: 5000, LiquidationThresholdBps: 8000, LiquidationBonusBps: 500}
	receipt, err := admin.InitBank(ctx, "usdc", params)
	require.NoError(t, err)
	require.Equal(t, lending.VaultAddress("USDC").String(), receipt.Pool.Vault)
	_, err = admin.InitPriceFeed(ctx, "USDC", uint256.NewInt(100), 1)
	require.NoError(t, err)

	_, err = user.Fund(ctx, "USDC", alice, uint256.NewInt(1_000))
	require.NoError(t, err)
	_, err = user.Deposit(ctx, "USDC", uint256.NewInt(400))
	require.NoError(t, err)
	receipt, err = user.Borrow(ctx, "USDC", uint256.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, "100", receipt.Position.Debt)

	health, err := user.Health(ctx, "USDC", alice)
	require.NoError(t, err)
	require.False(t, health.Liquidatable)
	require.Equal(t, "4000", health.CollateralValue)

	balance, err := user.Balance(ctx, "USDC", alice)
	require.NoError(t, err)
	require.Equal(t, "700", balance.Balance)

	pools, err := user.Pools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	deposited, err := client.ParseAmount(pools[0].TotalDeposited)
	require.NoError(t, err)
	require.Equal(t, uint64(400), deposited.Uint64())

	feed, err := user.PriceFeed(ctx, "USDC")
	require.NoError(t, err)
	require.Equal(t, "100", feed.Price)
}

func TestClientErrorsMatchLendingSentinels(t *testing.T) {
	ts := newServer(t)
	ctx := context.Background()
	user, err := client.New(ts.URL, "alice-token")
	require.NoError(t, err)

	_, err = user.Pool(ctx, "ETH")
	require.ErrorIs(t, err, lending.ErrNotFound)
	require.Equal(t, "NotFound", lending.Code(err))

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 404, apiErr.Status)

	_, err = user.InitBank(ctx, "ETH", lending.RiskParameters{MaxLTVBps: 9000, LiquidationThresholdBps: 8000})
	require.ErrorIs(t, err, lending.ErrInvalidParams)

	anonymous, err := client.New(ts.URL, "")
	require.NoError(t, err)
	_, err = anonymous.Pools(ctx)
	require.Error(t, err)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "Unauthenticated", apiErr.Code)
	require.Equal(t, "Internal", lending.Code(err))
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := client.New("localhost:8480", "t")
	require.Error(t, err)
}

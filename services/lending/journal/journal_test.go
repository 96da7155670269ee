package journal

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendpool/core/events"
	"lendpool/crypto"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return New(db, nil)
}

func deposit(asset string, amount uint64) events.LendingAction {
	owner := crypto.DeriveAddress("test", "owner")
	return events.LendingAction{
		Type:           events.TypeLendingDeposit,
		Asset:          asset,
		Actor:          owner,
		Account:        owner,
		Amount:         uint256.NewInt(amount),
		TotalDeposited: uint256.NewInt(amount),
		TotalBorrowed:  uint256.NewInt(0),
	}
}

func TestJournalRecordsAndFilters(t *testing.T) {
	j := setupJournal(t)
	j.Emit(deposit("usdc", 10))
	j.Emit(deposit("dai", 20))
	j.Emit(events.LendingConfigChanged{Type: events.TypeLendingPriceUpdated, Asset: "USDC", Values: map[string]string{"price": "7"}})

	all, err := j.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	usdc, err := j.List(context.Background(), Query{Asset: "usdc"})
	require.NoError(t, err)
	require.Len(t, usdc, 2)

	attrs, err := usdc[0].Decode()
	require.NoError(t, err)
	require.Equal(t, "10", attrs["amount"])

	prices, err := j.List(context.Background(), Query{Type: events.TypeLendingPriceUpdated})
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.NotEqual(t, uuid.Nil, prices[0].EventID)
}

func TestJournalPagesBySequence(t *testing.T) {
	j := setupJournal(t)
	for i := 1; i <= 5; i++ {
		j.Emit(deposit("USDC", uint64(i)))
	}
	first, err := j.List(context.Background(), Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)

	next, err := j.List(context.Background(), Query{AfterSeq: first[1].Seq, Limit: 10})
	require.NoError(t, err)
	require.Len(t, next, 3)
	require.Greater(t, next[0].Seq, first[1].Seq)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

package app

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	rafflesvc "github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	randomsvc "github.com/R3E-Network/raffle_layer/internal/app/services/random"
	"github.com/R3E-Network/raffle_layer/internal/app/storage/memory"
	"github.com/R3E-Network/raffle_layer/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default("hardhat")
	require.NoError(t, err)
	cfg.Raffle.EntranceFee = "50"
	cfg.Raffle.Interval = 30 * time.Second
	return cfg
}

func TestApplication_RoundThroughCoordinator(t *testing.T) {
	ctx := context.Background()
	application, err := New(ctx, testConfig(t), Stores{}, nil)
	require.NoError(t, err)

	sub, err := application.Oracle.Subscription(ctx, application.SubscriptionID)
	require.NoError(t, err)
	require.Equal(t, []string{"raffle"}, sub.Consumers)
	require.Equal(t, "2000000000000000000", sub.Balance.String())

	for _, p := range []string{"alice", "bob", "carol"} {
		_, err := application.Raffle.Enter(ctx, p, big.NewInt(50))
		require.NoError(t, err)
	}

	id, err := application.Raffle.Close(ctx, time.Now().Add(31*time.Second))
	require.NoError(t, err)

	rec, err := application.Oracle.FulfillRandomWordsWithOverride(ctx, id, []*big.Int{big.NewInt(52)})
	require.NoError(t, err)
	require.Equal(t, "fulfilled", string(rec.Status))

	require.Equal(t, "bob", application.Raffle.RecentWinner())
	require.Zero(t, application.Raffle.Pool().Sign())
	won, err := application.Ledger.BalanceOf(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(150), won.Int64())

	history, err := application.Settlements.ListSettlements(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, 1, history[0].WinnerIndex)
}

func TestApplication_RestartKeepsLiveRound(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	stores := Stores{Raffle: store, Ledger: store, Randomness: store}
	cfg := testConfig(t)

	first, err := New(ctx, cfg, stores, nil)
	require.NoError(t, err)
	for _, p := range []string{"alice", "bob"} {
		_, err := first.Raffle.Enter(ctx, p, big.NewInt(50))
		require.NoError(t, err)
	}
	cfg.Oracle.SubscriptionID = first.SubscriptionID

	second, err := New(ctx, cfg, stores, nil)
	require.NoError(t, err)
	require.Equal(t, raffle.StateOpen, second.Raffle.State())
	require.Equal(t, 2, second.Raffle.EntryCount())
	require.Equal(t, int64(100), second.Raffle.Pool().Int64())

	id, err := second.Raffle.Close(ctx, time.Now().Add(31*time.Second))
	require.NoError(t, err)

	third, err := New(ctx, cfg, stores, nil)
	require.NoError(t, err)
	require.Equal(t, raffle.StateDrawing, third.Raffle.State())
	require.Equal(t, id, third.Raffle.PendingRequestID())
	escrow, err := third.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), escrow.Int64())

	rec, err := third.Oracle.FulfillRandomWordsWithOverride(ctx, id, []*big.Int{big.NewInt(3)})
	require.NoError(t, err)
	require.Equal(t, "fulfilled", string(rec.Status))
	require.Equal(t, "bob", third.Raffle.RecentWinner())
	require.Equal(t, raffle.StateOpen, third.Raffle.State())
	won, err := third.Ledger.BalanceOf(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(100), won.Int64())
}

func TestApplication_StaleDeliveryIsRejected(t *testing.T) {
	ctx := context.Background()
	application, err := New(ctx, testConfig(t), Stores{}, nil)
	require.NoError(t, err)

	cb := deliverTo(application.Raffle)
	err = cb(ctx, 99, []*big.Int{big.NewInt(1)})
	require.True(t, errors.Is(err, randomsvc.ErrCallbackRejected))
	require.True(t, errors.Is(err, rafflesvc.ErrUnknownOrStaleRequest))
}

func TestApplication_Lifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Keeper.Enabled = false
	application, err := New(ctx, cfg, Stores{}, nil)
	require.NoError(t, err)

	require.NoError(t, application.Start(ctx))
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(stopCtx))
}

func TestApplication_RequiresSubscriptionOffDevNetworks(t *testing.T) {
	cfg, err := config.Default("goerli")
	require.NoError(t, err)
	_, err = New(context.Background(), cfg, Stores{}, nil)
	require.Error(t, err)
}

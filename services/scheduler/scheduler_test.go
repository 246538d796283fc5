package scheduler

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"rwacredit/core"
	"rwacredit/native/credit"
	"rwacredit/state"
)

const day = 24 * 60 * 60

func TestTickDefaultsAndLiquidatesLatePlans(t *testing.T) {
	store, err := state.Open(filepath.Join(t.TempDir(), "sched.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ledger, err := core.NewLedger(store, core.Config{USDAsset: "USDC", Risk: credit.DefaultRiskParameters()})
	require.NoError(t, err)
	clock := time.Unix(1_700_000_000, 0)
	ledger.SetNowFunc(func() time.Time { return clock })

	ctx := context.Background()
	owner := common.BytesToAddress([]byte{0x0a})
	lender := common.BytesToAddress([]byte{0x0b})
	for _, addr := range []common.Address{owner, lender} {
		_, err := ledger.Allow(ctx, addr)
		require.NoError(t, err)
	}
	_, err = ledger.Mint(ctx, lender, "USDC", big.NewInt(1_000_000_000))
	require.NoError(t, err)
	_, err = ledger.FundPool(ctx, lender, big.NewInt(1_000_000_000))
	require.NoError(t, err)
	_, err = ledger.Mint(ctx, owner, "FUND", big.NewInt(1_000))
	require.NoError(t, err)
	id, _, err := ledger.OpenPosition(ctx, owner, "FUND", big.NewInt(1_000), big.NewInt(1_000_000_000), credit.TokenTypePrivateAsset, false)
	require.NoError(t, err)
	_, err = ledger.Borrow(ctx, id, owner, big.NewInt(400_000_000), 90*day, 3)
	require.NoError(t, err)

	sched, err := New(ledger, Config{AutoLiquidate: true, AutoDistribute: true}, nil)
	require.NoError(t, err)

	result, err := sched.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, TickResult{}, result)

	// Each tick marks one lapsed installment; the third defaults the plan and
	// the same pass moves it into liquidation.
	clock = clock.Add(30*day*time.Second + time.Second)
	result, err = sched.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Missed)
	require.Zero(t, result.Liquidated)

	clock = clock.Add(30 * day * time.Second)
	result, err = sched.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Missed)

	clock = clock.Add(30 * day * time.Second)
	result, err = sched.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Missed)
	require.Equal(t, 1, result.Liquidated)
	require.Zero(t, result.Failures)

	position, err := ledger.Position(ctx, id)
	require.NoError(t, err)
	require.Equal(t, credit.StateInLiquidation, position.State)

	result, err = sched.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, TickResult{}, result)
}

func TestRunStopsOnCancel(t *testing.T) {
	store, err := state.Open(filepath.Join(t.TempDir(), "run.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ledger, err := core.NewLedger(store, core.Config{USDAsset: "USDC", Risk: credit.DefaultRiskParameters()})
	require.NoError(t, err)
	sched, err := New(ledger, Config{Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewRequiresLedger(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
}

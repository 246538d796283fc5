package config

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rwacredit/core"
	"rwacredit/state"
)

const (
	lenderHex = "0x00000000000000000000000000000000000000a1"
	ownerHex  = "0x00000000000000000000000000000000000000b2"
)

const sampleGenesis = `USDAsset = "usdc"
DistributionBatchSize = 25
Allowlist = ["0x00000000000000000000000000000000000000a1", "0x00000000000000000000000000000000000000b2"]

[Risk]
RWAMaxLTVBps = 6500
PrivateAssetMaxLTVBps = 4000
InterestRateBps = 900
MissedPaymentThreshold = 2

[[Balances]]
Address = "0x00000000000000000000000000000000000000a1"
Asset = "usdc"
Amount = "5000000000"

[[Balances]]
Address = "0x00000000000000000000000000000000000000b2"
Asset = "tbill"
Amount = "1000000"

[[PoolSeed]]
Lender = "0x00000000000000000000000000000000000000a1"
Amount = "4000000000"
`

func writeGenesis(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesGenesis(t *testing.T) {
	g, err := Load(writeGenesis(t, sampleGenesis))
	require.NoError(t, err)
	require.Equal(t, "USDC", g.USDAsset)
	require.Equal(t, 25, g.DistributionBatchSize)
	require.Equal(t, uint64(6500), g.Risk.RWAMaxLTVBps)
	require.Equal(t, uint64(2), g.Risk.MissedPaymentThreshold)
	require.Len(t, g.Allowlist, 2)
	require.Len(t, g.Balances, 2)
	require.Equal(t, "TBILL", g.Balances[1].Asset)
	require.Len(t, g.PoolSeed, 1)
}

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "genesis.toml")
	g, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "USDC", g.USDAsset)
	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, g.Risk, reloaded.Risk)
}

func TestLoadRejectsInvalidGenesis(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "USDAsset = \"USDC\"\nBogus = 1\n",
		"bad address":   "USDAsset = \"USDC\"\nAllowlist = [\"nope\"]\n",
		"zero amount":   "USDAsset = \"USDC\"\n[[Balances]]\nAddress = \"" + lenderHex + "\"\nAsset = \"USDC\"\nAmount = \"0\"\n",
		"ltv too large": "USDAsset = \"USDC\"\n[Risk]\nRWAMaxLTVBps = 20000\nPrivateAssetMaxLTVBps = 5000\nInterestRateBps = 800\nMissedPaymentThreshold = 3\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeGenesis(t, contents))
			require.Error(t, err)
		})
	}
}

func TestApplySeedsLedgerOnce(t *testing.T) {
	g, err := Load(writeGenesis(t, sampleGenesis))
	require.NoError(t, err)

	store, err := state.Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	defer store.Close()
	ledger, err := core.NewLedger(store, g.LedgerConfig())
	require.NoError(t, err)

	ctx := context.Background()
	applied, err := g.Apply(ctx, ledger)
	require.NoError(t, err)
	require.True(t, applied)

	lender, _ := ParseAddress(lenderHex)
	owner, _ := ParseAddress(ownerHex)
	bal, err := ledger.BalanceOf(ctx, lender, "USDC")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000_000), bal)
	bal, err = ledger.BalanceOf(ctx, owner, "TBILL")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000), bal)

	pool, err := ledger.Pool(ctx)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(4_000_000_000), pool.TotalLiquidity)

	applied, err = g.Apply(ctx, ledger)
	require.NoError(t, err)
	require.False(t, applied)
	bal, err = ledger.BalanceOf(ctx, lender, "USDC")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000_000), bal)
}

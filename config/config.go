package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"rwacredit/native/credit"
)

// Genesis seeds a fresh ledger: the USD asset, the risk parameters, the
// initial allow-list and the opening balances.
type Genesis struct {
	USDAsset              string                `toml:"USDAsset"`
	DistributionBatchSize int                   `toml:"DistributionBatchSize"`
	Risk                  credit.RiskParameters `toml:"Risk"`
	Allowlist             []string              `toml:"Allowlist"`
	Balances              []Balance             `toml:"Balances"`
	PoolSeed              []PoolDeposit         `toml:"PoolSeed"`
}

// Balance mints Amount base units of Asset to Address.
type Balance struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// PoolDeposit funds the lending pool from Lender. The lender must hold the
// USD through a Balances entry.
type PoolDeposit struct {
	Lender string `toml:"Lender"`
	Amount string `toml:"Amount"`
}

// Default returns the genesis used when no file exists yet.
func Default() *Genesis {
	return &Genesis{
		USDAsset:              "USDC",
		DistributionBatchSize: 50,
		Risk:                  credit.DefaultRiskParameters(),
		Allowlist:             []string{},
		Balances:              []Balance{},
		PoolSeed:              []PoolDeposit{},
	}
}

// Load reads the genesis file at path. A missing file is created with the
// defaults so operators have a template to edit.
func Load(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	g := Default()
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis %s: unknown key %s", path, undecoded[0].String())
	}
	g.normalize()
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return g, nil
}

func (g *Genesis) normalize() {
	g.USDAsset = strings.ToUpper(strings.TrimSpace(g.USDAsset))
	for i := range g.Balances {
		g.Balances[i].Asset = strings.ToUpper(strings.TrimSpace(g.Balances[i].Asset))
	}
	if g.DistributionBatchSize <= 0 {
		g.DistributionBatchSize = 50
	}
}

func createDefault(path string) (*Genesis, error) {
	g := Default()
	if err := persist(path, g); err != nil {
		return nil, err
	}
	return g, nil
}

func persist(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}

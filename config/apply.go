package config

import (
	"context"
	"fmt"

	"rwacredit/core"
)

const genesisFlag = "genesis"

// LedgerConfig derives the engine configuration from the genesis.
func (g *Genesis) LedgerConfig() core.Config {
	return core.Config{
		USDAsset:              g.USDAsset,
		Risk:                  g.Risk,
		DistributionBatchSize: g.DistributionBatchSize,
	}
}

// Apply seeds the ledger in a single transaction. It returns false without
// touching state when the ledger was already seeded.
func (g *Genesis) Apply(ctx context.Context, ledger *core.Ledger) (bool, error) {
	if err := g.Validate(); err != nil {
		return false, err
	}
	applied := false
	_, err := ledger.Execute(ctx, "genesis", func(tx *core.Tx) error {
		done, err := tx.State.Flag(genesisFlag)
		if err != nil || done {
			return err
		}
		for _, raw := range g.Allowlist {
			addr, _ := ParseAddress(raw)
			if err := tx.Gate.Allow(addr); err != nil {
				return fmt.Errorf("allow %s: %w", raw, err)
			}
		}
		for _, bal := range g.Balances {
			addr, _ := ParseAddress(bal.Address)
			amount, _ := ParseAmount(bal.Amount)
			if err := tx.Bank.Mint(addr, bal.Asset, amount); err != nil {
				return fmt.Errorf("mint %s %s: %w", bal.Asset, bal.Address, err)
			}
		}
		for _, dep := range g.PoolSeed {
			lender, _ := ParseAddress(dep.Lender)
			amount, _ := ParseAmount(dep.Amount)
			if err := tx.Credit.FundPool(lender, amount); err != nil {
				return fmt.Errorf("seed pool from %s: %w", dep.Lender, err)
			}
		}
		applied = true
		return tx.State.SetFlag(genesisFlag)
	})
	return applied, err
}

package config

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Validate checks that the genesis can be applied to an empty ledger.
func (g *Genesis) Validate() error {
	var errs []error
	if g.USDAsset == "" {
		errs = append(errs, errors.New("USDAsset is required"))
	}
	if err := g.Risk.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("risk: %w", err))
	}
	for i, raw := range g.Allowlist {
		if _, err := ParseAddress(raw); err != nil {
			errs = append(errs, fmt.Errorf("Allowlist[%d]: %w", i, err))
		}
	}
	for i, bal := range g.Balances {
		if _, err := ParseAddress(bal.Address); err != nil {
			errs = append(errs, fmt.Errorf("Balances[%d].Address: %w", i, err))
		}
		if bal.Asset == "" {
			errs = append(errs, fmt.Errorf("Balances[%d].Asset is required", i))
		}
		if _, err := ParseAmount(bal.Amount); err != nil {
			errs = append(errs, fmt.Errorf("Balances[%d].Amount: %w", i, err))
		}
	}
	for i, dep := range g.PoolSeed {
		if _, err := ParseAddress(dep.Lender); err != nil {
			errs = append(errs, fmt.Errorf("PoolSeed[%d].Lender: %w", i, err))
		}
		if _, err := ParseAmount(dep.Amount); err != nil {
			errs = append(errs, fmt.Errorf("PoolSeed[%d].Amount: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ParseAddress decodes a 0x-prefixed hex account address.
func ParseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address")
	}
	return addr, nil
}

// ParseAmount decodes a positive decimal amount of base units.
func ParseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

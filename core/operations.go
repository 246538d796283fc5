package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/native/credit"
	"rwacredit/native/yield"
)

// OpenPosition pledges collateral and returns the new position identifier.
func (l *Ledger) OpenPosition(ctx context.Context, owner common.Address, asset string, amount, valueUSD *big.Int, tokenType credit.TokenType, creditLine bool) (uint64, *Receipt, error) {
	var id uint64
	receipt, err := l.Execute(ctx, "open_position", func(tx *Tx) error {
		var err error
		id, err = tx.Credit.OpenPosition(owner, asset, amount, valueUSD, tokenType, creditLine)
		return err
	})
	return id, receipt, err
}

func (l *Ledger) Borrow(ctx context.Context, positionID uint64, caller common.Address, amount *big.Int, duration, installments uint64) (*Receipt, error) {
	return l.Execute(ctx, "borrow", func(tx *Tx) error {
		return tx.Credit.Borrow(positionID, caller, amount, duration, installments)
	})
}

func (l *Ledger) Repay(ctx context.Context, positionID uint64, payer common.Address, amount *big.Int) (*Receipt, error) {
	return l.Execute(ctx, "repay", func(tx *Tx) error {
		return tx.Credit.Repay(positionID, payer, amount)
	})
}

func (l *Ledger) WithdrawCollateral(ctx context.Context, positionID uint64, caller common.Address) (*Receipt, error) {
	return l.Execute(ctx, "withdraw_collateral", func(tx *Tx) error {
		return tx.Credit.WithdrawCollateral(positionID, caller)
	})
}

func (l *Ledger) MarkMissedPayment(ctx context.Context, positionID uint64) (*Receipt, error) {
	return l.Execute(ctx, "mark_missed_payment", func(tx *Tx) error {
		return tx.Credit.MarkMissedPayment(positionID)
	})
}

func (l *Ledger) LiquidatePosition(ctx context.Context, positionID uint64) (*Receipt, error) {
	return l.Execute(ctx, "liquidate_position", func(tx *Tx) error {
		return tx.Credit.LiquidatePosition(positionID)
	})
}

func (l *Ledger) SettleLiquidation(ctx context.Context, positionID uint64) (*Receipt, error) {
	return l.Execute(ctx, "settle_liquidation", func(tx *Tx) error {
		return tx.Credit.SettleLiquidation(positionID)
	})
}

func (l *Ledger) PurchaseAndSettleLiquidation(ctx context.Context, positionID uint64, buyer common.Address, amount *big.Int) (*Receipt, error) {
	return l.Execute(ctx, "purchase_and_settle", func(tx *Tx) error {
		return tx.Credit.PurchaseAndSettleLiquidation(positionID, buyer, amount)
	})
}

func (l *Ledger) FundPool(ctx context.Context, lender common.Address, amount *big.Int) (*Receipt, error) {
	return l.Execute(ctx, "fund_pool", func(tx *Tx) error {
		return tx.Credit.FundPool(lender, amount)
	})
}

func (l *Ledger) WithdrawLiquidity(ctx context.Context, lender common.Address, amount *big.Int) (*Receipt, error) {
	return l.Execute(ctx, "withdraw_liquidity", func(tx *Tx) error {
		return tx.Credit.WithdrawLiquidity(lender, amount)
	})
}

// RecordSettlement registers an asset's maturity payout funded by funder.
func (l *Ledger) RecordSettlement(ctx context.Context, funder common.Address, asset string, total *big.Int) (*yield.SettlementBatch, *Receipt, error) {
	var batch *yield.SettlementBatch
	receipt, err := l.Execute(ctx, "record_settlement", func(tx *Tx) error {
		var err error
		batch, err = tx.Yield.RecordSettlement(funder, asset, total)
		return err
	})
	return batch, receipt, err
}

// Distribute processes one batch of holders. Each call commits on its own so
// an interrupted distribution resumes from the persisted cursor.
func (l *Ledger) Distribute(ctx context.Context, settlementID uint64, batchSize int) (int, bool, *Receipt, error) {
	var (
		processed int
		done      bool
	)
	receipt, err := l.Execute(ctx, "distribute", func(tx *Tx) error {
		var err error
		processed, done, err = tx.Yield.Distribute(settlementID, batchSize)
		return err
	})
	return processed, done, receipt, err
}

func (l *Ledger) ClaimYield(ctx context.Context, holder common.Address, asset string, burnAmount *big.Int) (*big.Int, *Receipt, error) {
	var paid *big.Int
	receipt, err := l.Execute(ctx, "claim_yield", func(tx *Tx) error {
		var err error
		paid, err = tx.Yield.ClaimYield(holder, asset, burnAmount)
		return err
	})
	return paid, receipt, err
}

func (l *Ledger) Allow(ctx context.Context, addr common.Address) (*Receipt, error) {
	return l.Execute(ctx, "allow", func(tx *Tx) error { return tx.Gate.Allow(addr) })
}

func (l *Ledger) Revoke(ctx context.Context, addr common.Address) (*Receipt, error) {
	return l.Execute(ctx, "revoke", func(tx *Tx) error { return tx.Gate.Revoke(addr) })
}

// Mint issues units of an asset. It is the admin bridge for off-ledger
// deposits of USD and for token issuance.
func (l *Ledger) Mint(ctx context.Context, to common.Address, asset string, amount *big.Int) (*Receipt, error) {
	return l.Execute(ctx, "mint", func(tx *Tx) error { return tx.Bank.Mint(to, asset, amount) })
}

// Transfer moves units between accounts after checking both parties against
// the allow-list.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, asset string, amount *big.Int) (*Receipt, error) {
	return l.Execute(ctx, "transfer", func(tx *Tx) error {
		if !tx.Gate.IsEligible(from) || !tx.Gate.IsEligible(to) {
			return credit.ErrNotEligible
		}
		return tx.Bank.Transfer(from, to, asset, amount)
	})
}

func (l *Ledger) Position(ctx context.Context, id uint64) (*credit.Position, error) {
	var out *credit.Position
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Credit.GetPosition(id)
		return err
	})
	return out, err
}

func (l *Ledger) Plan(ctx context.Context, id uint64) (*credit.RepaymentPlan, error) {
	var out *credit.RepaymentPlan
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Credit.GetPlan(id)
		return err
	})
	return out, err
}

// OutstandingDebt returns principal plus interest accrued up to the ledger
// clock.
func (l *Ledger) OutstandingDebt(ctx context.Context, id uint64) (*big.Int, error) {
	var out *big.Int
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Credit.GetOutstandingDebt(id)
		return err
	})
	return out, err
}

func (l *Ledger) Pool(ctx context.Context) (*credit.Pool, error) {
	var out *credit.Pool
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Credit.GetPool()
		return err
	})
	return out, err
}

func (l *Ledger) SettlementInfo(ctx context.Context, asset string) (*yield.SettlementBatch, error) {
	var out *yield.SettlementBatch
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Yield.GetSettlementInfo(asset)
		return err
	})
	return out, err
}

func (l *Ledger) Settlement(ctx context.Context, id uint64) (*yield.SettlementBatch, error) {
	var out *yield.SettlementBatch
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Yield.GetSettlement(id)
		return err
	})
	return out, err
}

func (l *Ledger) Claim(ctx context.Context, settlementID uint64, holder common.Address) (*yield.Claim, error) {
	var out *yield.Claim
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Yield.GetClaim(settlementID, holder)
		return err
	})
	return out, err
}

// ClaimTable returns every persisted claim of a settlement in holder order.
func (l *Ledger) ClaimTable(ctx context.Context, settlementID uint64) ([]*yield.Claim, error) {
	var out []*yield.Claim
	err := l.Query(ctx, func(tx *Tx) error {
		if _, err := tx.Yield.GetSettlement(settlementID); err != nil {
			return err
		}
		claims, err := tx.State.ScanClaims(settlementID, nil, 0)
		out = claims
		return err
	})
	return out, err
}

// DuePlans lists plans whose installment lapsed before the ledger clock.
func (l *Ledger) DuePlans(ctx context.Context, limit int) ([]*credit.RepaymentPlan, error) {
	var out []*credit.RepaymentPlan
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Credit.DuePlans(0, limit)
		return err
	})
	return out, err
}

// DefaultedPositions lists positions waiting for LiquidatePosition.
func (l *Ledger) DefaultedPositions(ctx context.Context, limit int) ([]uint64, error) {
	var out []uint64
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Credit.DefaultedPositions(0, limit)
		return err
	})
	return out, err
}

// PendingDistributions lists settlements whose claim table is incomplete.
func (l *Ledger) PendingDistributions(ctx context.Context) ([]uint64, error) {
	var out []uint64
	err := l.Query(ctx, func(tx *Tx) error {
		var after uint64
		for {
			page, err := tx.State.ScanSettlements(after, 100)
			if err != nil {
				return err
			}
			for _, batch := range page {
				after = batch.ID
				if batch.Settled && !batch.Distributed {
					out = append(out, batch.ID)
				}
			}
			if len(page) < 100 {
				return nil
			}
		}
	})
	return out, err
}

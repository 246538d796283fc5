package credit

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/native/yield"
)

// LiquidatePosition moves a defaulted position into liquidation. Calling it
// again on a position already in liquidation succeeds without side effects.
func (e *Engine) LiquidatePosition(positionID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	position, err := e.loadPosition(positionID)
	if err != nil {
		return err
	}
	if position.State == StateInLiquidation {
		return nil
	}
	if position.State != StateDefaulted {
		return ErrNotDefaulted
	}
	now := e.now()
	loan, err := e.loadLoan(positionID)
	if err != nil {
		return err
	}
	if err := materialize(loan, e.params.InterestRateBps, now); err != nil {
		return err
	}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	if err := e.state.PutLiquidation(&LiquidationRecord{PositionID: positionID, InLiquidation: true, StartedAt: now}); err != nil {
		return err
	}
	revoked := position.CreditLine
	position.CreditLine = false
	position.State = StateInLiquidation
	position.LiquidatedAt = now
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if revoked {
		e.emit(NewCreditLineRevokedEvent(position))
	}
	e.emit(NewLiquidationStartedEvent(position, new(big.Int).Add(loan.Principal, loan.InterestAccrued)))
	return nil
}

// settlementStrategy converts liquidated collateral into USD proceeds held by
// the custody account.
type settlementStrategy interface {
	name() string
	tokenType() TokenType
	collect(e *Engine, position *Position, debt *big.Int) (*big.Int, error)
}

type burnToClaim struct{}

func (burnToClaim) name() string { return "burn_to_claim" }

func (burnToClaim) tokenType() TokenType { return TokenTypeRWA }

func (burnToClaim) collect(e *Engine, position *Position, debt *big.Int) (*big.Int, error) {
	if e.yield == nil {
		return nil, ErrNoSettlementFound
	}
	preview, err := e.yield.PreviewClaim(position.Owner, position.CollateralAsset, position.CollateralAmount)
	if err != nil {
		return nil, translateYieldError(err)
	}
	if preview.Cmp(debt) < 0 {
		return nil, fmt.Errorf("%w: claimable %s, debt %s", ErrInsufficientYield, preview, debt)
	}
	proceeds, err := e.yield.ClaimFor(e.custody, position.Owner, e.custody, position.CollateralAsset, position.CollateralAmount)
	if err != nil {
		return nil, translateYieldError(err)
	}
	return proceeds, nil
}

type purchase struct {
	buyer  common.Address
	amount *big.Int
}

func (purchase) name() string { return "purchase" }

func (purchase) tokenType() TokenType { return TokenTypePrivateAsset }

func (p purchase) collect(e *Engine, position *Position, debt *big.Int) (*big.Int, error) {
	if p.amount.Cmp(debt) < 0 {
		return nil, fmt.Errorf("%w: offered %s, debt %s", ErrPurchaseBelowDebt, p.amount, debt)
	}
	if err := e.eligible(p.buyer); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(p.buyer, e.custody, e.usd(), p.amount); err != nil {
		return nil, fmt.Errorf("collect purchase: %w", err)
	}
	if err := e.bank.TransferLocked(e.custody, position.Owner, p.buyer, position.CollateralAsset, position.CollateralAmount); err != nil {
		return nil, fmt.Errorf("deliver collateral: %w", err)
	}
	return new(big.Int).Set(p.amount), nil
}

func translateYieldError(err error) error {
	switch {
	case errors.Is(err, yield.ErrNoSettlementFound):
		return fmt.Errorf("%w: %v", ErrNoSettlementFound, err)
	case errors.Is(err, yield.ErrDistributionPending):
		return fmt.Errorf("%w: %v", ErrDistributionPending, err)
	case errors.Is(err, yield.ErrNoEntitlement), errors.Is(err, yield.ErrBurnExceedsEntitlement):
		return fmt.Errorf("%w: %v", ErrInsufficientYield, err)
	default:
		return err
	}
}

// SettleLiquidation burns the custodied RWA collateral against its matured
// settlement, repays the pool and refunds the remainder to the owner.
func (e *Engine) SettleLiquidation(positionID uint64) error {
	return e.settle(positionID, burnToClaim{})
}

// PurchaseAndSettleLiquidation sells the custodied private-asset collateral
// to buyer for purchaseAmount USD. The purchase must cover the whole debt.
func (e *Engine) PurchaseAndSettleLiquidation(positionID uint64, buyer common.Address, purchaseAmount *big.Int) error {
	if purchaseAmount == nil || purchaseAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.settle(positionID, purchase{buyer: buyer, amount: purchaseAmount})
}

func (e *Engine) settle(positionID uint64, strategy settlementStrategy) error {
	if err := e.ready(); err != nil {
		return err
	}
	position, err := e.loadPosition(positionID)
	if err != nil {
		return err
	}
	record, ok, err := e.state.GetLiquidation(positionID)
	if err != nil {
		return err
	}
	if position.State != StateInLiquidation || !ok || !record.InLiquidation {
		return ErrNotInLiquidation
	}
	if position.TokenType != strategy.tokenType() {
		return ErrWrongSettlementStrategy
	}
	loan, err := e.loadLoan(positionID)
	if err != nil {
		return err
	}
	if err := materialize(loan, e.params.InterestRateBps, e.now()); err != nil {
		return err
	}
	debt := new(big.Int).Add(loan.Principal, loan.InterestAccrued)
	proceeds, err := strategy.collect(e, position, debt)
	if err != nil {
		return err
	}
	return e.closeLiquidation(position, loan, strategy.name(), proceeds)
}

// closeLiquidation repays the pool from proceeds held in custody, refunds the
// owner and terminates the position.
func (e *Engine) closeLiquidation(position *Position, loan *PoolLoan, strategy string, proceeds *big.Int) error {
	debt := new(big.Int).Add(loan.Principal, loan.InterestAccrued)
	if debt.Sign() > 0 {
		if err := e.bank.Transfer(e.custody, e.poolVault, e.usd(), debt); err != nil {
			return fmt.Errorf("repay pool: %w", err)
		}
	}
	refund := new(big.Int).Sub(proceeds, debt)
	if refund.Sign() > 0 {
		if err := e.eligible(position.Owner); err != nil {
			return err
		}
		if err := e.bank.Transfer(e.custody, position.Owner, e.usd(), refund); err != nil {
			return fmt.Errorf("refund owner: %w", err)
		}
	} else {
		refund.SetInt64(0)
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	interestPaid, principalPaid := splitPayment(loan, debt)
	applyPayment(pool, position, loan, principalPaid, interestPaid)

	if plan, ok, err := e.state.GetPlan(position.ID); err != nil {
		return err
	} else if ok {
		plan.Active = false
		if err := e.state.PutPlan(plan); err != nil {
			return err
		}
	}
	position.Active = false
	position.State = StateSettled
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.DeleteLiquidation(position.ID); err != nil {
		return err
	}
	e.emit(NewLiquidationSettledEvent(position, strategy, proceeds, principalPaid, interestPaid, refund))
	return nil
}

package credit

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core/events"
	"rwacredit/core/types"
)

const (
	EventTypePositionOpened     = "credit.position.opened"
	EventTypePositionClosed     = "credit.position.closed"
	EventTypeLoanBorrowed       = "credit.loan.borrowed"
	EventTypeLoanRepaid         = "credit.loan.repaid"
	EventTypePaymentMissed      = "credit.plan.payment_missed"
	EventTypePlanDefaulted      = "credit.plan.defaulted"
	EventTypeCreditLineRevoked  = "credit.creditline.revoked"
	EventTypeLiquidationStarted = "credit.liquidation.started"
	EventTypeLiquidationSettled = "credit.liquidation.settled"
	EventTypePoolFunded         = "credit.pool.funded"
	EventTypePoolWithdrawn      = "credit.pool.withdrawn"
)

type creditEvent struct {
	evt *types.Event
}

func (e creditEvent) EventType() string { return e.evt.Type }

func (e creditEvent) Event() *types.Event { return e.evt }

func newEvent(kind string, positionID uint64, attrs map[string]string) creditEvent {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	if positionID != 0 {
		attrs["positionId"] = strconv.FormatUint(positionID, 10)
	}
	return creditEvent{evt: &types.Event{Type: kind, Attributes: attrs}}
}

// NewPositionOpenedEvent carries the data the indexer needs to mirror a new
// position.
func NewPositionOpenedEvent(p *Position) events.Event {
	return newEvent(EventTypePositionOpened, p.ID, map[string]string{
		"owner":      p.Owner.Hex(),
		"asset":      p.CollateralAsset,
		"amount":     p.CollateralAmount.String(),
		"valueUSD":   p.CollateralValueUSD.String(),
		"tokenType":  string(p.TokenType),
		"creditLine": strconv.FormatBool(p.CreditLine),
	})
}

func NewPositionClosedEvent(p *Position) events.Event {
	return newEvent(EventTypePositionClosed, p.ID, map[string]string{
		"owner":  p.Owner.Hex(),
		"asset":  p.CollateralAsset,
		"amount": p.CollateralAmount.String(),
	})
}

func NewBorrowedEvent(p *Position, plan *RepaymentPlan, amount *big.Int) events.Event {
	return newEvent(EventTypeLoanBorrowed, p.ID, map[string]string{
		"owner":          p.Owner.Hex(),
		"amount":         amount.String(),
		"principal":      p.PrincipalBorrowed.String(),
		"installments":   strconv.FormatUint(plan.Installments, 10),
		"interval":       strconv.FormatUint(plan.InstallmentInterval, 10),
		"nextPaymentDue": strconv.FormatUint(plan.NextPaymentDue, 10),
	})
}

// NewRepaidEvent reports the principal/interest split of a repayment.
func NewRepaidEvent(positionID uint64, payer common.Address, principalPaid, interestPaid, remaining *big.Int, plan *RepaymentPlan) events.Event {
	return newEvent(EventTypeLoanRepaid, positionID, map[string]string{
		"payer":            payer.Hex(),
		"principalPaid":    principalPaid.String(),
		"interestPaid":     interestPaid.String(),
		"remaining":        remaining.String(),
		"installmentsPaid": strconv.FormatUint(plan.InstallmentsPaid, 10),
		"nextPaymentDue":   strconv.FormatUint(plan.NextPaymentDue, 10),
	})
}

func NewPaymentMissedEvent(plan *RepaymentPlan) events.Event {
	return newEvent(EventTypePaymentMissed, plan.PositionID, map[string]string{
		"missedPayments": strconv.FormatUint(plan.MissedPayments, 10),
		"missedDue":      strconv.FormatUint(plan.LastMissedDue, 10),
		"nextPaymentDue": strconv.FormatUint(plan.NextPaymentDue, 10),
	})
}

func NewPlanDefaultedEvent(plan *RepaymentPlan) events.Event {
	return newEvent(EventTypePlanDefaulted, plan.PositionID, map[string]string{
		"missedPayments": strconv.FormatUint(plan.MissedPayments, 10),
	})
}

func NewCreditLineRevokedEvent(p *Position) events.Event {
	return newEvent(EventTypeCreditLineRevoked, p.ID, map[string]string{"owner": p.Owner.Hex()})
}

func NewLiquidationStartedEvent(p *Position, debt *big.Int) events.Event {
	return newEvent(EventTypeLiquidationStarted, p.ID, map[string]string{
		"owner":     p.Owner.Hex(),
		"tokenType": string(p.TokenType),
		"debt":      debt.String(),
	})
}

// NewLiquidationSettledEvent reports how settlement proceeds were split
// between the pool and the position owner.
func NewLiquidationSettledEvent(p *Position, strategy string, proceeds, principalPaid, interestPaid, refund *big.Int) events.Event {
	return newEvent(EventTypeLiquidationSettled, p.ID, map[string]string{
		"owner":         p.Owner.Hex(),
		"strategy":      strategy,
		"proceeds":      proceeds.String(),
		"principalPaid": principalPaid.String(),
		"interestPaid":  interestPaid.String(),
		"refund":        refund.String(),
	})
}

func NewPoolFundedEvent(lender common.Address, amount *big.Int, pool *Pool) events.Event {
	return newEvent(EventTypePoolFunded, 0, map[string]string{
		"lender":         lender.Hex(),
		"amount":         amount.String(),
		"totalLiquidity": pool.TotalLiquidity.String(),
	})
}

func NewPoolWithdrawnEvent(lender common.Address, amount *big.Int, pool *Pool) events.Event {
	return newEvent(EventTypePoolWithdrawn, 0, map[string]string{
		"lender":         lender.Hex(),
		"amount":         amount.String(),
		"totalLiquidity": pool.TotalLiquidity.String(),
	})
}

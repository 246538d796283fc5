package credit

import (
	"errors"

	"rwacredit/native/bank"
	nativecommon "rwacredit/native/common"
	"rwacredit/native/yield"
)

var (
	errNilState = errors.New("credit engine: state not configured")
	errNilBank  = errors.New("credit engine: bank not configured")

	ErrInvalidAmount           = errors.New("credit: amount must be positive")
	ErrInvalidAsset            = errors.New("credit: collateral asset required")
	ErrInvalidTokenType        = errors.New("credit: unknown token type")
	ErrInvalidSchedule         = errors.New("credit: invalid repayment schedule")
	ErrExceedsLTV              = errors.New("credit: borrow exceeds maximum loan-to-value")
	ErrAmountExceedsDebt       = errors.New("credit: repayment exceeds outstanding debt")
	ErrPurchaseBelowDebt       = errors.New("credit: purchase amount below outstanding debt")
	ErrUnauthorized            = errors.New("credit: caller does not own position")
	ErrNotEligible             = errors.New("credit: counterparty not eligible")
	ErrPositionNotFound        = errors.New("credit: position not found")
	ErrPositionNotActive       = errors.New("credit: position not active")
	ErrPlanNotActive           = errors.New("credit: repayment plan not active")
	ErrPlanDefaulted           = errors.New("credit: repayment plan defaulted")
	ErrPaymentNotDue           = errors.New("credit: installment not yet due")
	ErrLoanOutstanding         = errors.New("credit: loan already outstanding")
	ErrDebtOutstanding         = errors.New("credit: debt outstanding")
	ErrNotDefaulted            = errors.New("credit: position not defaulted")
	ErrInLiquidation           = errors.New("credit: position in liquidation")
	ErrNotInLiquidation        = errors.New("credit: position not in liquidation")
	ErrWrongSettlementStrategy = errors.New("credit: settlement strategy does not match token type")
	ErrNoSettlementFound       = errors.New("credit: no settlement found for collateral")
	ErrDistributionPending     = errors.New("credit: settlement distribution pending")
	ErrInsufficientYield       = errors.New("credit: claimable yield below outstanding debt")
	ErrInsufficientLiquidity   = errors.New("credit: insufficient pool liquidity")
	ErrWithdrawExceedsDeposit  = errors.New("credit: withdrawal exceeds lender deposit")
)

// Class groups engine failures by how callers are expected to react.
type Class string

const (
	// ClassValidation failures are rejected before any state change and may be
	// retried with corrected input.
	ClassValidation Class = "validation"
	// ClassNotFound failures reference an entity that does not exist.
	ClassNotFound Class = "not_found"
	// ClassForbidden failures reject the caller or counterparty.
	ClassForbidden Class = "forbidden"
	// ClassStateConflict failures need an external state change before retry.
	ClassStateConflict Class = "state_conflict"
	// ClassResourceExhausted failures surface a shortfall the caller must
	// cover externally.
	ClassResourceExhausted Class = "resource_exhausted"
	ClassInternal          Class = "internal"
)

var classes = []struct {
	class Class
	errs  []error
}{
	{ClassValidation, []error{
		ErrInvalidAmount, ErrInvalidAsset, ErrInvalidTokenType, ErrInvalidSchedule, ErrExceedsLTV,
		ErrAmountExceedsDebt, ErrPurchaseBelowDebt, ErrWrongSettlementStrategy,
		bank.ErrInvalidAmount, bank.ErrInvalidAsset, bank.ErrSelfTransfer,
		yield.ErrInvalidAmount, yield.ErrInvalidAsset, yield.ErrBurnExceedsEntitlement,
	}},
	{ClassNotFound, []error{ErrPositionNotFound, yield.ErrNoSettlementFound}},
	{ClassForbidden, []error{ErrUnauthorized, ErrNotEligible, yield.ErrNotEligible}},
	{ClassStateConflict, []error{
		ErrPositionNotActive, ErrPlanNotActive, ErrPlanDefaulted, ErrPaymentNotDue, ErrLoanOutstanding,
		ErrDebtOutstanding, ErrNotDefaulted, ErrInLiquidation, ErrNotInLiquidation, ErrNoSettlementFound,
		ErrDistributionPending, nativecommon.ErrModulePaused,
		yield.ErrAlreadySettled, yield.ErrDistributionPending, yield.ErrNoEntitlement, yield.ErrNoSupply,
		yield.ErrEntitlementPledged,
	}},
	{ClassResourceExhausted, []error{
		ErrInsufficientYield, ErrInsufficientLiquidity, ErrWithdrawExceedsDeposit,
		bank.ErrInsufficientBalance, yield.ErrSettlementExhausted,
	}},
}

// Classify maps an error returned by the native modules onto the failure
// taxonomy exposed to clients.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	for _, group := range classes {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class
			}
		}
	}
	return ClassInternal
}

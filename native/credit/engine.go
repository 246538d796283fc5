package credit

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core/events"
	nativecommon "rwacredit/native/common"
)

type engineState interface {
	NextPositionID() (uint64, error)
	GetPosition(id uint64) (*Position, bool, error)
	PutPosition(position *Position) error
	GetPlan(positionID uint64) (*RepaymentPlan, bool, error)
	PutPlan(plan *RepaymentPlan) error
	ScanPlans(afterID uint64, limit int) ([]*RepaymentPlan, error)
	GetLoan(positionID uint64) (*PoolLoan, bool, error)
	PutLoan(loan *PoolLoan) error
	GetPool() (*Pool, bool, error)
	PutPool(pool *Pool) error
	GetLenderDeposit(lender common.Address) (*big.Int, error)
	PutLenderDeposit(lender common.Address, amount *big.Int) error
	GetLiquidation(positionID uint64) (*LiquidationRecord, bool, error)
	PutLiquidation(record *LiquidationRecord) error
	DeleteLiquidation(positionID uint64) error
}

type ledgerBank interface {
	Transfer(from, to common.Address, asset string, amount *big.Int) error
	Lock(owner, custody common.Address, asset string, amount *big.Int) error
	Unlock(custody, owner common.Address, asset string, amount *big.Int) error
	TransferLocked(custody, beneficiary, to common.Address, asset string, amount *big.Int) error
	USDAsset() string
}

// YieldClaimer burns custodied RWA collateral against its matured settlement.
type YieldClaimer interface {
	PreviewClaim(holder common.Address, asset string, burnAmount *big.Int) (*big.Int, error)
	ClaimFor(custody, beneficiary, recipient common.Address, asset string, burnAmount *big.Int) (*big.Int, error)
}

// Eligibility is the compliance capability consulted before value moves.
type Eligibility interface {
	IsEligible(addr common.Address) bool
}

// Engine orchestrates positions, the lending pool, repayment schedules and
// liquidation settlement.
type Engine struct {
	state     engineState
	bank      ledgerBank
	gate      Eligibility
	yield     YieldClaimer
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	params    RiskParameters
	custody   common.Address
	poolVault common.Address
	nowFn     func() uint64
}

// NewEngine constructs a credit engine. custody holds pledged collateral and
// settlement proceeds in flight; poolVault holds lender liquidity.
func NewEngine(custody, poolVault common.Address, params RiskParameters) *Engine {
	return &Engine{
		custody:   custody,
		poolVault: poolVault,
		params:    params,
		emitter:   events.NoopEmitter{},
		nowFn:     func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the asset ledger.
func (e *Engine) SetBank(bank ledgerBank) { e.bank = bank }

// SetEligibility configures the compliance gate.
func (e *Engine) SetEligibility(gate Eligibility) { e.gate = gate }

// SetYield configures the settlement engine used by burn-to-claim
// liquidations.
func (e *Engine) SetYield(claimer YieldClaimer) { e.yield = claimer }

// SetPauses configures the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetParams replaces the risk parameters.
func (e *Engine) SetParams(params RiskParameters) { e.params = params }

// Params returns the configured risk parameters.
func (e *Engine) Params() RiskParameters { return e.params }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	return nativecommon.Guard(e.pauses, nativecommon.ModuleCredit)
}

func (e *Engine) eligible(addr common.Address) error {
	if e.gate != nil && !e.gate.IsEligible(addr) {
		return fmt.Errorf("%w: %s", ErrNotEligible, addr.Hex())
	}
	return nil
}

func (e *Engine) usd() string { return e.bank.USDAsset() }

// OpenPosition pledges collateral and creates a position in one step. The
// collateral moves into custody before the position is persisted.
func (e *Engine) OpenPosition(owner common.Address, asset string, amount, valueUSD *big.Int, tokenType TokenType, issueCreditLine bool) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if !nativecommon.IsPositive(amount) || !nativecommon.IsPositive(valueUSD) {
		return 0, ErrInvalidAmount
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" || asset == e.usd() {
		return 0, ErrInvalidAsset
	}
	if !tokenType.Valid() {
		return 0, ErrInvalidTokenType
	}
	if err := e.eligible(owner); err != nil {
		return 0, err
	}
	if err := e.bank.Lock(owner, e.custody, asset, amount); err != nil {
		return 0, fmt.Errorf("lock collateral: %w", err)
	}
	id, err := e.state.NextPositionID()
	if err != nil {
		return 0, err
	}
	position := &Position{
		ID:                 id,
		Owner:              owner,
		CollateralAsset:    asset,
		CollateralAmount:   cloneBig(amount),
		CollateralValueUSD: cloneBig(valueUSD),
		PrincipalBorrowed:  big.NewInt(0),
		TokenType:          tokenType,
		CreditLine:         issueCreditLine,
		Active:             true,
		State:              StateActive,
		CreatedAt:          e.now(),
	}
	if err := e.state.PutPosition(position); err != nil {
		return 0, err
	}
	e.emit(NewPositionOpenedEvent(position))
	return id, nil
}

// WithdrawCollateral closes a fully repaid position and returns its
// collateral to the owner.
func (e *Engine) WithdrawCollateral(positionID uint64, caller common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	position, err := e.loadPosition(positionID)
	if err != nil {
		return err
	}
	if position.Owner != caller {
		return ErrUnauthorized
	}
	if !position.Active {
		return ErrPositionNotActive
	}
	if position.State != StateActive {
		return ErrInLiquidation
	}
	debt, err := e.GetOutstandingDebt(positionID)
	if err != nil {
		return err
	}
	if debt.Sign() > 0 {
		return ErrDebtOutstanding
	}
	if err := e.eligible(position.Owner); err != nil {
		return err
	}
	if err := e.bank.Unlock(e.custody, position.Owner, position.CollateralAsset, position.CollateralAmount); err != nil {
		return fmt.Errorf("release collateral: %w", err)
	}
	if plan, ok, err := e.state.GetPlan(positionID); err != nil {
		return err
	} else if ok && plan.Active {
		plan.Active = false
		if err := e.state.PutPlan(plan); err != nil {
			return err
		}
	}
	position.Active = false
	position.State = StateClosed
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	e.emit(NewPositionClosedEvent(position))
	return nil
}

// Borrow draws principal from the pool against the position and opens its
// repayment plan.
func (e *Engine) Borrow(positionID uint64, caller common.Address, amount *big.Int, duration, installments uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	position, err := e.loadPosition(positionID)
	if err != nil {
		return err
	}
	if position.Owner != caller {
		return ErrUnauthorized
	}
	if !position.Active || position.State != StateActive {
		return ErrPositionNotActive
	}
	if installments == 0 || duration < installments {
		return ErrInvalidSchedule
	}
	maxPrincipal, err := nativecommon.BpsOf(position.CollateralValueUSD, e.params.MaxLTV(position.TokenType))
	if err != nil {
		return err
	}
	principalAfter := new(big.Int).Add(position.PrincipalBorrowed, amount)
	if principalAfter.Cmp(maxPrincipal) > 0 {
		return ErrExceedsLTV
	}
	if plan, ok, err := e.state.GetPlan(positionID); err != nil {
		return err
	} else if ok && plan.Active {
		return ErrLoanOutstanding
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.Available().Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.eligible(position.Owner); err != nil {
		return err
	}
	if err := e.bank.Transfer(e.poolVault, position.Owner, e.usd(), amount); err != nil {
		return fmt.Errorf("disburse principal: %w", err)
	}

	now := e.now()
	interval := duration / installments
	loan := &PoolLoan{PositionID: positionID, Principal: cloneBig(amount), InterestAccrued: big.NewInt(0), LastUpdate: now}
	plan := &RepaymentPlan{
		PositionID:          positionID,
		LoanDuration:        duration,
		Installments:        installments,
		InstallmentInterval: interval,
		NextPaymentDue:      now + interval,
		Active:              true,
	}
	pool.TotalBorrowed = new(big.Int).Add(pool.TotalBorrowed, amount)
	position.PrincipalBorrowed = principalAfter

	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	if err := e.state.PutPlan(plan); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	e.emit(NewBorrowedEvent(position, plan, amount))
	return nil
}

// GetOutstandingDebt returns principal plus interest accrued up to now. It
// never mutates state.
func (e *Engine) GetOutstandingDebt(positionID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadPosition(positionID); err != nil {
		return nil, err
	}
	loan, ok, err := e.state.GetLoan(positionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	principal, interest, err := projectDebt(loan, e.params.InterestRateBps, e.now())
	if err != nil {
		return nil, err
	}
	return principal.Add(principal, interest), nil
}

// Repay settles interest first and then principal. A repayment first cures
// the oldest overdue installment, whose due date MarkMissedPayment already
// moved past; otherwise it advances the schedule by one installment.
func (e *Engine) Repay(positionID uint64, payer common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	position, err := e.loadPosition(positionID)
	if err != nil {
		return err
	}
	if position.State == StateInLiquidation || position.State == StateSettled {
		return ErrInLiquidation
	}
	if !position.Active {
		return ErrPositionNotActive
	}
	plan, ok, err := e.state.GetPlan(positionID)
	if err != nil {
		return err
	}
	if !ok || !plan.Active {
		return ErrPlanNotActive
	}
	if plan.Defaulted {
		return ErrPlanDefaulted
	}
	loan, err := e.loadLoan(positionID)
	if err != nil {
		return err
	}
	if err := materialize(loan, e.params.InterestRateBps, e.now()); err != nil {
		return err
	}
	debt := new(big.Int).Add(loan.Principal, loan.InterestAccrued)
	if amount.Cmp(debt) > 0 {
		return ErrAmountExceedsDebt
	}
	if err := e.bank.Transfer(payer, e.poolVault, e.usd(), amount); err != nil {
		return fmt.Errorf("collect repayment: %w", err)
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	interestPaid, principalPaid := splitPayment(loan, amount)
	applyPayment(pool, position, loan, principalPaid, interestPaid)

	plan.InstallmentsPaid++
	if plan.Overdue > 0 {
		plan.Overdue--
	} else {
		plan.NextPaymentDue += plan.InstallmentInterval
	}
	remaining := new(big.Int).Add(loan.Principal, loan.InterestAccrued)
	if remaining.Sign() == 0 {
		plan.Active = false
	}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	if err := e.state.PutPlan(plan); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	e.emit(NewRepaidEvent(positionID, payer, principalPaid, interestPaid, remaining, plan))
	return nil
}

// splitPayment allocates amount to accrued interest first.
func splitPayment(loan *PoolLoan, amount *big.Int) (interest, principal *big.Int) {
	interest = nativecommon.MinBig(amount, loan.InterestAccrued)
	principal = new(big.Int).Sub(amount, interest)
	return interest, principal
}

// applyPayment books a payment already received by the pool vault.
func applyPayment(pool *Pool, position *Position, loan *PoolLoan, principalPaid, interestPaid *big.Int) {
	loan.InterestAccrued = new(big.Int).Sub(loan.InterestAccrued, interestPaid)
	loan.Principal = new(big.Int).Sub(loan.Principal, principalPaid)
	position.PrincipalBorrowed = new(big.Int).Sub(position.PrincipalBorrowed, principalPaid)
	if position.PrincipalBorrowed.Sign() < 0 {
		position.PrincipalBorrowed.SetInt64(0)
	}
	pool.TotalBorrowed = new(big.Int).Sub(pool.TotalBorrowed, principalPaid)
	if pool.TotalBorrowed.Sign() < 0 {
		pool.TotalBorrowed.SetInt64(0)
	}
	pool.TotalInterestEarned = new(big.Int).Add(pool.TotalInterestEarned, interestPaid)
	pool.TotalLiquidity = new(big.Int).Add(pool.TotalLiquidity, interestPaid)
}

// FundPool deposits lender liquidity into the pool vault.
func (e *Engine) FundPool(lender common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if err := e.eligible(lender); err != nil {
		return err
	}
	if err := e.bank.Transfer(lender, e.poolVault, e.usd(), amount); err != nil {
		return fmt.Errorf("fund pool: %w", err)
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	deposit, err := e.state.GetLenderDeposit(lender)
	if err != nil {
		return err
	}
	pool.TotalLiquidity = new(big.Int).Add(pool.TotalLiquidity, amount)
	if err := e.state.PutLenderDeposit(lender, new(big.Int).Add(bigOrZero(deposit), amount)); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(NewPoolFundedEvent(lender, amount, pool))
	return nil
}

// WithdrawLiquidity returns undeployed liquidity to a lender, bounded by the
// lender's deposit.
func (e *Engine) WithdrawLiquidity(lender common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	deposit, err := e.state.GetLenderDeposit(lender)
	if err != nil {
		return err
	}
	if bigOrZero(deposit).Cmp(amount) < 0 {
		return ErrWithdrawExceedsDeposit
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.Available().Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.eligible(lender); err != nil {
		return err
	}
	if err := e.bank.Transfer(e.poolVault, lender, e.usd(), amount); err != nil {
		return fmt.Errorf("withdraw liquidity: %w", err)
	}
	pool.TotalLiquidity = new(big.Int).Sub(pool.TotalLiquidity, amount)
	if err := e.state.PutLenderDeposit(lender, new(big.Int).Sub(deposit, amount)); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(NewPoolWithdrawnEvent(lender, amount, pool))
	return nil
}

// GetPool returns a snapshot of the pool counters.
func (e *Engine) GetPool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadPool()
}

// GetPosition returns the stored position.
func (e *Engine) GetPosition(positionID uint64) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadPosition(positionID)
}

// GetPlan returns the repayment plan for the position.
func (e *Engine) GetPlan(positionID uint64) (*RepaymentPlan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	plan, ok, err := e.state.GetPlan(positionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPlanNotActive
	}
	return plan, nil
}

func (e *Engine) loadPosition(id uint64) (*Position, error) {
	position, ok, err := e.state.GetPosition(id)
	if err != nil {
		return nil, err
	}
	if !ok || position == nil {
		return nil, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return position, nil
}

func (e *Engine) loadLoan(positionID uint64) (*PoolLoan, error) {
	loan, ok, err := e.state.GetLoan(positionID)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return &PoolLoan{PositionID: positionID, Principal: big.NewInt(0), InterestAccrued: big.NewInt(0), LastUpdate: e.now()}, nil
	}
	if loan.Principal == nil {
		loan.Principal = big.NewInt(0)
	}
	if loan.InterestAccrued == nil {
		loan.InterestAccrued = big.NewInt(0)
	}
	return loan, nil
}

func (e *Engine) loadPool() (*Pool, error) {
	pool, ok, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if !ok || pool == nil {
		return newPool(), nil
	}
	pool.TotalLiquidity = cloneBig(pool.TotalLiquidity)
	pool.TotalBorrowed = cloneBig(pool.TotalBorrowed)
	pool.TotalInterestEarned = cloneBig(pool.TotalInterestEarned)
	return pool, nil
}

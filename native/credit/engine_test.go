package credit

import (
	"errors"
	"math/big"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core/events"
	"rwacredit/native/bank"
	"rwacredit/native/yield"
)

const (
	testUSD   = "USDC"
	testAsset = "BOND26"
	day       = uint64(86_400)
)

type mockState struct {
	nextID       uint64
	balances     map[string]*big.Int
	positions    map[uint64]*Position
	plans        map[uint64]*RepaymentPlan
	loans        map[uint64]*PoolLoan
	pool         *Pool
	deposits     map[common.Address]*big.Int
	liquidations map[uint64]*LiquidationRecord
}

func newMockState() *mockState {
	return &mockState{
		balances:     make(map[string]*big.Int),
		positions:    make(map[uint64]*Position),
		plans:        make(map[uint64]*RepaymentPlan),
		loans:        make(map[uint64]*PoolLoan),
		deposits:     make(map[common.Address]*big.Int),
		liquidations: make(map[uint64]*LiquidationRecord),
	}
}

func balanceKey(addr common.Address, asset string) string { return asset + "|" + addr.Hex() }

func (m *mockState) GetBalance(addr common.Address, asset string) (*big.Int, error) {
	if bal, ok := m.balances[balanceKey(addr, asset)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) PutBalance(addr common.Address, asset string, amount *big.Int) error {
	m.balances[balanceKey(addr, asset)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) NextPositionID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *mockState) GetPosition(id uint64) (*Position, bool, error) {
	p, ok := m.positions[id]
	return p.Clone(), ok, nil
}

func (m *mockState) PutPosition(p *Position) error {
	m.positions[p.ID] = p.Clone()
	return nil
}

func (m *mockState) GetPlan(id uint64) (*RepaymentPlan, bool, error) {
	p, ok := m.plans[id]
	return p.Clone(), ok, nil
}

func (m *mockState) PutPlan(p *RepaymentPlan) error {
	m.plans[p.PositionID] = p.Clone()
	return nil
}

func (m *mockState) ScanPlans(afterID uint64, limit int) ([]*RepaymentPlan, error) {
	var ids []uint64
	for id := range m.plans {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*RepaymentPlan, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.plans[id].Clone())
	}
	return out, nil
}

func (m *mockState) GetLoan(id uint64) (*PoolLoan, bool, error) {
	l, ok := m.loans[id]
	return l.Clone(), ok, nil
}

func (m *mockState) PutLoan(l *PoolLoan) error {
	m.loans[l.PositionID] = l.Clone()
	return nil
}

func (m *mockState) GetPool() (*Pool, bool, error) {
	return m.pool.Clone(), m.pool != nil, nil
}

func (m *mockState) PutPool(p *Pool) error {
	m.pool = p.Clone()
	return nil
}

func (m *mockState) GetLenderDeposit(lender common.Address) (*big.Int, error) {
	if d, ok := m.deposits[lender]; ok {
		return new(big.Int).Set(d), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) PutLenderDeposit(lender common.Address, amount *big.Int) error {
	m.deposits[lender] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) GetLiquidation(id uint64) (*LiquidationRecord, bool, error) {
	r, ok := m.liquidations[id]
	if !ok {
		return nil, false, nil
	}
	clone := *r
	return &clone, true, nil
}

func (m *mockState) PutLiquidation(r *LiquidationRecord) error {
	clone := *r
	m.liquidations[r.PositionID] = &clone
	return nil
}

func (m *mockState) DeleteLiquidation(id uint64) error {
	delete(m.liquidations, id)
	return nil
}

type denyList map[common.Address]bool

func (d denyList) IsEligible(addr common.Address) bool { return !d[addr] }

// fakeYield pays a fixed amount per burned unit out of a funded vault.
type fakeYield struct {
	bank    *bank.Bank
	vault   common.Address
	perUnit *big.Int
	err     error
	claims  int
}

func (f *fakeYield) PreviewClaim(_ common.Address, _ string, burn *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Mul(burn, f.perUnit), nil
}

func (f *fakeYield) ClaimFor(custody, beneficiary, recipient common.Address, asset string, burn *big.Int) (*big.Int, error) {
	payout, err := f.PreviewClaim(beneficiary, asset, burn)
	if err != nil {
		return nil, err
	}
	if err := f.bank.BurnLocked(custody, beneficiary, asset, burn); err != nil {
		return nil, err
	}
	if err := f.bank.Transfer(f.vault, recipient, testUSD, payout); err != nil {
		return nil, err
	}
	f.claims++
	return payout, nil
}

type fixture struct {
	state   *mockState
	bank    *bank.Bank
	engine  *Engine
	yield   *fakeYield
	gate    denyList
	events  *events.Buffer
	clock   uint64
	custody common.Address
	vault   common.Address
	lender  common.Address
	owner   common.Address
}

func newFixture(t *testing.T, params RiskParameters) *fixture {
	t.Helper()
	f := &fixture{
		state:   newMockState(),
		gate:    denyList{},
		events:  &events.Buffer{},
		clock:   1_700_000_000,
		custody: common.BytesToAddress([]byte{0xc1}),
		vault:   common.BytesToAddress([]byte{0xc2}),
		lender:  common.BytesToAddress([]byte{0x10}),
		owner:   common.BytesToAddress([]byte{0x20}),
	}
	f.bank = bank.New(testUSD)
	f.bank.SetState(f.state)
	f.yield = &fakeYield{bank: f.bank, vault: common.BytesToAddress([]byte{0xc3}), perUnit: big.NewInt(0)}
	f.engine = NewEngine(f.custody, f.vault, params)
	f.engine.SetState(f.state)
	f.engine.SetBank(f.bank)
	f.engine.SetEligibility(f.gate)
	f.engine.SetYield(f.yield)
	f.engine.SetEmitter(f.events)
	f.engine.SetNowFunc(func() uint64 { return f.clock })
	return f
}

func (f *fixture) mint(t *testing.T, to common.Address, asset string, amount int64) {
	t.Helper()
	if err := f.bank.Mint(to, asset, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	f.mint(t, f.lender, testUSD, amount)
	if err := f.engine.FundPool(f.lender, big.NewInt(amount)); err != nil {
		t.Fatalf("fund pool: %v", err)
	}
}

func (f *fixture) open(t *testing.T, collateral, value int64, tokenType TokenType) uint64 {
	t.Helper()
	f.mint(t, f.owner, testAsset, collateral)
	id, err := f.engine.OpenPosition(f.owner, testAsset, big.NewInt(collateral), big.NewInt(value), tokenType, true)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return id
}

func (f *fixture) balance(t *testing.T, addr common.Address, asset string) *big.Int {
	t.Helper()
	bal, err := f.bank.Balance(addr, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) debt(t *testing.T, id uint64) *big.Int {
	t.Helper()
	debt, err := f.engine.GetOutstandingDebt(id)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	return debt
}

func zeroRate() RiskParameters {
	params := DefaultRiskParameters()
	params.InterestRateBps = 0
	return params
}

func (f *fixture) defaultPosition(t *testing.T, id uint64) {
	t.Helper()
	plan, err := f.engine.GetPlan(id)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for i := uint64(0); i < f.engine.Params().MissedPaymentThreshold; i++ {
		f.clock = plan.NextPaymentDue + 1
		if err := f.engine.MarkMissedPayment(id); err != nil {
			t.Fatalf("mark missed: %v", err)
		}
		plan, _ = f.engine.GetPlan(id)
	}
	if err := f.engine.LiquidatePosition(id); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
}

func TestOpenPositionLocksCollateral(t *testing.T) {
	f := newFixture(t, DefaultRiskParameters())
	id := f.open(t, 5_000, 1_000_000_000, TokenTypeRWA)

	if f.balance(t, f.owner, testAsset).Sign() != 0 {
		t.Fatalf("owner should not keep collateral")
	}
	if f.balance(t, f.custody, testAsset).Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("custody missing collateral")
	}
	position, err := f.engine.GetPosition(id)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !position.Active || position.State != StateActive || !position.CreditLine {
		t.Fatalf("unexpected position %+v", position)
	}
	evts := f.events.Events()
	if len(evts) != 1 || evts[0].EventType() != EventTypePositionOpened {
		t.Fatalf("expected opened event, got %d", len(evts))
	}
	if evts[0].Event().Attributes["valueUSD"] != "1000000000" {
		t.Fatalf("unexpected value attribute %q", evts[0].Event().Attributes["valueUSD"])
	}
}

func TestOpenPositionValidation(t *testing.T) {
	f := newFixture(t, DefaultRiskParameters())
	f.mint(t, f.owner, testAsset, 10)
	if _, err := f.engine.OpenPosition(f.owner, testAsset, big.NewInt(0), big.NewInt(1), TokenTypeRWA, false); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.engine.OpenPosition(f.owner, testAsset, big.NewInt(1), big.NewInt(0), TokenTypeRWA, false); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid value, got %v", err)
	}
	if _, err := f.engine.OpenPosition(f.owner, testAsset, big.NewInt(1), big.NewInt(1), TokenType("BOND"), false); !errors.Is(err, ErrInvalidTokenType) {
		t.Fatalf("expected invalid token type, got %v", err)
	}
	f.gate[f.owner] = true
	if _, err := f.engine.OpenPosition(f.owner, testAsset, big.NewInt(1), big.NewInt(1), TokenTypeRWA, false); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}
	delete(f.gate, f.owner)
	if _, err := f.engine.OpenPosition(f.owner, testAsset, big.NewInt(11), big.NewInt(1), TokenTypeRWA, false); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	if len(f.state.positions) != 0 {
		t.Fatalf("no position may exist without custodied collateral")
	}
}

func TestBorrowRespectsLTV(t *testing.T) {
	f := newFixture(t, DefaultRiskParameters())
	f.fund(t, 10_000_000_000)
	id := f.open(t, 1_000, 1_000_000_000, TokenTypeRWA)

	if err := f.engine.Borrow(id, f.owner, big.NewInt(700_000_000), 90*day, 3); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.Borrow(id, f.owner, big.NewInt(1_000_000), 90*day, 3); !errors.Is(err, ErrExceedsLTV) {
		t.Fatalf("expected exceeds LTV, got %v", err)
	}
	position, _ := f.engine.GetPosition(id)
	limit := new(big.Int).Div(new(big.Int).Mul(position.CollateralValueUSD, big.NewInt(7_000)), big.NewInt(10_000))
	if position.PrincipalBorrowed.Cmp(limit) > 0 {
		t.Fatalf("principal %s above limit %s", position.PrincipalBorrowed, limit)
	}
	if f.balance(t, f.owner, testUSD).Cmp(big.NewInt(700_000_000)) != 0 {
		t.Fatalf("principal not disbursed")
	}
	pool, _ := f.engine.GetPool()
	if pool.TotalBorrowed.Cmp(big.NewInt(700_000_000)) != 0 {
		t.Fatalf("unexpected borrowed total %s", pool.TotalBorrowed)
	}
	plan, _ := f.engine.GetPlan(id)
	if plan.InstallmentInterval != 30*day || plan.NextPaymentDue != f.clock+30*day {
		t.Fatalf("unexpected schedule %+v", plan)
	}
}

func TestBorrowPreconditions(t *testing.T) {
	f := newFixture(t, DefaultRiskParameters())
	f.fund(t, 100)
	id := f.open(t, 1_000, 1_000_000_000, TokenTypePrivateAsset)
	stranger := common.BytesToAddress([]byte{0x99})

	if err := f.engine.Borrow(id, stranger, big.NewInt(10), 90*day, 3); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.engine.Borrow(id, f.owner, big.NewInt(10), 90*day, 0); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
	if err := f.engine.Borrow(id, f.owner, big.NewInt(500_000_001), 90*day, 3); !errors.Is(err, ErrExceedsLTV) {
		t.Fatalf("expected private asset LTV, got %v", err)
	}
	if err := f.engine.Borrow(id, f.owner, big.NewInt(101), 90*day, 3); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if err := f.engine.Borrow(id, f.owner, big.NewInt(50), 90*day, 3); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.Borrow(id, f.owner, big.NewInt(10), 90*day, 3); !errors.Is(err, ErrLoanOutstanding) {
		t.Fatalf("expected loan outstanding, got %v", err)
	}
	if err := f.engine.Borrow(999, f.owner, big.NewInt(10), 90*day, 3); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDebtAccruesAndRepayReducesIt(t *testing.T) {
	params := DefaultRiskParameters()
	params.InterestRateBps = 1_000
	f := newFixture(t, params)
	f.fund(t, 10_000_000_000)
	id := f.open(t, 1_000, 2_000_000_000, TokenTypeRWA)
	if err := f.engine.Borrow(id, f.owner, big.NewInt(1_000_000_000), 360*day, 12); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	start := f.debt(t, id)
	if start.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("unexpected initial debt %s", start)
	}
	prev := start
	for i := 0; i < 5; i++ {
		f.clock += 7 * day
		next := f.debt(t, id)
		if next.Cmp(prev) < 0 {
			t.Fatalf("debt decreased without repayment: %s -> %s", prev, next)
		}
		prev = next
	}
	f.clock = 1_700_000_000 + SecondsPerYear
	yearDebt := f.debt(t, id)
	if yearDebt.Cmp(big.NewInt(1_100_000_000)) != 0 {
		t.Fatalf("unexpected debt after one year %s", yearDebt)
	}
	if err := f.engine.Repay(id, f.owner, new(big.Int).Add(yearDebt, big.NewInt(1))); !errors.Is(err, ErrAmountExceedsDebt) {
		t.Fatalf("expected amount exceeds debt, got %v", err)
	}

	f.mint(t, f.owner, testUSD, 500_000_000)
	if err := f.engine.Repay(id, f.owner, big.NewInt(150_000_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	after := f.debt(t, id)
	if after.Cmp(yearDebt) >= 0 {
		t.Fatalf("debt did not decrease: %s -> %s", yearDebt, after)
	}
	loan := f.state.loans[id]
	if loan.InterestAccrued.Sign() != 0 || loan.Principal.Cmp(big.NewInt(950_000_000)) != 0 {
		t.Fatalf("interest must be paid first: %+v", loan)
	}
	pool, _ := f.engine.GetPool()
	if pool.TotalInterestEarned.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("unexpected interest earned %s", pool.TotalInterestEarned)
	}
	if pool.TotalBorrowed.Cmp(big.NewInt(950_000_000)) != 0 {
		t.Fatalf("unexpected borrowed %s", pool.TotalBorrowed)
	}
	plan, _ := f.engine.GetPlan(id)
	if plan.InstallmentsPaid != 1 {
		t.Fatalf("expected one installment paid, got %d", plan.InstallmentsPaid)
	}
	var repaid events.Event
	for _, evt := range f.events.Events() {
		if evt.EventType() == EventTypeLoanRepaid {
			repaid = evt
		}
	}
	if repaid == nil || repaid.Event().Attributes["interestPaid"] != "100000000" || repaid.Event().Attributes["principalPaid"] != "50000000" {
		t.Fatalf("unexpected repaid event %+v", repaid)
	}
}

func TestFullRepaymentAndWithdrawal(t *testing.T) {
	f := newFixture(t, zeroRate())
	f.fund(t, 1_000)
	id := f.open(t, 10, 1_000, TokenTypeRWA)
	if err := f.engine.Borrow(id, f.owner, big.NewInt(600), 60*day, 2); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.WithdrawCollateral(id, f.owner); !errors.Is(err, ErrDebtOutstanding) {
		t.Fatalf("expected debt outstanding, got %v", err)
	}
	if err := f.engine.Repay(id, f.owner, big.NewInt(300)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := f.engine.Repay(id, f.owner, big.NewInt(300)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := f.engine.Repay(id, f.owner, big.NewInt(1)); !errors.Is(err, ErrPlanNotActive) {
		t.Fatalf("expected plan closed, got %v", err)
	}
	stranger := common.BytesToAddress([]byte{0x99})
	if err := f.engine.WithdrawCollateral(id, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.engine.WithdrawCollateral(id, f.owner); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	position, _ := f.engine.GetPosition(id)
	if position.Active || position.State != StateClosed {
		t.Fatalf("expected closed position, got %+v", position)
	}
	if f.balance(t, f.owner, testAsset).Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("collateral not returned")
	}
	if err := f.engine.WithdrawCollateral(id, f.owner); !errors.Is(err, ErrPositionNotActive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	pool, _ := f.engine.GetPool()
	if pool.TotalBorrowed.Sign() != 0 {
		t.Fatalf("pool still lent out: %s", pool.TotalBorrowed)
	}
}

func TestMissedPaymentsDefaultAtThreshold(t *testing.T) {
	f := newFixture(t, zeroRate())
	f.fund(t, 1_000)
	id := f.open(t, 10, 1_000, TokenTypeRWA)
	if err := f.engine.Borrow(id, f.owner, big.NewInt(300), 90*day, 3); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.MarkMissedPayment(id); !errors.Is(err, ErrPaymentNotDue) {
		t.Fatalf("expected not due, got %v", err)
	}
	for i := 1; i <= 2; i++ {
		plan, _ := f.engine.GetPlan(id)
		f.clock = plan.NextPaymentDue + 1
		if err := f.engine.MarkMissedPayment(id); err != nil {
			t.Fatalf("mark %d: %v", i, err)
		}
		if err := f.engine.MarkMissedPayment(id); err != nil {
			t.Fatalf("repeat mark %d: %v", i, err)
		}
	}
	plan, _ := f.engine.GetPlan(id)
	if plan.MissedPayments != 2 || plan.Defaulted {
		t.Fatalf("expected active plan after two misses, got %+v", plan)
	}
	position, _ := f.engine.GetPosition(id)
	if position.State != StateActive {
		t.Fatalf("expected active position, got %s", position.State)
	}

	f.clock = plan.NextPaymentDue + 1
	if err := f.engine.MarkMissedPayment(id); err != nil {
		t.Fatalf("third mark: %v", err)
	}
	plan, _ = f.engine.GetPlan(id)
	if !plan.Defaulted || plan.MissedPayments != 3 {
		t.Fatalf("expected defaulted plan, got %+v", plan)
	}
	position, _ = f.engine.GetPosition(id)
	if position.State != StateDefaulted {
		t.Fatalf("expected defaulted position, got %s", position.State)
	}
	f.mint(t, f.owner, testUSD, 100)
	if err := f.engine.Repay(id, f.owner, big.NewInt(100)); !errors.Is(err, ErrPlanDefaulted) {
		t.Fatalf("expected repay rejected, got %v", err)
	}
	if err := f.engine.MarkMissedPayment(id); err != nil {
		t.Fatalf("defaulted mark should be a no-op: %v", err)
	}
	plan, _ = f.engine.GetPlan(id)
	if plan.MissedPayments != 3 {
		t.Fatalf("defaulted plan mutated: %+v", plan)
	}
}

func TestLateRepaymentCuresMissedInstallment(t *testing.T) {
	f := newFixture(t, zeroRate())
	f.fund(t, 1_000)
	id := f.open(t, 10, 1_000, TokenTypeRWA)
	start := f.clock
	if err := f.engine.Borrow(id, f.owner, big.NewInt(300), 90*day, 3); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.clock = start + 30*day + 1
	if err := f.engine.MarkMissedPayment(id); err != nil {
		t.Fatalf("mark first: %v", err)
	}
	f.clock = start + 35*day
	if err := f.engine.Repay(id, f.owner, big.NewInt(100)); err != nil {
		t.Fatalf("late repay: %v", err)
	}
	plan, _ := f.engine.GetPlan(id)
	if plan.NextPaymentDue != start+60*day || plan.Overdue != 0 || plan.InstallmentsPaid != 1 {
		t.Fatalf("late payment should cure without skipping the next installment: %+v", plan)
	}

	f.clock = start + 61*day
	if err := f.engine.MarkMissedPayment(id); err != nil {
		t.Fatalf("mark second: %v", err)
	}
	plan, _ = f.engine.GetPlan(id)
	if plan.MissedPayments != 2 || plan.Overdue != 1 || plan.NextPaymentDue != start+90*day {
		t.Fatalf("second installment miss not recorded: %+v", plan)
	}

	if err := f.engine.Repay(id, f.owner, big.NewInt(100)); err != nil {
		t.Fatalf("cure second: %v", err)
	}
	if err := f.engine.Repay(id, f.owner, big.NewInt(50)); err != nil {
		t.Fatalf("early third: %v", err)
	}
	plan, _ = f.engine.GetPlan(id)
	if plan.Overdue != 0 || plan.NextPaymentDue != start+120*day || plan.InstallmentsPaid != 3 {
		t.Fatalf("unexpected schedule after catching up: %+v", plan)
	}
}

func TestMarkMissedPaymentRequiresActivePlan(t *testing.T) {
	f := newFixture(t, zeroRate())
	id := f.open(t, 10, 1_000, TokenTypeRWA)
	if err := f.engine.MarkMissedPayment(id); !errors.Is(err, ErrPlanNotActive) {
		t.Fatalf("expected plan not active, got %v", err)
	}
	if err := f.engine.WithdrawCollateral(id, f.owner); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := f.engine.MarkMissedPayment(id); !errors.Is(err, ErrPositionNotActive) {
		t.Fatalf("expected position not active, got %v", err)
	}
}

func TestDuePlansListsLapsedInstallments(t *testing.T) {
	f := newFixture(t, zeroRate())
	f.fund(t, 10_000)
	first := f.open(t, 10, 1_000, TokenTypeRWA)
	second := f.open(t, 10, 1_000, TokenTypeRWA)
	if err := f.engine.Borrow(first, f.owner, big.NewInt(100), 30*day, 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.clock += 10 * day
	if err := f.engine.Borrow(second, f.owner, big.NewInt(100), 30*day, 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.clock += 25 * day
	due, err := f.engine.DuePlans(0, 10)
	if err != nil {
		t.Fatalf("due plans: %v", err)
	}
	if len(due) != 1 || due[0].PositionID != first {
		t.Fatalf("unexpected due plans %+v", due)
	}
}

func TestLiquidatePositionIsIdempotent(t *testing.T) {
	f := newFixture(t, zeroRate())
	f.fund(t, 1_000)
	id := f.open(t, 10, 1_000, TokenTypePrivateAsset)
	if err := f.engine.LiquidatePosition(id); !errors.Is(err, ErrNotDefaulted) {
		t.Fatalf("expected not defaulted, got %v", err)
	}
	if err := f.engine.Borrow(id, f.owner, big.NewInt(400), 90*day, 3); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.defaultPosition(t, id)
	snapshot := f.state.positions[id].Clone()
	if err := f.engine.LiquidatePosition(id); err != nil {
		t.Fatalf("repeat liquidate: %v", err)
	}
	after := f.state.positions[id]
	if after.State != StateInLiquidation || after.CreditLine || after.LiquidatedAt != snapshot.LiquidatedAt {
		t.Fatalf("unexpected state after repeat %+v", after)
	}
	revocations := 0
	for _, evt := range f.events.Events() {
		if evt.EventType() == EventTypeCreditLineRevoked {
			revocations++
		}
	}
	if revocations != 1 {
		t.Fatalf("expected a single revocation, got %d", revocations)
	}
	if _, ok := f.state.liquidations[id]; !ok {
		t.Fatalf("expected liquidation record")
	}
}

func TestPurchaseAndSettleLiquidation(t *testing.T) {
	f := newFixture(t, zeroRate())
	f.fund(t, 10_000)
	id := f.open(t, 10, 2_000, TokenTypePrivateAsset)
	if err := f.engine.Borrow(id, f.owner, big.NewInt(600), 90*day, 3); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.defaultPosition(t, id)

	admin := common.BytesToAddress([]byte{0xad})
	f.mint(t, admin, testUSD, 1_000)
	if err := f.engine.SettleLiquidation(id); !errors.Is(err, ErrWrongSettlementStrategy) {
		t.Fatalf("expected wrong strategy, got %v", err)
	}
	if err := f.engine.PurchaseAndSettleLiquidation(id, admin, big.NewInt(500)); !errors.Is(err, ErrPurchaseBelowDebt) {
		t.Fatalf("expected purchase below debt, got %v", err)
	}
	if f.state.positions[id].State != StateInLiquidation {
		t.Fatalf("failed settlement must leave position in liquidation")
	}
	ownerUSD := f.balance(t, f.owner, testUSD)
	if err := f.engine.PurchaseAndSettleLiquidation(id, admin, big.NewInt(650)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got := new(big.Int).Sub(f.balance(t, f.owner, testUSD), ownerUSD); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected refund of 50, got %s", got)
	}
	if f.balance(t, admin, testAsset).Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("buyer did not receive collateral")
	}
	position := f.state.positions[id]
	if position.Active || position.State != StateSettled {
		t.Fatalf("unexpected position %+v", position)
	}
	if _, ok := f.state.liquidations[id]; ok {
		t.Fatalf("liquidation record should be cleared")
	}
	pool, _ := f.engine.GetPool()
	if pool.TotalBorrowed.Sign() != 0 {
		t.Fatalf("pool still lent out: %s", pool.TotalBorrowed)
	}
	if f.balance(t, f.vault, testUSD).Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("pool vault not made whole: %s", f.balance(t, f.vault, testUSD))
	}
	if err := f.engine.PurchaseAndSettleLiquidation(id, admin, big.NewInt(650)); !errors.Is(err, ErrNotInLiquidation) {
		t.Fatalf("expected not in liquidation, got %v", err)
	}
}

func TestSettleLiquidationBurnToClaim(t *testing.T) {
	f := newFixture(t, zeroRate())
	f.fund(t, 10_000)
	id := f.open(t, 10, 1_000, TokenTypeRWA)
	if err := f.engine.Borrow(id, f.owner, big.NewInt(600), 90*day, 3); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.defaultPosition(t, id)

	f.yield.err = yield.ErrNoSettlementFound
	if err := f.engine.SettleLiquidation(id); !errors.Is(err, ErrNoSettlementFound) {
		t.Fatalf("expected no settlement, got %v", err)
	}
	f.yield.err = nil
	f.yield.perUnit = big.NewInt(50)
	if err := f.engine.SettleLiquidation(id); !errors.Is(err, ErrInsufficientYield) {
		t.Fatalf("expected insufficient yield, got %v", err)
	}
	if f.state.positions[id].State != StateInLiquidation {
		t.Fatalf("failed settlement must leave position in liquidation")
	}

	f.yield.perUnit = big.NewInt(70)
	f.mint(t, f.yield.vault, testUSD, 700)
	ownerUSD := f.balance(t, f.owner, testUSD)
	if err := f.engine.PurchaseAndSettleLiquidation(id, f.owner, big.NewInt(700)); !errors.Is(err, ErrWrongSettlementStrategy) {
		t.Fatalf("expected wrong strategy, got %v", err)
	}
	if err := f.engine.SettleLiquidation(id); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if f.yield.claims != 1 {
		t.Fatalf("expected one claim, got %d", f.yield.claims)
	}
	if got := new(big.Int).Sub(f.balance(t, f.owner, testUSD), ownerUSD); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected refund of 100, got %s", got)
	}
	if f.balance(t, f.custody, testAsset).Sign() != 0 || f.balance(t, f.custody, testUSD).Sign() != 0 {
		t.Fatalf("custody should be empty")
	}
	if f.state.positions[id].State != StateSettled {
		t.Fatalf("expected settled")
	}
}

func TestPoolFundingAndWithdrawal(t *testing.T) {
	f := newFixture(t, zeroRate())
	f.fund(t, 1_000)
	id := f.open(t, 10, 2_000, TokenTypeRWA)
	if err := f.engine.Borrow(id, f.owner, big.NewInt(800), 90*day, 3); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.WithdrawLiquidity(f.lender, big.NewInt(300)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if err := f.engine.WithdrawLiquidity(f.owner, big.NewInt(1)); !errors.Is(err, ErrWithdrawExceedsDeposit) {
		t.Fatalf("expected deposit bound, got %v", err)
	}
	if err := f.engine.WithdrawLiquidity(f.lender, big.NewInt(200)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	pool, _ := f.engine.GetPool()
	if pool.TotalLiquidity.Cmp(big.NewInt(800)) != 0 || pool.Available().Sign() != 0 {
		t.Fatalf("unexpected pool %+v", pool)
	}
	if f.balance(t, f.lender, testUSD).Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("lender not paid")
	}
}

func TestClassify(t *testing.T) {
	cases := map[error]Class{
		ErrExceedsLTV:                ClassValidation,
		ErrNotDefaulted:              ClassStateConflict,
		ErrInsufficientLiquidity:     ClassResourceExhausted,
		yield.ErrAlreadySettled:      ClassStateConflict,
		bank.ErrInsufficientBalance:  ClassResourceExhausted,
		ErrPositionNotFound:          ClassNotFound,
		errors.New("disk on fire"):   ClassInternal,
		ErrNotEligible:               ClassForbidden,
		yield.ErrDistributionPending: ClassStateConflict,
	}
	for err, want := range cases {
		if got := Classify(err); got != want {
			t.Fatalf("classify %v: got %s want %s", err, got, want)
		}
	}
	wrapped := errors.Join(errors.New("context"), ErrPurchaseBelowDebt)
	if Classify(wrapped) != ClassValidation {
		t.Fatalf("wrapped error not classified")
	}
}

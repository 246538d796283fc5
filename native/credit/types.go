package credit

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenType selects the liquidation settlement strategy for a position's
// collateral.
type TokenType string

const (
	// TokenTypeRWA marks tokenized real-world assets that mature into a yield
	// settlement and are liquidated by burn-to-claim.
	TokenTypeRWA TokenType = "RWA"
	// TokenTypePrivateAsset marks private-asset shares that are liquidated by a
	// third-party purchase.
	TokenTypePrivateAsset TokenType = "PRIVATE_ASSET"
)

// ParseTokenType converts user input into a TokenType.
func ParseTokenType(raw string) (TokenType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(TokenTypeRWA):
		return TokenTypeRWA, nil
	case string(TokenTypePrivateAsset), "PRIVATE":
		return TokenTypePrivateAsset, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTokenType, raw)
	}
}

// Valid reports whether the token type is recognised.
func (t TokenType) Valid() bool {
	return t == TokenTypeRWA || t == TokenTypePrivateAsset
}

// LiquidationState tracks where a position sits in the default lifecycle.
type LiquidationState string

const (
	StateActive        LiquidationState = "ACTIVE"
	StateDefaulted     LiquidationState = "DEFAULTED"
	StateInLiquidation LiquidationState = "IN_LIQUIDATION"
	StateSettled       LiquidationState = "SETTLED"
	// StateClosed marks a position terminated by full repayment and
	// withdrawal of its collateral.
	StateClosed LiquidationState = "CLOSED"
)

// Position is one collateralized loan.
type Position struct {
	// ID is assigned monotonically when the position opens.
	ID    uint64
	Owner common.Address
	// CollateralAsset is the normalised asset symbol held in custody.
	CollateralAsset string
	// CollateralAmount is denominated in 18-decimal base units.
	CollateralAmount *big.Int
	// CollateralValueUSD is the 6-decimal valuation fixed at deposit time.
	CollateralValueUSD *big.Int
	// PrincipalBorrowed tracks the principal currently outstanding.
	PrincipalBorrowed *big.Int
	TokenType         TokenType
	// CreditLine records whether a derived credit line was issued and not yet
	// revoked.
	CreditLine   bool
	Active       bool
	State        LiquidationState
	CreatedAt    uint64
	LiquidatedAt uint64
}

// RepaymentPlan is the amortization schedule tied to a position's loan.
type RepaymentPlan struct {
	PositionID          uint64
	LoanDuration        uint64
	Installments        uint64
	InstallmentInterval uint64
	NextPaymentDue      uint64
	InstallmentsPaid    uint64
	MissedPayments      uint64
	// LastMissedDue is the due date of the most recently marked miss.
	LastMissedDue uint64
	Active        bool
	Defaulted     bool
	// Overdue counts marked misses not yet cured by a repayment.
	Overdue uint64 `rlp:"optional"`
}

// PoolLoan is the lender-side mirror of a position's debt.
type PoolLoan struct {
	PositionID      uint64
	Principal       *big.Int
	InterestAccrued *big.Int
	LastUpdate      uint64
}

// Pool aggregates lender liquidity. TotalBorrowed never exceeds
// TotalLiquidity.
type Pool struct {
	TotalLiquidity      *big.Int
	TotalBorrowed       *big.Int
	TotalInterestEarned *big.Int
}

// Available returns the liquidity that can still be lent out.
func (p *Pool) Available() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Sub(bigOrZero(p.TotalLiquidity), bigOrZero(p.TotalBorrowed))
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// LenderDeposit records the liquidity a lender may withdraw.
type LenderDeposit struct {
	Lender common.Address
	Amount *big.Int
}

// LiquidationRecord marks a position whose default has been confirmed and
// whose settlement is pending.
type LiquidationRecord struct {
	PositionID    uint64
	InLiquidation bool
	StartedAt     uint64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.CollateralAmount = cloneBig(p.CollateralAmount)
	clone.CollateralValueUSD = cloneBig(p.CollateralValueUSD)
	clone.PrincipalBorrowed = cloneBig(p.PrincipalBorrowed)
	return &clone
}

// Clone returns a copy of the plan.
func (p *RepaymentPlan) Clone() *RepaymentPlan {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Clone returns a deep copy of the loan.
func (l *PoolLoan) Clone() *PoolLoan {
	if l == nil {
		return nil
	}
	return &PoolLoan{
		PositionID:      l.PositionID,
		Principal:       cloneBig(l.Principal),
		InterestAccrued: cloneBig(l.InterestAccrued),
		LastUpdate:      l.LastUpdate,
	}
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		TotalLiquidity:      cloneBig(p.TotalLiquidity),
		TotalBorrowed:       cloneBig(p.TotalBorrowed),
		TotalInterestEarned: cloneBig(p.TotalInterestEarned),
	}
}

func newPool() *Pool {
	return &Pool{TotalLiquidity: big.NewInt(0), TotalBorrowed: big.NewInt(0), TotalInterestEarned: big.NewInt(0)}
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

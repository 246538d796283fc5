package credit

import (
	"math/big"

	nativecommon "rwacredit/native/common"
)

// SecondsPerYear is the accrual year used for simple interest.
const SecondsPerYear = 31_536_000

var accrualDenominator = new(big.Int).Mul(big.NewInt(nativecommon.BasisPoints), big.NewInt(SecondsPerYear))

// accrueInterest returns ceil(principal * rateBps * elapsed / (10_000 * year)).
// Rounding up keeps every partial second in the pool's favour.
func accrueInterest(principal *big.Int, rateBps, elapsed uint64) (*big.Int, error) {
	if principal == nil || principal.Sign() <= 0 || rateBps == 0 || elapsed == 0 {
		return big.NewInt(0), nil
	}
	factor := new(big.Int).Mul(new(big.Int).SetUint64(rateBps), new(big.Int).SetUint64(elapsed))
	return nativecommon.MulDivCeil(principal, factor, accrualDenominator)
}

// projectDebt computes the loan's debt at now without mutating it.
func projectDebt(loan *PoolLoan, rateBps, now uint64) (principal, interest *big.Int, err error) {
	if loan == nil {
		return big.NewInt(0), big.NewInt(0), nil
	}
	principal = cloneBig(loan.Principal)
	interest = cloneBig(loan.InterestAccrued)
	if now > loan.LastUpdate {
		delta, err := accrueInterest(principal, rateBps, now-loan.LastUpdate)
		if err != nil {
			return nil, nil, err
		}
		interest.Add(interest, delta)
	}
	return principal, interest, nil
}

// materialize folds accrued interest into the loan and moves its checkpoint.
func materialize(loan *PoolLoan, rateBps, now uint64) error {
	if loan == nil {
		return nil
	}
	_, interest, err := projectDebt(loan, rateBps, now)
	if err != nil {
		return err
	}
	loan.InterestAccrued = interest
	if now > loan.LastUpdate {
		loan.LastUpdate = now
	}
	return nil
}

package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/native/credit"
)

var poolKey = []byte("pool")

// NextPositionID allocates the next monotonic position identifier.
func (m *Manager) NextPositionID() (uint64, error) { return m.nextSequence("position") }

func (m *Manager) GetPosition(id uint64) (*credit.Position, bool, error) {
	out := new(credit.Position)
	ok, err := m.get(bucketPositions, idKey(id), out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return out, true, nil
}

func (m *Manager) PutPosition(position *credit.Position) error {
	return m.put(bucketPositions, idKey(position.ID), position)
}

// ScanPositions lists positions in id order starting after afterID.
func (m *Manager) ScanPositions(afterID uint64, limit int) ([]*credit.Position, error) {
	return scan[credit.Position](m, bucketPositions, nil, cursorAfter(afterID), limit)
}

func (m *Manager) GetPlan(positionID uint64) (*credit.RepaymentPlan, bool, error) {
	out := new(credit.RepaymentPlan)
	ok, err := m.get(bucketPlans, idKey(positionID), out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return out, true, nil
}

func (m *Manager) PutPlan(plan *credit.RepaymentPlan) error {
	return m.put(bucketPlans, idKey(plan.PositionID), plan)
}

// ScanPlans lists repayment plans in position order starting after afterID.
func (m *Manager) ScanPlans(afterID uint64, limit int) ([]*credit.RepaymentPlan, error) {
	return scan[credit.RepaymentPlan](m, bucketPlans, nil, cursorAfter(afterID), limit)
}

func (m *Manager) GetLoan(positionID uint64) (*credit.PoolLoan, bool, error) {
	out := new(credit.PoolLoan)
	ok, err := m.get(bucketLoans, idKey(positionID), out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return out, true, nil
}

func (m *Manager) PutLoan(loan *credit.PoolLoan) error {
	return m.put(bucketLoans, idKey(loan.PositionID), loan)
}

func (m *Manager) GetPool() (*credit.Pool, bool, error) {
	out := new(credit.Pool)
	ok, err := m.get(bucketMeta, poolKey, out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return out, true, nil
}

func (m *Manager) PutPool(pool *credit.Pool) error {
	return m.put(bucketMeta, poolKey, pool)
}

func (m *Manager) GetLenderDeposit(lender common.Address) (*big.Int, error) {
	out := new(big.Int)
	if _, err := m.get(bucketDeposits, lender.Bytes(), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) PutLenderDeposit(lender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return m.delete(bucketDeposits, lender.Bytes())
	}
	return m.put(bucketDeposits, lender.Bytes(), amount)
}

func (m *Manager) GetLiquidation(positionID uint64) (*credit.LiquidationRecord, bool, error) {
	out := new(credit.LiquidationRecord)
	ok, err := m.get(bucketLiquidations, idKey(positionID), out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return out, true, nil
}

func (m *Manager) PutLiquidation(record *credit.LiquidationRecord) error {
	return m.put(bucketLiquidations, idKey(record.PositionID), record)
}

func (m *Manager) DeleteLiquidation(positionID uint64) error {
	return m.delete(bucketLiquidations, idKey(positionID))
}

// cursorAfter returns the seek key for id-ordered scans. Zero means "from the
// beginning" since identifiers start at 1.
func cursorAfter(id uint64) []byte {
	if id == 0 {
		return nil
	}
	return idKey(id)
}

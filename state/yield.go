package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/native/yield"
)

// NextSettlementID allocates the next settlement identifier.
func (m *Manager) NextSettlementID() (uint64, error) { return m.nextSequence("settlement") }

func (m *Manager) GetSettlement(id uint64) (*yield.SettlementBatch, bool, error) {
	out := new(yield.SettlementBatch)
	ok, err := m.get(bucketSettlements, idKey(id), out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return out, true, nil
}

// GetSettlementByAsset resolves the settlement recorded for asset through the
// asset index.
func (m *Manager) GetSettlementByAsset(asset string) (*yield.SettlementBatch, bool, error) {
	b, err := m.bucket(bucketAssetIndex)
	if err != nil {
		return nil, false, err
	}
	raw := b.Get([]byte(asset))
	if len(raw) != 8 {
		return nil, false, nil
	}
	return m.GetSettlement(binary.BigEndian.Uint64(raw))
}

// PutSettlement stores the batch and keeps the asset index current.
func (m *Manager) PutSettlement(batch *yield.SettlementBatch) error {
	if err := m.put(bucketSettlements, idKey(batch.ID), batch); err != nil {
		return err
	}
	b, err := m.bucket(bucketAssetIndex)
	if err != nil {
		return err
	}
	return b.Put([]byte(batch.Asset), idKey(batch.ID))
}

// ScanSettlements lists settlements in id order starting after afterID.
func (m *Manager) ScanSettlements(afterID uint64, limit int) ([]*yield.SettlementBatch, error) {
	return scan[yield.SettlementBatch](m, bucketSettlements, nil, cursorAfter(afterID), limit)
}

func (m *Manager) GetClaim(settlementID uint64, holder common.Address) (*yield.Claim, bool, error) {
	out := new(yield.Claim)
	ok, err := m.get(bucketClaims, claimKey(settlementID, holder), out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return out, true, nil
}

func (m *Manager) PutClaim(claim *yield.Claim) error {
	return m.put(bucketClaims, claimKey(claim.SettlementID, claim.Holder), claim)
}

// ScanClaims lists the claim table of a settlement in holder order.
func (m *Manager) ScanClaims(settlementID uint64, after *common.Address, limit int) ([]*yield.Claim, error) {
	prefix := idKey(settlementID)
	var from []byte
	if after != nil {
		from = claimKey(settlementID, *after)
	}
	return scan[yield.Claim](m, bucketClaims, prefix, from, limit)
}

func (m *Manager) GetHolding(asset string, holder common.Address) (*yield.HoldingCheckpoint, bool, error) {
	out := new(yield.HoldingCheckpoint)
	ok, err := m.get(bucketHoldings, assetKey(asset, &holder), out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return out, true, nil
}

func (m *Manager) PutHolding(cp *yield.HoldingCheckpoint) error {
	return m.put(bucketHoldings, assetKey(cp.Asset, &cp.Holder), cp)
}

// ScanHoldings lists the holder checkpoints of asset in address order,
// starting strictly after the given holder.
func (m *Manager) ScanHoldings(asset string, after *common.Address, limit int) ([]*yield.HoldingCheckpoint, error) {
	var from []byte
	if after != nil {
		from = assetKey(asset, after)
	}
	return scan[yield.HoldingCheckpoint](m, bucketHoldings, assetKey(asset, nil), from, limit)
}

func (m *Manager) GetSupply(asset string) (*yield.SupplyCheckpoint, bool, error) {
	out := new(yield.SupplyCheckpoint)
	ok, err := m.get(bucketSupply, []byte(asset), out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return out, true, nil
}

func (m *Manager) PutSupply(cp *yield.SupplyCheckpoint) error {
	return m.put(bucketSupply, []byte(cp.Asset), cp)
}

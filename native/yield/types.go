package yield

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SecondsPerDay converts token-seconds into token-days for reporting.
const SecondsPerDay = 86_400

// DefaultBatchSize bounds the number of holders processed per Distribute call.
const DefaultBatchSize = 50

// SettlementBatch records a one-time maturity payout for an asset.
type SettlementBatch struct {
	ID                uint64
	Asset             string
	TotalSettlement   *big.Int
	TotalTokenSupply  *big.Int
	TotalTokenSeconds *big.Int
	TotalAllocated    *big.Int
	TotalClaimed      *big.Int
	TotalTokensBurned *big.Int
	// YieldPerToken is the flat reference rate floor(total*1e18/supply).
	YieldPerToken    *big.Int
	SettledAt        uint64
	Settled          bool
	Distributed      bool
	Cursor           common.Address
	CursorSet        bool
	HoldersProcessed uint64
}

// Claim is a holder's frozen snapshot and burn-to-claim progress against a
// settlement.
type Claim struct {
	SettlementID    uint64
	Holder          common.Address
	TokenSeconds    *big.Int
	SnapshotBalance *big.Int
	Entitlement     *big.Int
	Burned          *big.Int
	Claimed         *big.Int
	Distributed     bool
}

// TokenDays reports the snapshot token-seconds as whole token-days.
func (c *Claim) TokenDays() *big.Int {
	if c == nil || c.TokenSeconds == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(c.TokenSeconds, big.NewInt(SecondsPerDay))
}

// Remaining returns the units that can still be burned against the claim.
func (c *Claim) Remaining() *big.Int {
	if c == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(c.SnapshotBalance, c.Burned)
}

// HoldingCheckpoint accumulates balance x time for a beneficial holder.
// Pledged is the part of Balance held in custody as loan collateral.
type HoldingCheckpoint struct {
	Asset        string
	Holder       common.Address
	Balance      *big.Int
	TokenSeconds *big.Int
	LastUpdate   uint64
	Pledged      *big.Int `rlp:"optional"`
}

// SupplyCheckpoint accumulates supply x time for an asset. Its token-seconds
// always equal the sum over holders.
type SupplyCheckpoint struct {
	Asset        string
	Supply       *big.Int
	TokenSeconds *big.Int
	LastUpdate   uint64
}

// Clone returns a deep copy of the batch.
func (b *SettlementBatch) Clone() *SettlementBatch {
	if b == nil {
		return nil
	}
	clone := *b
	clone.TotalSettlement = cloneBig(b.TotalSettlement)
	clone.TotalTokenSupply = cloneBig(b.TotalTokenSupply)
	clone.TotalTokenSeconds = cloneBig(b.TotalTokenSeconds)
	clone.TotalAllocated = cloneBig(b.TotalAllocated)
	clone.TotalClaimed = cloneBig(b.TotalClaimed)
	clone.TotalTokensBurned = cloneBig(b.TotalTokensBurned)
	clone.YieldPerToken = cloneBig(b.YieldPerToken)
	return &clone
}

// Clone returns a deep copy of the claim.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TokenSeconds = cloneBig(c.TokenSeconds)
	clone.SnapshotBalance = cloneBig(c.SnapshotBalance)
	clone.Entitlement = cloneBig(c.Entitlement)
	clone.Burned = cloneBig(c.Burned)
	clone.Claimed = cloneBig(c.Claimed)
	return &clone
}

// Clone returns a deep copy of the checkpoint.
func (c *HoldingCheckpoint) Clone() *HoldingCheckpoint {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Balance = cloneBig(c.Balance)
	clone.TokenSeconds = cloneBig(c.TokenSeconds)
	clone.Pledged = cloneBig(c.Pledged)
	return &clone
}

// Clone returns a deep copy of the checkpoint.
func (c *SupplyCheckpoint) Clone() *SupplyCheckpoint {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Supply = cloneBig(c.Supply)
	clone.TokenSeconds = cloneBig(c.TokenSeconds)
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

package yield

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core/events"
	"rwacredit/core/types"
)

const (
	EventTypeSettlementRecorded = "yield.settlement.recorded"
	EventTypeDistributed        = "yield.settlement.distributed"
	EventTypeClaimed            = "yield.claimed"
)

type yieldEvent struct {
	evt *types.Event
}

func (e yieldEvent) EventType() string { return e.evt.Type }

func (e yieldEvent) Event() *types.Event { return e.evt }

// NewSettlementRecordedEvent returns the payload emitted when a maturity
// payout is registered.
func NewSettlementRecordedEvent(b *SettlementBatch) events.Event {
	return yieldEvent{evt: &types.Event{Type: EventTypeSettlementRecorded, Attributes: map[string]string{
		"settlementId":  strconv.FormatUint(b.ID, 10),
		"asset":         b.Asset,
		"total":         b.TotalSettlement.String(),
		"supply":        b.TotalTokenSupply.String(),
		"tokenSeconds":  b.TotalTokenSeconds.String(),
		"yieldPerToken": b.YieldPerToken.String(),
		"settledAt":     strconv.FormatUint(b.SettledAt, 10),
	}}}
}

// NewDistributedEvent returns the payload emitted after each distribution
// batch commits.
func NewDistributedEvent(b *SettlementBatch, processed int, done bool) events.Event {
	return yieldEvent{evt: &types.Event{Type: EventTypeDistributed, Attributes: map[string]string{
		"settlementId": strconv.FormatUint(b.ID, 10),
		"asset":        b.Asset,
		"processed":    strconv.Itoa(processed),
		"allocated":    b.TotalAllocated.String(),
		"done":         strconv.FormatBool(done),
	}}}
}

// NewClaimedEvent returns the payload emitted for a burn-to-claim.
func NewClaimedEvent(b *SettlementBatch, c *Claim, recipient common.Address, burned, paid *big.Int) events.Event {
	return yieldEvent{evt: &types.Event{Type: EventTypeClaimed, Attributes: map[string]string{
		"settlementId": strconv.FormatUint(b.ID, 10),
		"asset":        b.Asset,
		"holder":       c.Holder.Hex(),
		"recipient":    recipient.Hex(),
		"burned":       burned.String(),
		"paid":         paid.String(),
		"totalClaimed": b.TotalClaimed.String(),
	}}}
}

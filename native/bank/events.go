package bank

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core/events"
	"rwacredit/core/types"
)

const (
	EventTypeMinted      = "bank.minted"
	EventTypeBurned      = "bank.burned"
	EventTypeTransferred = "bank.transferred"
)

type bankEvent struct {
	evt *types.Event
}

func (e bankEvent) EventType() string { return e.evt.Type }

func (e bankEvent) Event() *types.Event { return e.evt }

// NewMintedEvent returns the payload emitted when units are issued.
func NewMintedEvent(to common.Address, asset string, amount *big.Int) events.Event {
	return bankEvent{evt: &types.Event{Type: EventTypeMinted, Attributes: map[string]string{
		"to":     to.Hex(),
		"asset":  asset,
		"amount": amount.String(),
	}}}
}

// NewBurnedEvent returns the payload emitted when units are destroyed.
func NewBurnedEvent(from common.Address, asset string, amount *big.Int) events.Event {
	return bankEvent{evt: &types.Event{Type: EventTypeBurned, Attributes: map[string]string{
		"from":   from.Hex(),
		"asset":  asset,
		"amount": amount.String(),
	}}}
}

// NewTransferredEvent returns the payload emitted for beneficial transfers.
func NewTransferredEvent(from, to common.Address, asset string, amount *big.Int) events.Event {
	return bankEvent{evt: &types.Event{Type: EventTypeTransferred, Attributes: map[string]string{
		"from":   from.Hex(),
		"to":     to.Hex(),
		"asset":  asset,
		"amount": amount.String(),
	}}}
}

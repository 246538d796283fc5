package compliance

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core/events"
	"rwacredit/core/types"
)

var (
	errNilState = errors.New("compliance: state not configured")
	// ErrZeroAddress is returned when the zero address is supplied.
	ErrZeroAddress = errors.New("compliance: zero address")
)

const (
	EventTypeAllowed = "compliance.allowed"
	EventTypeRevoked = "compliance.revoked"
)

type engineState interface {
	IsAllowed(addr common.Address) (bool, error)
	SetAllowed(addr common.Address, allowed bool) error
}

// Gate answers the single eligibility question the engine asks before value
// leaves custody. Module accounts are always eligible.
type Gate struct {
	state   engineState
	modules map[common.Address]struct{}
	emitter events.Emitter
}

// NewGate constructs a gate that treats the supplied module accounts as
// always eligible.
func NewGate(modules ...common.Address) *Gate {
	set := make(map[common.Address]struct{}, len(modules))
	for _, m := range modules {
		set[m] = struct{}{}
	}
	return &Gate{modules: set, emitter: events.NoopEmitter{}}
}

// SetState wires the gate to the external persistence layer.
func (g *Gate) SetState(state engineState) { g.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (g *Gate) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		g.emitter = events.NoopEmitter{}
		return
	}
	g.emitter = emitter
}

// IsEligible reports whether the address may receive or hand over value.
// Lookup failures are treated as ineligible.
func (g *Gate) IsEligible(addr common.Address) bool {
	if g == nil {
		return false
	}
	if _, ok := g.modules[addr]; ok {
		return true
	}
	if g.state == nil || addr == (common.Address{}) {
		return false
	}
	ok, err := g.state.IsAllowed(addr)
	if err != nil {
		return false
	}
	return ok
}

// Allow adds the address to the allow-list.
func (g *Gate) Allow(addr common.Address) error {
	return g.set(addr, true, EventTypeAllowed)
}

// Revoke removes the address from the allow-list.
func (g *Gate) Revoke(addr common.Address) error {
	return g.set(addr, false, EventTypeRevoked)
}

func (g *Gate) set(addr common.Address, allowed bool, eventType string) error {
	if g == nil || g.state == nil {
		return errNilState
	}
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	current, err := g.state.IsAllowed(addr)
	if err != nil {
		return err
	}
	if current == allowed {
		return nil
	}
	if err := g.state.SetAllowed(addr, allowed); err != nil {
		return err
	}
	g.emitter.Emit(gateEvent{evt: &types.Event{
		Type:       eventType,
		Attributes: map[string]string{"address": addr.Hex()},
	}})
	return nil
}

type gateEvent struct {
	evt *types.Event
}

func (e gateEvent) EventType() string { return e.evt.Type }

func (e gateEvent) Event() *types.Event { return e.evt }

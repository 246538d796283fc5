package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core/events"
	nativecommon "rwacredit/native/common"
)

var (
	errNilState            = errors.New("bank: state not configured")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInvalidAsset        = errors.New("bank: asset required")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrSelfTransfer        = errors.New("bank: sender and recipient must differ")
)

type engineState interface {
	GetBalance(addr common.Address, asset string) (*big.Int, error)
	PutBalance(addr common.Address, asset string, amount *big.Int) error
}

// HoldingObserver is notified of every beneficial ownership change for
// tracked assets. Deltas are signed. AdjustPledged tracks the part of a
// holder's beneficial balance that sits in custody as collateral.
type HoldingObserver interface {
	AdjustHolding(asset string, holder common.Address, delta *big.Int) error
	AdjustSupply(asset string, delta *big.Int) error
	AdjustPledged(asset string, holder common.Address, delta *big.Int) error
}

// Bank moves balances of arbitrary assets between accounts. Raw balances
// follow custody, while beneficial holdings reported to the observer stay
// with the owner for collateral locked by the credit module.
type Bank struct {
	state    engineState
	observer HoldingObserver
	emitter  events.Emitter
	usdAsset string
	pauses   nativecommon.PauseView
}

// New constructs a bank for the given settlement (USD) asset symbol. USD
// balances are never reported to the holding observer.
func New(usdAsset string) *Bank {
	return &Bank{usdAsset: NormalizeAsset(usdAsset), emitter: events.NoopEmitter{}}
}

// SetState wires the bank to the external persistence layer.
func (b *Bank) SetState(state engineState) { b.state = state }

// SetObserver configures the holding observer used for token-day tracking.
func (b *Bank) SetObserver(observer HoldingObserver) { b.observer = observer }

// SetPauses configures the module pause switches consulted before any movement.
func (b *Bank) SetPauses(p nativecommon.PauseView) { b.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// USDAsset returns the normalised settlement asset symbol.
func (b *Bank) USDAsset() string { return b.usdAsset }

// NormalizeAsset canonicalises an asset reference.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Balance returns the raw balance held by addr.
func (b *Bank) Balance(addr common.Address, asset string) (*big.Int, error) {
	if b == nil || b.state == nil {
		return nil, errNilState
	}
	asset = NormalizeAsset(asset)
	if asset == "" {
		return nil, ErrInvalidAsset
	}
	return b.load(addr, asset)
}

// Mint credits newly issued units to the recipient.
func (b *Bank) Mint(to common.Address, asset string, amount *big.Int) error {
	asset, err := b.precheck(asset, amount)
	if err != nil {
		return err
	}
	if err := b.credit(to, asset, amount); err != nil {
		return err
	}
	if err := b.observe(asset, to, amount); err != nil {
		return err
	}
	if err := b.observeSupply(asset, amount); err != nil {
		return err
	}
	b.emit(NewMintedEvent(to, asset, amount))
	return nil
}

// Burn destroys units held by the owner.
func (b *Bank) Burn(from common.Address, asset string, amount *big.Int) error {
	asset, err := b.precheck(asset, amount)
	if err != nil {
		return err
	}
	if err := b.debit(from, asset, amount); err != nil {
		return err
	}
	neg := new(big.Int).Neg(amount)
	if err := b.observe(asset, from, neg); err != nil {
		return err
	}
	if err := b.observeSupply(asset, neg); err != nil {
		return err
	}
	b.emit(NewBurnedEvent(from, asset, amount))
	return nil
}

// Transfer moves units and beneficial ownership from one account to another.
func (b *Bank) Transfer(from, to common.Address, asset string, amount *big.Int) error {
	asset, err := b.precheck(asset, amount)
	if err != nil {
		return err
	}
	if from == to {
		return ErrSelfTransfer
	}
	if err := b.move(from, to, asset, amount); err != nil {
		return err
	}
	if err := b.observe(asset, from, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if err := b.observe(asset, to, amount); err != nil {
		return err
	}
	b.emit(NewTransferredEvent(from, to, asset, amount))
	return nil
}

// Lock moves units into custody without changing beneficial ownership.
func (b *Bank) Lock(owner, custody common.Address, asset string, amount *big.Int) error {
	asset, err := b.precheck(asset, amount)
	if err != nil {
		return err
	}
	if err := b.move(owner, custody, asset, amount); err != nil {
		return err
	}
	return b.observePledged(asset, owner, amount)
}

// Unlock returns custodied units to their beneficial owner.
func (b *Bank) Unlock(custody, owner common.Address, asset string, amount *big.Int) error {
	asset, err := b.precheck(asset, amount)
	if err != nil {
		return err
	}
	if err := b.move(custody, owner, asset, amount); err != nil {
		return err
	}
	return b.observePledged(asset, owner, new(big.Int).Neg(amount))
}

// TransferLocked releases custodied units to a new owner, moving beneficial
// ownership away from the original beneficiary.
func (b *Bank) TransferLocked(custody, beneficiary, to common.Address, asset string, amount *big.Int) error {
	asset, err := b.precheck(asset, amount)
	if err != nil {
		return err
	}
	if err := b.move(custody, to, asset, amount); err != nil {
		return err
	}
	if err := b.observePledged(asset, beneficiary, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if beneficiary != to {
		if err := b.observe(asset, beneficiary, new(big.Int).Neg(amount)); err != nil {
			return err
		}
		if err := b.observe(asset, to, amount); err != nil {
			return err
		}
	}
	b.emit(NewTransferredEvent(beneficiary, to, asset, amount))
	return nil
}

// BurnLocked destroys custodied units on behalf of their beneficiary.
func (b *Bank) BurnLocked(custody, beneficiary common.Address, asset string, amount *big.Int) error {
	asset, err := b.precheck(asset, amount)
	if err != nil {
		return err
	}
	if err := b.debit(custody, asset, amount); err != nil {
		return err
	}
	neg := new(big.Int).Neg(amount)
	if err := b.observePledged(asset, beneficiary, neg); err != nil {
		return err
	}
	if err := b.observe(asset, beneficiary, neg); err != nil {
		return err
	}
	if err := b.observeSupply(asset, neg); err != nil {
		return err
	}
	b.emit(NewBurnedEvent(beneficiary, asset, amount))
	return nil
}

func (b *Bank) precheck(asset string, amount *big.Int) (string, error) {
	if b == nil || b.state == nil {
		return "", errNilState
	}
	if err := nativecommon.Guard(b.pauses, nativecommon.ModuleBank); err != nil {
		return "", err
	}
	asset = NormalizeAsset(asset)
	if asset == "" {
		return "", ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	return asset, nil
}

func (b *Bank) move(from, to common.Address, asset string, amount *big.Int) error {
	if err := b.debit(from, asset, amount); err != nil {
		return err
	}
	return b.credit(to, asset, amount)
}

func (b *Bank) debit(addr common.Address, asset string, amount *big.Int) error {
	balance, err := b.load(addr, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, addr.Hex(), balance, asset, amount)
	}
	return b.state.PutBalance(addr, asset, new(big.Int).Sub(balance, amount))
}

func (b *Bank) credit(addr common.Address, asset string, amount *big.Int) error {
	balance, err := b.load(addr, asset)
	if err != nil {
		return err
	}
	return b.state.PutBalance(addr, asset, new(big.Int).Add(balance, amount))
}

func (b *Bank) load(addr common.Address, asset string) (*big.Int, error) {
	balance, err := b.state.GetBalance(addr, asset)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (b *Bank) tracked(asset string) bool {
	return b.observer != nil && asset != b.usdAsset
}

func (b *Bank) observe(asset string, holder common.Address, delta *big.Int) error {
	if !b.tracked(asset) {
		return nil
	}
	return b.observer.AdjustHolding(asset, holder, delta)
}

func (b *Bank) observePledged(asset string, holder common.Address, delta *big.Int) error {
	if !b.tracked(asset) {
		return nil
	}
	return b.observer.AdjustPledged(asset, holder, delta)
}

func (b *Bank) observeSupply(asset string, delta *big.Int) error {
	if !b.tracked(asset) {
		return nil
	}
	return b.observer.AdjustSupply(asset, delta)
}

func (b *Bank) emit(evt events.Event) {
	if b.emitter == nil || evt == nil {
		return
	}
	b.emitter.Emit(evt)
}

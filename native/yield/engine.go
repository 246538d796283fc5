package yield

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core/events"
	nativecommon "rwacredit/native/common"
)

var (
	errNilState = errors.New("yield engine: state not configured")
	errNilBank  = errors.New("yield engine: bank not configured")

	ErrInvalidAmount          = errors.New("yield: amount must be positive")
	ErrInvalidAsset           = errors.New("yield: asset cannot be settled")
	ErrAlreadySettled         = errors.New("yield: asset already settled")
	ErrNoSettlementFound      = errors.New("yield: no settlement found")
	ErrNoSupply               = errors.New("yield: asset has no token-time to settle against")
	ErrDistributionPending    = errors.New("yield: distribution pending for holder")
	ErrNoEntitlement          = errors.New("yield: holder has no entitlement")
	ErrBurnExceedsEntitlement = errors.New("yield: burn exceeds snapshot balance")
	ErrNotEligible            = errors.New("yield: counterparty not eligible")
	ErrSettlementExhausted    = errors.New("yield: claims exceed settlement")
	ErrEntitlementPledged     = errors.New("yield: entitlement backs pledged collateral")
)

type engineState interface {
	NextSettlementID() (uint64, error)
	GetSettlement(id uint64) (*SettlementBatch, bool, error)
	GetSettlementByAsset(asset string) (*SettlementBatch, bool, error)
	PutSettlement(batch *SettlementBatch) error
	GetClaim(settlementID uint64, holder common.Address) (*Claim, bool, error)
	PutClaim(claim *Claim) error
	GetHolding(asset string, holder common.Address) (*HoldingCheckpoint, bool, error)
	PutHolding(cp *HoldingCheckpoint) error
	GetSupply(asset string) (*SupplyCheckpoint, bool, error)
	PutSupply(cp *SupplyCheckpoint) error
	ScanHoldings(asset string, after *common.Address, limit int) ([]*HoldingCheckpoint, error)
}

type ledgerBank interface {
	Transfer(from, to common.Address, asset string, amount *big.Int) error
	Burn(from common.Address, asset string, amount *big.Int) error
	BurnLocked(custody, beneficiary common.Address, asset string, amount *big.Int) error
	USDAsset() string
}

// Eligibility is the compliance capability consulted before payouts.
type Eligibility interface {
	IsEligible(addr common.Address) bool
}

// Engine converts a lump-sum settlement into a time-weighted claim table and
// pays holders as they burn their tokens.
type Engine struct {
	state     engineState
	bank      ledgerBank
	gate      Eligibility
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	vault     common.Address
	batchSize int
	nowFn     func() uint64
}

// NewEngine creates a yield engine paying out of the given vault account.
func NewEngine(vault common.Address) *Engine {
	return &Engine{
		vault:     vault,
		batchSize: DefaultBatchSize,
		emitter:   events.NoopEmitter{},
		nowFn:     func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the asset ledger used for burns and payouts.
func (e *Engine) SetBank(bank ledgerBank) { e.bank = bank }

// SetEligibility configures the compliance gate.
func (e *Engine) SetEligibility(gate Eligibility) { e.gate = gate }

// SetPauses configures the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetBatchSize overrides the default distribution batch size.
func (e *Engine) SetBatchSize(size int) {
	if size > 0 {
		e.batchSize = size
	}
}

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Vault returns the account settlements are paid into and claims paid from.
func (e *Engine) Vault() common.Address { return e.vault }

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	return nativecommon.Guard(e.pauses, nativecommon.ModuleYield)
}

// RecordSettlement registers the maturity payout for an asset and moves the
// funds from the funder into the yield vault. It may only happen once per
// asset.
func (e *Engine) RecordSettlement(funder common.Address, asset string, total *big.Int) (*SettlementBatch, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	asset = normalizeAsset(asset)
	if asset == "" || asset == normalizeAsset(e.bank.USDAsset()) {
		return nil, ErrInvalidAsset
	}
	if total == nil || total.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, exists, err := e.state.GetSettlementByAsset(asset); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAlreadySettled
	}

	now := e.now()
	supply, ok, err := e.state.GetSupply(asset)
	if err != nil {
		return nil, err
	}
	if !ok || supply == nil || supply.Supply.Sign() == 0 {
		return nil, ErrNoSupply
	}
	totalSeconds := tokenSecondsAt(supply.TokenSeconds, supply.Supply, supply.LastUpdate, now)
	if totalSeconds.Sign() == 0 {
		return nil, ErrNoSupply
	}
	perToken, err := nativecommon.MulDivFloor(total, nativecommon.WadScale, supply.Supply)
	if err != nil {
		return nil, err
	}

	if err := e.bank.Transfer(funder, e.vault, e.bank.USDAsset(), total); err != nil {
		return nil, fmt.Errorf("fund settlement: %w", err)
	}

	id, err := e.state.NextSettlementID()
	if err != nil {
		return nil, err
	}
	batch := &SettlementBatch{
		ID:                id,
		Asset:             asset,
		TotalSettlement:   cloneBig(total),
		TotalTokenSupply:  cloneBig(supply.Supply),
		TotalTokenSeconds: totalSeconds,
		TotalAllocated:    big.NewInt(0),
		TotalClaimed:      big.NewInt(0),
		TotalTokensBurned: big.NewInt(0),
		YieldPerToken:     perToken,
		SettledAt:         now,
		Settled:           true,
	}
	if err := e.state.PutSettlement(batch); err != nil {
		return nil, err
	}
	e.emit(NewSettlementRecordedEvent(batch))
	return batch.Clone(), nil
}

// Distribute allocates entitlements for the next batch of holders. It returns
// the number of holders processed and whether the claim table is complete.
// Calling it after completion is a no-op.
func (e *Engine) Distribute(settlementID uint64, batchSize int) (int, bool, error) {
	if err := e.ready(); err != nil {
		return 0, false, err
	}
	batch, ok, err := e.state.GetSettlement(settlementID)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, ErrNoSettlementFound
	}
	if batch.Distributed {
		return 0, true, nil
	}
	if batchSize <= 0 {
		batchSize = e.batchSize
	}
	var after *common.Address
	if batch.CursorSet {
		cursor := batch.Cursor
		after = &cursor
	}
	holdings, err := e.state.ScanHoldings(batch.Asset, after, batchSize)
	if err != nil {
		return 0, false, err
	}
	processed := 0
	for _, cp := range holdings {
		claim, exists, err := e.state.GetClaim(batch.ID, cp.Holder)
		if err != nil {
			return 0, false, err
		}
		if !exists {
			claim, err = e.snapshotClaim(batch, cp.Holder)
			if err != nil {
				return 0, false, err
			}
		}
		if !claim.Distributed {
			entitlement, err := nativecommon.MulDivFloor(batch.TotalSettlement, claim.TokenSeconds, batch.TotalTokenSeconds)
			if err != nil {
				return 0, false, err
			}
			claim.Entitlement = entitlement
			claim.Distributed = true
			batch.TotalAllocated = new(big.Int).Add(batch.TotalAllocated, entitlement)
			if batch.TotalAllocated.Cmp(batch.TotalSettlement) > 0 {
				return 0, false, ErrSettlementExhausted
			}
			if err := e.state.PutClaim(claim); err != nil {
				return 0, false, err
			}
			processed++
		}
		batch.Cursor = cp.Holder
		batch.CursorSet = true
	}
	batch.HoldersProcessed += uint64(processed)
	done := len(holdings) < batchSize
	if done {
		batch.Distributed = true
	}
	if err := e.state.PutSettlement(batch); err != nil {
		return 0, false, err
	}
	e.emit(NewDistributedEvent(batch, processed, done))
	return processed, done, nil
}

// ClaimYield burns burnAmount of the holder's tokens and pays the matching
// share of the holder's entitlement. The share backing collateral the holder
// has pledged stays reserved for ClaimFor.
func (e *Engine) ClaimYield(holder common.Address, asset string, burnAmount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.gate != nil && !e.gate.IsEligible(holder) {
		return nil, ErrNotEligible
	}
	asset = normalizeAsset(asset)
	batch, claim, payout, err := e.prepareClaim(holder, asset, burnAmount, true)
	if err != nil {
		return nil, err
	}
	if err := e.bank.Burn(holder, asset, burnAmount); err != nil {
		return nil, err
	}
	return e.finishClaim(batch, claim, holder, burnAmount, payout)
}

// ClaimFor burns custodied tokens on behalf of their beneficiary and pays the
// proceeds to recipient. It is used by liquidation settlement.
func (e *Engine) ClaimFor(custody, beneficiary, recipient common.Address, asset string, burnAmount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.gate != nil && !e.gate.IsEligible(recipient) {
		return nil, ErrNotEligible
	}
	asset = normalizeAsset(asset)
	batch, claim, payout, err := e.prepareClaim(beneficiary, asset, burnAmount, false)
	if err != nil {
		return nil, err
	}
	if err := e.bank.BurnLocked(custody, beneficiary, asset, burnAmount); err != nil {
		return nil, err
	}
	return e.finishClaim(batch, claim, recipient, burnAmount, payout)
}

// PreviewClaim returns the USD a burn of custodied collateral would release
// without mutating state.
func (e *Engine) PreviewClaim(holder common.Address, asset string, burnAmount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, _, payout, err := e.prepareClaim(holder, normalizeAsset(asset), burnAmount, false)
	return payout, err
}

func (e *Engine) prepareClaim(holder common.Address, asset string, burnAmount *big.Int, free bool) (*SettlementBatch, *Claim, *big.Int, error) {
	if burnAmount == nil || burnAmount.Sign() <= 0 {
		return nil, nil, nil, ErrInvalidAmount
	}
	batch, ok, err := e.state.GetSettlementByAsset(asset)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok || !batch.Settled || batch.TotalSettlement.Sign() == 0 {
		return nil, nil, nil, ErrNoSettlementFound
	}
	claim, exists, err := e.state.GetClaim(batch.ID, holder)
	if err != nil {
		return nil, nil, nil, err
	}
	if !exists || !claim.Distributed {
		if batch.Distributed {
			return nil, nil, nil, ErrNoEntitlement
		}
		return nil, nil, nil, ErrDistributionPending
	}
	if claim.SnapshotBalance.Sign() == 0 {
		return nil, nil, nil, ErrNoEntitlement
	}
	burned := new(big.Int).Add(claim.Burned, burnAmount)
	if burned.Cmp(claim.SnapshotBalance) > 0 {
		return nil, nil, nil, ErrBurnExceedsEntitlement
	}
	if free {
		reserved, err := e.pledged(asset, holder)
		if err != nil {
			return nil, nil, nil, err
		}
		if new(big.Int).Add(burned, reserved).Cmp(claim.SnapshotBalance) > 0 {
			return nil, nil, nil, fmt.Errorf("%w: %s units reserved", ErrEntitlementPledged, reserved)
		}
	}
	cumulative := cloneBig(claim.Entitlement)
	if burned.Cmp(claim.SnapshotBalance) < 0 {
		cumulative, err = nativecommon.MulDivFloor(claim.Entitlement, burned, claim.SnapshotBalance)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	payout := new(big.Int).Sub(cumulative, claim.Claimed)
	if payout.Sign() < 0 {
		payout.SetInt64(0)
	}
	if new(big.Int).Add(batch.TotalClaimed, payout).Cmp(batch.TotalSettlement) > 0 {
		return nil, nil, nil, ErrSettlementExhausted
	}
	return batch, claim, payout, nil
}

func (e *Engine) pledged(asset string, holder common.Address) (*big.Int, error) {
	cp, ok, err := e.state.GetHolding(asset, holder)
	if err != nil {
		return nil, err
	}
	if !ok || cp == nil {
		return big.NewInt(0), nil
	}
	return cloneBig(cp.Pledged), nil
}

func (e *Engine) finishClaim(batch *SettlementBatch, claim *Claim, recipient common.Address, burnAmount, payout *big.Int) (*big.Int, error) {
	if payout.Sign() > 0 {
		if err := e.bank.Transfer(e.vault, recipient, e.bank.USDAsset(), payout); err != nil {
			return nil, fmt.Errorf("pay claim: %w", err)
		}
	}
	claim.Burned = new(big.Int).Add(claim.Burned, burnAmount)
	claim.Claimed = new(big.Int).Add(claim.Claimed, payout)
	batch.TotalClaimed = new(big.Int).Add(batch.TotalClaimed, payout)
	batch.TotalTokensBurned = new(big.Int).Add(batch.TotalTokensBurned, burnAmount)
	if err := e.state.PutClaim(claim); err != nil {
		return nil, err
	}
	if err := e.state.PutSettlement(batch); err != nil {
		return nil, err
	}
	e.emit(NewClaimedEvent(batch, claim, recipient, burnAmount, payout))
	return new(big.Int).Set(payout), nil
}

// GetSettlementInfo returns the settlement recorded for the asset.
func (e *Engine) GetSettlementInfo(asset string) (*SettlementBatch, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	batch, ok, err := e.state.GetSettlementByAsset(normalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSettlementFound
	}
	return batch.Clone(), nil
}

// GetSettlement returns the settlement by identifier.
func (e *Engine) GetSettlement(id uint64) (*SettlementBatch, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	batch, ok, err := e.state.GetSettlement(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSettlementFound
	}
	return batch.Clone(), nil
}

// GetClaim returns the holder's claim, projecting the snapshot for holders
// the distribution has not reached yet.
func (e *Engine) GetClaim(settlementID uint64, holder common.Address) (*Claim, error) {
	batch, err := e.GetSettlement(settlementID)
	if err != nil {
		return nil, err
	}
	claim, ok, err := e.state.GetClaim(settlementID, holder)
	if err != nil {
		return nil, err
	}
	if ok {
		return claim.Clone(), nil
	}
	return e.snapshotClaim(batch, holder)
}

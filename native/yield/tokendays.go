package yield

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var errNegativeHolding = errors.New("yield: holding would become negative")

// accumulate rolls balance x elapsed into the running token-seconds and moves
// the checkpoint to now. A clock that moves backwards accrues nothing.
func accumulate(tokenSeconds *big.Int, balance *big.Int, last, now uint64) (*big.Int, uint64) {
	out := cloneBig(tokenSeconds)
	if now <= last || balance == nil || balance.Sign() == 0 {
		if now > last {
			return out, now
		}
		return out, last
	}
	elapsed := new(big.Int).SetUint64(now - last)
	out.Add(out, new(big.Int).Mul(balance, elapsed))
	return out, now
}

// tokenSecondsAt projects a checkpoint to time at without mutating it.
func tokenSecondsAt(tokenSeconds, balance *big.Int, last, at uint64) *big.Int {
	out, _ := accumulate(tokenSeconds, balance, last, at)
	return out
}

// AdjustHolding implements bank.HoldingObserver.
func (e *Engine) AdjustHolding(asset string, holder common.Address, delta *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if delta == nil || delta.Sign() == 0 {
		return nil
	}
	if err := e.freezeIfSettled(asset, holder); err != nil {
		return err
	}
	now := e.now()
	cp, ok, err := e.state.GetHolding(asset, holder)
	if err != nil {
		return err
	}
	if !ok || cp == nil {
		cp = &HoldingCheckpoint{Asset: asset, Holder: holder, Balance: big.NewInt(0), TokenSeconds: big.NewInt(0), LastUpdate: now}
	}
	cp.TokenSeconds, cp.LastUpdate = accumulate(cp.TokenSeconds, cp.Balance, cp.LastUpdate, now)
	next := new(big.Int).Add(cloneBig(cp.Balance), delta)
	if next.Sign() < 0 {
		return errNegativeHolding
	}
	cp.Balance = next
	return e.state.PutHolding(cp)
}

// AdjustPledged implements bank.HoldingObserver.
func (e *Engine) AdjustPledged(asset string, holder common.Address, delta *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if delta == nil || delta.Sign() == 0 {
		return nil
	}
	cp, ok, err := e.state.GetHolding(asset, holder)
	if err != nil {
		return err
	}
	if !ok || cp == nil {
		return errNegativeHolding
	}
	next := new(big.Int).Add(cloneBig(cp.Pledged), delta)
	if next.Sign() < 0 {
		return errNegativeHolding
	}
	cp.Pledged = next
	return e.state.PutHolding(cp)
}

// AdjustSupply implements bank.HoldingObserver.
func (e *Engine) AdjustSupply(asset string, delta *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if delta == nil || delta.Sign() == 0 {
		return nil
	}
	now := e.now()
	cp, ok, err := e.state.GetSupply(asset)
	if err != nil {
		return err
	}
	if !ok || cp == nil {
		cp = &SupplyCheckpoint{Asset: asset, Supply: big.NewInt(0), TokenSeconds: big.NewInt(0), LastUpdate: now}
	}
	cp.TokenSeconds, cp.LastUpdate = accumulate(cp.TokenSeconds, cp.Supply, cp.LastUpdate, now)
	next := new(big.Int).Add(cloneBig(cp.Supply), delta)
	if next.Sign() < 0 {
		return errNegativeHolding
	}
	cp.Supply = next
	return e.state.PutSupply(cp)
}

// freezeIfSettled captures the holder's position at settlement time before
// the first post-settlement change so later transfers cannot rewrite history.
func (e *Engine) freezeIfSettled(asset string, holder common.Address) error {
	batch, ok, err := e.state.GetSettlementByAsset(asset)
	if err != nil || !ok {
		return err
	}
	if _, exists, err := e.state.GetClaim(batch.ID, holder); err != nil || exists {
		return err
	}
	claim, err := e.snapshotClaim(batch, holder)
	if err != nil {
		return err
	}
	return e.state.PutClaim(claim)
}

// snapshotClaim builds a claim from the live checkpoint, which is unchanged
// since the settlement time for any holder without a frozen claim.
func (e *Engine) snapshotClaim(batch *SettlementBatch, holder common.Address) (*Claim, error) {
	claim := &Claim{
		SettlementID:    batch.ID,
		Holder:          holder,
		TokenSeconds:    big.NewInt(0),
		SnapshotBalance: big.NewInt(0),
		Entitlement:     big.NewInt(0),
		Burned:          big.NewInt(0),
		Claimed:         big.NewInt(0),
	}
	cp, ok, err := e.state.GetHolding(batch.Asset, holder)
	if err != nil {
		return nil, err
	}
	if ok && cp != nil && cp.LastUpdate <= batch.SettledAt {
		claim.TokenSeconds = tokenSecondsAt(cp.TokenSeconds, cp.Balance, cp.LastUpdate, batch.SettledAt)
		claim.SnapshotBalance = cloneBig(cp.Balance)
	}
	return claim, nil
}

// HoldingTokenDays reports a holder's accumulated token-days up to now.
func (e *Engine) HoldingTokenDays(asset string, holder common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cp, ok, err := e.state.GetHolding(normalizeAsset(asset), holder)
	if err != nil {
		return nil, err
	}
	if !ok || cp == nil {
		return big.NewInt(0), nil
	}
	ts := tokenSecondsAt(cp.TokenSeconds, cp.Balance, cp.LastUpdate, e.now())
	return ts.Quo(ts, big.NewInt(SecondsPerDay)), nil
}

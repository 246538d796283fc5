package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core"
	"rwacredit/core/types"
	"rwacredit/native/credit"
	"rwacredit/native/yield"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type positionView struct {
	ID                 uint64    `json:"id"`
	Owner              string    `json:"owner"`
	CollateralAsset    string    `json:"collateralAsset"`
	CollateralAmount   string    `json:"collateralAmount"`
	CollateralValueUSD string    `json:"collateralValueUsd"`
	PrincipalBorrowed  string    `json:"principalBorrowed"`
	TokenType          string    `json:"tokenType"`
	CreditLine         bool      `json:"creditLine"`
	Active             bool      `json:"active"`
	State              string    `json:"state"`
	CreatedAt          uint64    `json:"createdAt"`
	LiquidatedAt       uint64    `json:"liquidatedAt,omitempty"`
	OutstandingDebt    string    `json:"outstandingDebt"`
	Plan               *planView `json:"plan,omitempty"`
}

type planView struct {
	LoanDuration        uint64 `json:"loanDuration"`
	Installments        uint64 `json:"installments"`
	InstallmentInterval uint64 `json:"installmentInterval"`
	NextPaymentDue      uint64 `json:"nextPaymentDue"`
	InstallmentsPaid    uint64 `json:"installmentsPaid"`
	MissedPayments      uint64 `json:"missedPayments"`
	Overdue             uint64 `json:"overdueInstallments"`
	Active              bool   `json:"active"`
	Defaulted           bool   `json:"defaulted"`
}

type poolView struct {
	TotalLiquidity      string `json:"totalLiquidity"`
	TotalBorrowed       string `json:"totalBorrowed"`
	TotalInterestEarned string `json:"totalInterestEarned"`
	Available           string `json:"available"`
}

type settlementView struct {
	ID                uint64 `json:"id"`
	Asset             string `json:"asset"`
	TotalSettlement   string `json:"totalSettlement"`
	TotalTokenSupply  string `json:"totalTokenSupply"`
	TotalTokenSeconds string `json:"totalTokenSeconds"`
	TotalAllocated    string `json:"totalAllocated"`
	TotalClaimed      string `json:"totalClaimed"`
	TotalTokensBurned string `json:"totalTokensBurned"`
	YieldPerToken     string `json:"yieldPerToken"`
	SettledAt         uint64 `json:"settledAt"`
	Distributed       bool   `json:"distributed"`
	HoldersProcessed  uint64 `json:"holdersProcessed"`
}

type claimView struct {
	SettlementID    uint64 `json:"settlementId"`
	Holder          string `json:"holder"`
	TokenDays       string `json:"tokenDays"`
	SnapshotBalance string `json:"snapshotBalance"`
	Entitlement     string `json:"entitlement"`
	Burned          string `json:"burned"`
	Claimed         string `json:"claimed"`
	Distributed     bool   `json:"distributed"`
}

type receiptView struct {
	TxRef  string         `json:"txRef"`
	Events []*types.Event `json:"events"`
	Result interface{}    `json:"result,omitempty"`
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toPositionView(p *credit.Position, plan *credit.RepaymentPlan, debt *big.Int) positionView {
	view := positionView{
		ID:                 p.ID,
		Owner:              p.Owner.Hex(),
		CollateralAsset:    p.CollateralAsset,
		CollateralAmount:   amount(p.CollateralAmount),
		CollateralValueUSD: amount(p.CollateralValueUSD),
		PrincipalBorrowed:  amount(p.PrincipalBorrowed),
		TokenType:          string(p.TokenType),
		CreditLine:         p.CreditLine,
		Active:             p.Active,
		State:              string(p.State),
		CreatedAt:          p.CreatedAt,
		LiquidatedAt:       p.LiquidatedAt,
		OutstandingDebt:    amount(debt),
	}
	if plan != nil {
		view.Plan = &planView{
			LoanDuration:        plan.LoanDuration,
			Installments:        plan.Installments,
			InstallmentInterval: plan.InstallmentInterval,
			NextPaymentDue:      plan.NextPaymentDue,
			InstallmentsPaid:    plan.InstallmentsPaid,
			MissedPayments:      plan.MissedPayments,
			Overdue:             plan.Overdue,
			Active:              plan.Active,
			Defaulted:           plan.Defaulted,
		}
	}
	return view
}

func toPoolView(p *credit.Pool) poolView {
	return poolView{
		TotalLiquidity:      amount(p.TotalLiquidity),
		TotalBorrowed:       amount(p.TotalBorrowed),
		TotalInterestEarned: amount(p.TotalInterestEarned),
		Available:           amount(p.Available()),
	}
}

func toSettlementView(b *yield.SettlementBatch) settlementView {
	return settlementView{
		ID:                b.ID,
		Asset:             b.Asset,
		TotalSettlement:   amount(b.TotalSettlement),
		TotalTokenSupply:  amount(b.TotalTokenSupply),
		TotalTokenSeconds: amount(b.TotalTokenSeconds),
		TotalAllocated:    amount(b.TotalAllocated),
		TotalClaimed:      amount(b.TotalClaimed),
		TotalTokensBurned: amount(b.TotalTokensBurned),
		YieldPerToken:     amount(b.YieldPerToken),
		SettledAt:         b.SettledAt,
		Distributed:       b.Distributed,
		HoldersProcessed:  b.HoldersProcessed,
	}
}

func toClaimView(c *yield.Claim) claimView {
	return claimView{
		SettlementID:    c.SettlementID,
		Holder:          c.Holder.Hex(),
		TokenDays:       c.TokenDays().String(),
		SnapshotBalance: amount(c.SnapshotBalance),
		Entitlement:     amount(c.Entitlement),
		Burned:          amount(c.Burned),
		Claimed:         amount(c.Claimed),
		Distributed:     c.Distributed,
	}
}

func toReceiptView(receipt *core.Receipt, result interface{}) receiptView {
	view := receiptView{Result: result, Events: []*types.Event{}}
	if receipt != nil {
		view.TxRef = receipt.TxRef
		if receipt.Events != nil {
			view.Events = receipt.Events
		}
	}
	return view
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a decimal integer", errBadRequest, field)
	}
	return value, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, field)
	}
	return common.HexToAddress(raw), nil
}

func parseID(field, raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errBadRequest, field)
	}
	return id, nil
}

package server

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"rwacredit/core"
	"rwacredit/gateway/middleware"
	"rwacredit/integrations/exports"
	nativecommon "rwacredit/native/common"
	"rwacredit/native/credit"
)

type openPositionRequest struct {
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	ValueUSD   string `json:"valueUsd"`
	TokenType  string `json:"tokenType"`
	CreditLine bool   `json:"creditLine"`
}

type borrowRequest struct {
	Amount       string `json:"amount"`
	Duration     uint64 `json:"duration"`
	Installments uint64 `json:"installments"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type purchaseRequest struct {
	Buyer  string `json:"buyer"`
	Amount string `json:"amount"`
}

type claimRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type transferRequest struct {
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type settlementRequest struct {
	Funder string `json:"funder"`
	Asset  string `json:"asset"`
	Total  string `json:"total"`
}

type distributeRequest struct {
	BatchSize int `json:"batchSize"`
}

type allowRequest struct {
	Address string `json:"address"`
}

type mintRequest struct {
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func pathID(r *http.Request, name string) (uint64, error) {
	return parseID(name, chi.URLParam(r, name))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	position, err := s.ledger.Position(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	plan, err := s.ledger.Plan(r.Context(), id)
	if err != nil && !errors.Is(err, credit.ErrPlanNotActive) {
		s.writeError(w, r, err)
		return
	}
	debt, err := s.ledger.OutstandingDebt(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionView(position, plan, debt))
}

func (s *Server) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	debt, err := s.ledger.OutstandingDebt(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positionId": id, "outstandingDebt": amount(debt)})
}

func (s *Server) handleRepayments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "repayment history unavailable", Class: string(credit.ClassInternal)})
		return
	}
	if _, err := s.ledger.Position(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.history.Repayments(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	splits := exports.SplitsFromEvents(evts)
	switch format(r) {
	case "csv":
		data, checksum, err := exports.RepaymentsCSV(splits)
		writeExport(w, s, r, "text/csv", data, checksum, err)
	case "jsonl":
		data, checksum, err := exports.RepaymentsJSONL(splits)
		writeExport(w, s, r, "application/x-ndjson", data, checksum, err)
	case "parquet":
		data, checksum, err := exports.RepaymentsParquet(splits)
		writeExport(w, s, r, "application/vnd.apache.parquet", data, checksum, err)
	default:
		writeJSON(w, http.StatusOK, splits)
	}
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.ledger.Pool(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolView(pool))
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	batch, err := s.ledger.SettlementInfo(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementView(batch))
}

func (s *Server) handleExportClaims(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ref")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, err := s.ledger.Settlement(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	claims, err := s.ledger.ClaimTable(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch format(r) {
	case "csv":
		data, checksum, err := exports.ClaimsCSV(batch, claims)
		writeExport(w, s, r, "text/csv", data, checksum, err)
	case "jsonl":
		data, checksum, err := exports.ClaimsJSONL(batch, claims)
		writeExport(w, s, r, "application/x-ndjson", data, checksum, err)
	case "parquet":
		data, checksum, err := exports.ClaimsParquet(batch, claims)
		writeExport(w, s, r, "application/vnd.apache.parquet", data, checksum, err)
	default:
		views := make([]claimView, 0, len(claims))
		for _, claim := range claims {
			views = append(views, toClaimView(claim))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ref")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	holder, err := parseAddress("holder", chi.URLParam(r, "holder"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	claim, err := s.ledger.Claim(r.Context(), id, holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimView(claim))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("addr", chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "asset")))
	balance, err := s.ledger.BalanceOf(r.Context(), addr, asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := map[string]string{"address": addr.Hex(), "asset": asset, "balance": amount(balance)}
	if asset != strings.ToUpper(s.ledger.Config().USDAsset) {
		tokenDays, err := s.ledger.TokenDays(r.Context(), addr, asset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		view["tokenDays"] = amount(tokenDays)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req openPositionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("valueUsd", req.ValueUSD)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenType, err := credit.ParseTokenType(req.TokenType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, receipt, err := s.ledger.OpenPosition(r.Context(), owner, req.Asset, collateral, value, tokenType, req.CreditLine)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptView(receipt, map[string]uint64{"positionId": id}))
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	id, owner, ok := s.positionCall(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.Borrow(r.Context(), id, owner, value, req.Duration, req.Installments)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	id, payer, ok := s.positionCall(w, r)
	if !ok {
		return
	}
	value, err := s.decodeAmount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.Repay(r.Context(), id, payer, value)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, owner, ok := s.positionCall(w, r)
	if !ok {
		return
	}
	receipt, err := s.ledger.WithdrawCollateral(r.Context(), id, owner)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleClaimYield(w http.ResponseWriter, r *http.Request) {
	holder, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	burn, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payout, receipt, err := s.ledger.ClaimYield(r.Context(), holder, req.Asset, burn)
	s.writeReceipt(w, r, receipt, map[string]string{"payout": amount(payout)}, err)
}

func (s *Server) handleFundPool(w http.ResponseWriter, r *http.Request) {
	lender, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := s.decodeAmount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.FundPool(r.Context(), lender, value)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleWithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	lender, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := s.decodeAmount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.WithdrawLiquidity(r.Context(), lender, value)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.Transfer(r.Context(), from, to, req.Asset, value)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleMarkMissed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.MarkMissedPayment(r.Context(), id)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.LiquidatePosition(r.Context(), id)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.SettleLiquidation(r.Context(), id)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	buyer, err := parseAddress("buyer", req.Buyer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.PurchaseAndSettleLiquidation(r.Context(), id, buyer, value)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleRecordSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	funder, err := parseAddress("funder", req.Funder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := parseAmount("total", req.Total)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, receipt, err := s.ledger.RecordSettlement(r.Context(), funder, req.Asset, total)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptView(receipt, toSettlementView(batch)))
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ref")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req := distributeRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	size := req.BatchSize
	if size <= 0 {
		size = s.batchSize
	}
	processed, done, receipt, err := s.ledger.Distribute(r.Context(), id, size)
	s.writeReceipt(w, r, receipt, map[string]interface{}{"processed": processed, "done": done}, err)
}

func (s *Server) handleAllow(w http.ResponseWriter, r *http.Request) {
	var req allowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.Allow(r.Context(), addr)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("addr", chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.Revoke(r.Context(), addr)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.Mint(r.Context(), to, req.Asset, value)
	s.writeReceipt(w, r, receipt, nil, err)
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	module := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "module")))
	switch module {
	case nativecommon.ModuleCredit, nativecommon.ModuleYield, nativecommon.ModuleBank:
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown module %q", errBadRequest, module))
		return
	}
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.ledger.Pauses().Set(module, req.Paused)
	s.logger.Info("module pause updated", "module", module, "paused", req.Paused, "subject", subjectOf(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{"module": module, "paused": req.Paused})
}

// positionCall resolves the position path parameter and the calling address.
func (s *Server) positionCall(w http.ResponseWriter, r *http.Request) (uint64, common.Address, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return 0, common.Address{}, false
	}
	addr, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return 0, common.Address{}, false
	}
	return id, addr, true
}

func (s *Server) decodeAmount(r *http.Request) (*big.Int, error) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return parseAmount("amount", req.Amount)
}

func (s *Server) writeReceipt(w http.ResponseWriter, r *http.Request, receipt *core.Receipt, result interface{}, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptView(receipt, result))
}

func writeExport(w http.ResponseWriter, s *Server, r *http.Request, contentType string, data []byte, checksum string, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-SHA256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func format(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
}

func subjectOf(r *http.Request) string {
	return middleware.Subject(r.Context())
}

package exports

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"rwacredit/core/types"
	"rwacredit/native/credit"
	"rwacredit/native/yield"
)

func sampleClaims() (*yield.SettlementBatch, []*yield.Claim) {
	batch := &yield.SettlementBatch{ID: 4, Asset: "TBILL", SettledAt: 1_700_000_000}
	claims := []*yield.Claim{{
		SettlementID:    4,
		Holder:          common.BytesToAddress([]byte{0x0a}),
		TokenSeconds:    big.NewInt(3 * yield.SecondsPerDay * 100),
		SnapshotBalance: big.NewInt(100),
		Entitlement:     big.NewInt(3_000),
		Burned:          big.NewInt(40),
		Claimed:         big.NewInt(1_200),
		Distributed:     true,
	}, nil}
	return batch, claims
}

func TestClaimsCSV(t *testing.T) {
	batch, claims := sampleClaims()
	data, checksum, err := ClaimsCSV(batch, claims)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	if lines[0] != "settlement_id,asset,holder,token_days,snapshot_balance,entitlement,burned,claimed,settled_at" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], ",TBILL,") || !strings.Contains(lines[1], ",300,100,3000,40,1200,") {
		t.Fatalf("unexpected row %q", lines[1])
	}
}

func TestClaimsJSONLChecksumIsStable(t *testing.T) {
	batch, claims := sampleClaims()
	first, sumA, err := ClaimsJSONL(batch, claims)
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	_, sumB, err := ClaimsJSONL(batch, claims)
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if sumA != sumB {
		t.Fatalf("checksum changed between runs")
	}
	if !strings.Contains(string(first), `"entitlement":"3000"`) {
		t.Fatalf("unexpected payload %s", first)
	}
}

func TestRepaymentSplitsFromEvents(t *testing.T) {
	evts := []*types.Event{
		{Type: credit.EventTypeLoanRepaid, TxRef: "a", Timestamp: 10, Attributes: map[string]string{
			"positionId": "1", "principalPaid": "50000000", "interestPaid": "100000000",
		}},
		{Type: credit.EventTypePoolFunded, TxRef: "b"},
		{Type: credit.EventTypeLiquidationSettled, TxRef: "c", Timestamp: 20, Attributes: map[string]string{
			"positionId": "2", "strategy": "purchase", "principalPaid": "600", "interestPaid": "1", "refund": "49",
		}},
	}
	splits := SplitsFromEvents(evts)
	if len(splits) != 2 {
		t.Fatalf("expected 2 splits, got %d", len(splits))
	}
	if splits[0].Kind != "repayment" || splits[0].Refund != "0" || splits[0].InterestPaid != "100000000" {
		t.Fatalf("unexpected repayment split %+v", splits[0])
	}
	if splits[1].Kind != "liquidation:purchase" || splits[1].PositionID != 2 {
		t.Fatalf("unexpected liquidation split %+v", splits[1])
	}

	data, _, err := RepaymentsCSV(splits)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if !strings.Contains(string(data), "2,liquidation:purchase,c,600,1,49,") {
		t.Fatalf("unexpected csv %s", data)
	}
	data, _, err = RepaymentsJSONL(splits)
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if strings.Count(string(data), "\n") != 2 {
		t.Fatalf("expected two json lines, got %s", data)
	}
}

func TestParquetExportsCarryMagic(t *testing.T) {
	batch, claims := sampleClaims()
	data, checksum, err := ClaimsParquet(batch, claims)
	if err != nil {
		t.Fatalf("claims parquet: %v", err)
	}
	if checksum == "" || len(data) < 8 {
		t.Fatalf("expected non-empty parquet payload")
	}
	if string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("missing parquet magic")
	}

	splits := []RepaymentSplit{{PositionID: 2, Kind: "repayment", TxRef: "tx", PrincipalPaid: "10", InterestPaid: "1", Refund: "0"}}
	data, _, err = RepaymentsParquet(splits)
	if err != nil {
		t.Fatalf("repayments parquet: %v", err)
	}
	if string(data[:4]) != "PAR1" {
		t.Fatalf("missing parquet magic")
	}
}

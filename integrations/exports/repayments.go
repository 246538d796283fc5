package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strconv"
	"time"

	"rwacredit/core/types"
	"rwacredit/native/credit"
)

// RepaymentSplit is one cash flow into the pool: a borrower repayment or a
// liquidation settlement.
type RepaymentSplit struct {
	PositionID    uint64    `json:"positionId"`
	Kind          string    `json:"kind"`
	TxRef         string    `json:"txRef"`
	PrincipalPaid string    `json:"principalPaid"`
	InterestPaid  string    `json:"interestPaid"`
	Refund        string    `json:"refund"`
	At            time.Time `json:"at"`
}

// SplitsFromEvents extracts repayment splits from committed events, skipping
// unrelated types.
func SplitsFromEvents(evts []*types.Event) []RepaymentSplit {
	out := make([]RepaymentSplit, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		var kind string
		switch evt.Type {
		case credit.EventTypeLoanRepaid:
			kind = "repayment"
		case credit.EventTypeLiquidationSettled:
			kind = "liquidation:" + evt.Attr("strategy")
		default:
			continue
		}
		id, _ := strconv.ParseUint(evt.Attr("positionId"), 10, 64)
		refund := evt.Attr("refund")
		if refund == "" {
			refund = "0"
		}
		out = append(out, RepaymentSplit{
			PositionID:    id,
			Kind:          kind,
			TxRef:         evt.TxRef,
			PrincipalPaid: evt.Attr("principalPaid"),
			InterestPaid:  evt.Attr("interestPaid"),
			Refund:        refund,
			At:            time.Unix(int64(evt.Timestamp), 0).UTC(),
		})
	}
	return out
}

// RepaymentsCSV renders repayment splits as CSV with a checksum.
func RepaymentsCSV(splits []RepaymentSplit) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"position_id", "kind", "tx_ref", "principal_paid", "interest_paid", "refund", "at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, split := range splits {
		record := []string{
			strconv.FormatUint(split.PositionID, 10),
			split.Kind,
			split.TxRef,
			split.PrincipalPaid,
			split.InterestPaid,
			split.Refund,
			split.At.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

// RepaymentsJSONL renders repayment splits as JSON Lines with a checksum.
func RepaymentsJSONL(splits []RepaymentSplit) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, split := range splits {
		if err := encoder.Encode(split); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func checksummed(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

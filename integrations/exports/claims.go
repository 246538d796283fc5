package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"rwacredit/native/yield"
)

var claimHeader = []string{
	"settlement_id", "asset", "holder", "token_days", "snapshot_balance",
	"entitlement", "burned", "claimed", "settled_at",
}

func claimRecord(batch *yield.SettlementBatch, claim *yield.Claim) []string {
	return []string{
		strconv.FormatUint(claim.SettlementID, 10),
		batch.Asset,
		claim.Holder.Hex(),
		claim.TokenDays().String(),
		amountString(claim.SnapshotBalance),
		amountString(claim.Entitlement),
		amountString(claim.Burned),
		amountString(claim.Claimed),
		time.Unix(int64(batch.SettledAt), 0).UTC().Format(time.RFC3339),
	}
}

// ClaimsCSV renders a settlement's claim table as CSV and returns the payload
// alongside its SHA-256 checksum.
func ClaimsCSV(batch *yield.SettlementBatch, claims []*yield.Claim) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(claimHeader); err != nil {
		return nil, "", err
	}
	for _, claim := range claims {
		if claim == nil {
			continue
		}
		if err := writer.Write(claimRecord(batch, claim)); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

// ClaimsJSONL renders a settlement's claim table as JSON Lines.
func ClaimsJSONL(batch *yield.SettlementBatch, claims []*yield.Claim) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, claim := range claims {
		if claim == nil {
			continue
		}
		record := claimRecord(batch, claim)
		row := make(map[string]string, len(claimHeader))
		for i, key := range claimHeader {
			row[key] = record[i]
		}
		if err := encoder.Encode(row); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}

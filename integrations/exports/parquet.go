package exports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"rwacredit/native/yield"
)

// Amounts are kept as decimal strings: base units overflow INT64.
type claimParquetRow struct {
	SettlementID    int64  `parquet:"name=settlement_id, type=INT64"`
	Asset           string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Holder          string `parquet:"name=holder, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenDays       string `parquet:"name=token_days, type=BYTE_ARRAY, convertedtype=UTF8"`
	SnapshotBalance string `parquet:"name=snapshot_balance, type=BYTE_ARRAY, convertedtype=UTF8"`
	Entitlement     string `parquet:"name=entitlement, type=BYTE_ARRAY, convertedtype=UTF8"`
	Burned          string `parquet:"name=burned, type=BYTE_ARRAY, convertedtype=UTF8"`
	Claimed         string `parquet:"name=claimed, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledAt       string `parquet:"name=settled_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type repaymentParquetRow struct {
	PositionID    int64  `parquet:"name=position_id, type=INT64"`
	Kind          string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxRef         string `parquet:"name=tx_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	PrincipalPaid string `parquet:"name=principal_paid, type=BYTE_ARRAY, convertedtype=UTF8"`
	InterestPaid  string `parquet:"name=interest_paid, type=BYTE_ARRAY, convertedtype=UTF8"`
	Refund        string `parquet:"name=refund, type=BYTE_ARRAY, convertedtype=UTF8"`
	At            string `parquet:"name=at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ClaimsParquet renders a settlement's claim table as a snappy-compressed
// Parquet file.
func ClaimsParquet(batch *yield.SettlementBatch, claims []*yield.Claim) ([]byte, string, error) {
	rows := make([]interface{}, 0, len(claims))
	for _, claim := range claims {
		if claim == nil {
			continue
		}
		record := claimRecord(batch, claim)
		rows = append(rows, &claimParquetRow{
			SettlementID:    int64(claim.SettlementID),
			Asset:           record[1],
			Holder:          record[2],
			TokenDays:       record[3],
			SnapshotBalance: record[4],
			Entitlement:     record[5],
			Burned:          record[6],
			Claimed:         record[7],
			SettledAt:       record[8],
		})
	}
	return writeParquet(new(claimParquetRow), rows)
}

// RepaymentsParquet renders repayment splits as a Parquet file.
func RepaymentsParquet(splits []RepaymentSplit) ([]byte, string, error) {
	rows := make([]interface{}, 0, len(splits))
	for _, split := range splits {
		rows = append(rows, &repaymentParquetRow{
			PositionID:    int64(split.PositionID),
			Kind:          split.Kind,
			TxRef:         split.TxRef,
			PrincipalPaid: split.PrincipalPaid,
			InterestPaid:  split.InterestPaid,
			Refund:        split.Refund,
			At:            split.At.UTC().Format(time.RFC3339),
		})
	}
	return writeParquet(new(repaymentParquetRow), rows)
}

func writeParquet(schema interface{}, rows []interface{}) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, "", fmt.Errorf("exports: parquet row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: finalize parquet: %w", err)
	}
	return checksummed(buffer.Bytes())
}

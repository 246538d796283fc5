package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"rwacredit/core/events"
	"rwacredit/core/types"
	"rwacredit/native/credit"
	"rwacredit/native/yield"
)

// Indexer mirrors committed ledger events into a relational store. It is a
// read model only: failures are logged and never reach the ledger.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to dsn. Postgres URLs and key/value DSNs use the postgres
// driver; anything else is treated as a sqlite path.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("indexer: dsn required")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}

// New migrates the schema and returns an indexer over db.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&PositionRow{}, &LoanEventRow{}, &SettlementRow{}, &ClaimRow{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: log}, nil
}

// DB exposes the underlying handle for read queries.
func (ix *Indexer) DB() *gorm.DB { return ix.db }

// Run consumes the hub until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context, hub *events.Hub) {
	ch, cancel := hub.Subscribe(1024)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := ix.Apply(ctx, evt); err != nil {
				ix.logger.Error("indexer: apply event failed",
					"type", evt.Type, "txref", evt.TxRef, "sequence", evt.Sequence, "error", err)
			}
		}
	}
}

// Apply folds one committed event into the mirror.
func (ix *Indexer) Apply(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	db := ix.db.WithContext(ctx)
	at := time.Unix(int64(evt.Timestamp), 0).UTC()
	switch {
	case strings.HasPrefix(evt.Type, "credit."):
		return db.Transaction(func(tx *gorm.DB) error {
			fresh, err := recordLoanEvent(tx, evt, at)
			if err != nil || !fresh {
				return err
			}
			return applyCredit(tx, evt, at)
		})
	case evt.Type == yield.EventTypeSettlementRecorded:
		return applySettlementRecorded(db, evt, at)
	case evt.Type == yield.EventTypeDistributed:
		return applyDistributed(db, evt, at)
	case evt.Type == yield.EventTypeClaimed:
		return db.Transaction(func(tx *gorm.DB) error { return applyClaimed(tx, evt, at) })
	default:
		return nil
	}
}

func positionID(evt *types.Event) uint64 {
	id, _ := strconv.ParseUint(evt.Attr("positionId"), 10, 64)
	return id
}

// recordLoanEvent stores the event and reports whether it was new.
func recordLoanEvent(tx *gorm.DB, evt *types.Event, at time.Time) (bool, error) {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return false, err
	}
	row := LoanEventRow{
		Sequence:   evt.Sequence,
		PositionID: positionID(evt),
		Type:       evt.Type,
		TxRef:      evt.TxRef,
		Attributes: string(attrs),
		At:         at,
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	return result.RowsAffected > 0, result.Error
}

func applyCredit(tx *gorm.DB, evt *types.Event, at time.Time) error {
	id := positionID(evt)
	if id == 0 {
		return nil
	}
	if evt.Type == credit.EventTypePositionOpened {
		creditLine, _ := strconv.ParseBool(evt.Attr("creditLine"))
		row := PositionRow{
			ID:          id,
			Owner:       evt.Attr("owner"),
			Asset:       evt.Attr("asset"),
			Amount:      evt.Attr("amount"),
			ValueUSD:    evt.Attr("valueUSD"),
			TokenType:   evt.Attr("tokenType"),
			CreditLine:  creditLine,
			State:       string(credit.StateActive),
			Principal:   "0",
			Outstanding: "0",
			OpenedTxRef: evt.TxRef,
			UpdatedAt:   at,
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	}
	updates := map[string]interface{}{"updated_at": at}
	switch evt.Type {
	case credit.EventTypeLoanBorrowed:
		updates["principal"] = evt.Attr("principal")
		updates["outstanding"] = evt.Attr("principal")
	case credit.EventTypeLoanRepaid:
		updates["outstanding"] = evt.Attr("remaining")
	case credit.EventTypePlanDefaulted:
		updates["state"] = string(credit.StateDefaulted)
	case credit.EventTypeCreditLineRevoked:
		updates["credit_line"] = false
	case credit.EventTypeLiquidationStarted:
		updates["state"] = string(credit.StateInLiquidation)
		updates["outstanding"] = evt.Attr("debt")
	case credit.EventTypeLiquidationSettled:
		updates["state"] = string(credit.StateSettled)
		updates["outstanding"] = "0"
	case credit.EventTypePositionClosed:
		updates["state"] = string(credit.StateClosed)
	default:
		return nil
	}
	return tx.Model(&PositionRow{}).Where("id = ?", id).Updates(updates).Error
}

func settlementID(evt *types.Event) uint64 {
	id, _ := strconv.ParseUint(evt.Attr("settlementId"), 10, 64)
	return id
}

func applySettlementRecorded(db *gorm.DB, evt *types.Event, at time.Time) error {
	settledAt, _ := strconv.ParseUint(evt.Attr("settledAt"), 10, 64)
	row := SettlementRow{
		ID:            settlementID(evt),
		Asset:         evt.Attr("asset"),
		Total:         evt.Attr("total"),
		Supply:        evt.Attr("supply"),
		YieldPerToken: evt.Attr("yieldPerToken"),
		Allocated:     "0",
		Claimed:       "0",
		SettledAt:     time.Unix(int64(settledAt), 0).UTC(),
		UpdatedAt:     at,
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func applyDistributed(db *gorm.DB, evt *types.Event, at time.Time) error {
	done, _ := strconv.ParseBool(evt.Attr("done"))
	return db.Model(&SettlementRow{}).Where("id = ?", settlementID(evt)).Updates(map[string]interface{}{
		"allocated":   evt.Attr("allocated"),
		"distributed": done,
		"updated_at":  at,
	}).Error
}

func applyClaimed(tx *gorm.DB, evt *types.Event, at time.Time) error {
	id := settlementID(evt)
	holder := evt.Attr("holder")
	var row ClaimRow
	err := tx.Where("settlement_id = ? AND holder = ?", id, holder).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = ClaimRow{SettlementID: id, Holder: holder, Burned: "0", Paid: "0"}
	case err != nil:
		return err
	case evt.Sequence <= row.LastSequence:
		return nil
	}
	row.LastSequence = evt.Sequence
	row.Burned = addDecimal(row.Burned, evt.Attr("burned"))
	row.Paid = addDecimal(row.Paid, evt.Attr("paid"))
	row.Claims++
	row.UpdatedAt = at
	if err := tx.Save(&row).Error; err != nil {
		return err
	}
	return tx.Model(&SettlementRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"claimed":    evt.Attr("totalClaimed"),
		"updated_at": at,
	}).Error
}

func addDecimal(a, b string) string {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		x = new(big.Int)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		y = new(big.Int)
	}
	return x.Add(x, y).String()
}

// Repayments returns the committed repayment and liquidation settlement
// events of a position in commit order.
func (ix *Indexer) Repayments(ctx context.Context, id uint64) ([]*types.Event, error) {
	var rows []LoanEventRow
	err := ix.db.WithContext(ctx).
		Where("position_id = ? AND type IN ?", id, []string{credit.EventTypeLoanRepaid, credit.EventTypeLiquidationSettled}).
		Order("sequence").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.Event, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("indexer: decode event %d: %w", row.Sequence, err)
		}
		out = append(out, &types.Event{
			Type:       row.Type,
			TxRef:      row.TxRef,
			Sequence:   row.Sequence,
			Timestamp:  uint64(row.At.Unix()),
			Attributes: attrs,
		})
	}
	return out, nil
}

// Position returns the mirrored position row.
func (ix *Indexer) Position(ctx context.Context, id uint64) (*PositionRow, error) {
	var row PositionRow
	if err := ix.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// PositionsByOwner lists mirrored positions owned by owner.
func (ix *Indexer) PositionsByOwner(ctx context.Context, owner string) ([]PositionRow, error) {
	var rows []PositionRow
	err := ix.db.WithContext(ctx).Where("owner = ?", owner).Order("id").Find(&rows).Error
	return rows, err
}

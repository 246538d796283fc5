package indexer

import "time"

// PositionRow mirrors the latest known state of a position.
type PositionRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement:false"`
	Owner       string `gorm:"index;size:42"`
	Asset       string `gorm:"index"`
	Amount      string
	ValueUSD    string
	TokenType   string
	CreditLine  bool
	State       string `gorm:"index"`
	Principal   string
	Outstanding string
	OpenedTxRef string
	UpdatedAt   time.Time
}

// LoanEventRow stores every committed credit event for audit and exports.
// Sequence is the ledger-wide event sequence and doubles as the dedupe key.
type LoanEventRow struct {
	Sequence   uint64 `gorm:"primaryKey;autoIncrement:false"`
	PositionID uint64 `gorm:"index"`
	Type       string `gorm:"index"`
	TxRef      string `gorm:"index"`
	Attributes string
	At         time.Time
}

// SettlementRow mirrors a recorded asset settlement.
type SettlementRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement:false"`
	Asset         string `gorm:"uniqueIndex"`
	Total         string
	Supply        string
	YieldPerToken string
	Allocated     string
	Claimed       string
	Distributed   bool
	SettledAt     time.Time
	UpdatedAt     time.Time
}

// ClaimRow accumulates burns and payouts per holder and settlement.
type ClaimRow struct {
	SettlementID uint64 `gorm:"primaryKey;autoIncrement:false"`
	Holder       string `gorm:"primaryKey;size:42"`
	Burned       string
	Paid         string
	Claims       int
	LastSequence uint64
	UpdatedAt    time.Time
}

package types

import (
	"time"

	"gorm.io/gorm"
)

// System account holders. These are seeded at migration time and receive
// the platform's share of settlement fees.
const (
	SystemAccountTreasury = "treasury"
	SystemAccountBurn     = "burn"
)

// Ledger entry types, one per balance movement.
const (
	EntryTypeCredit      = "CREDIT"
	EntryTypeLock        = "LOCK"
	EntryTypeUnlock      = "UNLOCK"
	EntryTypeEscrowHold  = "ESCROW_HOLD"
	EntryTypeRelease     = "RELEASE"
	EntryTypeRefund      = "REFUND"
	EntryTypeFee         = "FEE"
	EntryTypeBurn        = "BURN"
	EntryTypeTransferIn  = "TRANSFER_IN"
	EntryTypeTransferOut = "TRANSFER_OUT"
)

// Account tracks a user's token balances across the three buckets.
// Available funds can be spent, locked funds back standing bids, and
// pending funds sit in escrow awaiting settlement. A frozen account
// rejects every mutation until an operator reconciles it.
type Account struct {
	gorm.Model `json:"-"`
	AccountID  string    `json:"account_id" gorm:"uniqueIndex"`
	UserID     string    `json:"user_id" gorm:"uniqueIndex"`
	Available  int64     `json:"available"`
	Locked     int64     `json:"locked"`
	Pending    int64     `json:"pending"`
	Frozen     bool      `json:"frozen"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LedgerEntry is an append-only record of a single balance movement.
// Amounts are signed: credits positive, debits negative.
type LedgerEntry struct {
	gorm.Model `json:"-"`
	EntryID    string    `json:"entry_id" gorm:"uniqueIndex"`
	UserID     string    `json:"user_id" gorm:"index"`
	Type       string    `json:"type"`
	Amount     int64     `json:"amount"`
	Reference  string    `json:"reference" gorm:"index"`
	Memo       string    `json:"memo"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

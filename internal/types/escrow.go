package types

import (
	"time"

	"gorm.io/gorm"
)

// Escrow lifecycle states. Funds move available -> locked at bid time,
// locked -> pending when the escrow is funded, and leave pending only
// through a completed settlement.
const (
	EscrowStatusPending   = "PENDING"
	EscrowStatusFunded    = "FUNDED"
	EscrowStatusDelivered = "DELIVERED"
	EscrowStatusDisputed  = "DISPUTED"
	EscrowStatusCompleted = "COMPLETED"
)

// Settlement outcomes recorded on a completed escrow.
const (
	EscrowOutcomeReleased     = "RELEASED"
	EscrowOutcomeAutoReleased = "AUTO_RELEASED"
	EscrowOutcomeRefunded     = "REFUNDED"
	EscrowOutcomeSplit        = "SPLIT"
)

// Dispute lifecycle states.
const (
	DisputeStatusOpen          = "OPEN"
	DisputeStatusInvestigating = "INVESTIGATING"
	DisputeStatusResolved      = "RESOLVED"
	DisputeStatusClosed        = "CLOSED"
)

// Dispute resolutions an arbiter can apply.
const (
	ResolutionRelease = "RELEASE"
	ResolutionRefund  = "REFUND"
	ResolutionSplit   = "SPLIT"
)

// EscrowTransaction holds a winning bid's funds between auction close and
// settlement. PreDisputeStatus remembers where to return if a dispute is
// closed without a ruling.
type EscrowTransaction struct {
	gorm.Model       `json:"-"`
	EscrowID         string    `json:"escrow_id" gorm:"uniqueIndex"`
	AuctionID        string    `json:"auction_id" gorm:"index"`
	BuyerID          string    `json:"buyer_id"`
	SellerID         string    `json:"seller_id"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status"`
	PreDisputeStatus string    `json:"pre_dispute_status,omitempty"`
	Outcome          string    `json:"outcome,omitempty"`
	SellerProceeds   int64     `json:"seller_proceeds"`
	FeeAmount        int64     `json:"fee_amount"`
	BurnedAmount     int64     `json:"burned_amount"`
	Rating           int       `json:"rating"`
	DeliveryDeadline time.Time `json:"delivery_deadline"`
	DeliveredAt      time.Time `json:"delivered_at"`
	CompletedAt      time.Time `json:"completed_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Dispute is a buyer or seller challenge against a funded or delivered
// escrow. While one is open the escrow is frozen and auto-release is
// suspended.
type Dispute struct {
	gorm.Model   `json:"-"`
	DisputeID    string    `json:"dispute_id" gorm:"uniqueIndex"`
	EscrowID     string    `json:"escrow_id" gorm:"index"`
	InitiatorID  string    `json:"initiator_id"`
	RespondentID string    `json:"respondent_id"`
	Reason       string    `json:"reason"`
	Status       string    `json:"status"`
	AdminID      string    `json:"admin_id,omitempty"`
	Resolution   string    `json:"resolution,omitempty"`
	ResolvedAt   time.Time `json:"resolved_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

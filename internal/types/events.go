package types

import (
	"time"

	"gorm.io/gorm"
)

// Domain event types written to the outbox.
const (
	EventBidAccepted      = "BID_ACCEPTED"
	EventBidRejected      = "BID_REJECTED"
	EventAuctionActivated = "AUCTION_ACTIVATED"
	EventAuctionExtended  = "AUCTION_EXTENDED"
	EventAuctionEnded     = "AUCTION_ENDED"
	EventAuctionCancelled = "AUCTION_CANCELLED"
	EventTokensBurned     = "TOKENS_BURNED"
	EventEscrowFunded     = "ESCROW_FUNDED"
	EventEscrowDelivered  = "ESCROW_DELIVERED"
	EventEscrowCompleted  = "ESCROW_COMPLETED"
	EventDisputeFiled     = "DISPUTE_FILED"
	EventDisputeResolved  = "DISPUTE_RESOLVED"
	EventDisputeClosed    = "DISPUTE_CLOSED"
)

// Outbox dispatch states.
const (
	OutboxStatusPending    = "PENDING"
	OutboxStatusDispatched = "DISPATCHED"
)

// OutboxEvent is a domain event recorded in the same transaction as the
// state change it describes. A dispatcher publishes pending rows in ID
// order, so consumers observe events in commit order.
type OutboxEvent struct {
	gorm.Model   `json:"-"`
	EventID      string    `json:"event_id" gorm:"uniqueIndex"`
	Type         string    `json:"type" gorm:"index"`
	AuctionID    string    `json:"auction_id,omitempty" gorm:"index"`
	EscrowID     string    `json:"escrow_id,omitempty"`
	Payload      string    `json:"payload"`
	Status       string    `json:"status" gorm:"index"`
	DispatchedAt time.Time `json:"dispatched_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BidAcceptedEvent is emitted when a bid becomes the new leader.
type BidAcceptedEvent struct {
	AuctionID        string    `json:"auction_id"`
	BidID            string    `json:"bid_id"`
	BidderID         string    `json:"bidder_id"`
	Amount           int64     `json:"amount"`
	PreviousBidderID string    `json:"previous_bidder_id,omitempty"`
	TotalBids        int64     `json:"total_bids"`
	EndTime          time.Time `json:"end_time"`
}

// BidRejectedEvent is emitted when a bid fails the improvement rules.
type BidRejectedEvent struct {
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"bidder_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

// AuctionActivatedEvent is emitted when bidding opens.
type AuctionActivatedEvent struct {
	AuctionID string    `json:"auction_id"`
	SellerID  string    `json:"seller_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// AuctionExtendedEvent is emitted when a late bid pushes the close out.
type AuctionExtendedEvent struct {
	AuctionID  string    `json:"auction_id"`
	BidID      string    `json:"bid_id"`
	OldEndTime time.Time `json:"old_end_time"`
	NewEndTime time.Time `json:"new_end_time"`
}

// AuctionEndedEvent is emitted exactly once per auction close, with or
// without a winner.
type AuctionEndedEvent struct {
	AuctionID   string `json:"auction_id"`
	CloseReason string `json:"close_reason"`
	HasWinner   bool   `json:"has_winner"`
	WinnerID    string `json:"winner_id,omitempty"`
	FinalAmount int64  `json:"final_amount,omitempty"`
	EscrowID    string `json:"escrow_id,omitempty"`
}

// AuctionCancelledEvent is emitted when a seller or operator voids a
// listing before close.
type AuctionCancelledEvent struct {
	AuctionID   string `json:"auction_id"`
	CancelledBy string `json:"cancelled_by"`
}

// TokensBurnedEvent is emitted whenever supply is destroyed.
type TokensBurnedEvent struct {
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	Reference string `json:"reference,omitempty"`
}

// EscrowFundedEvent is emitted when a winner's locked funds move into
// escrow.
type EscrowFundedEvent struct {
	EscrowID  string `json:"escrow_id"`
	AuctionID string `json:"auction_id"`
	BuyerID   string `json:"buyer_id"`
	SellerID  string `json:"seller_id"`
	Amount    int64  `json:"amount"`
}

// EscrowDeliveredEvent is emitted when the seller marks goods delivered.
type EscrowDeliveredEvent struct {
	EscrowID         string    `json:"escrow_id"`
	DeliveryDeadline time.Time `json:"delivery_deadline"`
}

// EscrowCompletedEvent is emitted when escrowed funds reach a terminal
// outcome.
type EscrowCompletedEvent struct {
	EscrowID       string `json:"escrow_id"`
	AuctionID      string `json:"auction_id"`
	Outcome        string `json:"outcome"`
	SellerProceeds int64  `json:"seller_proceeds"`
	FeeAmount      int64  `json:"fee_amount"`
	BurnedAmount   int64  `json:"burned_amount"`
}

// DisputeFiledEvent is emitted when a party challenges an escrow.
type DisputeFiledEvent struct {
	DisputeID   string `json:"dispute_id"`
	EscrowID    string `json:"escrow_id"`
	InitiatorID string `json:"initiator_id"`
	Reason      string `json:"reason"`
}

// DisputeResolvedEvent is emitted when an arbiter applies a ruling.
type DisputeResolvedEvent struct {
	DisputeID  string `json:"dispute_id"`
	EscrowID   string `json:"escrow_id"`
	AdminID    string `json:"admin_id"`
	Resolution string `json:"resolution"`
}

// DisputeClosedEvent is emitted when a dispute is dismissed without a
// ruling and the escrow resumes its previous state.
type DisputeClosedEvent struct {
	DisputeID     string `json:"dispute_id"`
	EscrowID      string `json:"escrow_id"`
	AdminID       string `json:"admin_id"`
	ResumedStatus string `json:"resumed_status"`
}

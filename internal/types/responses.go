package types

import (
	"time"

	"gorm.io/gorm"
)

// CreateAuctionRequest is the payload for listing a new auction.
type CreateAuctionRequest struct {
	Type         string `json:"type" binding:"required,oneof=FORWARD REVERSE"`
	Title        string `json:"title" binding:"required"`
	Description  string `json:"description"`
	StartingBid  int64  `json:"starting_bid" binding:"required,gt=0"`
	MinIncrement int64  `json:"min_increment" binding:"required,gt=0"`
	ReservePrice int64  `json:"reserve_price" binding:"omitempty,gt=0"`
	BuyNowPrice  int64  `json:"buy_now_price" binding:"omitempty,gt=0"`
	Duration     int64  `json:"duration" binding:"required,gt=0"` // seconds
}

// ActivateAuctionRequest optionally overrides the computed end time.
type ActivateAuctionRequest struct {
	EndTime *time.Time `json:"end_time"`
}

// PlaceBidRequest is the payload for submitting a bid.
type PlaceBidRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// ConfirmDeliveryRequest carries the buyer's optional seller rating.
type ConfirmDeliveryRequest struct {
	Rating int `json:"rating" binding:"omitempty,min=1,max=5"`
}

// FileDisputeRequest opens a dispute against an escrow.
type FileDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveDisputeRequest applies an arbiter's ruling.
type ResolveDisputeRequest struct {
	Outcome    string `json:"outcome" binding:"required,oneof=RELEASE REFUND SPLIT"`
	Resolution string `json:"resolution"`
}

// CloseDisputeRequest dismisses a dispute without a ruling.
type CloseDisputeRequest struct {
	Note string `json:"note"`
}

// CreditRequest mints tokens into a user's available balance. Internal
// only.
type CreditRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reference string `json:"reference"`
}

// BidResult pairs an accepted bid with the auction state it produced.
type BidResult struct {
	Bid     *Bid     `json:"bid"`
	Auction *Auction `json:"auction"`
}

// CloseResult summarises the outcome of closing an auction.
type CloseResult struct {
	AuctionID   string `json:"auction_id"`
	CloseReason string `json:"close_reason"`
	HasWinner   bool   `json:"has_winner"`
	WinnerID    string `json:"winner_id,omitempty"`
	FinalAmount int64  `json:"final_amount,omitempty"`
	EscrowID    string `json:"escrow_id,omitempty"`
}

// SupplyResponse reports aggregate token supply across all accounts.
type SupplyResponse struct {
	TotalMinted int64 `json:"total_minted"`
	Circulating int64 `json:"circulating"`
	Burned      int64 `json:"burned"`
}

// IdempotencyRecord maps a client-supplied key to the resource a prior
// request created, so retries return the original result.
type IdempotencyRecord struct {
	gorm.Model     `json:"-"`
	IdempotencyKey string    `json:"idempotency_key" gorm:"uniqueIndex"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

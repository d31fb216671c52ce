package types

import (
	"time"

	"gorm.io/gorm"
)

// Auction types. Forward auctions sell to the highest bidder, reverse
// auctions award to the lowest quote.
const (
	AuctionTypeForward = "FORWARD"
	AuctionTypeReverse = "REVERSE"
)

// Auction lifecycle states.
const (
	AuctionStatusPending   = "PENDING"
	AuctionStatusActive    = "ACTIVE"
	AuctionStatusEnded     = "ENDED"
	AuctionStatusCancelled = "CANCELLED"
)

// Reasons recorded when an auction leaves the ACTIVE state.
const (
	CloseReasonWon           = "WON"
	CloseReasonBoughtNow     = "BOUGHT_NOW"
	CloseReasonNoBids        = "NO_BIDS"
	CloseReasonReserveNotMet = "RESERVE_NOT_MET"
	CloseReasonCancelled     = "CANCELLED"
)

// Bid states. Rejected bids are never persisted, so every row is either
// the current leader or a terminal record.
const (
	BidStatusActive    = "ACTIVE"
	BidStatusOutbid    = "OUTBID"
	BidStatusWon       = "WON"
	BidStatusLost      = "LOST"
	BidStatusWithdrawn = "WITHDRAWN"
)

// Auction is a single listing. All amounts are integer token base units.
type Auction struct {
	gorm.Model      `json:"-"`
	AuctionID       string    `json:"auction_id" gorm:"uniqueIndex"`
	SellerID        string    `json:"seller_id"`
	Type            string    `json:"type"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	StartingBid     int64     `json:"starting_bid"`
	MinIncrement    int64     `json:"min_increment"`
	ReservePrice    int64     `json:"reserve_price"`
	BuyNowPrice     int64     `json:"buy_now_price"`
	CurrentBid      int64     `json:"current_bid"`
	HighestBidderID string    `json:"highest_bidder_id"`
	WinnerID        string    `json:"winner_id"`
	TotalBids       int64     `json:"total_bids"`
	UniqueBidders   int64     `json:"unique_bidders"`
	Duration        int64     `json:"duration"` // seconds, applied at activation
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Status          string    `json:"status"`
	CloseReason     string    `json:"close_reason"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Bid is an accepted offer on an auction. PlacedAt is assigned at the
// engine's serialization point, not at request arrival.
type Bid struct {
	gorm.Model `json:"-"`
	BidID      string    `json:"bid_id" gorm:"uniqueIndex"`
	AuctionID  string    `json:"auction_id" gorm:"index"`
	BidderID   string    `json:"bidder_id"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	PlacedAt   time.Time `json:"placed_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

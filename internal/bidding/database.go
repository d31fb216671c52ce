package bidding

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/domainerrors"
	"github.com/sokoni/auction-engine/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetAuction retrieves an auction by its business ID.
func (d *Database) GetAuction(auctionID string) (*types.Auction, error) {
	return d.GetAuctionTx(d.db, auctionID)
}

// GetAuctionTx retrieves an auction inside an open transaction.
func (d *Database) GetAuctionTx(tx *gorm.DB, auctionID string) (*types.Auction, error) {
	var auction types.Auction
	if err := tx.Where("auction_id = ?", auctionID).First(&auction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.NotFound(domainerrors.CodeAuctionNotFound,
				fmt.Sprintf("no auction with ID %s", auctionID))
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return &auction, nil
}

// GetStandingBidTx returns the auction's current leading bid, or nil if
// no bid is standing.
func (d *Database) GetStandingBidTx(tx *gorm.DB, auctionID string) (*types.Bid, error) {
	var bid types.Bid
	if err := tx.Where("auction_id = ? AND status = ?", auctionID, types.BidStatusActive).
		First(&bid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get standing bid: %w", err)
	}
	return &bid, nil
}

// GetBid retrieves a bid by its business ID.
func (d *Database) GetBid(bidID string) (*types.Bid, error) {
	var bid types.Bid
	if err := d.db.Where("bid_id = ?", bidID).First(&bid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.NotFound(domainerrors.CodeBidNotFound,
				fmt.Sprintf("no bid with ID %s", bidID))
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return &bid, nil
}

func (d *Database) CreateBidTx(tx *gorm.DB, bid *types.Bid) error {
	if err := tx.Create(bid).Error; err != nil {
		return fmt.Errorf("failed to create bid: %w", err)
	}
	return nil
}

// UpdateBidStatusTx moves a bid to a new status.
func (d *Database) UpdateBidStatusTx(tx *gorm.DB, bidID, status string) error {
	result := tx.Model(&types.Bid{}).
		Where("bid_id = ?", bidID).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update bid status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerrors.NotFound(domainerrors.CodeBidNotFound,
			fmt.Sprintf("no bid with ID %s", bidID))
	}
	return nil
}

// CountDistinctBiddersTx counts how many different users have bid on the
// auction so far.
func (d *Database) CountDistinctBiddersTx(tx *gorm.DB, auctionID string) (int64, error) {
	query := `
		SELECT COUNT(DISTINCT bidder_id) as bidders
		FROM bids
		WHERE auction_id = ? AND deleted_at IS NULL
	`
	var result struct{ Bidders int64 }
	if err := tx.Raw(query, auctionID).Scan(&result).Error; err != nil {
		return 0, fmt.Errorf("failed to count bidders: %w", err)
	}
	return result.Bidders, nil
}

// UpdateAuctionForBidTx writes the auction's new bidding state, guarded
// by the version the caller read. A zero-row update means another writer
// got there first.
func (d *Database) UpdateAuctionForBidTx(tx *gorm.DB, auction *types.Auction, expectedVersion int64) error {
	result := tx.Model(&types.Auction{}).
		Where("auction_id = ? AND version = ?", auction.AuctionID, expectedVersion).
		Updates(map[string]interface{}{
			"current_bid":       auction.CurrentBid,
			"highest_bidder_id": auction.HighestBidderID,
			"total_bids":        auction.TotalBids,
			"unique_bidders":    auction.UniqueBidders,
			"end_time":          auction.EndTime,
			"version":           auction.Version,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update auction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerrors.Conflict(
			fmt.Sprintf("auction %s was modified concurrently", auction.AuctionID))
	}
	return nil
}

// GetBidsForAuction returns every bid on an auction in placement order.
func (d *Database) GetBidsForAuction(auctionID string) ([]types.Bid, error) {
	var bids []types.Bid
	if err := d.db.Where("auction_id = ?", auctionID).
		Order("id asc").
		Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}
	return bids, nil
}

// GetIdempotencyRecord retrieves a live idempotency record by key, or nil
// if none exists.
func (d *Database) GetIdempotencyRecord(key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, nil
	}
	return &record, nil
}

// CreateIdempotencyRecordTx stores the mapping from a client key to the
// resource it produced.
func (d *Database) CreateIdempotencyRecordTx(tx *gorm.DB, key, resourceID, resourceType string) error {
	record := types.IdempotencyRecord{
		IdempotencyKey: key,
		ResourceID:     resourceID,
		ResourceType:   resourceType,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	if err := tx.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to create idempotency record: %w", err)
	}
	return nil
}

package auction

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

func (d *Database) CreateAuctionTx(tx *gorm.DB, auction *types.Auction) error {
	if err := tx.Create(auction).Error; err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

// ListAuctions returns recent auctions, optionally filtered by status.
func (d *Database) ListAuctions(status string, limit int) ([]types.Auction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := d.db.Order("id desc").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var auctions []types.Auction
	if err := query.Find(&auctions).Error; err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	return auctions, nil
}

// GetDueAuctions returns active auctions whose end time has passed,
// soonest first.
func (d *Database) GetDueAuctions(now time.Time, limit int) ([]types.Auction, error) {
	var auctions []types.Auction
	if err := d.db.Where("status = ? AND end_time <= ?", types.AuctionStatusActive, now).
		Order("end_time asc").
		Limit(limit).
		Find(&auctions).Error; err != nil {
		return nil, fmt.Errorf("failed to get due auctions: %w", err)
	}
	return auctions, nil
}

// ActivateAuctionTx moves a pending auction to active and stamps its
// running window. A zero-row update means the auction was not pending.
func (d *Database) ActivateAuctionTx(tx *gorm.DB, auctionID string, startTime, endTime time.Time) error {
	result := tx.Model(&types.Auction{}).
		Where("auction_id = ? AND status = ?", auctionID, types.AuctionStatusPending).
		Updates(map[string]interface{}{
			"status":     types.AuctionStatusActive,
			"start_time": startTime,
			"end_time":   endTime,
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to activate auction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		auction, err := d.GetAuctionTx(tx, auctionID)
		if err != nil {
			return err
		}
		return domainerrors.Validationf(domainerrors.CodeValidationFailed,
			"auction %s is %s, only pending auctions can be activated",
			auctionID, auction.Status)
	}
	return nil
}

// CloseAuctionTx writes an auction's terminal state, guarded by the
// version the caller read. A zero-row update means another writer got
// there first.
func (d *Database) CloseAuctionTx(tx *gorm.DB, auction *types.Auction, expectedVersion int64) error {
	result := tx.Model(&types.Auction{}).
		Where("auction_id = ? AND version = ?", auction.AuctionID, expectedVersion).
		Updates(map[string]interface{}{
			"status":            auction.Status,
			"close_reason":      auction.CloseReason,
			"winner_id":         auction.WinnerID,
			"current_bid":       auction.CurrentBid,
			"highest_bidder_id": auction.HighestBidderID,
			"end_time":          auction.EndTime,
			"version":           auction.Version,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to close auction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerrors.Conflict(
			fmt.Sprintf("auction %s was modified concurrently", auction.AuctionID))
	}
	return nil
}

// Package bidding implements bid acceptance. All bids on one auction
// pass through a single serialization point, so acceptance order is the
// order bids reached the engine, not wall-clock send order.
package bidding

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/domainerrors"
	"github.com/sokoni/auction-engine/internal/events"
	"github.com/sokoni/auction-engine/internal/ledger"
	"github.com/sokoni/auction-engine/internal/types"
	"github.com/sokoni/auction-engine/pkg/response"
)

// Engine accepts or rejects bids against live auctions.
type Engine struct {
	db     *Database
	ledger *ledger.Database
	outbox *events.Recorder
	locks  *LockTable

	snipeWindow    time.Duration
	snipeExtension time.Duration
}

// NewEngine creates a bid engine. The lock table is shared with the
// auction service so closes and bids on one auction serialize together.
func NewEngine(db *gorm.DB, ledgerDB *ledger.Database, recorder *events.Recorder, locks *LockTable, snipeWindow, snipeExtension time.Duration) *Engine {
	return &Engine{
		db:             NewDatabase(db),
		ledger:         ledgerDB,
		outbox:         recorder,
		locks:          locks,
		snipeWindow:    snipeWindow,
		snipeExtension: snipeExtension,
	}
}

// Database exposes bid queries to handlers and sibling services.
func (e *Engine) Database() *Database {
	return e.db
}

// Submit runs one bid through the auction's serialization point. On
// acceptance the previous leader is unlocked and marked outbid, the new
// bid's funds lock, and the close moves out if the bid landed inside the
// anti-snipe window. Rejections leave the auction untouched.
func (e *Engine) Submit(auctionID, bidderID string, amount int64, idempotencyKey string) (*types.BidResult, error) {
	logger := log.With().
		Str("auction_id", auctionID).
		Str("bidder_id", bidderID).
		Str("service", "bidding").
		Logger()
	logger.Debug().Int64("amount", amount).Msg("Processing bid")

	if idempotencyKey != "" {
		result, found, err := e.replayBid(idempotencyKey)
		if err != nil {
			return nil, err
		}
		if found {
			logger.Info().Str("bid_id", result.Bid.BidID).Msg("Returning existing bid for idempotency key")
			return result, nil
		}
	}

	lock := e.locks.Get(auctionID)
	lock.Lock()
	defer lock.Unlock()

	tx := e.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	auction, err := e.db.GetAuctionTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	standing, err := e.db.GetStandingBidTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Acceptance time is taken here, under the lock. It decides both the
	// bid's position and whether the anti-snipe window applies.
	now := time.Now()

	if rejectErr := validateBid(auction, standing, bidderID, amount, now); rejectErr != nil {
		if err := e.recordRejection(tx, auction, bidderID, amount, rejectErr); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		logger.Info().
			Int64("amount", amount).
			Str("reason", rejectErr.Code).
			Msg("Bid rejected")
		return nil, rejectErr
	}

	// Release the previous leader before locking the new bid. A bidder
	// raising their own bid then only needs the difference available.
	previousBidderID := ""
	if standing != nil {
		previousBidderID = standing.BidderID
		if err := e.ledger.UnlockTx(tx, standing.BidderID, standing.Amount, auctionID); err != nil {
			tx.Rollback()
			e.ledger.FreezeIfInvariant(err, standing.BidderID)
			logger.Error().Err(err).Msg("Failed to unlock previous leader")
			return nil, err
		}
		if err := e.db.UpdateBidStatusTx(tx, standing.BidID, types.BidStatusOutbid); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := e.ledger.LockTx(tx, bidderID, amount, auctionID); err != nil {
		tx.Rollback()
		if domainerrors.IsInsufficientFunds(err) || domainerrors.IsNotFound(err) {
			logger.Info().Int64("amount", amount).Msg("Bid rejected, cannot lock funds")
		} else {
			e.ledger.FreezeIfInvariant(err, bidderID)
			logger.Error().Err(err).Msg("Failed to lock bid funds")
		}
		return nil, err
	}

	bid := &types.Bid{
		BidID:     "BID_" + uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Status:    types.BidStatusActive,
		PlacedAt:  now,
	}
	if err := e.db.CreateBidTx(tx, bid); err != nil {
		tx.Rollback()
		return nil, err
	}

	uniqueBidders, err := e.db.CountDistinctBiddersTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	expectedVersion := auction.Version
	auction.CurrentBid = amount
	auction.HighestBidderID = bidderID
	auction.TotalBids++
	auction.UniqueBidders = uniqueBidders
	auction.Version++

	extended := false
	oldEndTime := auction.EndTime
	if remaining := auction.EndTime.Sub(now); remaining <= e.snipeWindow {
		if newEnd := now.Add(e.snipeExtension); newEnd.After(auction.EndTime) {
			auction.EndTime = newEnd
			extended = true
		}
	}

	if err := e.db.UpdateAuctionForBidTx(tx, auction, expectedVersion); err != nil {
		tx.Rollback()
		return nil, err
	}

	if idempotencyKey != "" {
		if err := e.db.CreateIdempotencyRecordTx(tx, idempotencyKey, bid.BidID, "bid"); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := e.outbox.AppendTx(tx, types.EventBidAccepted, auctionID, "", types.BidAcceptedEvent{
		AuctionID:        auctionID,
		BidID:            bid.BidID,
		BidderID:         bidderID,
		Amount:           amount,
		PreviousBidderID: previousBidderID,
		TotalBids:        auction.TotalBids,
		EndTime:          auction.EndTime,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if extended {
		if err := e.outbox.AppendTx(tx, types.EventAuctionExtended, auctionID, "", types.AuctionExtendedEvent{
			AuctionID:  auctionID,
			BidID:      bid.BidID,
			OldEndTime: oldEndTime,
			NewEndTime: auction.EndTime,
		}); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().
		Str("bid_id", bid.BidID).
		Int64("amount", amount).
		Bool("extended", extended).
		Msg("Bid accepted")
	return &types.BidResult{Bid: bid, Auction: auction}, nil
}

// validateBid applies the state and improvement rules. An equal amount
// never improves on the standing bid, whatever the increment says.
func validateBid(auction *types.Auction, standing *types.Bid, bidderID string, amount int64, now time.Time) *domainerrors.DomainError {
	if auction.Status != types.AuctionStatusActive {
		return domainerrors.Validationf(domainerrors.CodeAuctionNotActive,
			"auction %s is %s", auction.AuctionID, strings.ToLower(auction.Status))
	}
	if !auction.EndTime.IsZero() && !now.Before(auction.EndTime) {
		return domainerrors.Validationf(domainerrors.CodeAuctionNotActive,
			"auction %s has ended", auction.AuctionID)
	}
	if bidderID == auction.SellerID {
		return domainerrors.Validation(domainerrors.CodeSellerCannotBid,
			"sellers cannot bid on their own auction")
	}

	switch auction.Type {
	case types.AuctionTypeForward:
		if standing == nil {
			if amount < auction.StartingBid {
				return domainerrors.Validationf(domainerrors.CodeBidTooLow,
					"bid %d is below the starting bid %d", amount, auction.StartingBid)
			}
			return nil
		}
		if amount <= standing.Amount || amount < standing.Amount+auction.MinIncrement {
			return domainerrors.Validationf(domainerrors.CodeBidTooLow,
				"bid %d does not beat %d by the minimum increment %d",
				amount, standing.Amount, auction.MinIncrement)
		}
	case types.AuctionTypeReverse:
		if standing == nil {
			if amount > auction.StartingBid {
				return domainerrors.Validationf(domainerrors.CodeBidTooHigh,
					"quote %d is above the starting price %d", amount, auction.StartingBid)
			}
			return nil
		}
		if amount >= standing.Amount || amount > standing.Amount-auction.MinIncrement {
			return domainerrors.Validationf(domainerrors.CodeBidTooHigh,
				"quote %d does not undercut %d by the minimum increment %d",
				amount, standing.Amount, auction.MinIncrement)
		}
	default:
		return domainerrors.Validationf(domainerrors.CodeValidationFailed,
			"unknown auction type %s", auction.Type)
	}
	return nil
}

// recordRejection writes the BidRejected event. The bid itself is never
// persisted.
func (e *Engine) recordRejection(tx *gorm.DB, auction *types.Auction, bidderID string, amount int64, rejectErr *domainerrors.DomainError) error {
	return e.outbox.AppendTx(tx, types.EventBidRejected, auction.AuctionID, "", types.BidRejectedEvent{
		AuctionID: auction.AuctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Reason:    rejectErr.Code,
	})
}

// replayBid returns the bid a previous request with this key created.
func (e *Engine) replayBid(idempotencyKey string) (*types.BidResult, bool, error) {
	record, err := e.db.GetIdempotencyRecord(idempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if record == nil || record.ResourceType != "bid" {
		return nil, false, nil
	}
	bid, err := e.db.GetBid(record.ResourceID)
	if err != nil {
		return nil, false, err
	}
	auction, err := e.db.GetAuction(bid.AuctionID)
	if err != nil {
		return nil, false, err
	}
	return &types.BidResult{Bid: bid, Auction: auction}, true, nil
}

// GinHandlers provides HTTP handlers for bidding.
type GinHandlers struct {
	engine *Engine
}

// NewGinHandlers creates a new set of Gin handlers for bidding.
func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{engine: engine}
}

// PlaceBidHandler submits a bid on behalf of the authenticated user.
func (h *GinHandlers) PlaceBidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.With().Str("handler", "PlaceBidHandler").Logger()

		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req types.PlaceBidRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Error().Err(err).Msg("Invalid request payload")
			response.BadRequest(c, "Invalid request payload")
			return
		}

		result, err := h.engine.Submit(c.Param("auction_id"), c.GetString("userID"), req.Amount, idempotencyKey)
		response.HandleDomain(c, result, err)
	}
}

// GetBidsHandler lists every bid on an auction in placement order.
func (h *GinHandlers) GetBidsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		auctionID := c.Param("auction_id")
		if _, err := h.engine.db.GetAuction(auctionID); err != nil {
			response.HandleDomain(c, nil, err)
			return
		}
		bids, err := h.engine.db.GetBidsForAuction(auctionID)
		response.HandleDomain(c, bids, err)
	}
}

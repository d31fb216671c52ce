// Package auction owns the auction lifecycle: listing, activation, the
// close-out evaluation and its escrow handoff, buy-now and cancellation.
// Bid acceptance itself lives in the bidding engine.
package auction

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/bidding"
	"github.com/sokoni/auction-engine/internal/domainerrors"
	"github.com/sokoni/auction-engine/internal/escrow"
	"github.com/sokoni/auction-engine/internal/events"
	"github.com/sokoni/auction-engine/internal/ledger"
	"github.com/sokoni/auction-engine/internal/types"
	"github.com/sokoni/auction-engine/pkg/response"
)

// Service manages the auction lifecycle.
type Service struct {
	db     *Database
	bids   *bidding.Database
	ledger *ledger.Database
	escrow *escrow.Service
	outbox *events.Recorder
	locks  *bidding.LockTable
}

// NewService creates a new auction service. The lock table must be the
// one the bid engine uses, so closes and bids serialize per auction.
func NewService(db *gorm.DB, ledgerDB *ledger.Database, escrowService *escrow.Service, recorder *events.Recorder, locks *bidding.LockTable) *Service {
	return &Service{
		db:     NewDatabase(db),
		bids:   bidding.NewDatabase(db),
		ledger: ledgerDB,
		escrow: escrowService,
		outbox: recorder,
		locks:  locks,
	}
}

// Database exposes auction queries to handlers and the processor.
func (s *Service) Database() *Database {
	return s.db
}

// Create lists a new auction in the pending state.
func (s *Service) Create(sellerID string, req *types.CreateAuctionRequest, idempotencyKey string) (*types.Auction, error) {
	logger := log.With().
		Str("seller_id", sellerID).
		Str("service", "auction").
		Logger()
	logger.Debug().Str("type", req.Type).Msg("Processing auction creation")

	if req.BuyNowPrice > 0 {
		if req.Type == types.AuctionTypeReverse {
			return nil, domainerrors.Validation(domainerrors.CodeValidationFailed,
				"buy-now is only available on forward auctions")
		}
		if req.BuyNowPrice <= req.StartingBid {
			return nil, domainerrors.Validation(domainerrors.CodeValidationFailed,
				"buy-now price must exceed the starting bid")
		}
	}

	if idempotencyKey != "" {
		record, err := s.bids.GetIdempotencyRecord(idempotencyKey)
		if err != nil {
			return nil, err
		}
		if record != nil && record.ResourceType == "auction" {
			logger.Info().
				Str("auction_id", record.ResourceID).
				Msg("Returning existing auction for idempotency key")
			return s.db.GetAuction(record.ResourceID)
		}
	}

	auction := &types.Auction{
		AuctionID:    "AUC_" + uuid.New().String(),
		SellerID:     sellerID,
		Type:         req.Type,
		Title:        req.Title,
		Description:  req.Description,
		StartingBid:  req.StartingBid,
		MinIncrement: req.MinIncrement,
		ReservePrice: req.ReservePrice,
		BuyNowPrice:  req.BuyNowPrice,
		Duration:     req.Duration,
		Status:       types.AuctionStatusPending,
	}

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := s.db.CreateAuctionTx(tx, auction); err != nil {
		tx.Rollback()
		return nil, err
	}
	if idempotencyKey != "" {
		if err := s.bids.CreateIdempotencyRecordTx(tx, idempotencyKey, auction.AuctionID, "auction"); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().
		Str("auction_id", auction.AuctionID).
		Int64("starting_bid", auction.StartingBid).
		Msg("Auction created")
	return auction, nil
}

// Activate opens a pending auction for bidding. The running window is
// Duration from now unless an explicit end time is supplied.
func (s *Service) Activate(auctionID string, endTime *time.Time) (*types.Auction, error) {
	logger := log.With().
		Str("auction_id", auctionID).
		Str("service", "auction").
		Logger()
	logger.Debug().Msg("Processing auction activation")

	now := time.Now()

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	auction, err := s.db.GetAuctionTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	end := now.Add(time.Duration(auction.Duration) * time.Second)
	if endTime != nil {
		end = *endTime
	}
	if !end.After(now) {
		tx.Rollback()
		return nil, domainerrors.Validation(domainerrors.CodeValidationFailed,
			"end time must be in the future")
	}

	if err := s.db.ActivateAuctionTx(tx, auctionID, now, end); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.outbox.AppendTx(tx, types.EventAuctionActivated, auctionID, "", types.AuctionActivatedEvent{
		AuctionID: auctionID,
		SellerID:  auction.SellerID,
		StartTime: now,
		EndTime:   end,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Time("end_time", end).Msg("Auction activated")
	return s.db.GetAuction(auctionID)
}

// Close ends an active auction early at the seller's request, running
// the normal close-out evaluation.
func (s *Service) Close(auctionID, callerID string, isAdmin bool) (*types.CloseResult, error) {
	logger := log.With().
		Str("auction_id", auctionID).
		Str("service", "auction").
		Logger()
	logger.Debug().Msg("Processing early close")

	lock := s.locks.Get(auctionID)
	lock.Lock()
	defer lock.Unlock()

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	auction, err := s.db.GetAuctionTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !isAdmin && callerID != auction.SellerID {
		tx.Rollback()
		return nil, domainerrors.Unauthorized("only the seller can close this auction")
	}
	if auction.Status != types.AuctionStatusActive {
		tx.Rollback()
		return nil, domainerrors.Validationf(domainerrors.CodeAuctionNotActive,
			"auction %s is %s", auctionID, strings.ToLower(auction.Status))
	}

	result, err := s.closeLockedTx(tx, auction, time.Now())
	if err != nil {
		tx.Rollback()
		s.ledger.FreezeIfInvariant(err, auction.HighestBidderID)
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().
		Str("close_reason", result.CloseReason).
		Bool("has_winner", result.HasWinner).
		Msg("Auction closed early")
	return result, nil
}

// CloseDue ends an auction whose persisted end time has passed. Returns
// nil without error when the auction is no longer due, which happens
// when a late bid extended it after the sweep read the row.
func (s *Service) CloseDue(auctionID string) (*types.CloseResult, error) {
	lock := s.locks.Get(auctionID)
	lock.Lock()
	defer lock.Unlock()

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	auction, err := s.db.GetAuctionTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	now := time.Now()
	if auction.Status != types.AuctionStatusActive || now.Before(auction.EndTime) {
		tx.Rollback()
		return nil, nil
	}

	result, err := s.closeLockedTx(tx, auction, now)
	if err != nil {
		tx.Rollback()
		s.ledger.FreezeIfInvariant(err, auction.HighestBidderID)
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// closeLockedTx runs the close-out evaluation for an active auction.
// Caller holds the auction lock and the open transaction.
func (s *Service) closeLockedTx(tx *gorm.DB, auction *types.Auction, now time.Time) (*types.CloseResult, error) {
	standing, err := s.bids.GetStandingBidTx(tx, auction.AuctionID)
	if err != nil {
		return nil, err
	}

	result := &types.CloseResult{AuctionID: auction.AuctionID}
	expectedVersion := auction.Version
	auction.Status = types.AuctionStatusEnded
	auction.Version++
	if auction.EndTime.IsZero() || now.Before(auction.EndTime) {
		auction.EndTime = now
	}

	switch {
	case standing == nil:
		auction.CloseReason = types.CloseReasonNoBids
	case !reserveMet(auction, standing.Amount):
		auction.CloseReason = types.CloseReasonReserveNotMet
		if err := s.ledger.UnlockTx(tx, standing.BidderID, standing.Amount, auction.AuctionID); err != nil {
			return nil, err
		}
		if err := s.bids.UpdateBidStatusTx(tx, standing.BidID, types.BidStatusLost); err != nil {
			return nil, err
		}
	default:
		auction.CloseReason = types.CloseReasonWon
		auction.WinnerID = standing.BidderID
		if err := s.bids.UpdateBidStatusTx(tx, standing.BidID, types.BidStatusWon); err != nil {
			return nil, err
		}
		held, err := s.escrow.FundFromCloseTx(tx, auction, standing.BidderID, standing.Amount)
		if err != nil {
			return nil, err
		}
		result.HasWinner = true
		result.WinnerID = standing.BidderID
		result.FinalAmount = standing.Amount
		result.EscrowID = held.EscrowID
	}
	result.CloseReason = auction.CloseReason

	if err := s.db.CloseAuctionTx(tx, auction, expectedVersion); err != nil {
		return nil, err
	}
	return result, s.outbox.AppendTx(tx, types.EventAuctionEnded, auction.AuctionID, result.EscrowID, types.AuctionEndedEvent{
		AuctionID:   auction.AuctionID,
		CloseReason: auction.CloseReason,
		HasWinner:   result.HasWinner,
		WinnerID:    result.WinnerID,
		FinalAmount: result.FinalAmount,
		EscrowID:    result.EscrowID,
	})
}

// reserveMet reports whether the standing amount satisfies the reserve.
// Forward reserves are floors, reverse reserves are ceilings.
func reserveMet(auction *types.Auction, amount int64) bool {
	if auction.ReservePrice == 0 {
		return true
	}
	if auction.Type == types.AuctionTypeReverse {
		return amount <= auction.ReservePrice
	}
	return amount >= auction.ReservePrice
}

// BuyNow ends an active forward auction immediately at the buy-now
// price. Any standing bid is displaced and unlocked.
func (s *Service) BuyNow(auctionID, buyerID string) (*types.CloseResult, error) {
	logger := log.With().
		Str("auction_id", auctionID).
		Str("buyer_id", buyerID).
		Str("service", "auction").
		Logger()
	logger.Debug().Msg("Processing buy-now purchase")

	lock := s.locks.Get(auctionID)
	lock.Lock()
	defer lock.Unlock()

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	auction, err := s.db.GetAuctionTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	now := time.Now()
	if auction.Status != types.AuctionStatusActive || !now.Before(auction.EndTime) {
		tx.Rollback()
		return nil, domainerrors.Validationf(domainerrors.CodeAuctionNotActive,
			"auction %s is %s", auctionID, strings.ToLower(auction.Status))
	}
	if auction.BuyNowPrice <= 0 {
		tx.Rollback()
		return nil, domainerrors.Validationf(domainerrors.CodeBuyNowUnavailable,
			"auction %s has no buy-now price", auctionID)
	}
	if buyerID == auction.SellerID {
		tx.Rollback()
		return nil, domainerrors.Validation(domainerrors.CodeSellerCannotBid,
			"sellers cannot buy their own auction")
	}

	standing, err := s.bids.GetStandingBidTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if standing != nil {
		if err := s.ledger.UnlockTx(tx, standing.BidderID, standing.Amount, auctionID); err != nil {
			tx.Rollback()
			s.ledger.FreezeIfInvariant(err, standing.BidderID)
			logger.Error().Err(err).Msg("Failed to unlock displaced leader")
			return nil, err
		}
		if err := s.bids.UpdateBidStatusTx(tx, standing.BidID, types.BidStatusLost); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := s.ledger.LockTx(tx, buyerID, auction.BuyNowPrice, auctionID); err != nil {
		tx.Rollback()
		if domainerrors.IsInsufficientFunds(err) || domainerrors.IsNotFound(err) {
			logger.Info().Int64("amount", auction.BuyNowPrice).Msg("Buy-now rejected, cannot lock funds")
		} else {
			s.ledger.FreezeIfInvariant(err, buyerID)
			logger.Error().Err(err).Msg("Failed to lock buy-now funds")
		}
		return nil, err
	}

	expectedVersion := auction.Version
	auction.CurrentBid = auction.BuyNowPrice
	auction.HighestBidderID = buyerID
	auction.WinnerID = buyerID
	auction.Status = types.AuctionStatusEnded
	auction.CloseReason = types.CloseReasonBoughtNow
	auction.EndTime = now
	auction.Version++

	held, err := s.escrow.FundFromCloseTx(tx, auction, buyerID, auction.BuyNowPrice)
	if err != nil {
		tx.Rollback()
		s.ledger.FreezeIfInvariant(err, buyerID)
		return nil, err
	}
	if err := s.db.CloseAuctionTx(tx, auction, expectedVersion); err != nil {
		tx.Rollback()
		return nil, err
	}

	result := &types.CloseResult{
		AuctionID:   auctionID,
		CloseReason: types.CloseReasonBoughtNow,
		HasWinner:   true,
		WinnerID:    buyerID,
		FinalAmount: auction.BuyNowPrice,
		EscrowID:    held.EscrowID,
	}
	if err := s.outbox.AppendTx(tx, types.EventAuctionEnded, auctionID, held.EscrowID, types.AuctionEndedEvent{
		AuctionID:   auctionID,
		CloseReason: types.CloseReasonBoughtNow,
		HasWinner:   true,
		WinnerID:    buyerID,
		FinalAmount: auction.BuyNowPrice,
		EscrowID:    held.EscrowID,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().
		Int64("amount", auction.BuyNowPrice).
		Str("escrow_id", held.EscrowID).
		Msg("Auction bought now")
	return result, nil
}

// Cancel withdraws an auction before it ends. The standing bid, if any,
// is released back to its bidder.
func (s *Service) Cancel(auctionID, callerID string, isAdmin bool) (*types.Auction, error) {
	logger := log.With().
		Str("auction_id", auctionID).
		Str("service", "auction").
		Logger()
	logger.Debug().Msg("Processing auction cancellation")

	lock := s.locks.Get(auctionID)
	lock.Lock()
	defer lock.Unlock()

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	auction, err := s.db.GetAuctionTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !isAdmin && callerID != auction.SellerID {
		tx.Rollback()
		return nil, domainerrors.Unauthorized("only the seller can cancel this auction")
	}
	if auction.Status != types.AuctionStatusPending && auction.Status != types.AuctionStatusActive {
		tx.Rollback()
		return nil, domainerrors.Validationf(domainerrors.CodeAuctionNotActive,
			"auction %s is already %s", auctionID, strings.ToLower(auction.Status))
	}

	standing, err := s.bids.GetStandingBidTx(tx, auctionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if standing != nil {
		if err := s.ledger.UnlockTx(tx, standing.BidderID, standing.Amount, auctionID); err != nil {
			tx.Rollback()
			s.ledger.FreezeIfInvariant(err, standing.BidderID)
			logger.Error().Err(err).Msg("Failed to release standing bid on cancel")
			return nil, err
		}
		if err := s.bids.UpdateBidStatusTx(tx, standing.BidID, types.BidStatusWithdrawn); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	expectedVersion := auction.Version
	auction.Status = types.AuctionStatusCancelled
	auction.CloseReason = types.CloseReasonCancelled
	auction.Version++
	now := time.Now()
	if !auction.EndTime.IsZero() && now.Before(auction.EndTime) {
		auction.EndTime = now
	}

	if err := s.db.CloseAuctionTx(tx, auction, expectedVersion); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.outbox.AppendTx(tx, types.EventAuctionCancelled, auctionID, "", types.AuctionCancelledEvent{
		AuctionID:   auctionID,
		CancelledBy: callerID,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Str("cancelled_by", callerID).Msg("Auction cancelled")
	return s.db.GetAuction(auctionID)
}

// GinHandlers provides HTTP handlers for the auction service.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of Gin handlers for auctions.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateAuctionHandler lists a new auction for the authenticated seller.
func (h *GinHandlers) CreateAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.With().Str("handler", "CreateAuctionHandler").Logger()

		var req types.CreateAuctionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Error().Err(err).Msg("Invalid request payload")
			response.BadRequest(c, "Invalid request payload")
			return
		}
		auction, err := h.service.Create(c.GetString("userID"), &req, c.GetHeader("Idempotency-Key"))
		response.HandleDomain(c, auction, err)
	}
}

// ActivateAuctionHandler opens a pending auction for bidding. Admins
// only.
func (h *GinHandlers) ActivateAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ActivateAuctionRequest
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			response.BadRequest(c, "Invalid request payload")
			return
		}
		auction, err := h.service.Activate(c.Param("auction_id"), req.EndTime)
		response.HandleDomain(c, auction, err)
	}
}

// GetAuctionHandler returns one auction.
func (h *GinHandlers) GetAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		auction, err := h.service.db.GetAuction(c.Param("auction_id"))
		response.HandleDomain(c, auction, err)
	}
}

// ListAuctionsHandler returns recent auctions, filterable by status.
func (h *GinHandlers) ListAuctionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		auctions, err := h.service.db.ListAuctions(c.Query("status"), limit)
		response.HandleDomain(c, auctions, err)
	}
}

// CloseAuctionHandler ends an active auction early.
func (h *GinHandlers) CloseAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.Close(c.Param("auction_id"),
			c.GetString("userID"), c.GetString("userRole") == "admin")
		response.HandleDomain(c, result, err)
	}
}

// BuyNowHandler purchases an auction outright at its buy-now price.
func (h *GinHandlers) BuyNowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.BuyNow(c.Param("auction_id"), c.GetString("userID"))
		response.HandleDomain(c, result, err)
	}
}

// CancelAuctionHandler withdraws an auction before it ends.
func (h *GinHandlers) CancelAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		auction, err := h.service.Cancel(c.Param("auction_id"),
			c.GetString("userID"), c.GetString("userRole") == "admin")
		response.HandleDomain(c, auction, err)
	}
}

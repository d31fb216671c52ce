// Package escrow holds winning-bid funds between auction close and
// settlement, and runs the dispute process when a party challenges the
// trade.
package escrow

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/domainerrors"
	"github.com/sokoni/auction-engine/internal/events"
	"github.com/sokoni/auction-engine/internal/fees"
	"github.com/sokoni/auction-engine/internal/ledger"
	"github.com/sokoni/auction-engine/internal/types"
	"github.com/sokoni/auction-engine/pkg/response"
)

// Service manages escrow transactions and disputes.
type Service struct {
	db     *Database
	ledger *ledger.Database
	calc   *fees.Calculator
	outbox *events.Recorder

	deliveryWindow time.Duration
	autoRelease    bool
}

// NewService creates a new escrow service.
func NewService(db *gorm.DB, ledgerDB *ledger.Database, calc *fees.Calculator, recorder *events.Recorder, deliveryWindow time.Duration, autoRelease bool) *Service {
	return &Service{
		db:             NewDatabase(db),
		ledger:         ledgerDB,
		calc:           calc,
		outbox:         recorder,
		deliveryWindow: deliveryWindow,
		autoRelease:    autoRelease,
	}
}

// Database exposes escrow queries to handlers and sibling services.
func (s *Service) Database() *Database {
	return s.db
}

// FundFromCloseTx creates and funds the escrow for an auction's winner
// inside the caller's close transaction. The winner's locked funds move
// to pending here.
func (s *Service) FundFromCloseTx(tx *gorm.DB, auction *types.Auction, buyerID string, amount int64) (*types.EscrowTransaction, error) {
	escrow := &types.EscrowTransaction{
		EscrowID:  "ESC_" + uuid.New().String(),
		AuctionID: auction.AuctionID,
		BuyerID:   buyerID,
		SellerID:  auction.SellerID,
		Amount:    amount,
		Status:    types.EscrowStatusPending,
	}
	if err := s.db.CreateEscrowTx(tx, escrow); err != nil {
		return nil, err
	}
	if err := s.ledger.HoldForEscrowTx(tx, buyerID, amount, escrow.EscrowID); err != nil {
		return nil, err
	}
	if err := s.db.TransitionStatusTx(tx, escrow.EscrowID, types.EscrowStatusPending, types.EscrowStatusFunded, nil); err != nil {
		return nil, err
	}
	escrow.Status = types.EscrowStatusFunded

	if err := s.outbox.AppendTx(tx, types.EventEscrowFunded, auction.AuctionID, escrow.EscrowID, types.EscrowFundedEvent{
		EscrowID:  escrow.EscrowID,
		AuctionID: auction.AuctionID,
		BuyerID:   buyerID,
		SellerID:  auction.SellerID,
		Amount:    amount,
	}); err != nil {
		return nil, err
	}
	return escrow, nil
}

// MarkDelivered records the seller's delivery claim and starts the
// buyer's confirmation window.
func (s *Service) MarkDelivered(escrowID, callerID string) (*types.EscrowTransaction, error) {
	logger := log.With().
		Str("escrow_id", escrowID).
		Str("service", "escrow").
		Logger()
	logger.Debug().Msg("Processing delivery claim")

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	escrow, err := s.db.GetEscrowTx(tx, escrowID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if callerID != escrow.SellerID {
		tx.Rollback()
		return nil, domainerrors.Unauthorized("only the seller can mark delivery")
	}

	now := time.Now()
	deadline := now.Add(s.deliveryWindow)
	if err := s.db.TransitionStatusTx(tx, escrowID, types.EscrowStatusFunded, types.EscrowStatusDelivered, map[string]interface{}{
		"delivered_at":      now,
		"delivery_deadline": deadline,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := s.outbox.AppendTx(tx, types.EventEscrowDelivered, escrow.AuctionID, escrowID, types.EscrowDeliveredEvent{
		EscrowID:         escrowID,
		DeliveryDeadline: deadline,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Time("deadline", deadline).Msg("Escrow marked delivered")
	return s.db.GetEscrow(escrowID)
}

// ConfirmDelivery settles the escrow to the seller after the buyer
// accepts the goods. An optional 1-5 rating is recorded on the escrow.
func (s *Service) ConfirmDelivery(escrowID, callerID string, rating int) (*types.EscrowTransaction, error) {
	logger := log.With().
		Str("escrow_id", escrowID).
		Str("service", "escrow").
		Logger()
	logger.Debug().Msg("Processing delivery confirmation")

	if rating != 0 && (rating < 1 || rating > 5) {
		return nil, domainerrors.Validation(domainerrors.CodeValidationFailed, "rating must be between 1 and 5")
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

	escrow, err := s.db.GetEscrowTx(tx, escrowID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if callerID != escrow.BuyerID {
		tx.Rollback()
		return nil, domainerrors.Unauthorized("only the buyer can confirm delivery")
	}

	extra := map[string]interface{}{}
	if rating != 0 {
		extra["rating"] = rating
	}
	if err := s.settleTx(tx, escrow, types.EscrowStatusDelivered, types.EscrowOutcomeReleased, extra); err != nil {
		tx.Rollback()
		s.ledger.FreezeIfInvariant(err, escrow.BuyerID)
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Int("rating", rating).Msg("Escrow settled on buyer confirmation")
	return s.db.GetEscrow(escrowID)
}

// AutoRelease settles a delivered escrow whose confirmation window has
// lapsed with no buyer action and no dispute.
func (s *Service) AutoRelease(escrowID string) error {
	logger := log.With().
		Str("escrow_id", escrowID).
		Str("service", "escrow").
		Logger()

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	escrow, err := s.db.GetEscrowTx(tx, escrowID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if escrow.Status != types.EscrowStatusDelivered || time.Now().Before(escrow.DeliveryDeadline) {
		tx.Rollback()
		return domainerrors.Validationf(domainerrors.CodeInvalidTransition,
			"escrow %s is not due for auto-release", escrowID)
	}

	if err := s.settleTx(tx, escrow, types.EscrowStatusDelivered, types.EscrowOutcomeAutoReleased, nil); err != nil {
		tx.Rollback()
		s.ledger.FreezeIfInvariant(err, escrow.BuyerID)
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Msg("Escrow auto-released to seller")
	return nil
}

// settleTx releases the escrowed amount through the fee split and moves
// the escrow to COMPLETED. Runs inside the caller's transaction.
func (s *Service) settleTx(tx *gorm.DB, escrow *types.EscrowTransaction, fromStatus, outcome string, extra map[string]interface{}) error {
	split := s.calc.Split(escrow.Amount)
	if err := s.ledger.ReleaseEscrowTx(tx, escrow.BuyerID, escrow.SellerID, escrow.Amount,
		split.SellerProceeds, split.BurnAmount, split.TreasuryAmount, escrow.EscrowID); err != nil {
		return err
	}

	updates := map[string]interface{}{
		"outcome":         outcome,
		"seller_proceeds": split.SellerProceeds,
		"fee_amount":      split.FeeAmount(),
		"burned_amount":   split.BurnAmount,
		"completed_at":    time.Now(),
	}
	for column, value := range extra {
		updates[column] = value
	}
	if err := s.db.TransitionStatusTx(tx, escrow.EscrowID, fromStatus, types.EscrowStatusCompleted, updates); err != nil {
		return err
	}

	if split.BurnAmount > 0 {
		if err := s.outbox.AppendTx(tx, types.EventTokensBurned, escrow.AuctionID, escrow.EscrowID, types.TokensBurnedEvent{
			Amount:    split.BurnAmount,
			Reason:    "SETTLEMENT_FEE",
			Reference: escrow.EscrowID,
		}); err != nil {
			return err
		}
	}
	return s.outbox.AppendTx(tx, types.EventEscrowCompleted, escrow.AuctionID, escrow.EscrowID, types.EscrowCompletedEvent{
		EscrowID:       escrow.EscrowID,
		AuctionID:      escrow.AuctionID,
		Outcome:        outcome,
		SellerProceeds: split.SellerProceeds,
		FeeAmount:      split.FeeAmount(),
		BurnedAmount:   split.BurnAmount,
	})
}

// FileDispute freezes an escrow while a party challenges it. Auto-release
// is suspended until the dispute is resolved or dismissed.
func (s *Service) FileDispute(escrowID, callerID, reason string) (*types.Dispute, error) {
	logger := log.With().
		Str("escrow_id", escrowID).
		Str("initiator_id", callerID).
		Str("service", "escrow").
		Logger()
	logger.Debug().Msg("Processing dispute filing")

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	escrow, err := s.db.GetEscrowTx(tx, escrowID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if callerID != escrow.BuyerID && callerID != escrow.SellerID {
		tx.Rollback()
		return nil, domainerrors.Unauthorized("only the buyer or seller can dispute this escrow")
	}
	if escrow.Status != types.EscrowStatusFunded && escrow.Status != types.EscrowStatusDelivered {
		tx.Rollback()
		return nil, domainerrors.Validationf(domainerrors.CodeInvalidTransition,
			"escrow %s is %s and cannot be disputed", escrowID, escrow.Status)
	}
	existing, err := s.db.GetOpenDisputeByEscrowTx(tx, escrowID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if existing != nil {
		tx.Rollback()
		return nil, domainerrors.Validationf(domainerrors.CodeDisputeAlreadyOpen,
			"escrow %s already has dispute %s open", escrowID, existing.DisputeID)
	}

	if err := s.db.TransitionStatusTx(tx, escrowID, escrow.Status, types.EscrowStatusDisputed, map[string]interface{}{
		"pre_dispute_status": escrow.Status,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}

	respondentID := escrow.SellerID
	if callerID == escrow.SellerID {
		respondentID = escrow.BuyerID
	}
	dispute := &types.Dispute{
		DisputeID:    "DSP_" + uuid.New().String(),
		EscrowID:     escrowID,
		InitiatorID:  callerID,
		RespondentID: respondentID,
		Reason:       reason,
		Status:       types.DisputeStatusOpen,
	}
	if err := s.db.CreateDisputeTx(tx, dispute); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := s.outbox.AppendTx(tx, types.EventDisputeFiled, escrow.AuctionID, escrowID, types.DisputeFiledEvent{
		DisputeID:   dispute.DisputeID,
		EscrowID:    escrowID,
		InitiatorID: callerID,
		Reason:      reason,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Str("dispute_id", dispute.DisputeID).Msg("Dispute filed, escrow frozen")
	return dispute, nil
}

// AssignDispute moves a dispute to INVESTIGATING under the given
// arbiter.
func (s *Service) AssignDispute(disputeID, adminID string) (*types.Dispute, error) {
	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := s.db.TransitionDisputeTx(tx, disputeID,
		[]string{types.DisputeStatusOpen}, types.DisputeStatusInvestigating,
		map[string]interface{}{"admin_id": adminID}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Str("dispute_id", disputeID).
		Str("admin_id", adminID).
		Str("service", "escrow").
		Msg("Dispute assigned for investigation")
	return s.db.GetDispute(disputeID)
}

// ResolveDispute applies an arbiter's ruling to a disputed escrow.
// RELEASE settles to the seller through the normal fee split, REFUND
// returns everything to the buyer fee-free, and SPLIT refunds half and
// settles the rest.
func (s *Service) ResolveDispute(disputeID, adminID, outcome, resolution string) (*types.EscrowTransaction, error) {
	logger := log.With().
		Str("dispute_id", disputeID).
		Str("admin_id", adminID).
		Str("service", "escrow").
		Logger()
	logger.Debug().Str("outcome", outcome).Msg("Processing dispute resolution")

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	dispute, err := s.db.GetDisputeTx(tx, disputeID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if dispute.Status != types.DisputeStatusOpen && dispute.Status != types.DisputeStatusInvestigating {
		tx.Rollback()
		return nil, domainerrors.Validationf(domainerrors.CodeDisputeNotOpen,
			"dispute %s is already %s", disputeID, dispute.Status)
	}
	escrow, err := s.db.GetEscrowTx(tx, dispute.EscrowID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if escrow.Status != types.EscrowStatusDisputed {
		tx.Rollback()
		return nil, domainerrors.Invariant(domainerrors.CodeInvariantViolation,
			fmt.Sprintf("dispute %s is open but escrow %s is %s", disputeID, escrow.EscrowID, escrow.Status))
	}

	switch outcome {
	case types.ResolutionRelease:
		if err := s.settleTx(tx, escrow, types.EscrowStatusDisputed, types.EscrowOutcomeReleased, nil); err != nil {
			tx.Rollback()
			s.ledger.FreezeIfInvariant(err, escrow.BuyerID)
			return nil, err
		}
	case types.ResolutionRefund:
		if err := s.refundTx(tx, escrow); err != nil {
			tx.Rollback()
			s.ledger.FreezeIfInvariant(err, escrow.BuyerID)
			return nil, err
		}
	case types.ResolutionSplit:
		if err := s.splitTx(tx, escrow); err != nil {
			tx.Rollback()
			s.ledger.FreezeIfInvariant(err, escrow.BuyerID)
			return nil, err
		}
	default:
		tx.Rollback()
		return nil, domainerrors.Validationf(domainerrors.CodeValidationFailed,
			"unknown resolution outcome %s", outcome)
	}

	if err := s.db.TransitionDisputeTx(tx, disputeID,
		[]string{types.DisputeStatusOpen, types.DisputeStatusInvestigating}, types.DisputeStatusResolved,
		map[string]interface{}{
			"admin_id":    adminID,
			"resolution":  resolution,
			"resolved_at": time.Now(),
		}); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := s.outbox.AppendTx(tx, types.EventDisputeResolved, escrow.AuctionID, escrow.EscrowID, types.DisputeResolvedEvent{
		DisputeID:  disputeID,
		EscrowID:   escrow.EscrowID,
		AdminID:    adminID,
		Resolution: outcome,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Str("outcome", outcome).Msg("Dispute resolved")
	return s.db.GetEscrow(escrow.EscrowID)
}

// refundTx returns the full escrowed amount to the buyer with no fee.
func (s *Service) refundTx(tx *gorm.DB, escrow *types.EscrowTransaction) error {
	if err := s.ledger.RefundEscrowTx(tx, escrow.BuyerID, escrow.Amount, escrow.EscrowID); err != nil {
		return err
	}
	if err := s.db.TransitionStatusTx(tx, escrow.EscrowID, types.EscrowStatusDisputed, types.EscrowStatusCompleted, map[string]interface{}{
		"outcome":         types.EscrowOutcomeRefunded,
		"seller_proceeds": 0,
		"fee_amount":      0,
		"burned_amount":   0,
		"completed_at":    time.Now(),
	}); err != nil {
		return err
	}
	return s.outbox.AppendTx(tx, types.EventEscrowCompleted, escrow.AuctionID, escrow.EscrowID, types.EscrowCompletedEvent{
		EscrowID:  escrow.EscrowID,
		AuctionID: escrow.AuctionID,
		Outcome:   types.EscrowOutcomeRefunded,
	})
}

// splitTx refunds half to the buyer and settles the other half to the
// seller through the fee split. The odd token on an uneven amount goes
// to the buyer.
func (s *Service) splitTx(tx *gorm.DB, escrow *types.EscrowTransaction) error {
	releaseHalf := escrow.Amount / 2
	refundHalf := escrow.Amount - releaseHalf

	if refundHalf > 0 {
		if err := s.ledger.RefundEscrowTx(tx, escrow.BuyerID, refundHalf, escrow.EscrowID); err != nil {
			return err
		}
	}

	split := s.calc.Split(releaseHalf)
	if releaseHalf > 0 {
		if err := s.ledger.ReleaseEscrowTx(tx, escrow.BuyerID, escrow.SellerID, releaseHalf,
			split.SellerProceeds, split.BurnAmount, split.TreasuryAmount, escrow.EscrowID); err != nil {
			return err
		}
	}

	if err := s.db.TransitionStatusTx(tx, escrow.EscrowID, types.EscrowStatusDisputed, types.EscrowStatusCompleted, map[string]interface{}{
		"outcome":         types.EscrowOutcomeSplit,
		"seller_proceeds": split.SellerProceeds,
		"fee_amount":      split.FeeAmount(),
		"burned_amount":   split.BurnAmount,
		"completed_at":    time.Now(),
	}); err != nil {
		return err
	}

	if split.BurnAmount > 0 {
		if err := s.outbox.AppendTx(tx, types.EventTokensBurned, escrow.AuctionID, escrow.EscrowID, types.TokensBurnedEvent{
			Amount:    split.BurnAmount,
			Reason:    "SETTLEMENT_FEE",
			Reference: escrow.EscrowID,
		}); err != nil {
			return err
		}
	}
	return s.outbox.AppendTx(tx, types.EventEscrowCompleted, escrow.AuctionID, escrow.EscrowID, types.EscrowCompletedEvent{
		EscrowID:       escrow.EscrowID,
		AuctionID:      escrow.AuctionID,
		Outcome:        types.EscrowOutcomeSplit,
		SellerProceeds: split.SellerProceeds,
		FeeAmount:      split.FeeAmount(),
		BurnedAmount:   split.BurnAmount,
	})
}

// CloseDispute dismisses a dispute without a ruling and returns the
// escrow to its pre-dispute state. If the escrow was already delivered,
// the buyer gets a fresh confirmation window.
func (s *Service) CloseDispute(disputeID, adminID, note string) (*types.EscrowTransaction, error) {
	logger := log.With().
		Str("dispute_id", disputeID).
		Str("admin_id", adminID).
		Str("service", "escrow").
		Logger()
	logger.Debug().Msg("Processing dispute dismissal")

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	dispute, err := s.db.GetDisputeTx(tx, disputeID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if dispute.Status != types.DisputeStatusOpen && dispute.Status != types.DisputeStatusInvestigating {
		tx.Rollback()
		return nil, domainerrors.Validationf(domainerrors.CodeDisputeNotOpen,
			"dispute %s is already %s", disputeID, dispute.Status)
	}
	escrow, err := s.db.GetEscrowTx(tx, dispute.EscrowID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if escrow.Status != types.EscrowStatusDisputed || escrow.PreDisputeStatus == "" {
		tx.Rollback()
		return nil, domainerrors.Invariant(domainerrors.CodeInvariantViolation,
			fmt.Sprintf("escrow %s has no pre-dispute state to resume", escrow.EscrowID))
	}

	resumed := escrow.PreDisputeStatus
	updates := map[string]interface{}{"pre_dispute_status": ""}
	if resumed == types.EscrowStatusDelivered {
		updates["delivery_deadline"] = time.Now().Add(s.deliveryWindow)
	}
	if err := s.db.TransitionStatusTx(tx, escrow.EscrowID, types.EscrowStatusDisputed, resumed, updates); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := s.db.TransitionDisputeTx(tx, disputeID,
		[]string{types.DisputeStatusOpen, types.DisputeStatusInvestigating}, types.DisputeStatusClosed,
		map[string]interface{}{
			"admin_id":    adminID,
			"resolution":  note,
			"resolved_at": time.Now(),
		}); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := s.outbox.AppendTx(tx, types.EventDisputeClosed, escrow.AuctionID, escrow.EscrowID, types.DisputeClosedEvent{
		DisputeID:     disputeID,
		EscrowID:      escrow.EscrowID,
		AdminID:       adminID,
		ResumedStatus: resumed,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Str("resumed_status", resumed).Msg("Dispute dismissed, escrow resumed")
	return s.db.GetEscrow(escrow.EscrowID)
}

// GetEscrowForUser returns an escrow if the caller is a party to it or
// an admin.
func (s *Service) GetEscrowForUser(escrowID, callerID string, isAdmin bool) (*types.EscrowTransaction, error) {
	escrow, err := s.db.GetEscrow(escrowID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && callerID != escrow.BuyerID && callerID != escrow.SellerID {
		return nil, domainerrors.Unauthorized("not a party to this escrow")
	}
	return escrow, nil
}

// ListEscrowsForUser returns every escrow the user participates in.
func (s *Service) ListEscrowsForUser(userID string) ([]types.EscrowTransaction, error) {
	return s.db.GetEscrowsForUser(userID)
}

// GinHandlers provides HTTP handlers for the escrow service.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of Gin handlers for escrow.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ListEscrowsHandler returns the caller's escrows.
func (h *GinHandlers) ListEscrowsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		escrows, err := h.service.ListEscrowsForUser(c.GetString("userID"))
		response.HandleDomain(c, escrows, err)
	}
}

// GetEscrowHandler returns one escrow to a party or an admin.
func (h *GinHandlers) GetEscrowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		escrow, err := h.service.GetEscrowForUser(c.Param("escrow_id"),
			c.GetString("userID"), c.GetString("userRole") == "admin")
		response.HandleDomain(c, escrow, err)
	}
}

// MarkDeliveredHandler records the seller's delivery claim.
func (h *GinHandlers) MarkDeliveredHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		escrow, err := h.service.MarkDelivered(c.Param("escrow_id"), c.GetString("userID"))
		response.HandleDomain(c, escrow, err)
	}
}

// ConfirmDeliveryHandler settles the escrow on buyer acceptance.
func (h *GinHandlers) ConfirmDeliveryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ConfirmDeliveryRequest
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			response.BadRequest(c, "Invalid request payload")
			return
		}
		escrow, err := h.service.ConfirmDelivery(c.Param("escrow_id"), c.GetString("userID"), req.Rating)
		response.HandleDomain(c, escrow, err)
	}
}

// FileDisputeHandler opens a dispute on behalf of a party.
func (h *GinHandlers) FileDisputeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.FileDisputeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request payload")
			return
		}
		dispute, err := h.service.FileDispute(c.Param("escrow_id"), c.GetString("userID"), req.Reason)
		response.HandleDomain(c, dispute, err)
	}
}

// ListDisputesHandler returns disputes for arbitration. Admins only.
func (h *GinHandlers) ListDisputesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		disputes, err := h.service.db.ListDisputes(c.Query("status"), 100)
		response.HandleDomain(c, disputes, err)
	}
}

// GetDisputeHandler returns one dispute. Admins only.
func (h *GinHandlers) GetDisputeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dispute, err := h.service.db.GetDispute(c.Param("dispute_id"))
		response.HandleDomain(c, dispute, err)
	}
}

// AssignDisputeHandler claims a dispute for investigation. Admins only.
func (h *GinHandlers) AssignDisputeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dispute, err := h.service.AssignDispute(c.Param("dispute_id"), c.GetString("userID"))
		response.HandleDomain(c, dispute, err)
	}
}

// ResolveDisputeHandler applies a ruling. Admins only.
func (h *GinHandlers) ResolveDisputeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ResolveDisputeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request payload")
			return
		}
		escrow, err := h.service.ResolveDispute(c.Param("dispute_id"), c.GetString("userID"), req.Outcome, req.Resolution)
		response.HandleDomain(c, escrow, err)
	}
}

// CloseDisputeHandler dismisses a dispute without a ruling. Admins only.
func (h *GinHandlers) CloseDisputeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CloseDisputeRequest
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			response.BadRequest(c, "Invalid request payload")
			return
		}
		escrow, err := h.service.CloseDispute(c.Param("dispute_id"), c.GetString("userID"), req.Note)
		response.HandleDomain(c, escrow, err)
	}
}

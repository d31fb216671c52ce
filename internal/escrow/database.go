package escrow

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

// GetEscrow retrieves an escrow by its business ID.
func (d *Database) GetEscrow(escrowID string) (*types.EscrowTransaction, error) {
	return d.GetEscrowTx(d.db, escrowID)
}

// GetEscrowTx retrieves an escrow inside an open transaction.
func (d *Database) GetEscrowTx(tx *gorm.DB, escrowID string) (*types.EscrowTransaction, error) {
	var escrow types.EscrowTransaction
	if err := tx.Where("escrow_id = ?", escrowID).First(&escrow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.NotFound(domainerrors.CodeEscrowNotFound,
				fmt.Sprintf("no escrow with ID %s", escrowID))
		}
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}
	return &escrow, nil
}

func (d *Database) CreateEscrowTx(tx *gorm.DB, escrow *types.EscrowTransaction) error {
	if err := tx.Create(escrow).Error; err != nil {
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	return nil
}

// TransitionStatusTx moves an escrow from one status to another with a
// compare-and-set, so two writers can never apply conflicting
// transitions. extra columns are written alongside the status.
func (d *Database) TransitionStatusTx(tx *gorm.DB, escrowID, fromStatus, toStatus string, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": toStatus}
	for column, value := range extra {
		updates[column] = value
	}
	result := tx.Model(&types.EscrowTransaction{}).
		Where("escrow_id = ? AND status = ?", escrowID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition escrow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		escrow, err := d.GetEscrowTx(tx, escrowID)
		if err != nil {
			return err
		}
		return domainerrors.Validationf(domainerrors.CodeInvalidTransition,
			"escrow %s is %s, cannot move from %s to %s",
			escrowID, escrow.Status, fromStatus, toStatus)
	}
	return nil
}

// GetEscrowsForUser returns every escrow the user participates in.
func (d *Database) GetEscrowsForUser(userID string) ([]types.EscrowTransaction, error) {
	var escrows []types.EscrowTransaction
	if err := d.db.Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("id desc").
		Find(&escrows).Error; err != nil {
		return nil, fmt.Errorf("failed to get escrows: %w", err)
	}
	return escrows, nil
}

// GetDueForAutoRelease returns delivered escrows whose confirmation
// window has lapsed. Disputed escrows are not DELIVERED, so an open
// dispute suspends auto-release without any extra bookkeeping.
func (d *Database) GetDueForAutoRelease(now time.Time, limit int) ([]types.EscrowTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var escrows []types.EscrowTransaction
	if err := d.db.Where("status = ? AND delivery_deadline <= ?", types.EscrowStatusDelivered, now).
		Order("id asc").
		Limit(limit).
		Find(&escrows).Error; err != nil {
		return nil, fmt.Errorf("failed to get due escrows: %w", err)
	}
	return escrows, nil
}

func (d *Database) CreateDisputeTx(tx *gorm.DB, dispute *types.Dispute) error {
	if err := tx.Create(dispute).Error; err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

// GetDispute retrieves a dispute by its business ID.
func (d *Database) GetDispute(disputeID string) (*types.Dispute, error) {
	return d.GetDisputeTx(d.db, disputeID)
}

// GetDisputeTx retrieves a dispute inside an open transaction.
func (d *Database) GetDisputeTx(tx *gorm.DB, disputeID string) (*types.Dispute, error) {
	var dispute types.Dispute
	if err := tx.Where("dispute_id = ?", disputeID).First(&dispute).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.NotFound(domainerrors.CodeDisputeNotFound,
				fmt.Sprintf("no dispute with ID %s", disputeID))
		}
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return &dispute, nil
}

// GetOpenDisputeByEscrowTx returns the escrow's live dispute, or nil.
func (d *Database) GetOpenDisputeByEscrowTx(tx *gorm.DB, escrowID string) (*types.Dispute, error) {
	var dispute types.Dispute
	err := tx.Where("escrow_id = ? AND status IN ?", escrowID,
		[]string{types.DisputeStatusOpen, types.DisputeStatusInvestigating}).
		First(&dispute).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open dispute: %w", err)
	}
	return &dispute, nil
}

// TransitionDisputeTx moves a dispute between statuses with a
// compare-and-set over the allowed source states.
func (d *Database) TransitionDisputeTx(tx *gorm.DB, disputeID string, fromStatuses []string, toStatus string, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": toStatus}
	for column, value := range extra {
		updates[column] = value
	}
	result := tx.Model(&types.Dispute{}).
		Where("dispute_id = ? AND status IN ?", disputeID, fromStatuses).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition dispute: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		dispute, err := d.GetDisputeTx(tx, disputeID)
		if err != nil {
			return err
		}
		return domainerrors.Validationf(domainerrors.CodeDisputeNotOpen,
			"dispute %s is %s, cannot move to %s", disputeID, dispute.Status, toStatus)
	}
	return nil
}

// ListDisputes returns disputes newest first, optionally filtered by
// status.
func (d *Database) ListDisputes(status string, limit int) ([]types.Dispute, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := d.db.Order("id desc").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var disputes []types.Dispute
	if err := query.Find(&disputes).Error; err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	return disputes, nil
}

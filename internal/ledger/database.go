package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/domainerrors"
	"github.com/sokoni/auction-engine/internal/types"
)

// Database wraps balance and ledger entry persistence. Every mutation is
// a guarded relative update so concurrent writers can never drive a
// bucket negative, and every mutation appends a ledger entry in the same
// transaction.
type Database struct {
	db *gorm.DB
}

// NewDatabase creates a new ledger database instance.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetAccountByUserID retrieves an account by its owning user.
func (d *Database) GetAccountByUserID(userID string) (*types.Account, error) {
	return d.getAccountTx(d.db, userID)
}

func (d *Database) getAccountTx(tx *gorm.DB, userID string) (*types.Account, error) {
	var account types.Account
	if err := tx.Where("user_id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.NotFound(domainerrors.CodeAccountNotFound,
				fmt.Sprintf("no account for user %s", userID))
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetOrCreateAccount returns the user's account, creating an empty one on
// first contact.
func (d *Database) GetOrCreateAccount(userID string) (*types.Account, error) {
	account, err := d.getAccountTx(d.db, userID)
	if err == nil {
		return account, nil
	}
	if !domainerrors.IsNotFound(err) {
		return nil, err
	}
	created := types.Account{
		AccountID: "ACC_" + uuid.New().String(),
		UserID:    userID,
	}
	if err := d.db.Create(&created).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &created, nil
}

func (d *Database) ensureAccountTx(tx *gorm.DB, userID string) error {
	var account types.Account
	err := tx.Where("user_id = ?", userID).First(&account).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to get account: %w", err)
	}
	account = types.Account{
		AccountID: "ACC_" + uuid.New().String(),
		UserID:    userID,
	}
	if err := tx.Create(&account).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// CreditTx mints tokens into a user's available balance, creating the
// account if needed.
func (d *Database) CreditTx(tx *gorm.DB, userID string, amount int64, reference, memo string) error {
	if amount <= 0 {
		return domainerrors.Validation(domainerrors.CodeValidationFailed, "credit amount must be positive")
	}
	if err := d.ensureAccountTx(tx, userID); err != nil {
		return err
	}
	return d.creditAvailableTx(tx, userID, amount, types.EntryTypeCredit, reference, memo)
}

// LockTx moves tokens from available to locked to back a standing bid.
// A shortfall here is the caller's problem, not the ledger's.
func (d *Database) LockTx(tx *gorm.DB, userID string, amount int64, reference string) error {
	if amount <= 0 {
		return domainerrors.Validation(domainerrors.CodeValidationFailed, "lock amount must be positive")
	}
	result := tx.Model(&types.Account{}).
		Where("user_id = ? AND frozen = ? AND available >= ?", userID, false, amount).
		Updates(map[string]interface{}{
			"available": gorm.Expr("available - ?", amount),
			"locked":    gorm.Expr("locked + ?", amount),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to lock funds: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return d.explainFailedMove(tx, userID, "available", amount, false)
	}
	return d.appendEntry(tx, userID, types.EntryTypeLock, -amount, reference, "funds locked for bid")
}

// UnlockTx returns locked tokens to available when a bid is outbid,
// withdrawn or loses. The engine only ever unlocks what it locked, so a
// shortfall means the books are wrong.
func (d *Database) UnlockTx(tx *gorm.DB, userID string, amount int64, reference string) error {
	if amount <= 0 {
		return domainerrors.Validation(domainerrors.CodeValidationFailed, "unlock amount must be positive")
	}
	result := tx.Model(&types.Account{}).
		Where("user_id = ? AND frozen = ? AND locked >= ?", userID, false, amount).
		Updates(map[string]interface{}{
			"available": gorm.Expr("available + ?", amount),
			"locked":    gorm.Expr("locked - ?", amount),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to unlock funds: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return d.explainFailedMove(tx, userID, "locked", amount, true)
	}
	return d.appendEntry(tx, userID, types.EntryTypeUnlock, amount, reference, "bid funds unlocked")
}

// HoldForEscrowTx moves a winner's locked tokens into pending, where they
// sit until the escrow settles.
func (d *Database) HoldForEscrowTx(tx *gorm.DB, userID string, amount int64, reference string) error {
	if amount <= 0 {
		return domainerrors.Validation(domainerrors.CodeValidationFailed, "hold amount must be positive")
	}
	result := tx.Model(&types.Account{}).
		Where("user_id = ? AND frozen = ? AND locked >= ?", userID, false, amount).
		Updates(map[string]interface{}{
			"locked":  gorm.Expr("locked - ?", amount),
			"pending": gorm.Expr("pending + ?", amount),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to hold funds for escrow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return d.explainFailedMove(tx, userID, "locked", amount, true)
	}
	return d.appendEntry(tx, userID, types.EntryTypeEscrowHold, -amount, reference, "winning bid moved to escrow")
}

// ReleaseEscrowTx settles an escrow to the seller. The buyer's pending
// balance drops by the full amount while the seller, treasury and burn
// sink receive the split, so total supply is unchanged.
func (d *Database) ReleaseEscrowTx(tx *gorm.DB, buyerID, sellerID string, amount, sellerProceeds, burnAmount, treasuryAmount int64, reference string) error {
	if amount <= 0 {
		return domainerrors.Validation(domainerrors.CodeValidationFailed, "release amount must be positive")
	}
	if sellerProceeds+burnAmount+treasuryAmount != amount {
		return domainerrors.Invariant(domainerrors.CodeInvariantViolation,
			fmt.Sprintf("fee split does not reassemble amount: %d + %d + %d != %d",
				sellerProceeds, burnAmount, treasuryAmount, amount))
	}
	if err := d.debitPendingTx(tx, buyerID, amount, types.EntryTypeRelease, reference, "escrow released to seller"); err != nil {
		return err
	}
	if sellerProceeds > 0 {
		if err := d.ensureAccountTx(tx, sellerID); err != nil {
			return err
		}
		if err := d.creditAvailableTx(tx, sellerID, sellerProceeds, types.EntryTypeRelease, reference, "sale proceeds"); err != nil {
			return err
		}
	}
	if treasuryAmount > 0 {
		if err := d.creditAvailableTx(tx, types.SystemAccountTreasury, treasuryAmount, types.EntryTypeFee, reference, "platform fee"); err != nil {
			return err
		}
	}
	if burnAmount > 0 {
		if err := d.creditAvailableTx(tx, types.SystemAccountBurn, burnAmount, types.EntryTypeBurn, reference, "fee burn"); err != nil {
			return err
		}
	}
	return nil
}

// RefundEscrowTx returns a buyer's pending escrow balance to available
// with no fee taken.
func (d *Database) RefundEscrowTx(tx *gorm.DB, buyerID string, amount int64, reference string) error {
	if amount <= 0 {
		return domainerrors.Validation(domainerrors.CodeValidationFailed, "refund amount must be positive")
	}
	result := tx.Model(&types.Account{}).
		Where("user_id = ? AND frozen = ? AND pending >= ?", buyerID, false, amount).
		Updates(map[string]interface{}{
			"pending":   gorm.Expr("pending - ?", amount),
			"available": gorm.Expr("available + ?", amount),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to refund escrow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return d.explainFailedMove(tx, buyerID, "pending", amount, true)
	}
	return d.appendEntry(tx, buyerID, types.EntryTypeRefund, amount, reference, "escrow refunded")
}

// TransferTx moves available tokens between two users.
func (d *Database) TransferTx(tx *gorm.DB, fromUserID, toUserID string, amount int64, reference, memo string) error {
	if amount <= 0 {
		return domainerrors.Validation(domainerrors.CodeValidationFailed, "transfer amount must be positive")
	}
	if fromUserID == toUserID {
		return domainerrors.Validation(domainerrors.CodeValidationFailed, "cannot transfer to self")
	}
	result := tx.Model(&types.Account{}).
		Where("user_id = ? AND frozen = ? AND available >= ?", fromUserID, false, amount).
		Update("available", gorm.Expr("available - ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to debit transfer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return d.explainFailedMove(tx, fromUserID, "available", amount, false)
	}
	if err := d.appendEntry(tx, fromUserID, types.EntryTypeTransferOut, -amount, reference, memo); err != nil {
		return err
	}
	if err := d.ensureAccountTx(tx, toUserID); err != nil {
		return err
	}
	return d.creditAvailableTx(tx, toUserID, amount, types.EntryTypeTransferIn, reference, memo)
}

// BurnTx destroys tokens from a user's available balance. The burn sink
// account accumulates everything ever burned so supply stays auditable.
func (d *Database) BurnTx(tx *gorm.DB, userID string, amount int64, reference, reason string) error {
	if amount <= 0 {
		return domainerrors.Validation(domainerrors.CodeValidationFailed, "burn amount must be positive")
	}
	result := tx.Model(&types.Account{}).
		Where("user_id = ? AND frozen = ? AND available >= ?", userID, false, amount).
		Update("available", gorm.Expr("available - ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to burn funds: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return d.explainFailedMove(tx, userID, "available", amount, false)
	}
	if err := d.appendEntry(tx, userID, types.EntryTypeBurn, -amount, reference, reason); err != nil {
		return err
	}
	return d.creditAvailableTx(tx, types.SystemAccountBurn, amount, types.EntryTypeBurn, reference, reason)
}

// debitPendingTx reduces a user's pending balance. Pending only ever
// holds escrowed amounts the engine placed there, so shortfalls are
// invariant violations.
func (d *Database) debitPendingTx(tx *gorm.DB, userID string, amount int64, entryType, reference, memo string) error {
	result := tx.Model(&types.Account{}).
		Where("user_id = ? AND frozen = ? AND pending >= ?", userID, false, amount).
		Update("pending", gorm.Expr("pending - ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to debit pending balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return d.explainFailedMove(tx, userID, "pending", amount, true)
	}
	return d.appendEntry(tx, userID, entryType, -amount, reference, memo)
}

// creditAvailableTx adds to an existing account's available balance.
func (d *Database) creditAvailableTx(tx *gorm.DB, userID string, amount int64, entryType, reference, memo string) error {
	result := tx.Model(&types.Account{}).
		Where("user_id = ? AND frozen = ?", userID, false).
		Update("available", gorm.Expr("available + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to credit account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return d.explainFailedMove(tx, userID, "available", amount, true)
	}
	return d.appendEntry(tx, userID, entryType, amount, reference, memo)
}

// explainFailedMove turns a zero-row guarded update into the right
// domain error by re-reading the account.
func (d *Database) explainFailedMove(tx *gorm.DB, userID, bucket string, required int64, shortfallIsInvariant bool) error {
	account, err := d.getAccountTx(tx, userID)
	if err != nil {
		return err
	}
	if account.Frozen {
		return domainerrors.Invariant(domainerrors.CodeAccountFrozen,
			fmt.Sprintf("account for user %s is frozen", userID))
	}
	if shortfallIsInvariant {
		return domainerrors.Invariant(domainerrors.CodeInvariantViolation,
			fmt.Sprintf("%s balance shortfall for user %s: need %d", bucket, userID, required))
	}
	return domainerrors.InsufficientFunds(
		fmt.Sprintf("user %s needs %d %s tokens", userID, required, bucket))
}

func (d *Database) appendEntry(tx *gorm.DB, userID, entryType string, amount int64, reference, memo string) error {
	entry := types.LedgerEntry{
		EntryID:   "ENT_" + uuid.New().String(),
		UserID:    userID,
		Type:      entryType,
		Amount:    amount,
		Reference: reference,
		Memo:      memo,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// FreezeAccount halts all further mutation on a user's account. Reads
// still work.
func (d *Database) FreezeAccount(userID string) error {
	result := d.db.Model(&types.Account{}).
		Where("user_id = ?", userID).
		Update("frozen", true)
	if result.Error != nil {
		return fmt.Errorf("failed to freeze account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerrors.NotFound(domainerrors.CodeAccountNotFound,
			fmt.Sprintf("no account for user %s", userID))
	}
	return nil
}

// FreezeIfInvariant freezes the account when err reports a ledger
// imbalance. Call after the failing transaction has rolled back.
func (d *Database) FreezeIfInvariant(err error, userID string) {
	if err == nil || userID == "" || !domainerrors.IsInvariant(err) {
		return
	}
	if domainerrors.HasCode(err, domainerrors.CodeAccountFrozen) {
		return
	}
	log.Error().
		Err(err).
		Str("user_id", userID).
		Str("service", "ledger").
		Msg("Invariant violation detected, freezing account")
	if freezeErr := d.FreezeAccount(userID); freezeErr != nil {
		log.Error().
			Err(freezeErr).
			Str("user_id", userID).
			Str("service", "ledger").
			Msg("Failed to freeze account after invariant violation")
	}
}

// GetEntriesForUser returns a user's most recent ledger entries.
func (d *Database) GetEntriesForUser(userID string, limit int) ([]types.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var entries []types.LedgerEntry
	if err := d.db.Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	return entries, nil
}

// GetSupply reports minted, circulating and burned totals.
func (d *Database) GetSupply() (*types.SupplyResponse, error) {
	var supply types.SupplyResponse

	mintedQuery := `
		SELECT COALESCE(SUM(amount), 0) as total
		FROM ledger_entries
		WHERE type = ? AND amount > 0 AND deleted_at IS NULL
	`
	var minted struct{ Total int64 }
	if err := d.db.Raw(mintedQuery, types.EntryTypeCredit).Scan(&minted).Error; err != nil {
		return nil, fmt.Errorf("failed to compute minted supply: %w", err)
	}

	burnedQuery := `
		SELECT COALESCE(SUM(available + locked + pending), 0) as total
		FROM accounts
		WHERE user_id = ? AND deleted_at IS NULL
	`
	var burned struct{ Total int64 }
	if err := d.db.Raw(burnedQuery, types.SystemAccountBurn).Scan(&burned).Error; err != nil {
		return nil, fmt.Errorf("failed to compute burned supply: %w", err)
	}

	supply.TotalMinted = minted.Total
	supply.Burned = burned.Total
	supply.Circulating = minted.Total - burned.Total
	return &supply, nil
}

// CheckGlobalBalance verifies that the sum of every account bucket still
// equals everything ever minted. Internal moves are zero-sum, so any
// drift means an invariant was broken.
func (d *Database) CheckGlobalBalance() error {
	query := `
		SELECT
			(SELECT COALESCE(SUM(available + locked + pending), 0) FROM accounts WHERE deleted_at IS NULL) as held,
			(SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE type = ? AND amount > 0 AND deleted_at IS NULL) as minted
	`
	var totals struct {
		Held   int64
		Minted int64
	}
	if err := d.db.Raw(query, types.EntryTypeCredit).Scan(&totals).Error; err != nil {
		return fmt.Errorf("failed to check global balance: %w", err)
	}
	if totals.Held != totals.Minted {
		return domainerrors.Invariant(domainerrors.CodeInvariantViolation,
			fmt.Sprintf("global balance drift: accounts hold %d but %d was minted", totals.Held, totals.Minted))
	}
	return nil
}

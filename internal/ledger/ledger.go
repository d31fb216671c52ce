// Package ledger manages token accounts. Every user has an available,
// locked and pending balance; bids lock funds, escrow holds them pending,
// and settlement releases, refunds or burns them. All movements are
// recorded as append-only ledger entries.
package ledger

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/auth"
	"github.com/sokoni/auction-engine/internal/types"
	"github.com/sokoni/auction-engine/pkg/response"
)

// Service exposes ledger operations to handlers and sibling services.
type Service struct {
	db *Database
}

// NewService creates a new ledger service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: NewDatabase(db)}
}

// Database exposes the underlying ledger database so sibling services can
// compose ledger moves into their own transactions.
func (s *Service) Database() *Database {
	return s.db
}

// Credit mints tokens into a user's available balance and returns the
// refreshed account.
func (s *Service) Credit(userID string, amount int64, reference string) (*types.Account, error) {
	logger := log.With().
		Str("user_id", userID).
		Str("service", "ledger").
		Logger()
	logger.Debug().Int64("amount", amount).Msg("Processing credit")

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := s.db.CreditTx(tx, userID, amount, reference, "token credit"); err != nil {
		tx.Rollback()
		logger.Error().Err(err).Msg("Credit failed")
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Int64("amount", amount).Msg("Account credited")
	return s.db.GetAccountByUserID(userID)
}

// GetBalance returns the user's account, creating an empty one on first
// contact.
func (s *Service) GetBalance(userID string) (*types.Account, error) {
	return s.db.GetOrCreateAccount(userID)
}

// GetEntries returns the user's most recent ledger entries.
func (s *Service) GetEntries(userID string, limit int) ([]types.LedgerEntry, error) {
	return s.db.GetEntriesForUser(userID, limit)
}

// Transfer moves available tokens between two users.
func (s *Service) Transfer(fromUserID, toUserID string, amount int64, memo string) error {
	logger := log.With().
		Str("from_user_id", fromUserID).
		Str("to_user_id", toUserID).
		Str("service", "ledger").
		Logger()
	logger.Debug().Int64("amount", amount).Msg("Processing transfer")

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := s.db.TransferTx(tx, fromUserID, toUserID, amount, "", memo); err != nil {
		tx.Rollback()
		logger.Error().Err(err).Msg("Transfer failed")
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Int64("amount", amount).Msg("Transfer completed")
	return nil
}

// Burn destroys tokens from a user's available balance.
func (s *Service) Burn(userID string, amount int64, reason string) error {
	logger := log.With().
		Str("user_id", userID).
		Str("service", "ledger").
		Logger()
	logger.Debug().Int64("amount", amount).Msg("Processing burn")

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := s.db.BurnTx(tx, userID, amount, "", reason); err != nil {
		tx.Rollback()
		logger.Error().Err(err).Msg("Burn failed")
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info().Int64("amount", amount).Str("reason", reason).Msg("Tokens burned")
	return nil
}

// GetSupply reports aggregate token supply.
func (s *Service) GetSupply() (*types.SupplyResponse, error) {
	return s.db.GetSupply()
}

// GinHandlers provides HTTP handlers for the ledger service.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of Gin handlers for the ledger.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetBalanceHandler returns the caller's balances. Admins may pass
// ?user_id= to inspect another account.
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get claims from context
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		userID := auth.GetUserID(claims)
		if userID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		if target := c.Query("user_id"); target != "" && auth.GetRole(claims) == auth.RoleAdmin {
			userID = target
		}

		account, err := h.service.GetBalance(userID)
		response.HandleDomain(c, account, err)
	}
}

// GetEntriesHandler returns the caller's recent ledger entries.
func (h *GinHandlers) GetEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		userID := auth.GetUserID(claims)
		if userID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		entries, err := h.service.GetEntries(userID, limit)
		response.HandleDomain(c, entries, err)
	}
}

// CreditHandler mints tokens into a user's account. Internal services
// only.
func (h *GinHandlers) CreditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CreditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		account, err := h.service.Credit(req.UserID, req.Amount, req.Reference)
		response.HandleDomain(c, account, err)
	}
}

// GetSupplyHandler reports aggregate token supply. Admins only.
func (h *GinHandlers) GetSupplyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		supply, err := h.service.GetSupply()
		response.HandleDomain(c, supply, err)
	}
}

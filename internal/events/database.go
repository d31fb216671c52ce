package events

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/types"
)

// Database handles outbox persistence for the event service.
type Database struct {
	db *gorm.DB
}

// NewDatabase creates a new events database instance.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetPendingEvents returns undispatched events oldest first, so publish
// order matches commit order.
func (d *Database) GetPendingEvents(limit int) ([]types.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []types.OutboxEvent
	if err := d.db.Where("status = ?", types.OutboxStatusPending).
		Order("id asc").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

// MarkDispatched flags an event as published.
func (d *Database) MarkDispatched(eventID string) error {
	result := d.db.Model(&types.OutboxEvent{}).
		Where("event_id = ? AND status = ?", eventID, types.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":        types.OutboxStatusDispatched,
			"dispatched_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark event dispatched: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no pending event found with ID: %s", eventID)
	}
	return nil
}

// GetRecentEvents returns the newest events, optionally filtered by type
// or auction.
func (d *Database) GetRecentEvents(eventType, auctionID string, limit int) ([]types.OutboxEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := d.db.Order("id desc").Limit(limit)
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	if auctionID != "" {
		query = query.Where("auction_id = ?", auctionID)
	}
	var events []types.OutboxEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}
	return events, nil
}

// CountPending returns how many events still await dispatch.
func (d *Database) CountPending() (int64, error) {
	var count int64
	if err := d.db.Model(&types.OutboxEvent{}).
		Where("status = ?", types.OutboxStatusPending).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

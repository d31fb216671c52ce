package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/types"
)

// Recorder appends domain events to the outbox. Callers pass their open
// transaction so the event commits or rolls back with the state change
// it describes.
type Recorder struct{}

// NewRecorder creates a new outbox recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// AppendTx writes one event to the outbox inside the given transaction.
// auctionID and escrowID are optional correlation keys.
func (r *Recorder) AppendTx(tx *gorm.DB, eventType, auctionID, escrowID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	event := types.OutboxEvent{
		EventID:   "EVT_" + uuid.New().String(),
		Type:      eventType,
		AuctionID: auctionID,
		EscrowID:  escrowID,
		Payload:   string(data),
		Status:    types.OutboxStatusPending,
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("failed to record outbox event: %w", err)
	}
	return nil
}

package migrations

import (
	"github.com/sokoni/auction-engine/internal/types"
	"gorm.io/gorm"
)

// AddAuctionIndexes creates the auction domain tables and the composite
// indexes the sweep and lookup queries depend on
func AddAuctionIndexes(db *gorm.DB) error {
	// Create the tables
	if err := db.AutoMigrate(
		&types.Auction{},
		&types.Bid{},
		&types.EscrowTransaction{},
		&types.Dispute{},
		&types.OutboxEvent{},
	); err != nil {
		return err
	}

	// Add indexes for better query performance
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Close sweep scans active auctions past their end time
		`CREATE INDEX IF NOT EXISTS idx_auctions_status_end_time
		 ON auctions(status, end_time)`,

		// Standing bid lookup per auction
		`CREATE INDEX IF NOT EXISTS idx_bids_auction_status
		 ON bids(auction_id, status)`,

		// Auto-release sweep scans delivered escrows past their deadline
		`CREATE INDEX IF NOT EXISTS idx_escrow_transactions_status_deadline
		 ON escrow_transactions(status, delivery_deadline)`,

		// Escrow listings query by either side of the trade
		`CREATE INDEX IF NOT EXISTS idx_escrow_transactions_buyer
		 ON escrow_transactions(buyer_id)`,

		`CREATE INDEX IF NOT EXISTS idx_escrow_transactions_seller
		 ON escrow_transactions(seller_id)`,

		// Open dispute lookup per escrow
		`CREATE INDEX IF NOT EXISTS idx_disputes_escrow_status
		 ON disputes(escrow_id, status)`,

		// Dispatcher drains pending events in insertion order
		`CREATE INDEX IF NOT EXISTS idx_outbox_events_status_id
		 ON outbox_events(status, id)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}

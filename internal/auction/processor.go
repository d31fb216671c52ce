package auction

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const closeBatchSize = 50

// Processor sweeps active auctions whose end time has passed and closes
// them. Extensions persisted by late bids re-arm the timer because every
// tick re-reads the stored end time.
type Processor struct {
	service  *Service
	interval time.Duration
}

// NewProcessor creates a new auction close processor.
func NewProcessor(service *Service, interval time.Duration) *Processor {
	return &Processor{
		service:  service,
		interval: interval,
	}
}

// Start begins the close loop. It blocks until the context is
// cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "auction_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("Starting auction close processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Auction close processor stopped")
			return
		case <-ticker.C:
			if err := p.closeDue(); err != nil {
				logger.Error().Err(err).Msg("Close sweep failed")
			}
		}
	}
}

// closeDue closes every due auction. One failed close does not block
// the rest of the batch.
func (p *Processor) closeDue() error {
	due, err := p.service.db.GetDueAuctions(time.Now(), closeBatchSize)
	if err != nil {
		return err
	}
	for i := range due {
		result, err := p.service.CloseDue(due[i].AuctionID)
		if err != nil {
			log.Error().
				Err(err).
				Str("auction_id", due[i].AuctionID).
				Str("component", "auction_processor").
				Msg("Failed to close auction")
			continue
		}
		if result == nil {
			// A late bid extended the auction after the sweep read it.
			continue
		}
		log.Info().
			Str("auction_id", result.AuctionID).
			Str("close_reason", result.CloseReason).
			Bool("has_winner", result.HasWinner).
			Str("component", "auction_processor").
			Msg("Auction closed")
	}
	return nil
}

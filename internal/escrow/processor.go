package escrow

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const autoReleaseBatchSize = 50

// Processor sweeps delivered escrows whose confirmation window has
// lapsed and releases them to the seller.
type Processor struct {
	service  *Service
	interval time.Duration
	enabled  bool
}

// NewProcessor creates a new auto-release processor.
func NewProcessor(service *Service, interval time.Duration, enabled bool) *Processor {
	return &Processor{
		service:  service,
		interval: interval,
		enabled:  enabled,
	}
}

// Start begins the auto-release loop. It blocks until the context is
// cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "escrow_processor").Logger()

	if !p.enabled {
		logger.Info().Msg("Auto-release disabled, processor not starting")
		return
	}
	logger.Info().Dur("interval", p.interval).Msg("Starting escrow auto-release processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Escrow auto-release processor stopped")
			return
		case <-ticker.C:
			if err := p.releaseDue(); err != nil {
				logger.Error().Err(err).Msg("Auto-release sweep failed")
			}
		}
	}
}

// releaseDue settles every delivered escrow past its deadline. Failures
// on one escrow do not block the rest of the batch.
func (p *Processor) releaseDue() error {
	due, err := p.service.db.GetDueForAutoRelease(time.Now(), autoReleaseBatchSize)
	if err != nil {
		return err
	}
	for i := range due {
		if err := p.service.AutoRelease(due[i].EscrowID); err != nil {
			log.Error().
				Err(err).
				Str("escrow_id", due[i].EscrowID).
				Str("component", "escrow_processor").
				Msg("Failed to auto-release escrow")
		}
	}
	return nil
}

package events

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSubjectPrefix is the root of every published event subject.
const DefaultSubjectPrefix = "auctions.events"

// Dispatcher drains the outbox in the background, publishing pending
// events in commit order.
type Dispatcher struct {
	db            *Database
	publisher     Publisher
	interval      time.Duration
	subjectPrefix string
	batchSize     int
}

// NewDispatcher creates a dispatcher that polls the outbox every
// interval.
func NewDispatcher(db *Database, publisher Publisher, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		db:            db,
		publisher:     publisher,
		interval:      interval,
		subjectPrefix: DefaultSubjectPrefix,
		batchSize:     100,
	}
}

// Start begins the dispatch loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	log.Info().
		Dur("interval", d.interval).
		Msg("Starting event dispatcher")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Event dispatcher stopped")
			return
		case <-ticker.C:
			if err := d.dispatchPending(); err != nil {
				log.Error().Err(err).Msg("Error dispatching pending events")
			}
		}
	}
}

// dispatchPending publishes one batch of outbox rows. On a publish
// failure it stops the batch so later events cannot overtake the failed
// one; the whole remainder retries next tick.
func (d *Dispatcher) dispatchPending() error {
	pending, err := d.db.GetPendingEvents(d.batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	log.Debug().Int("count", len(pending)).Msg("Dispatching outbox events")

	for _, event := range pending {
		subject := d.SubjectFor(event.Type)
		if err := d.publisher.Publish(subject, []byte(event.Payload)); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.EventID).
				Str("subject", subject).
				Msg("Failed to publish event, will retry")
			return err
		}
		if err := d.db.MarkDispatched(event.EventID); err != nil {
			// The publish went out but the mark failed, so this event
			// may be delivered again next tick. Consumers must tolerate
			// duplicates.
			log.Error().
				Err(err).
				Str("event_id", event.EventID).
				Msg("Failed to mark event dispatched")
			return err
		}
	}
	return nil
}

// SubjectFor maps an event type to its broker subject.
func (d *Dispatcher) SubjectFor(eventType string) string {
	return d.subjectPrefix + "." + strings.ToLower(eventType)
}

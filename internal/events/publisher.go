package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher delivers dispatched events to downstream consumers.
type Publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher publishes events to a NATS broker.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the broker at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("auction-engine"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info().Str("url", url).Msg("Connected to NATS")
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends one event to the broker.
func (p *NATSPublisher) Publish(subject string, data []byte) error {
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// Close drains the connection so buffered publishes flush before
// shutdown.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Error().Err(err).Msg("Failed to drain NATS connection")
	}
}

// LogPublisher writes events to the structured log. Used when no broker
// is configured so the engine still runs standalone.
type LogPublisher struct{}

// NewLogPublisher creates a log-backed publisher.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// Publish logs the event.
func (p *LogPublisher) Publish(subject string, data []byte) error {
	log.Info().
		Str("subject", subject).
		RawJSON("event", data).
		Msg("Event dispatched")
	return nil
}

// Close is a no-op for the log publisher.
func (p *LogPublisher) Close() {}

package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/occupancy"
)

// NATSConfig contains NATS publisher settings
type NATSConfig struct {
	URL     string
	Subject string
}

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes records as JSON on a subject and deactivations
// on <subject>.deactivated
type NATSPublisher struct {
	conn    natsConn
	subject string
	logger  *logger.Logger
}

// NewNATSPublisher connects to the NATS server
func NewNATSPublisher(config NATSConfig, log *logger.Logger) (*NATSPublisher, error) {
	log = log.Named("nats")
	nc, err := nats.Connect(config.URL,
		nats.Name("spot-gazer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	log.Info("Connected to NATS", "url", config.URL, "subject", config.Subject)

	return newNATSPublisher(nc, config.Subject, log), nil
}

func newNATSPublisher(conn natsConn, subject string, log *logger.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, logger: log}
}

// Name implements Publisher
func (p *NATSPublisher) Name() string {
	return "nats"
}

// PublishOccupancy implements Publisher
func (p *NATSPublisher) PublishOccupancy(ctx context.Context, record occupancy.Record) error {
	data, err := encodeOccupancy(record)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, data)
}

// PublishDeactivation implements Publisher
func (p *NATSPublisher) PublishDeactivation(ctx context.Context, deactivation Deactivation) error {
	data, err := encodeDeactivation(deactivation)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject+".deactivated", data)
}

// Close drains and closes the NATS connection
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	p.logger.Info("NATS connection drained")
	return nil
}

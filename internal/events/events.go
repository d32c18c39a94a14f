// Package events publishes ingestion notifications to NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "docsearch"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// IngestEvent describes one successfully stored batch.
type IngestEvent struct {
	BatchID    string    `json:"batch_id"`
	IDs        []string  `json:"ids"`
	Filenames  []string  `json:"filenames"`
	Count      int       `json:"count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Publisher delivers ingestion events.
type Publisher interface {
	PublishIngested(ctx context.Context, event IngestEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishIngested(context.Context, IngestEvent) error { return nil }
func (Nop) Close() error                                       { return nil }

// NATSPublisher publishes events as JSON on "<prefix>.ingested".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// Connect dials url and returns a publisher owning the connection.
// The client reconnects in the background if the server goes away.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("docsearch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, prefix, logger)
	p.owned = true
	logger.Info("connected to NATS", zap.String("url", url), zap.String("subject", p.Subject()))
	return p, nil
}

// NewNATSPublisher publishes on an existing connection, which the caller
// keeps ownership of.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject ingestion events are published on.
func (p *NATSPublisher) Subject() string {
	return p.prefix + ".ingested"
}

func (p *NATSPublisher) PublishIngested(ctx context.Context, event IngestEvent) error {
	if p.conn.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ingest event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(), data); err != nil {
		return fmt.Errorf("publish ingest event: %w", err)
	}
	p.logger.Debug("published ingest event",
		zap.String("subject", p.Subject()),
		zap.String("batch_id", event.BatchID),
		zap.Int("count", event.Count))
	return nil
}

// Close drains the connection if the publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*NATSPublisher)(nil)
)

package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/miradorstack/outage-watch/internal/config"
	"github.com/miradorstack/outage-watch/internal/models"
)

// publisher is the subset of *nats.Conn used for delivery.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Batch is the message published for every notified change batch.
type Batch struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Count     int                  `json:"count"`
	Changes   []models.ChangeEvent `json:"changes"`
	Narrative string               `json:"narrative,omitempty"`
}

// NATSNotifier publishes change batches to a subject.
type NATSNotifier struct {
	conn         publisher
	subject      string
	flushTimeout time.Duration
	logger       *slog.Logger
}

// NewNATSNotifier connects to the configured server.
func NewNATSNotifier(cfg config.NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "nats_notifier"))
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newNATSNotifier(conn, cfg.Subject, cfg.FlushTimeout, logger), nil
}

func newNATSNotifier(conn publisher, subject string, flushTimeout time.Duration, logger *slog.Logger) *NATSNotifier {
	if flushTimeout <= 0 {
		flushTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{conn: conn, subject: subject, flushTimeout: flushTimeout, logger: logger}
}

func (n *NATSNotifier) Name() string { return "nats" }

// Notify publishes the batch and waits for the server to acknowledge it.
func (n *NATSNotifier) Notify(ctx context.Context, changes []models.ChangeEvent, narrative string) error {
	if len(changes) == 0 {
		return nil
	}
	payload, err := json.Marshal(Batch{
		ID:        uuid.NewString(),
		Type:      "outage.changes",
		Timestamp: time.Now().UTC(),
		Count:     len(changes),
		Changes:   changes,
		Narrative: narrative,
	})
	if err != nil {
		return deliveryError(n.Name(), fmt.Errorf("marshal batch: %w", err))
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return deliveryError(n.Name(), err)
	}

	timeout := n.flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := n.conn.FlushTimeout(timeout); err != nil {
		return deliveryError(n.Name(), fmt.Errorf("flush: %w", err))
	}
	n.logger.Debug("published change batch", slog.String("subject", n.subject), slog.Int("changes", len(changes)))
	return nil
}

// Close closes the connection.
func (n *NATSNotifier) Close() error {
	n.conn.Close()
	return nil
}

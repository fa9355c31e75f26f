// Package notify delivers IP change advisories to systems outside the
// control plane.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

// Publisher is the subset of *nats.Conn the notifier uses
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes every advisory as JSON on one subject
type NATSNotifier struct {
	publisher Publisher
	subject   string
	logger    *slog.Logger
	conn      *nats.Conn
}

// NewNATSNotifier publishes through an existing connection
func NewNATSNotifier(publisher Publisher, subject string, logger *slog.Logger) *NATSNotifier {
	return &NATSNotifier{
		publisher: publisher,
		subject:   subject,
		logger:    logger,
	}
}

// DialNATS connects to url and returns a notifier that owns the connection
func DialNATS(url, subject string, logger *slog.Logger) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("proxyfarm-control-plane"),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	n := NewNATSNotifier(nc, subject, logger)
	n.conn = nc
	return n, nil
}

// Notify publishes the advisory. The subject gets the device id appended so
// subscribers can filter per device.
func (n *NATSNotifier) Notify(ctx context.Context, notification models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	subject := n.subject + "." + notification.DeviceID
	if err := n.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	n.logger.Debug("Published ip change advisory", "subject", subject, "device_id", notification.DeviceID)
	return nil
}

// Close drains the owned connection, if any
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root for published changes.
const DefaultSubjectPrefix = "katler.changes"

// NATSConfig configures a NATSBroker.
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Logger        *slog.Logger
}

// NATSBroker carries changes between processes over core NATS subjects
// of the form <prefix>.<table>.<kind>.
type NATSBroker struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// DialNATS connects to the NATS server described by cfg.
func DialNATS(cfg NATSConfig) (*NATSBroker, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "katler"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNATSBroker(nc, cfg.SubjectPrefix, logger), nil
}

// NewNATSBroker wraps an existing connection.
func NewNATSBroker(nc *nats.Conn, prefix string, logger *slog.Logger) *NATSBroker {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBroker{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject a change is published on.
func (b *NATSBroker) Subject(table Table, kind EventKind) string {
	return fmt.Sprintf("%s.%s.%s", b.prefix, table, kind)
}

// Publish sends change on its table/kind subject.
func (b *NATSBroker) Publish(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := b.nc.Publish(b.Subject(change.Table, change.Kind), data); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe listens on every kind of the filter's table; kinds and the
// predicate are applied on receipt.
func (b *NATSBroker) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var natsSub *nats.Subscription
	sub := newSubscription(filter, func() {
		if natsSub != nil {
			if err := natsSub.Unsubscribe(); err != nil {
				b.logger.Debug("nats unsubscribe failed", "table", filter.Table, "error", err)
			}
		}
	})

	subject := fmt.Sprintf("%s.%s.*", b.prefix, filter.Table)
	natsSub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var change Change
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			b.logger.Warn("dropping malformed change", "subject", msg.Subject, "error", err)
			return
		}
		sub.deliver(change)
	})
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Ping verifies the connection for readiness checks.
func (b *NATSBroker) Ping(ctx context.Context) error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return b.nc.FlushWithContext(ctx)
}

// Close drains the connection.
func (b *NATSBroker) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	return b.nc.Drain()
}

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/citygrid/trafficsim/internal/channel"
	"github.com/citygrid/trafficsim/internal/config"
)

// NATS is the nats.io driver. The exchange name becomes a subject prefix,
// so routing key "zone_b" publishes on "city_migrations_exchange.zone_b",
// and subscribers join a queue group named after their durable queue.
type NATS struct {
	url      string
	exchange string

	mutex sync.RWMutex
	state ConnState
	conn  *nats.Conn
	subs  []*nats.Subscription
}

// NewNATS creates a disconnected NATS bus.
func NewNATS(cfg config.BusConfig) *NATS {
	return &NATS{
		url:      cfg.URL,
		exchange: cfg.Exchange,
	}
}

func (b *NATS) Connect(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.state == Ready {
		return nil
	}
	b.state = Connecting

	conn, err := nats.Connect(b.url,
		nats.Name("trafficsim"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS connection lost", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS connection restored")
		}),
	)
	if err != nil {
		b.state = Disconnected
		return fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	b.conn = conn
	b.state = Ready
	slog.Info("Connected to NATS server", "prefix", b.exchange)
	return nil
}

func (b *NATS) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.conn == nil {
		b.state = Disconnected
		return nil
	}
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
	err := b.conn.Drain()
	b.conn = nil
	b.state = Disconnected
	return err
}

func (b *NATS) State() ConnState {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.state
}

func (b *NATS) Publish(ctx context.Context, key string, body []byte) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.state != Ready {
		return ErrNotReady
	}
	if err := b.conn.Publish(b.subject(key), body); err != nil {
		return fmt.Errorf("failed to publish with key %s: %w", key, err)
	}
	return nil
}

func (b *NATS) Subscribe(ctx context.Context, queue, binding string) (channel.Receiver[Delivery], error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.state != Ready {
		return nil, ErrNotReady
	}

	out := channel.NewBuffered[Delivery](subscriberBuffer)
	prefix := b.exchange + "."
	sub, err := b.conn.QueueSubscribe(b.subject(toNATSWildcard(binding)), queue, func(m *nats.Msg) {
		key := strings.TrimPrefix(m.Subject, prefix)
		if !out.TrySend(Delivery{Key: key, Body: m.Data}) {
			slog.Warn("Dropping delivery, subscriber queue full",
				"queue", queue, "key", key)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe queue %s to %s: %w", queue, binding, err)
	}
	b.subs = append(b.subs, sub)
	return out, nil
}

func (b *NATS) subject(key string) string {
	return b.exchange + "." + key
}

// toNATSWildcard rewrites an AMQP topic binding into NATS syntax: "*" maps
// directly, "#" becomes ">" and only NATS's trailing form is expressible.
func toNATSWildcard(binding string) string {
	return strings.ReplaceAll(binding, "#", ">")
}

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/citygrid/trafficsim/internal/channel"
	"github.com/citygrid/trafficsim/internal/config"
)

// AMQP is the RabbitMQ driver. It declares one durable topic exchange and
// binds one durable queue per subscriber.
type AMQP struct {
	url      string
	exchange string

	mutex sync.RWMutex
	state ConnState
	conn  *amqp.Connection
	ch    *amqp.Channel
}

// NewAMQP creates a disconnected RabbitMQ bus.
func NewAMQP(cfg config.BusConfig) *AMQP {
	return &AMQP{
		url:      cfg.URL,
		exchange: cfg.Exchange,
	}
}

func (b *AMQP) Connect(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.state == Ready {
		return nil
	}
	b.state = Connecting

	conn, err := amqp.Dial(b.url)
	if err != nil {
		b.state = Disconnected
		return fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		b.state = Disconnected
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		b.state = Disconnected
		return fmt.Errorf("failed to declare exchange %s: %w", b.exchange, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			slog.Warn("AMQP connection lost", "error", err)
			b.mutex.Lock()
			b.state = Disconnected
			b.mutex.Unlock()
		}
	}()

	b.conn = conn
	b.ch = ch
	b.state = Ready
	slog.Info("Connected to AMQP broker", "exchange", b.exchange)
	return nil
}

func (b *AMQP) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.conn == nil {
		b.state = Disconnected
		return nil
	}
	if b.ch != nil {
		b.ch.Close()
	}
	err := b.conn.Close()
	b.conn = nil
	b.ch = nil
	b.state = Disconnected
	return err
}

func (b *AMQP) State() ConnState {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.state
}

func (b *AMQP) Publish(ctx context.Context, key string, body []byte) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.state != Ready {
		return ErrNotReady
	}

	err := b.ch.PublishWithContext(ctx, b.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s with key %s: %w", b.exchange, key, err)
	}
	return nil
}

func (b *AMQP) Subscribe(ctx context.Context, queue, binding string) (channel.Receiver[Delivery], error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.state != Ready {
		return nil, ErrNotReady
	}

	if _, err := b.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := b.ch.QueueBind(queue, binding, b.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s to %s: %w", queue, binding, err)
	}

	deliveries, err := b.ch.Consume(queue, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from queue %s: %w", queue, err)
	}

	out := channel.NewBuffered[Delivery](subscriberBuffer)
	go func() {
		defer out.Close()
		for d := range deliveries {
			if !out.TrySend(Delivery{Key: d.RoutingKey, Body: d.Body}) {
				slog.Warn("Dropping delivery, subscriber queue full",
					"queue", queue, "key", d.RoutingKey)
			}
		}
	}()
	return out, nil
}

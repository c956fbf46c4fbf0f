// Package bus provides the migration channel: a topic pub/sub transport
// carrying vehicle ownership transfers between zones. Three drivers exist:
// amqp (RabbitMQ), nats, and an in-process exchange for single-binary runs
// and tests. All drivers route with AMQP-style topic keys where "*" matches
// one token and "#" matches any remainder.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/citygrid/trafficsim/internal/channel"
	"github.com/citygrid/trafficsim/internal/config"
)

// ErrNotReady is returned by Publish and Subscribe before Connect has
// succeeded or after Close.
var ErrNotReady = errors.New("bus connection not ready")

// ConnState is the lifecycle state of a bus connection.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Ready
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

// Delivery is one message handed to a subscriber.
type Delivery struct {
	Key  string
	Body []byte
}

// Bus is a topic pub/sub connection. Implementations are safe for
// concurrent use by multiple zone actors.
type Bus interface {
	// Connect establishes the connection and declares the exchange.
	Connect(ctx context.Context) error

	// Close tears the connection down. Subscriber channels are closed.
	Close() error

	// State returns the current connection state.
	State() ConnState

	// Publish sends a message with the given routing key.
	Publish(ctx context.Context, key string, body []byte) error

	// Subscribe declares the named durable queue, binds it to the exchange
	// with the given pattern, and returns a receiver for its deliveries.
	Subscribe(ctx context.Context, queue, binding string) (channel.Receiver[Delivery], error)
}

// New creates the bus driver selected by configuration.
func New(cfg config.BusConfig) (Bus, error) {
	switch cfg.Driver {
	case "amqp":
		return NewAMQP(cfg), nil
	case "nats":
		return NewNATS(cfg), nil
	case "inproc", "":
		return NewInproc(), nil
	default:
		return nil, fmt.Errorf("unknown bus driver: %s", cfg.Driver)
	}
}

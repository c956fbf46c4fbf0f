package bus

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/citygrid/trafficsim/internal/channel"
)

// subscriberBuffer bounds each in-process queue. A full queue drops the
// delivery rather than stalling the publishing zone's tick.
const subscriberBuffer = 256

type inprocBinding struct {
	queue   string
	pattern string
	ch      *channel.Buffered[Delivery]
}

// Inproc is a process-local topic exchange. It serves single-binary runs
// where all zones live in one process, and doubles as the test transport.
type Inproc struct {
	mutex    sync.RWMutex
	state    ConnState
	bindings []*inprocBinding
}

// NewInproc creates a disconnected in-process bus.
func NewInproc() *Inproc {
	return &Inproc{}
}

func (b *Inproc) Connect(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.state = Ready
	return nil
}

func (b *Inproc) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, bind := range b.bindings {
		bind.ch.Close()
	}
	b.bindings = nil
	b.state = Disconnected
	return nil
}

func (b *Inproc) State() ConnState {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.state
}

func (b *Inproc) Publish(ctx context.Context, key string, body []byte) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.state != Ready {
		return ErrNotReady
	}

	d := Delivery{Key: key, Body: body}
	for _, bind := range b.bindings {
		if !matchTopic(bind.pattern, key) {
			continue
		}
		if !bind.ch.TrySend(d) {
			slog.Warn("Dropping delivery, subscriber queue full",
				"queue", bind.queue, "key", key)
		}
	}
	return nil
}

// Subscribe is idempotent per queue name: re-subscribing an existing queue
// returns its channel and updates the binding pattern.
func (b *Inproc) Subscribe(ctx context.Context, queue, binding string) (channel.Receiver[Delivery], error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.state != Ready {
		return nil, ErrNotReady
	}

	for _, bind := range b.bindings {
		if bind.queue == queue {
			bind.pattern = binding
			return bind.ch, nil
		}
	}

	bind := &inprocBinding{
		queue:   queue,
		pattern: binding,
		ch:      channel.NewBuffered[Delivery](subscriberBuffer),
	}
	b.bindings = append(b.bindings, bind)
	return bind.ch, nil
}

// matchTopic implements AMQP topic matching over dot-separated tokens:
// "*" matches exactly one token, "#" matches zero or more.
func matchTopic(pattern, key string) bool {
	return matchTokens(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchTokens(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchTokens(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchTokens(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchTokens(pattern[1:], key[1:])
	}
}

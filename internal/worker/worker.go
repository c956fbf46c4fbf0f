// Package worker connects the zone actors to the run journal. The Manager
// implements zone.Observer: actor notifications are pushed into dispatcher
// pipelines whose handlers update the city index, feed the metrics
// aggregator and record to the storage backend.
package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/citygrid/trafficsim/internal/cache"
	"github.com/citygrid/trafficsim/internal/dispatcher"
	"github.com/citygrid/trafficsim/internal/metrics"
	"github.com/citygrid/trafficsim/internal/storage"
)

// ErrTooEarlyForStateAssociation is returned when state data arrives before
// the vehicle is registered in the city index.
var ErrTooEarlyForStateAssociation = fmt.Errorf("too early for state association")

// Dependencies holds all dependencies for the worker manager.
type Dependencies struct {
	Index   *cache.CityIndex
	Metrics *metrics.Aggregator // optional
	Logger  *slog.Logger
}

// Manager routes observed simulation events into the journal pipelines.
type Manager struct {
	deps       Dependencies
	backend    storage.Backend
	dispatcher *dispatcher.Dispatcher
}

// NewManager creates a new worker manager.
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:    deps,
		backend: backend,
	}
}

// DBWriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastDBWriteDuration() time.Duration {
	if p, ok := m.backend.(DBWriteDurationProvider); ok {
		return p.GetLastDBWriteDuration()
	}
	return 0
}

// QueueDepthProvider is an optional interface that backends can implement
// to expose their pending write queue depth.
type QueueDepthProvider interface {
	QueueDepth() int
}

// GetQueueDepth returns the backend's pending write queue depth, or 0 if
// the backend doesn't buffer writes.
func (m *Manager) GetQueueDepth() int {
	if p, ok := m.backend.(QueueDepthProvider); ok {
		return p.QueueDepth()
	}
	return 0
}

// Package monitor periodically samples the recorder's health (per-zone
// populations, tick progress, bus state, journal queue depth) into a
// status file and optionally mirrors it to InfluxDB.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/citygrid/trafficsim/internal/bus"
	"github.com/citygrid/trafficsim/internal/cache"
	"github.com/citygrid/trafficsim/internal/influx"
	"github.com/citygrid/trafficsim/internal/run"
	"github.com/citygrid/trafficsim/internal/worker"
)

// Dependencies holds all dependencies for the monitor service.
type Dependencies struct {
	RunContext    *run.Context
	Index         *cache.CityIndex
	WorkerManager *worker.Manager
	Bus           bus.Bus
	Flux          *influx.Manager // optional
	Logger        *slog.Logger
	StatusPath    string
	Interval      time.Duration
}

// Status is one health sample of the running recorder.
type Status struct {
	Time                time.Time         `json:"time"`
	RunID               string            `json:"run_id"`
	BusState            string            `json:"bus_state"`
	TotalVehicles       int               `json:"total_vehicles"`
	ZoneVehicles        map[string]int    `json:"zone_vehicles"`
	ZoneTicks           map[string]uint64 `json:"zone_ticks"`
	WriteQueueDepth     int               `json:"write_queue_depth"`
	LastWriteDurationMs float64           `json:"last_write_duration_ms"`
}

// Service manages status monitoring.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current recorder status.
func (s *Service) GetProgramStatus() Status {
	st := Status{
		Time:         time.Now(),
		RunID:        s.deps.RunContext.GetRun().RunID,
		ZoneVehicles: s.deps.Index.Counts(),
		ZoneTicks:    s.deps.Index.Ticks(),
	}
	st.TotalVehicles = s.deps.Index.Total()
	if s.deps.Bus != nil {
		st.BusState = s.deps.Bus.State().String()
	}
	if s.deps.WorkerManager != nil {
		st.WriteQueueDepth = s.deps.WorkerManager.GetQueueDepth()
		st.LastWriteDurationMs = float64(s.deps.WorkerManager.GetLastDBWriteDuration().Microseconds()) / 1000
	}
	return st
}

// Start starts the status monitor goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine")

		statusFile, err := os.Create(s.deps.StatusPath)
		if err != nil {
			logger.Error("Error creating status file", "error", err)
		}
		defer statusFile.Close()

		for {
			select {
			case <-s.stopChan:
				return
			default:
				time.Sleep(s.deps.Interval)

				status := s.GetProgramStatus()
				if status.RunID == "" {
					continue
				}

				if statusFile != nil {
					data, err := json.MarshalIndent(status, "", "  ")
					if err != nil {
						logger.Error("Error encoding status", "error", err)
						continue
					}
					statusFile.Truncate(0)
					statusFile.Seek(0, 0)
					statusFile.Write(append(data, '\n'))
				}

				if s.deps.Flux != nil {
					point := influx.StatusPoint(status.RunID, status.TotalVehicles,
						status.WriteQueueDepth, status.LastWriteDurationMs)
					if err := s.deps.Flux.WritePoint(context.Background(),
						influx.BucketSimPerformance, point); err != nil {
						logger.Error("Error writing status point", "error", err)
					}
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}

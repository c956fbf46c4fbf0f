// Package influx mirrors run metrics to InfluxDB. When the server is
// unreachable the line protocol is written to a local gzip backup file
// instead, so no samples are lost.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/citygrid/trafficsim/pkg/core"
)

// Bucket names for the simulation's metric streams.
const (
	BucketRunData        = "run_data"
	BucketZonePerf       = "zone_performance"
	BucketSimPerformance = "sim_performance"
)

// DefaultBucketNames are the InfluxDB buckets provisioned on connect.
var DefaultBucketNames = []string{
	BucketRunData,
	BucketZonePerf,
	BucketSimPerformance,
}

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: DefaultBucketNames,
		Logger:      log,
		BackupPath:  backupPath,
	}
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect() error {
	if !viper.GetBool("influx.enabled") {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf(
			"%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		viper.GetString("influx.token"),
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(context.Background())

	if err != nil || !running {
		m.IsValid = false
		// create backup writer
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %v", err)
			}
			m.BackupWriter = gzip.NewWriter(file)
		}
	} else {
		m.IsValid = true
	}

	if m.IsValid {
		err = m.setupOrganizationAndBuckets()
		if err != nil {
			return err
		}
		m.CreateWriters()
		m.Logger.Info().Msg("InfluxDB client initialized")
	} else {
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
	}

	return nil
}

func (m *Manager) setupOrganizationAndBuckets() error {
	ctx := context.Background()
	orgName := viper.GetString("influx.org")

	// ensure org exists
	_, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		_, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// get influxOrg
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Error().Err(err).Str("org", orgName).Msg("Error getting organization")
		return err
	}

	// ensure buckets exist with 90 day retention
	for _, bucket := range m.BucketNames {
		_, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket)
		if err != nil {
			m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

			rule := domain.RetentionRuleTypeExpire
			_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
				Type:         &rule,
				EverySeconds: 60 * 60 * 24 * 90, // 90 days
			})
			if err != nil {
				m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
				return err
			}
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	orgName := viper.GetString("influx.org")
	for _, bucket := range m.BucketNames {
		m.Logger.Trace().Str("bucket", bucket).Msg("Creating InfluxDB writer")
		m.Writers[bucket] = m.Client.WriteAPI(orgName, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)

		m.Logger.Trace().Str("bucket", bucket).Msg("InfluxDB writer created")
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		if _, ok := m.Writers[bucket]; !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		m.Writers[bucket].WritePoint(point)
	} else {
		if m.BackupWriter == nil {
			return fmt.Errorf("influxDB client not initialized and backup writer not available")
		}

		lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Duration(1*time.Nanosecond))
		_, err := m.BackupWriter.Write([]byte(lineProtocol + "\n"))
		if err != nil {
			return fmt.Errorf("error writing to InfluxDB backup file: %s", err)
		}
	}

	return nil
}

// Close flushes all writers and the backup file.
func (m *Manager) Close() {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}
	if m.BackupWriter != nil {
		_ = m.BackupWriter.Close()
	}
}

// TickSamplePoint builds a zone_performance point from a per-zone tick sample.
func TickSamplePoint(runID string, s *core.TickSample) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("zone_tick").
		AddTag("run_id", runID).
		AddTag("zone_id", s.ZoneID).
		AddField("tick", int64(s.Tick)).
		AddField("vehicle_count", s.VehicleCount).
		AddField("avg_speed", s.AvgSpeed).
		AddField("tick_duration_us", s.Duration.Microseconds()).
		SetTime(time.Now())
}

// MigrationPoint builds a run_data point from a zone handover.
func MigrationPoint(runID string, e *core.MigrationEvent) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("migration").
		AddTag("run_id", runID).
		AddTag("from_zone", e.FromZone).
		AddTag("to_zone", e.ToZone).
		AddField("tick", int64(e.Tick)).
		AddField("vehicle_id", e.VehicleID).
		SetTime(time.Now())
}

// PopulationPoint builds a run_data point tracking the city population.
func PopulationPoint(runID string, spawned, despawned, current int64) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("population").
		AddTag("run_id", runID).
		AddField("spawned", spawned).
		AddField("despawned", despawned).
		AddField("current", current).
		SetTime(time.Now())
}

// StatusPoint builds a sim_performance point from a recorder status sample.
func StatusPoint(runID string, totalVehicles, queueDepth int, lastWriteMs float64) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("recorder_status").
		AddTag("run_id", runID).
		AddField("total_vehicles", totalVehicles).
		AddField("write_queue_depth", queueDepth).
		AddField("last_write_ms", lastWriteMs).
		SetTime(time.Now())
}

// RunSummaryPoint builds a sim_performance point from the end-of-run summary.
func RunSummaryPoint(runID string, totalTicks uint64, avgSpeed, avgWaitSeconds float64, lightChanges int64) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("run_summary").
		AddTag("run_id", runID).
		AddField("total_ticks", int64(totalTicks)).
		AddField("avg_speed", avgSpeed).
		AddField("avg_wait_seconds", avgWaitSeconds).
		AddField("light_changes", lightChanges).
		SetTime(time.Now())
}

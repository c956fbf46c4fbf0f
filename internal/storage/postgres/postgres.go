// Package pgstorage implements the storage.Backend interface on Postgres.
// It composes the shared GORM backend and delegates connection handling
// to the database manager, which falls back to a local SQLite database
// when Postgres is unreachable.
package pgstorage

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/citygrid/trafficsim/internal/database"
	gormstorage "github.com/citygrid/trafficsim/internal/storage/gorm"
)

// Config holds configuration for the Postgres journal backend. The dump
// settings apply only when the manager falls back to local SQLite.
type Config struct {
	DumpInterval time.Duration
	DumpPath     string
}

// Backend wraps the GORM backend with Postgres connection handling.
type Backend struct {
	*gormstorage.Backend
	manager  *database.Manager
	cfg      Config
	logger   *slog.Logger
	stopChan chan struct{}
}

// New creates a new Postgres journal backend. The connection is
// established in Init.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}

	zlog := zerolog.New(os.Stderr).With().Timestamp().Str("component", "database").Logger()

	return &Backend{
		manager:  database.NewManager(zlog),
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Init connects to the database and starts the embedded GORM backend. If
// the manager fell back to local SQLite, the dump loop is started too.
func (b *Backend) Init() error {
	if err := b.manager.Connect(); err != nil {
		return fmt.Errorf("failed to connect to journal database: %w", err)
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:     b.manager.DB,
		Logger: b.logger,
	})
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.manager.ShouldSaveLocal && b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.manager.SqliteFilePath = b.cfg.DumpPath
		b.logger.Warn("Postgres unreachable, journaling to local SQLite",
			"dumpPath", b.cfg.DumpPath)
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine and closes the embedded GORM backend.
func (b *Backend) Close() error {
	close(b.stopChan)
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}

// dumpLoop mirrors the sqlite backend's periodic VACUUM INTO dump for
// fallback mode.
func (b *Backend) dumpLoop() {
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.manager.DumpMemoryToDisk(); err != nil {
				b.logger.Error("Error dumping journal to disk", "error", err)
			}
		}
	}
}

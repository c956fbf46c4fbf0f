package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/internal/storage/memory"
	pgstorage "github.com/citygrid/trafficsim/internal/storage/postgres"
	sqlitestorage "github.com/citygrid/trafficsim/internal/storage/sqlite"
	wsstorage "github.com/citygrid/trafficsim/internal/storage/websocket"
)

// NewBackend creates a journal backend based on configuration.
func NewBackend(cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(cfg.Memory), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: time.Duration(cfg.SqliteDumpSeconds) * time.Second,
			DumpPath:     cfg.SqliteDumpPath,
		}, logger)
	case "postgres":
		return pgstorage.New(pgstorage.Config{
			DumpInterval: time.Duration(cfg.SqliteDumpSeconds) * time.Second,
			DumpPath:     cfg.SqliteDumpPath,
		}, logger), nil
	case "websocket":
		return wsstorage.New(wsstorage.Config{
			URL:    cfg.Websocket.URL,
			Secret: cfg.Websocket.Secret,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

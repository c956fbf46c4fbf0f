package websocket_test

import (
	"github.com/citygrid/trafficsim/internal/storage"
	"github.com/citygrid/trafficsim/internal/storage/websocket"
)

// Compile-time interface check
var _ storage.Backend = (*websocket.Backend)(nil)

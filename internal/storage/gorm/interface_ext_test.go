package gormstorage_test

import (
	"github.com/citygrid/trafficsim/internal/storage"
	gormstorage "github.com/citygrid/trafficsim/internal/storage/gorm"
)

// Compile-time interface check
var _ storage.Backend = (*gormstorage.Backend)(nil)

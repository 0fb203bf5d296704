package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled    = errors.New("storage disabled")
	ErrInvalidName = errors.New("invalid document name")
)

// Config configures storage.
//
// If Driver is empty it defaults to "file".
type Config struct {
	Driver string
	// Dir holds document files for the file driver.
	Dir string
	// Path is the database file for the sqlite driver.
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DocStore loads and saves whole documents by name.
type DocStore interface {
	// Load returns ok=false when the document does not exist yet.
	Load(ctx context.Context, name string) (data []byte, ok bool, err error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}

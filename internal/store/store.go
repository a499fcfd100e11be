// Package store persists table state as two wholesale-overwritten records
// per table: table metadata/history and the full player roster. Loading is
// idempotent and total-overwrite; there is no partial merge and no
// incremental schema migration.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no state exists for a table id.
var ErrNotFound = errors.New("table state not found")

// Record is the durable state of one table.
type Record struct {
	TableID string
	Table   []byte // JSON table metadata and round history
	Players []byte // JSON player roster
}

// Store is the durable backend a table coordinator writes through on every
// externally visible state change.
type Store interface {
	// SaveTable overwrites the table metadata/history record.
	SaveTable(ctx context.Context, tableID string, data []byte) error
	// SavePlayers overwrites the player roster record.
	SavePlayers(ctx context.Context, tableID string, data []byte) error
	// Load returns both records for a table, or ErrNotFound.
	Load(ctx context.Context, tableID string) (Record, error)
	// List returns the ids of every persisted table.
	List(ctx context.Context) ([]string, error)
	// Delete removes both records for a table.
	Delete(ctx context.Context, tableID string) error
}

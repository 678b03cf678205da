// Package snapshot persists the daemon's serialized state across
// restarts. One payload, saved at controlled shutdown and loaded at
// start.
package snapshot

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no snapshot has been saved yet.
var ErrNotFound = errors.New("no snapshot found")

// Store reads and writes the single state payload.
type Store interface {
	Save(ctx context.Context, payload []byte) error
	Load(ctx context.Context) ([]byte, error)
	Close() error
}

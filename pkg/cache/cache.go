package cache

import (
	"context"
	"errors"
	"io"

	"github.com/illmade-knight/guildlink/pkg/types"
)

// ErrSnapshotNotFound is returned by a SnapshotBackend when nothing has been persisted yet.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Fetcher is a source that a cache can fall back to on a miss.
type Fetcher[K comparable, V any] interface {
	// Fetch retrieves the value for key from the source.
	Fetch(ctx context.Context, key K) (V, error)
	io.Closer
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Fetch calls f(ctx, key).
func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Close is a no-op.
func (f FetcherFunc[K, V]) Close() error { return nil }

// SnapshotBackend persists the single aggregate snapshot slot. Every Save replaces
// the previous document wholesale.
type SnapshotBackend interface {
	// Save writes the snapshot, replacing whatever was stored before.
	Save(ctx context.Context, snapshot *types.Snapshot) error
	// Load reads the stored snapshot. It returns ErrSnapshotNotFound when the slot is empty.
	Load(ctx context.Context) (*types.Snapshot, error)
	// Delete empties the slot. Deleting an empty slot is not an error.
	Delete(ctx context.Context) error
	io.Closer
}

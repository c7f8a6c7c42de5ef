package cache

import (
	"context"
	"sync"

	"github.com/illmade-knight/guildlink/pkg/types"
)

// InMemorySnapshotBackend keeps the snapshot in process memory only.
// It is intended for local development, tests and single-instance deployments
// that do not need the snapshot to survive a restart.
type InMemorySnapshotBackend struct {
	mu       sync.RWMutex
	snapshot *types.Snapshot
}

// NewInMemorySnapshotBackend creates an empty in-memory backend.
func NewInMemorySnapshotBackend() *InMemorySnapshotBackend {
	return &InMemorySnapshotBackend{}
}

// Save replaces the stored snapshot.
func (b *InMemorySnapshotBackend) Save(_ context.Context, snapshot *types.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = snapshot
	return nil
}

// Load returns the stored snapshot or ErrSnapshotNotFound.
func (b *InMemorySnapshotBackend) Load(_ context.Context) (*types.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.snapshot == nil {
		return nil, ErrSnapshotNotFound
	}
	return b.snapshot, nil
}

// Delete empties the slot.
func (b *InMemorySnapshotBackend) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = nil
	return nil
}

// Close is a no-op for the in-memory implementation.
func (b *InMemorySnapshotBackend) Close() error {
	return nil
}

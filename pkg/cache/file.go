package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
)

// FileConfig holds configuration for the on-disk snapshot document.
type FileConfig struct {
	Path string
}

// FileSnapshotBackend stores the snapshot as a single JSON document on local disk.
// Writes go to a temporary file in the same directory which is then renamed over
// the target, so readers never see a partially written document.
type FileSnapshotBackend struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFileSnapshotBackend creates a file backend, making sure the parent directory exists.
func NewFileSnapshotBackend(cfg *FileConfig, logger zerolog.Logger) (*FileSnapshotBackend, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("snapshot file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	logger.Info().Str("path", cfg.Path).Msg("FileSnapshotBackend initialized.")
	return &FileSnapshotBackend{
		path:   cfg.Path,
		logger: logger.With().Str("component", "FileSnapshotBackend").Logger(),
	}, nil
}

// Save writes the snapshot atomically.
func (b *FileSnapshotBackend) Save(_ context.Context, snapshot *types.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}

	b.logger.Debug().Str("path", b.path).Int("bytes", len(data)).Msg("Snapshot written to disk.")
	return nil
}

// Load reads and decodes the snapshot document.
func (b *FileSnapshotBackend) Load(_ context.Context) (*types.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshot types.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		b.logger.Error().Err(err).Str("path", b.path).Msg("Failed to unmarshal snapshot file.")
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// Delete removes the snapshot file.
func (b *FileSnapshotBackend) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (b *FileSnapshotBackend) Close() error {
	return nil
}

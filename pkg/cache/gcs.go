package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
)

// --- GCS Client Abstraction Interfaces ---

// GCSClient abstracts the top-level *storage.Client so the backend can be
// tested without a real bucket.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) io.WriteCloser
	NewReader(ctx context.Context) (io.ReadCloser, error)
	Delete(ctx context.Context) error
}

// ErrGCSObjectNotExist is what GCSObjectHandle implementations return for a missing object.
var ErrGCSObjectNotExist = storage.ErrObjectNotExist

// --- Adapters to wrap the concrete Google Cloud Storage client ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes the concrete *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) io.WriteCloser {
	w := a.handle.NewWriter(ctx)
	w.ContentType = "application/json"
	return w
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

func (a *gcsObjectHandleAdapter) Delete(ctx context.Context) error {
	return a.handle.Delete(ctx)
}

// GCSConfig holds configuration for the GCS snapshot object.
type GCSConfig struct {
	BucketName string
	ObjectName string
}

// GCSSnapshotBackend stores the snapshot as a single JSON object in a bucket.
// GCS object writes are atomic: the object only becomes visible once the writer closes.
type GCSSnapshotBackend struct {
	client GCSClient
	bucket string
	object string
	logger zerolog.Logger
}

// NewGCSSnapshotBackend creates a backend configured for Google Cloud Storage.
func NewGCSSnapshotBackend(gcsClient GCSClient, cfg GCSConfig, logger zerolog.Logger) (*GCSSnapshotBackend, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	object := cfg.ObjectName
	if object == "" {
		object = "guildlink/snapshot.json"
	}
	return &GCSSnapshotBackend{
		client: gcsClient,
		bucket: cfg.BucketName,
		object: object,
		logger: logger.With().Str("component", "GCSSnapshotBackend").Logger(),
	}, nil
}

func (b *GCSSnapshotBackend) handle() GCSObjectHandle {
	return b.client.Bucket(b.bucket).Object(b.object)
}

// Save encodes the snapshot and uploads it, replacing the previous object.
func (b *GCSSnapshotBackend) Save(ctx context.Context, snapshot *types.Snapshot) error {
	w := b.handle().NewWriter(ctx)
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		_ = w.Close()
		return fmt.Errorf("json encoding failed for %s: %w", b.object, err)
	}
	if err := w.Close(); err != nil {
		b.logger.Error().Err(err).Str("object_name", b.object).Msg("Failed to finalize snapshot upload.")
		return fmt.Errorf("failed to close GCS object writer for %s: %w", b.object, err)
	}
	b.logger.Debug().Str("object_name", b.object).Msg("Snapshot uploaded to GCS.")
	return nil
}

// Load downloads and decodes the snapshot object.
func (b *GCSSnapshotBackend) Load(ctx context.Context) (*types.Snapshot, error) {
	r, err := b.handle().NewReader(ctx)
	if err != nil {
		if errors.Is(err, ErrGCSObjectNotExist) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to open GCS object %s: %w", b.object, err)
	}
	defer func() { _ = r.Close() }()

	var snapshot types.Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode GCS object %s: %w", b.object, err)
	}
	return &snapshot, nil
}

// Delete removes the snapshot object. A missing object is not an error.
func (b *GCSSnapshotBackend) Delete(ctx context.Context) error {
	if err := b.handle().Delete(ctx); err != nil && !errors.Is(err, ErrGCSObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %s: %w", b.object, err)
	}
	return nil
}

// Close is a no-op; the storage client is owned by the caller.
func (b *GCSSnapshotBackend) Close() error {
	return nil
}

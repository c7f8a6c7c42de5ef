package cache

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
	DocumentID     string
}

// FirestoreSnapshotBackend stores the snapshot as one Firestore document.
// Suitable for low volume deployments: the document is rewritten once per TTL.
type FirestoreSnapshotBackend struct {
	client     *firestore.Client
	collection string
	docID      string
	logger     zerolog.Logger
}

// NewFirestoreSnapshotBackend creates a backend over an injected Firestore client.
func NewFirestoreSnapshotBackend(
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSnapshotBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, errors.New("firestore collection name is required")
	}
	docID := cfg.DocumentID
	if docID == "" {
		docID = "current"
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSnapshotBackend initialized.")

	return &FirestoreSnapshotBackend{
		client:     client,
		collection: cfg.CollectionName,
		docID:      docID,
		logger:     logger.With().Str("component", "FirestoreSnapshotBackend").Logger(),
	}, nil
}

// Save overwrites the snapshot document.
func (b *FirestoreSnapshotBackend) Save(ctx context.Context, snapshot *types.Snapshot) error {
	_, err := b.client.Collection(b.collection).Doc(b.docID).Set(ctx, snapshot)
	if err != nil {
		b.logger.Error().Err(err).Str("doc", b.docID).Msg("Failed to write snapshot to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", b.docID, err)
	}
	b.logger.Debug().Str("doc", b.docID).Msg("Successfully wrote snapshot to Firestore.")
	return nil
}

// Load reads the snapshot document, mapping NotFound to ErrSnapshotNotFound.
func (b *FirestoreSnapshotBackend) Load(ctx context.Context) (*types.Snapshot, error) {
	docSnap, err := b.client.Collection(b.collection).Doc(b.docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSnapshotNotFound
		}
		b.logger.Error().Err(err).Str("doc", b.docID).Msg("Failed to get snapshot from Firestore.")
		return nil, fmt.Errorf("firestore get for %s: %w", b.docID, err)
	}

	var snapshot types.Snapshot
	if err := docSnap.DataTo(&snapshot); err != nil {
		b.logger.Error().Err(err).Str("doc", b.docID).Msg("Failed to map Firestore document data.")
		return nil, fmt.Errorf("firestore DataTo for %s: %w", b.docID, err)
	}
	return &snapshot, nil
}

// Delete removes the snapshot document. A missing document is not an error.
func (b *FirestoreSnapshotBackend) Delete(ctx context.Context) error {
	_, err := b.client.Collection(b.collection).Doc(b.docID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore delete for %s: %w", b.docID, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (b *FirestoreSnapshotBackend) Close() error {
	return nil
}

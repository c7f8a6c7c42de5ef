// Package notify fans snapshot refreshes out to downstream sinks: a Pub/Sub
// topic for live consumers and a BigQuery table for association history.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/guildlink/pkg/types"
)

// Notifier is told about every stored snapshot.
type Notifier interface {
	SnapshotRefreshed(ctx context.Context, snapshot *types.Snapshot) error
}

// RefreshEvent is the compact message published when a snapshot is replaced.
type RefreshEvent struct {
	SnapshotID   string    `json:"snapshot_id"`
	SourceGuild  string    `json:"source_guild"`
	TargetGuild  string    `json:"target_guild"`
	Groups       int       `json:"groups"`
	Associations int       `json:"associations"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewRefreshEvent summarizes a snapshot.
func NewRefreshEvent(s *types.Snapshot) RefreshEvent {
	return RefreshEvent{
		SnapshotID:   s.ID,
		SourceGuild:  s.SourceGuild,
		TargetGuild:  s.TargetGuild,
		Groups:       len(s.LinkedCharacters),
		Associations: s.AssociationCount(),
		CreatedAt:    s.CreatedAt,
	}
}

// Multi calls every notifier in order and joins their errors.
type Multi []Notifier

// SnapshotRefreshed notifies every sink, even when an earlier one fails.
func (m Multi) SnapshotRefreshed(ctx context.Context, snapshot *types.Snapshot) error {
	var errs []error
	for _, n := range m {
		if err := n.SnapshotRefreshed(ctx, snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

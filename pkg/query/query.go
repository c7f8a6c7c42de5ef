// Package query answers point lookups against the cached aggregate.
package query

import (
	"errors"
	"slices"
	"strings"

	"github.com/illmade-knight/guildlink/pkg/types"
)

var (
	// ErrNoSnapshot is returned when no aggregation has completed yet.
	ErrNoSnapshot = errors.New("no snapshot available")
	// ErrNotFound is returned when no group matches the query.
	ErrNotFound = errors.New("no matching character")
)

// SnapshotReader exposes the current snapshot without triggering recomputation.
type SnapshotReader interface {
	Current() (*types.Snapshot, bool)
}

// Service searches the current snapshot.
type Service struct {
	snapshots SnapshotReader
}

// NewService creates a query service over the given reader.
func NewService(snapshots SnapshotReader) *Service {
	return &Service{snapshots: snapshots}
}

// Search returns the first group whose main or any alt contains q, ignoring case.
func (s *Service) Search(q string) (types.GroupedResult, error) {
	snapshot, ok := s.snapshots.Current()
	if !ok {
		return types.GroupedResult{}, ErrNoSnapshot
	}
	if g, ok := Match(snapshot, q); ok {
		return g, nil
	}
	return types.GroupedResult{}, ErrNotFound
}

// Match finds the first group in snapshot matching q. The result is a copy;
// the snapshot itself is never exposed for mutation.
func Match(snapshot *types.Snapshot, q string) (types.GroupedResult, bool) {
	needle := strings.ToLower(q)
	for _, g := range snapshot.LinkedCharacters {
		if matches(g, needle) {
			return types.GroupedResult{Main: g.Main, Alts: slices.Clone(g.Alts)}, true
		}
	}
	return types.GroupedResult{}, false
}

func matches(g types.GroupedResult, needle string) bool {
	if strings.Contains(strings.ToLower(g.Main), needle) {
		return true
	}
	return slices.ContainsFunc(g.Alts, func(alt string) bool {
		return strings.Contains(strings.ToLower(alt), needle)
	})
}

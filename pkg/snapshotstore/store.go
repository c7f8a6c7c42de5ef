// Package snapshotstore owns the single cached aggregate snapshot and decides
// when it must be recomputed.
package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/guildlink/pkg/cache"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
)

// RecomputeFunc produces a new snapshot. It is typically an aggregator bound to a guild pair.
type RecomputeFunc func(ctx context.Context) (*types.Snapshot, error)

// Notifier is told about every snapshot the store publishes.
type Notifier interface {
	SnapshotRefreshed(ctx context.Context, snapshot *types.Snapshot) error
}

// Forgetter is implemented by recompute dependencies holding their own memo
// that should be dropped on Reset.
type Forgetter interface {
	Forget()
}

// State describes the snapshot slot.
type State string

const (
	StateEmpty State = "empty"
	StateFresh State = "fresh"
	StateStale State = "stale"
)

// Config holds configuration for a Store.
type Config struct {
	// TTL is how long a snapshot is served before it must be recomputed.
	TTL time.Duration
	// PersistTimeout bounds backend writes and notifications after a recompute.
	PersistTimeout time.Duration
	// RecomputeTimeout bounds one aggregation pass. The pass does not inherit
	// the triggering reader's cancellation, since queued readers wait on it.
	RecomputeTimeout time.Duration
}

// Store serves the cached snapshot while it is fresh and recomputes it when it
// is empty or stale.
//
// Recomputation is serialized: concurrent readers that find the slot stale
// queue on the recompute lock, and once the first of them has stored a fresh
// snapshot the rest return that snapshot instead of starting another pass.
// Readers always see a complete snapshot through an atomic pointer swap.
type Store struct {
	ttl              time.Duration
	persistTimeout   time.Duration
	recomputeTimeout time.Duration
	recompute        RecomputeFunc
	backend          cache.SnapshotBackend
	notifier         Notifier
	forget           []Forgetter
	now              func() time.Time
	logger           zerolog.Logger

	current atomic.Pointer[types.Snapshot]
	mu      sync.Mutex // guards check-then-recompute-then-store
	// slotMu orders publishing a snapshot against Reset.
	slotMu sync.Mutex
	// generation increments on every Reset so a pass that started before a
	// reset does not publish its result.
	generation uint64
}

// New creates a Store. backend may be nil, in which case the snapshot lives in memory only.
func New(cfg Config, recompute RecomputeFunc, backend cache.SnapshotBackend, logger zerolog.Logger) (*Store, error) {
	if recompute == nil {
		return nil, errors.New("recompute function cannot be nil")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("TTL must be greater than 0")
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if cfg.RecomputeTimeout <= 0 {
		cfg.RecomputeTimeout = 5 * time.Minute
	}
	if backend == nil {
		backend = cache.NewInMemorySnapshotBackend()
	}
	return &Store{
		ttl:              cfg.TTL,
		persistTimeout:   cfg.PersistTimeout,
		recomputeTimeout: cfg.RecomputeTimeout,
		recompute:        recompute,
		backend:          backend,
		now:              time.Now,
		logger:           logger.With().Str("component", "SnapshotStore").Logger(),
	}, nil
}

// WithClock replaces the store's clock. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithNotifier registers a Notifier called after each recompute.
func (s *Store) WithNotifier(n Notifier) *Store {
	s.notifier = n
	return s
}

// WithForgetters registers memos to drop on Reset.
func (s *Store) WithForgetters(f ...Forgetter) *Store {
	s.forget = append(s.forget, f...)
	return s
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Load warms the slot from the backend. A missing document leaves the slot
// empty; a stale one is loaded and will be recomputed on the next Get.
func (s *Store) Load(ctx context.Context) error {
	snapshot, err := s.backend.Load(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrSnapshotNotFound) {
			s.logger.Info().Msg("No persisted snapshot, starting empty.")
			return nil
		}
		return fmt.Errorf("failed to load persisted snapshot: %w", err)
	}
	s.current.Store(snapshot)
	s.logger.Info().
		Str("snapshot_id", snapshot.ID).
		Time("created_at", snapshot.CreatedAt).
		Str("state", string(s.State())).
		Msg("Restored persisted snapshot.")
	return nil
}

// Get returns the current snapshot if it is fresh, otherwise recomputes it.
// When recomputation fails the slot is left unchanged and the error is
// returned to this caller only. A pass runs to completion even if ctx is
// cancelled, so readers queued behind it still receive its result.
func (s *Store) Get(ctx context.Context) (*types.Snapshot, error) {
	if snapshot := s.current.Load(); snapshot.IsFresh(s.now(), s.ttl) {
		return snapshot, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another reader may have refreshed the slot while we waited for the lock.
	if snapshot := s.current.Load(); snapshot.IsFresh(s.now(), s.ttl) {
		s.logger.Debug().Str("snapshot_id", snapshot.ID).Msg("Served snapshot recomputed by a concurrent reader.")
		return snapshot, nil
	}

	return s.refreshLocked(ctx)
}

// Refresh recomputes unconditionally, ignoring freshness.
func (s *Store) Refresh(ctx context.Context) (*types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Store) refreshLocked(ctx context.Context) (*types.Snapshot, error) {
	s.slotMu.Lock()
	gen := s.generation
	s.slotMu.Unlock()
	s.logger.Info().Str("state", string(s.State())).Msg("Recomputing snapshot.")

	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recomputeTimeout)
	defer cancel()
	snapshot, err := s.recompute(passCtx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Recompute failed, keeping previous snapshot.")
		return nil, err
	}
	if snapshot == nil {
		return nil, errors.New("recompute returned no snapshot")
	}

	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	if s.generation != gen {
		// A Reset happened mid-pass; hand the result to this caller but do not cache it.
		s.logger.Info().Str("snapshot_id", snapshot.ID).Msg("Store was reset during recompute, result not cached.")
		return snapshot, nil
	}

	s.current.Store(snapshot)
	s.persist(ctx, snapshot)
	return snapshot, nil
}

// persist writes the snapshot to the backend and notifies. Failures are logged;
// the in-memory slot remains authoritative for this process. Callers hold slotMu.
func (s *Store) persist(ctx context.Context, snapshot *types.Snapshot) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if err := s.backend.Save(ctx, snapshot); err != nil {
		s.logger.Error().Err(err).Str("snapshot_id", snapshot.ID).Msg("Failed to persist snapshot.")
	}
	if s.notifier != nil {
		if err := s.notifier.SnapshotRefreshed(ctx, snapshot); err != nil {
			s.logger.Warn().Err(err).Str("snapshot_id", snapshot.ID).Msg("Snapshot refresh notification failed.")
		}
	}
	s.logger.Info().
		Str("snapshot_id", snapshot.ID).
		Int("group_count", len(snapshot.LinkedCharacters)).
		Msg("Snapshot stored.")
}

// Reset discards the current snapshot regardless of its age. The next Get recomputes.
func (s *Store) Reset(ctx context.Context) error {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	s.generation++
	s.current.Store(nil)
	for _, f := range s.forget {
		f.Forget()
	}
	if err := s.backend.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete persisted snapshot: %w", err)
	}
	s.logger.Info().Msg("Snapshot cache reset.")
	return nil
}

// Current returns the snapshot in the slot without checking freshness and
// without ever recomputing. ok is false when the slot is empty.
func (s *Store) Current() (*types.Snapshot, bool) {
	snapshot := s.current.Load()
	return snapshot, snapshot != nil
}

// State reports whether the slot is empty, fresh or stale.
func (s *Store) State() State {
	return s.Status().State
}

// Status describes the slot as seen at one instant of the store's clock.
type Status struct {
	State    State
	Snapshot *types.Snapshot
	// Age is zero when the slot is empty.
	Age time.Duration
}

// Status reads the slot once and reports its state, snapshot and age using
// the store's clock.
func (s *Store) Status() Status {
	snapshot := s.current.Load()
	if snapshot == nil {
		return Status{State: StateEmpty}
	}
	now := s.now()
	st := Status{State: StateStale, Snapshot: snapshot, Age: snapshot.Age(now)}
	if snapshot.IsFresh(now, s.ttl) {
		st.State = StateFresh
	}
	return st
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

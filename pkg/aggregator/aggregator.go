// Package aggregator fans the character resolver out over a guild's members
// and groups the resulting associations by main character.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
)

// ErrSourceGuildNotFound is returned when the source guild cannot be resolved.
// It is distinct from an aggregation that simply found no associations.
var ErrSourceGuildNotFound = errors.New("source guild lookup failed")

// DefaultNumWorkers bounds concurrent resolutions when no value is configured.
const DefaultNumWorkers = 10

// MemberSource lists the members of a guild by name. ok is false when the
// guild or its member listing cannot be fetched.
type MemberSource interface {
	MembersOf(ctx context.Context, guildName string) ([]string, bool)
}

// CharacterResolver resolves one alt against a target guild.
type CharacterResolver interface {
	Resolve(ctx context.Context, alt, targetGuild string) (types.Association, bool)
}

// Config holds configuration for an Aggregator.
type Config struct {
	// NumWorkers is the number of concurrent resolutions, and so bounds the
	// number of simultaneous upstream requests.
	NumWorkers int
}

// Aggregator runs one aggregation pass per call.
type Aggregator struct {
	numWorkers int
	members    MemberSource
	resolver   CharacterResolver
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates an Aggregator.
func New(cfg Config, members MemberSource, resolver CharacterResolver, logger zerolog.Logger) (*Aggregator, error) {
	if members == nil {
		return nil, errors.New("member source cannot be nil")
	}
	if resolver == nil {
		return nil, errors.New("resolver cannot be nil")
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = DefaultNumWorkers
	}
	return &Aggregator{
		numWorkers: cfg.NumWorkers,
		members:    members,
		resolver:   resolver,
		now:        time.Now,
		logger:     logger.With().Str("component", "Aggregator").Logger(),
	}, nil
}

// WithClock replaces the clock used to stamp snapshots. Intended for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// For binds a guild pair, returning a function that runs one pass for it.
func (a *Aggregator) For(sourceGuild, targetGuild string) func(ctx context.Context) (*types.Snapshot, error) {
	return func(ctx context.Context) (*types.Snapshot, error) {
		return a.Aggregate(ctx, sourceGuild, targetGuild)
	}
}

// job is one member to resolve together with its position in the member list.
type job struct {
	index int
	alt   string
}

// Aggregate resolves every member of sourceGuild against targetGuild and
// returns the grouped result as a new Snapshot. A member whose resolution fails
// is dropped without affecting the rest of the batch. The call blocks until
// every member has been resolved or ctx is done.
func (a *Aggregator) Aggregate(ctx context.Context, sourceGuild, targetGuild string) (*types.Snapshot, error) {
	runID := uuid.NewString()
	log := a.logger.With().Str("run_id", runID).Str("source_guild", sourceGuild).Str("target_guild", targetGuild).Logger()
	start := a.now()

	members, ok := a.members.MembersOf(ctx, sourceGuild)
	if !ok || len(members) == 0 {
		// A guild always lists at least its master, so an empty listing is a provider failure.
		log.Warn().Bool("listing_ok", ok).Msg("Source guild could not be resolved.")
		return nil, fmt.Errorf("%w: %s", ErrSourceGuildNotFound, sourceGuild)
	}
	log.Info().Int("member_count", len(members)).Int("worker_count", a.numWorkers).Msg("Starting aggregation.")

	// results is indexed by member position so grouping follows member order
	// regardless of which worker finishes first.
	results := make([]*types.Association, len(members))
	jobs := make(chan job)

	var wg sync.WaitGroup
	workers := min(a.numWorkers, len(members))
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go a.worker(ctx, i, targetGuild, jobs, results, &wg)
	}

feed:
	for i, alt := range members {
		select {
		case jobs <- job{index: i, alt: alt}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("Aggregation interrupted, discarding partial result.")
		return nil, fmt.Errorf("aggregation interrupted: %w", err)
	}

	assocs := make([]types.Association, 0, len(members))
	for _, r := range results {
		if r != nil {
			assocs = append(assocs, *r)
		}
	}

	snapshot := &types.Snapshot{
		ID:               runID,
		SourceGuild:      sourceGuild,
		TargetGuild:      targetGuild,
		LinkedCharacters: Group(assocs),
		CreatedAt:        a.now(),
	}
	log.Info().
		Int("association_count", len(assocs)).
		Int("group_count", len(snapshot.LinkedCharacters)).
		Dur("duration", snapshot.CreatedAt.Sub(start)).
		Msg("Aggregation complete.")
	return snapshot, nil
}

// worker resolves members until the jobs channel is closed.
func (a *Aggregator) worker(ctx context.Context, workerID int, targetGuild string, jobs <-chan job, results []*types.Association, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobs {
		if assoc, ok := a.resolveOne(ctx, workerID, j.alt, targetGuild); ok {
			results[j.index] = &assoc
		}
	}
}

// resolveOne isolates a single member: a panic in the resolver is logged and
// treated as no-match.
func (a *Aggregator) resolveOne(ctx context.Context, workerID int, alt, targetGuild string) (assoc types.Association, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Int("worker_id", workerID).Str("alt", alt).Interface("panic", r).Msg("Resolver panicked, skipping member.")
			assoc, ok = types.Association{}, false
		}
	}()
	assoc, ok = a.resolver.Resolve(ctx, alt, targetGuild)
	if ok && (assoc.Alt != alt || assoc.Main == alt) {
		a.logger.Warn().Int("worker_id", workerID).Str("alt", alt).Str("main", assoc.Main).Msg("Discarding invalid association.")
		return types.Association{}, false
	}
	return assoc, ok
}

// Group partitions associations by main, keeping the first-seen order of
// mains and of alts within each main.
func Group(assocs []types.Association) []types.GroupedResult {
	index := make(map[string]int)
	grouped := make([]types.GroupedResult, 0)
	for _, a := range assocs {
		i, ok := index[a.Main]
		if !ok {
			i = len(grouped)
			index[a.Main] = i
			grouped = append(grouped, types.GroupedResult{Main: a.Main})
		}
		grouped[i].Alts = append(grouped[i].Alts, a.Alt)
	}
	return grouped
}

// Package resolver decides, for one alt character, whether its account's main
// belongs to a target guild.
package resolver

import (
	"context"

	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
)

// Lookup is the subset of upstream lookups the resolver chains together.
// Implementations report failure as absence.
type Lookup interface {
	AccountID(ctx context.Context, characterName string) (types.AccountID, bool)
	UnionMainName(ctx context.Context, accountID types.AccountID) (string, bool)
	GuildName(ctx context.Context, accountID types.AccountID) string
}

// Resolver runs the four-step alt to main resolution.
type Resolver struct {
	lookup Lookup
	logger zerolog.Logger
}

// New creates a Resolver over the given lookups.
func New(lookup Lookup, logger zerolog.Logger) *Resolver {
	return &Resolver{
		lookup: lookup,
		logger: logger.With().Str("component", "Resolver").Logger(),
	}
}

// Resolve returns the association for alt when its union main is a different
// character that belongs to targetGuild. Any missing piece of data is a no-match.
func (r *Resolver) Resolve(ctx context.Context, alt, targetGuild string) (types.Association, bool) {
	log := r.logger.With().Str("alt", alt).Logger()

	accountID, ok := r.lookup.AccountID(ctx, alt)
	if !ok {
		log.Debug().Msg("No account id for alt.")
		return types.Association{}, false
	}

	mainName, ok := r.lookup.UnionMainName(ctx, accountID)
	if !ok {
		log.Debug().Msg("No union main for alt.")
		return types.Association{}, false
	}
	if mainName == alt {
		return types.Association{}, false
	}

	mainAccountID, ok := r.lookup.AccountID(ctx, mainName)
	if !ok {
		log.Debug().Str("main", mainName).Msg("No account id for main.")
		return types.Association{}, false
	}

	if guild := r.lookup.GuildName(ctx, mainAccountID); guild == "" || guild != targetGuild {
		log.Debug().Str("main", mainName).Str("main_guild", guild).Msg("Main is not in the target guild.")
		return types.Association{}, false
	}

	return types.Association{Alt: alt, Main: mainName}, true
}

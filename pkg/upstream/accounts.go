package upstream

import (
	"context"
	"errors"

	"github.com/illmade-knight/guildlink/pkg/cache"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
)

// errNoAccount marks an absent lookup so the LRU does not store it.
var errNoAccount = errors.New("no account id")

// AccountLookup resolves a character name to its account id.
type AccountLookup interface {
	AccountID(ctx context.Context, characterName string) (types.AccountID, bool)
}

// CachedAccounts memoizes successful account id lookups. Mains are shared by
// many alts, so the same name is otherwise looked up once per alt.
// Absent results are not memoized.
type CachedAccounts struct {
	lru    *cache.InMemoryLRUCache[string, types.AccountID]
	logger zerolog.Logger
}

// NewCachedAccounts wraps next with a bounded LRU of the given size.
func NewCachedAccounts(next AccountLookup, size int, logger zerolog.Logger) (*CachedAccounts, error) {
	source := cache.FetcherFunc[string, types.AccountID](func(ctx context.Context, name string) (types.AccountID, error) {
		id, ok := next.AccountID(ctx, name)
		if !ok {
			return "", errNoAccount
		}
		return id, nil
	})
	lru, err := cache.NewInMemoryLRUCache[string, types.AccountID](size, source)
	if err != nil {
		return nil, err
	}
	return &CachedAccounts{
		lru:    lru,
		logger: logger.With().Str("component", "CachedAccounts").Logger(),
	}, nil
}

// AccountID returns the memoized id or looks it up.
func (c *CachedAccounts) AccountID(ctx context.Context, characterName string) (types.AccountID, bool) {
	id, err := c.lru.Fetch(ctx, characterName)
	if err != nil {
		return "", false
	}
	return id, true
}

// Purge forgets every memoized id.
func (c *CachedAccounts) Purge() {
	c.logger.Debug().Int("entries", c.lru.Len()).Msg("Purging account id memo.")
	c.lru.Purge()
}

// Provider combines a Client with an account id memo. It satisfies the lookup
// contracts of both the resolver and the aggregator.
type Provider struct {
	*Client
	accounts *CachedAccounts
}

// NewProvider creates a Provider. A memoSize of zero disables memoization.
func NewProvider(client *Client, memoSize int, logger zerolog.Logger) (*Provider, error) {
	p := &Provider{Client: client}
	if memoSize > 0 {
		accounts, err := NewCachedAccounts(client, memoSize, logger)
		if err != nil {
			return nil, err
		}
		p.accounts = accounts
	}
	return p, nil
}

// AccountID resolves through the memo when one is configured.
func (p *Provider) AccountID(ctx context.Context, characterName string) (types.AccountID, bool) {
	if p.accounts == nil {
		return p.Client.AccountID(ctx, characterName)
	}
	return p.accounts.AccountID(ctx, characterName)
}

// Forget drops memoized ids. Called when the cached aggregate is reset so a
// renamed or transferred character is picked up.
func (p *Provider) Forget() {
	if p.accounts != nil {
		p.accounts.Purge()
	}
}

// Package upstream talks to the game data provider's open API. Every lookup is
// independently fallible and reports failure as absence, never as an error.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the provider's public API host.
	DefaultBaseURL = "https://open.api.nexon.com"

	apiKeyHeader = "x-nxopen-api-key"
	dateLayout   = "2006-01-02"

	guildIDPath        = "/maplestory/v1/guild/id"
	guildBasicPath     = "/maplestory/v1/guild/basic"
	characterIDPath    = "/maplestory/v1/id"
	unionRankingPath   = "/maplestory/v1/ranking/union"
	characterBasicPath = "/maplestory/v1/character/basic"
)

// Config holds configuration for the upstream client.
type Config struct {
	BaseURL string
	APIKey  string
	World   string
	// RequestTimeout bounds every single call, including time spent waiting on the limiter.
	RequestTimeout time.Duration
	// RequestsPerSecond and Burst configure the limiter shared by all workers.
	// A zero RequestsPerSecond disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Client issues the provider lookups used by the resolver and aggregator.
// It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
	logger     zerolog.Logger
}

// NewClient creates an upstream client. If httpClient is nil, http.DefaultClient is used.
func NewClient(cfg Config, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	if cfg.World == "" {
		return nil, errors.New("world name is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    limiter,
		now:        time.Now,
		logger:     logger.With().Str("component", "UpstreamClient").Logger(),
	}, nil
}

// WithClock replaces the clock used to derive the as-of date. Intended for tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// AsOfDate is the date the provider is queried for: one day before now,
// because the provider's data lags by a day.
func (c *Client) AsOfDate() string {
	return c.now().AddDate(0, 0, -1).Format(dateLayout)
}

// --- Provider payloads ---

type guildIDResponse struct {
	OGuildID string `json:"oguild_id"`
}

type guildBasicResponse struct {
	GuildMember []string `json:"guild_member"`
}

type characterIDResponse struct {
	OCID string `json:"ocid"`
}

type unionRankingResponse struct {
	Ranking []struct {
		CharacterName string `json:"character_name"`
	} `json:"ranking"`
}

type characterBasicResponse struct {
	CharacterGuildName string `json:"character_guild_name"`
}

// --- Lookups ---

// GuildID resolves a guild name in the configured world.
func (c *Client) GuildID(ctx context.Context, guildName string) (types.GuildID, bool) {
	var resp guildIDResponse
	params := url.Values{"guild_name": {guildName}, "world_name": {c.cfg.World}}
	if !c.lookup(ctx, guildIDPath, params, &resp) || resp.OGuildID == "" {
		return "", false
	}
	return types.GuildID(resp.OGuildID), true
}

// GuildMembers lists the character names in a guild. ok is false when the
// listing call fails; a successful listing may still be empty.
func (c *Client) GuildMembers(ctx context.Context, guildID types.GuildID) ([]string, bool) {
	var resp guildBasicResponse
	params := url.Values{"oguild_id": {string(guildID)}, "date": {c.AsOfDate()}}
	if !c.lookup(ctx, guildBasicPath, params, &resp) {
		return nil, false
	}
	return resp.GuildMember, true
}

// MembersOf resolves a guild by name and lists its members. ok is false when
// either the guild id or the member listing cannot be fetched.
func (c *Client) MembersOf(ctx context.Context, guildName string) ([]string, bool) {
	guildID, ok := c.GuildID(ctx, guildName)
	if !ok {
		return nil, false
	}
	return c.GuildMembers(ctx, guildID)
}

// AccountID resolves a character name to its ocid.
func (c *Client) AccountID(ctx context.Context, characterName string) (types.AccountID, bool) {
	var resp characterIDResponse
	params := url.Values{"character_name": {characterName}}
	if !c.lookup(ctx, characterIDPath, params, &resp) || resp.OCID == "" {
		return "", false
	}
	return types.AccountID(resp.OCID), true
}

// UnionMainName returns the name of the account's union main: the first entry
// of the union ranking for that ocid.
func (c *Client) UnionMainName(ctx context.Context, accountID types.AccountID) (string, bool) {
	var resp unionRankingResponse
	params := url.Values{"date": {c.AsOfDate()}, "world_name": {c.cfg.World}, "ocid": {string(accountID)}}
	if !c.lookup(ctx, unionRankingPath, params, &resp) || len(resp.Ranking) == 0 {
		return "", false
	}
	name := resp.Ranking[0].CharacterName
	return name, name != ""
}

// GuildName returns the guild a character belongs to, or "" when the provider
// has none on record or the call fails.
func (c *Client) GuildName(ctx context.Context, accountID types.AccountID) string {
	var resp characterBasicResponse
	params := url.Values{"ocid": {string(accountID)}, "date": {c.AsOfDate()}}
	if !c.lookup(ctx, characterBasicPath, params, &resp) {
		return ""
	}
	return resp.CharacterGuildName
}

// lookup performs one GET and decodes the body into out. Failures are logged
// and reported as false.
func (c *Client) lookup(ctx context.Context, path string, params url.Values, out any) bool {
	if err := c.get(ctx, path, params, out); err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Debug().Err(err).Str("path", path).Msg("Upstream call cancelled.")
		} else {
			c.logger.Warn().Err(err).Str("path", path).Msg("Upstream call failed, treating as no data.")
		}
		return false
	}
	return true
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

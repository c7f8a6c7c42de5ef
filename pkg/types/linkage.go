package types

import (
	"time"
)

// GuildID is the provider-issued identifier for a guild (oguild_id).
type GuildID string

// AccountID is the provider-issued identifier for a character (ocid). It is only
// used to chain subsequent lookups.
type AccountID string

// Association links an alt character to the main character of its account.
// An association is only produced when the main belongs to the target guild
// and differs from the alt.
type Association struct {
	Alt  string `json:"alt"`
	Main string `json:"main"`
}

// GroupedResult holds every alt that resolved to Main during one aggregation pass.
// A GroupedResult with no alts is never produced.
type GroupedResult struct {
	Main string   `json:"main" firestore:"main"`
	Alts []string `json:"alts" firestore:"alts"`
}

// Snapshot is the unit of caching: one aggregation result plus its creation time.
// It is immutable once written and replaced wholesale on recomputation.
type Snapshot struct {
	ID               string          `json:"id" firestore:"id"`
	SourceGuild      string          `json:"source_guild" firestore:"source_guild"`
	TargetGuild      string          `json:"target_guild" firestore:"target_guild"`
	LinkedCharacters []GroupedResult `json:"linked_characters" firestore:"linked_characters"`
	CreatedAt        time.Time       `json:"created_at" firestore:"created_at"`
}

// Age reports how long ago the snapshot was created, relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// IsFresh reports whether the snapshot may still be served at now.
func (s *Snapshot) IsFresh(now time.Time, ttl time.Duration) bool {
	if s == nil {
		return false
	}
	return s.Age(now) < ttl
}

// AssociationCount returns the total number of alts across all groups.
func (s *Snapshot) AssociationCount() int {
	n := 0
	for _, g := range s.LinkedCharacters {
		n += len(g.Alts)
	}
	return n
}

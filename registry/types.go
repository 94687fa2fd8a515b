// Package registry implements PersonalityRegistry (spec §4.3): the
// personality set and alias map, resolved with a fixed precedence and
// mutated only through a single serialized writer.
package registry

import "time"

// Personality is the unit a user talks to (spec §3).
type Personality struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	OwnerUserID  string `json:"owner_user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// aliasScope distinguishes an auto-alias (derived from display name, global)
// from a user-alias (explicit, visible only to its creator).
type aliasScope int

const (
	scopeGlobal aliasScope = iota
	scopeUser
)

// aliasEntry is one case-folded alias mapping to a personality id, carrying
// enough provenance to resolve precedence and enforce collision rules.
type aliasEntry struct {
	CaseFoldedAlias string     `json:"alias"`
	PersonalityID   string     `json:"personality_id"`
	Scope           aliasScope `json:"scope"`
	UserID          string     `json:"user_id,omitempty"` // set only for scopeUser
	CreatedAt       time.Time  `json:"created_at"`
}

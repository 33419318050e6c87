package model

import "time"

// CookieEntry binds a reconnection token to a player identity for a bounded
// time. Lookups must match both token and player name; an expired entry is
// treated as absent.
type CookieEntry struct {
	Token         string    `json:"token"`
	PlayerName    string    `json:"player_name"`
	Roles         RoleSet   `json:"roles"`
	Authenticated bool      `json:"authenticated"`
	Expiry        time.Time `json:"expiry"`
}

// Expired reports whether the entry is past its expiry at the given time
func (c *CookieEntry) Expired(now time.Time) bool {
	return !c.Expiry.After(now)
}

// PlayerCredential is a stored login secret for a named player. Players
// without a stored credential are exempt from authentication.
type PlayerCredential struct {
	PlayerName     string    `json:"player_name"`
	CredentialHash string    `json:"credential_hash"` // bcrypt hash
	Roles          RoleSet   `json:"roles"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

package models

import "time"

// RefreshToken is the persisted record backing an issued refresh token.
// Only the random token ID is stored, never the signed string, so a
// database compromise alone cannot forge a usable token. A refresh token is
// valid only while a matching, non-expired record exists; logout, rotation
// and revoke-all delete the row outright.
type RefreshToken struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	TokenID   string    `db:"token_id" json:"token_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
}

// BlacklistEntry records an access token revoked before its natural expiry,
// keyed by the literal signed token string. Entries past their expiry are
// logically dead; the sweep removes them eventually but their presence is
// never required for correctness.
type BlacklistEntry struct {
	Token     string    `db:"token" json:"token"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

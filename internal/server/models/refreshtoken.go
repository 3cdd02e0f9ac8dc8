package models

import "time"

// RefreshToken is one issued or rotated refresh token. Rows are immutable
// apart from the IsRevoked flip.
type RefreshToken struct {
	TokenID       string    `json:"token_id"`
	FamilyID      string    `json:"family_id"`
	UserID        int64     `json:"user_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	IsRevoked     bool      `json:"is_revoked"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedFromIP string    `json:"created_from_ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
}

// IsExpired reports whether the token is past its expiry at now. A token is
// already expired at the exact ExpiresAt instant.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token is neither revoked nor expired.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked && !t.IsExpired(now)
}

// ReuseEvent records a rotation that lost the conditional revoke, i.e. the
// same token was presented twice concurrently.
type ReuseEvent struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	FamilyID   string    `json:"family_id"`
	TokenID    string    `json:"token_id"`
	DetectedAt time.Time `json:"detected_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

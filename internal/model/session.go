package model

import (
	"time"
)

type AdminSession struct {
	ID        string     `db:"id" json:"id"`
	TokenHash string     `db:"token_hash" json:"-"`
	AdminID   string     `db:"admin_id" json:"adminId"`
	IssuedAt  time.Time  `db:"issued_at" json:"issuedAt"`
	ExpiresAt time.Time  `db:"expires_at" json:"expiresAt"`
	RevokedAt *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	IPAddress string     `db:"ip_address" json:"ipAddress"`
	UserAgent string     `db:"user_agent" json:"userAgent"`
}

// Active reports whether the session can still authenticate a request.
func (s *AdminSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

type CreateAdminSessionParams struct {
	ID        string
	TokenHash string
	AdminID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
}

// IssuedSession is returned once, at issuance; the raw token is not stored.
type IssuedSession struct {
	Token     string       `json:"sessionToken"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Admin     *PublicAdmin `json:"admin"`
}

package model

import (
	"time"
)

// AdminAccount is an administrative operator. MFASecret is set if and only
// if MFAEnrolled; an enrollment in progress lives in MFAPendingSecret.
type AdminAccount struct {
	ID                 string     `db:"id" json:"id"`
	Email              string     `db:"email" json:"email"`
	PasswordHash       string     `db:"password_hash" json:"-"`
	Role               Role       `db:"role" json:"role"`
	MFASecret          *string    `db:"mfa_secret" json:"-"`
	MFAPendingSecret   *string    `db:"mfa_pending_secret" json:"-"`
	MFAEnrolled        bool       `db:"mfa_enrolled" json:"mfaEnrolled"`
	MustChangePassword bool       `db:"must_change_password" json:"mustChangePassword"`
	FailedLoginCount   int        `db:"failed_login_count" json:"-"`
	LockedUntil        *time.Time `db:"locked_until" json:"-"`
	MFAFailedCount     int        `db:"mfa_failed_count" json:"-"`
	MFALockedUntil     *time.Time `db:"mfa_locked_until" json:"-"`
	Version            int64      `db:"version" json:"-"`
	LastLoginAt        *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

func (a *AdminAccount) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

func (a *AdminAccount) IsMFALocked(now time.Time) bool {
	return a.MFALockedUntil != nil && a.MFALockedUntil.After(now)
}

// Public strips credentials and counters.
func (a *AdminAccount) Public() *PublicAdmin {
	return &PublicAdmin{
		ID:                 a.ID,
		Email:              a.Email,
		Role:               a.Role,
		MFAEnrolled:        a.MFAEnrolled,
		MustChangePassword: a.MustChangePassword,
		LastLoginAt:        a.LastLoginAt,
	}
}

// PublicAdmin is the projection of an AdminAccount that leaves the service.
type PublicAdmin struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	Role               Role       `json:"role"`
	MFAEnrolled        bool       `json:"mfa_enrolled"`
	MustChangePassword bool       `json:"must_change_password"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
}

// CounterUpdate is an optimistic write of the failure counters, applied only
// when the stored version still equals ExpectedVersion.
type CounterUpdate struct {
	ExpectedVersion int64
	Count           int
	LockedUntil     *time.Time
}

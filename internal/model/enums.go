package model

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleModerator  Role = "moderator"
	RoleSupport    Role = "support"
	RoleBilling    Role = "billing"
	RoleAnalytics  Role = "analytics"
)

// Roles lists every role. The set is closed; the database enforces it too.
var Roles = []Role{
	RoleSuperAdmin,
	RoleAdmin,
	RoleModerator,
	RoleSupport,
	RoleBilling,
	RoleAnalytics,
}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

type AuditCategory string

const (
	CategoryAuth       AuditCategory = "auth"
	CategorySession    AuditCategory = "session"
	CategoryAdmin      AuditCategory = "admin"
	CategoryBilling    AuditCategory = "billing"
	CategoryModeration AuditCategory = "moderation"
	CategorySystem     AuditCategory = "system"
)

var AuditCategories = []AuditCategory{
	CategoryAuth,
	CategorySession,
	CategoryAdmin,
	CategoryBilling,
	CategoryModeration,
	CategorySystem,
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityCritical}

// LoginStep is the outcome of a verified password: what the admin must do
// before a session exists.
type LoginStep string

const (
	StepRequiresMfaSetup        LoginStep = "requires_mfa_setup"
	StepRequiresMfaVerification LoginStep = "requires_mfa_verification"
	StepFullyAuthenticated      LoginStep = "fully_authenticated"
)

// PendingStep is the MFA step a pending login token is bound to.
type PendingStep string

const (
	PendingMfaSetup  PendingStep = "mfa_setup"
	PendingMfaVerify PendingStep = "mfa_verify"
)

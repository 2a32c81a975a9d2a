package audit

// Event types recorded by the identity subsystem.
const (
	EventLoginSuccess         = "login_success"
	EventLoginFailure         = "login_failure"
	EventLoginBlocked         = "login_blocked"
	EventAccountLocked        = "account_locked"
	EventMfaEnrollmentStarted = "mfa_enrollment_started"
	EventMfaEnrolled          = "mfa_enrolled"
	EventMfaEnrollmentFailed  = "mfa_enrollment_failed"
	EventMfaVerified          = "mfa_verified"
	EventMfaFailure           = "mfa_failure"
	EventMfaReplay            = "mfa_replay_rejected"
	EventMfaLocked            = "mfa_locked"
	EventMfaBlocked           = "mfa_blocked"
	EventMfaPendingRejected   = "mfa_pending_rejected"
	EventSessionIssued        = "session_issued"
	EventLogout               = "logout"
	EventSessionsRevoked      = "sessions_revoked"
	EventPasswordChanged      = "password_changed"
	EventPasswordChangeFailed = "password_change_failed"
	EventPermissionDenied     = "permission_denied"
	EventAuditExported        = "audit_exported"
	EventRateLimitExceeded    = "rate_limit_exceeded"
	EventInfrastructureError  = "infrastructure_error"
)

// TargetAdminAccount is the target type for events about an admin account.
const TargetAdminAccount = "admin_account"

// Package authz maps admin roles to the operations they may perform.
package authz

import (
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/model"
)

type Capability string

const (
	CapAuditRead         Capability = "audit:read"
	CapAuditExport       Capability = "audit:export"
	CapAuditStats        Capability = "audit:stats"
	CapSessionRevokeOwn  Capability = "session:revoke_own"
	CapPasswordChangeOwn Capability = "password:change_own"
)

var Capabilities = []Capability{
	CapAuditRead,
	CapAuditExport,
	CapAuditStats,
	CapSessionRevokeOwn,
	CapPasswordChangeOwn,
}

type decision bool

const (
	allow decision = true
	deny  decision = false
)

// table is total over Roles × Capabilities; a test enforces that.
var table = map[model.Role]map[Capability]decision{
	model.RoleSuperAdmin: {
		CapAuditRead:         allow,
		CapAuditExport:       allow,
		CapAuditStats:        allow,
		CapSessionRevokeOwn:  allow,
		CapPasswordChangeOwn: allow,
	},
	model.RoleAnalytics: {
		CapAuditRead:         allow,
		CapAuditExport:       allow,
		CapAuditStats:        allow,
		CapSessionRevokeOwn:  allow,
		CapPasswordChangeOwn: allow,
	},
	model.RoleAdmin: {
		CapAuditRead:         deny,
		CapAuditExport:       deny,
		CapAuditStats:        deny,
		CapSessionRevokeOwn:  allow,
		CapPasswordChangeOwn: allow,
	},
	model.RoleModerator: {
		CapAuditRead:         deny,
		CapAuditExport:       deny,
		CapAuditStats:        deny,
		CapSessionRevokeOwn:  allow,
		CapPasswordChangeOwn: allow,
	},
	model.RoleSupport: {
		CapAuditRead:         deny,
		CapAuditExport:       deny,
		CapAuditStats:        deny,
		CapSessionRevokeOwn:  allow,
		CapPasswordChangeOwn: allow,
	},
	model.RoleBilling: {
		CapAuditRead:         deny,
		CapAuditExport:       deny,
		CapAuditStats:        deny,
		CapSessionRevokeOwn:  allow,
		CapPasswordChangeOwn: allow,
	},
}

// Allowed reports the table entry. Missing entries deny.
func Allowed(role model.Role, capability Capability) bool {
	if !role.Valid() {
		return false
	}
	caps, ok := table[role]
	if !ok {
		return false
	}
	return bool(caps[capability])
}

// Authorize returns INSUFFICIENT_PERMISSIONS unless admin's role is granted
// capability. A nil admin is denied.
func Authorize(admin *model.PublicAdmin, capability Capability) error {
	if admin == nil || !Allowed(admin.Role, capability) {
		return apperrors.InsufficientPermissions()
	}
	return nil
}

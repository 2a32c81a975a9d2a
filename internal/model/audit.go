package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// AuditEvent is an immutable record of a security-relevant action. Targets
// are referenced by type and id without a foreign key.
type AuditEvent struct {
	ID           string         `db:"id" json:"id"`
	Seq          int64          `db:"seq" json:"-"`
	OccurredAt   time.Time      `db:"occurred_at" json:"timestamp"`
	Category     AuditCategory  `db:"category" json:"category"`
	EventType    string         `db:"event_type" json:"eventType"`
	Severity     Severity       `db:"severity" json:"severity"`
	ActorAdminID *string        `db:"actor_admin_id" json:"actorAdminId,omitempty"`
	TargetType   *string        `db:"target_type" json:"targetType,omitempty"`
	TargetID     *string        `db:"target_id" json:"targetId,omitempty"`
	IPAddress    string         `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent    string         `db:"user_agent" json:"userAgent,omitempty"`
	Metadata     types.JSONText `db:"metadata" json:"metadata,omitempty"`
}

type AuditFilter struct {
	ActorAdminID string
	Category     AuditCategory
	EventType    string
	Severity     Severity
	TargetType   string
	TargetID     string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

type AuditPage struct {
	Items  []AuditEvent `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// AuditExport is every matching event up to the export cap. Truncated is
// set only when more events matched than were returned.
type AuditExport struct {
	Items     []AuditEvent `json:"items"`
	Count     int          `json:"count"`
	Truncated bool         `json:"truncated"`
}

type AuditStats struct {
	Days       int                   `json:"days"`
	Since      time.Time             `json:"since"`
	Total      int                   `json:"total"`
	ByCategory map[AuditCategory]int `json:"byCategory"`
	BySeverity map[Severity]int      `json:"bySeverity"`
}

// CountBucket is one row of a grouped count.
type CountBucket struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

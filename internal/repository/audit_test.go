package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pawpoint/admin-identity/internal/model"
)

func TestBuildAuditWhere(t *testing.T) {
	t.Run("empty filter has no clause", func(t *testing.T) {
		where, args := BuildAuditWhere(model.AuditFilter{})
		assert.Empty(t, where)
		assert.Empty(t, args)
	})

	t.Run("numbers placeholders in field order", func(t *testing.T) {
		from := time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC)
		to := from.Add(7 * 24 * time.Hour)

		where, args := BuildAuditWhere(model.AuditFilter{
			Category: model.CategoryAuth,
			Severity: model.SeverityCritical,
			From:     &from,
			To:       &to,
		})

		assert.Equal(t, " WHERE category = $1 AND severity = $2 AND occurred_at >= $3 AND occurred_at < $4", where)
		assert.Equal(t, []interface{}{"auth", "critical", from, to}, args)
	})

	t.Run("includes actor and target filters", func(t *testing.T) {
		where, args := BuildAuditWhere(model.AuditFilter{
			ActorAdminID: "admin-1",
			EventType:    "login_failure",
			TargetType:   "admin_account",
			TargetID:     "admin-2",
		})

		assert.Equal(t, " WHERE actor_admin_id = $1 AND event_type = $2 AND target_type = $3 AND target_id = $4", where)
		assert.Len(t, args, 4)
	})

	t.Run("ignores paging fields", func(t *testing.T) {
		where, _ := BuildAuditWhere(model.AuditFilter{Limit: 10, Offset: 20})
		assert.Empty(t, where)
	})
}

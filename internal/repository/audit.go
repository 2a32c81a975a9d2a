package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pawpoint/admin-identity/internal/model"
)

// AuditEventRepository is append-only: there is no update or delete.
type AuditEventRepository interface {
	// Insert is idempotent on the event id.
	Insert(ctx context.Context, event *model.AuditEvent) error
	Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, int, error)
	Export(ctx context.Context, filter model.AuditFilter, maxRows int) ([]model.AuditEvent, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	CountByCategorySince(ctx context.Context, since time.Time) ([]model.CountBucket, error)
	CountBySeveritySince(ctx context.Context, since time.Time) ([]model.CountBucket, error)
}

type auditEventRepo struct {
	db sqlxDB
}

func NewAuditEventRepository(db *sqlx.DB) AuditEventRepository {
	return &auditEventRepo{db: db}
}

const auditOrder = ` ORDER BY occurred_at DESC, seq DESC`

func (r *auditEventRepo) Insert(ctx context.Context, event *model.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, occurred_at, category, event_type, severity, actor_admin_id,
			target_type, target_id, ip_address, user_agent, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.OccurredAt, event.Category, event.EventType, event.Severity, event.ActorAdminID,
		event.TargetType, event.TargetID, event.IPAddress, event.UserAgent, event.Metadata)
	return err
}

func (r *auditEventRepo) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, int, error) {
	where, args := BuildAuditWhere(filter)
	argIndex := len(args) + 1

	query := `SELECT * FROM audit_events` + where + auditOrder +
		` LIMIT $` + strconv.Itoa(argIndex) + ` OFFSET $` + strconv.Itoa(argIndex+1)
	pageArgs := append(append([]interface{}{}, args...), filter.Limit, filter.Offset)

	events := []model.AuditEvent{}
	if err := r.db.SelectContext(ctx, &events, query, pageArgs...); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_events`+where, args...); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

func (r *auditEventRepo) Export(ctx context.Context, filter model.AuditFilter, maxRows int) ([]model.AuditEvent, error) {
	where, args := BuildAuditWhere(filter)
	query := `SELECT * FROM audit_events` + where + auditOrder +
		` LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, maxRows)

	events := []model.AuditEvent{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *auditEventRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM audit_events WHERE occurred_at >= $1
	`, since)
	return total, err
}

func (r *auditEventRepo) CountByCategorySince(ctx context.Context, since time.Time) ([]model.CountBucket, error) {
	var buckets []model.CountBucket
	err := r.db.SelectContext(ctx, &buckets, `
		SELECT category AS key, COUNT(*) AS count
		FROM audit_events WHERE occurred_at >= $1
		GROUP BY category
	`, since)
	return buckets, err
}

func (r *auditEventRepo) CountBySeveritySince(ctx context.Context, since time.Time) ([]model.CountBucket, error) {
	var buckets []model.CountBucket
	err := r.db.SelectContext(ctx, &buckets, `
		SELECT severity AS key, COUNT(*) AS count
		FROM audit_events WHERE occurred_at >= $1
		GROUP BY severity
	`, since)
	return buckets, err
}

// BuildAuditWhere renders the WHERE clause for a filter, numbering
// placeholders from $1. Empty filter fields are ignored.
func BuildAuditWhere(filter model.AuditFilter) (string, []interface{}) {
	var conds []string
	args := []interface{}{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if filter.ActorAdminID != "" {
		add("actor_admin_id = ?", filter.ActorAdminID)
	}
	if filter.Category != "" {
		add("category = ?", string(filter.Category))
	}
	if filter.EventType != "" {
		add("event_type = ?", filter.EventType)
	}
	if filter.Severity != "" {
		add("severity = ?", string(filter.Severity))
	}
	if filter.TargetType != "" {
		add("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != "" {
		add("target_id = ?", filter.TargetID)
	}
	if filter.From != nil {
		add("occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		add("occurred_at < ?", *filter.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

package handler

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/model"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit and offset. Range clamping happens in the
// service; only malformed numbers are rejected here.
func ParsePagination(r *http.Request) (PaginationParams, error) {
	limit, err := optionalInt(r, "limit")
	if err != nil {
		return PaginationParams{}, err
	}
	offset, err := optionalInt(r, "offset")
	if err != nil {
		return PaginationParams{}, err
	}
	return PaginationParams{Limit: limit, Offset: offset}, nil
}

// ParseAuditFilter reads the audit filters shared by listing and export.
func ParseAuditFilter(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	filter := model.AuditFilter{
		ActorAdminID: q.Get("actorAdminId"),
		Category:     model.AuditCategory(q.Get("category")),
		EventType:    q.Get("eventType"),
		Severity:     model.Severity(q.Get("severity")),
		TargetType:   q.Get("targetType"),
		TargetID:     q.Get("targetId"),
	}

	var err error
	if filter.From, err = optionalTime(r, "from"); err != nil {
		return model.AuditFilter{}, err
	}
	if filter.To, err = optionalTime(r, "to"); err != nil {
		return model.AuditFilter{}, err
	}
	return filter, nil
}

func optionalInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.InvalidInput(name, "must be an integer")
	}
	return v, nil
}

// optionalTime accepts RFC 3339 timestamps or plain dates.
func optionalTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	return nil, apperrors.InvalidInput(name, "must be an RFC 3339 timestamp or YYYY-MM-DD")
}

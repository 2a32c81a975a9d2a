package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pawpoint/admin-identity/internal/audit"
	"github.com/pawpoint/admin-identity/internal/authz"
	"github.com/pawpoint/admin-identity/internal/config"
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/repository"
	"github.com/pawpoint/admin-identity/internal/util"
)

// AuditService answers queries over the audit trail for authorized admins.
type AuditService struct {
	repo     repository.AuditEventRepository
	recorder AuditRecorder
	now      func() time.Time
}

func NewAuditService(repo repository.AuditEventRepository, recorder AuditRecorder) *AuditService {
	return &AuditService{repo: repo, recorder: recorder, now: time.Now}
}

func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	s.now = now
	return s
}

// Authorize checks cap for caller and audits a denial.
func (s *AuditService) Authorize(ctx context.Context, caller *model.PublicAdmin, capability authz.Capability, meta RequestMeta) error {
	err := authz.Authorize(caller, capability)
	if err == nil {
		return nil
	}

	event := audit.Event{
		Category:  model.CategoryAdmin,
		Type:      audit.EventPermissionDenied,
		Severity:  model.SeverityWarning,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Details:   map[string]interface{}{"capability": string(capability)},
	}
	if caller != nil {
		event.ActorID = caller.ID
		event.Details["role"] = string(caller.Role)
	}
	s.recorder.Record(ctx, event)
	return err
}

// Query returns one page of events, newest first.
func (s *AuditService) Query(ctx context.Context, caller *model.PublicAdmin, filter model.AuditFilter, meta RequestMeta) (*model.AuditPage, error) {
	if err := s.Authorize(ctx, caller, authz.CapAuditRead, meta); err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	filter.Limit = clamp(filter.Limit, config.AuditDefaultPageSize, config.AuditMaxPageSize)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	items, total, err := s.repo.Query(ctx, filter)
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("query audit events: %w", err))
	}

	return &model.AuditPage{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Stats counts events over the last days days, by category and severity.
func (s *AuditService) Stats(ctx context.Context, caller *model.PublicAdmin, days int, meta RequestMeta) (*model.AuditStats, error) {
	if err := s.Authorize(ctx, caller, authz.CapAuditStats, meta); err != nil {
		return nil, err
	}

	days = clamp(days, config.AuditDefaultStatDays, config.AuditMaxStatDays)
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	var (
		total      int
		categories []model.CountBucket
		severities []model.CountBucket
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = s.repo.CountSince(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		categories, err = s.repo.CountByCategorySince(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		severities, err = s.repo.CountBySeveritySince(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("audit stats: %w", err))
	}

	stats := &model.AuditStats{
		Days:       days,
		Since:      since,
		Total:      total,
		ByCategory: make(map[model.AuditCategory]int, len(categories)),
		BySeverity: make(map[model.Severity]int, len(severities)),
	}
	for _, b := range categories {
		stats.ByCategory[model.AuditCategory(b.Key)] = b.Count
	}
	for _, b := range severities {
		stats.BySeverity[model.Severity(b.Key)] = b.Count
	}
	return stats, nil
}

// Export returns every matching event, newest first, up to the export cap.
// Paging fields of filter are ignored.
func (s *AuditService) Export(ctx context.Context, caller *model.PublicAdmin, filter model.AuditFilter, meta RequestMeta) (*model.AuditExport, error) {
	if err := s.Authorize(ctx, caller, authz.CapAuditExport, meta); err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	// One row past the cap tells a full export from a cut one.
	events, err := s.repo.Export(ctx, filter, config.AuditExportMaxRows+1)
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("export audit events: %w", err))
	}
	truncated := len(events) > config.AuditExportMaxRows
	if truncated {
		events = events[:config.AuditExportMaxRows]
	}
	if events == nil {
		events = []model.AuditEvent{}
	}

	s.recorder.Record(ctx, audit.Event{
		Category:  model.CategoryAdmin,
		Type:      audit.EventAuditExported,
		ActorID:   caller.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Details: map[string]interface{}{
			"rows":      len(events),
			"truncated": truncated,
		},
	})
	return &model.AuditExport{
		Items:     events,
		Count:     len(events),
		Truncated: truncated,
	}, nil
}

func validateFilter(f model.AuditFilter) error {
	if f.ActorAdminID != "" && !util.IsValidUUID(f.ActorAdminID) {
		return apperrors.InvalidInput("actorAdminId", "must be a UUID")
	}
	if f.Category != "" && !containsCategory(f.Category) {
		return apperrors.InvalidInput("category", "unknown category")
	}
	if f.Severity != "" && !containsSeverity(f.Severity) {
		return apperrors.InvalidInput("severity", "unknown severity")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return apperrors.InvalidInput("from", "must not be after to")
	}
	return nil
}

func containsCategory(c model.AuditCategory) bool {
	for _, known := range model.AuditCategories {
		if c == known {
			return true
		}
	}
	return false
}

func containsSeverity(sev model.Severity) bool {
	for _, known := range model.Severities {
		if sev == known {
			return true
		}
	}
	return false
}

// clamp maps non-positive values to def and caps the rest at upper.
func clamp(v, def, upper int) int {
	if v <= 0 {
		return def
	}
	if v > upper {
		return upper
	}
	return v
}

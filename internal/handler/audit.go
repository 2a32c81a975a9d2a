package handler

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/middleware"
	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/service"
)

type AuditQuerier interface {
	Query(ctx context.Context, caller *model.PublicAdmin, filter model.AuditFilter, meta service.RequestMeta) (*model.AuditPage, error)
	Stats(ctx context.Context, caller *model.PublicAdmin, days int, meta service.RequestMeta) (*model.AuditStats, error)
	Export(ctx context.Context, caller *model.PublicAdmin, filter model.AuditFilter, meta service.RequestMeta) (*model.AuditExport, error)
}

type AuditHandler struct {
	audits         AuditQuerier
	recorder       middleware.EventRecorder
	authMiddleware func(http.Handler) http.Handler
	now            func() time.Time
}

func NewAuditHandler(
	audits AuditQuerier,
	recorder middleware.EventRecorder,
	authMiddleware func(http.Handler) http.Handler,
) *AuditHandler {
	return &AuditHandler{
		audits:         audits,
		recorder:       recorder,
		authMiddleware: authMiddleware,
		now:            time.Now,
	}
}

// Routes is mounted at /audit.
func (h *AuditHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(h.authMiddleware).Get("/", h.Get)
	return r
}

// Get dispatches on the action query parameter: stats, export, or a page
// of events when absent.
func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	switch action := r.URL.Query().Get("action"); action {
	case "stats":
		h.stats(w, r)
	case "export":
		h.export(w, r)
	case "", "list":
		h.list(w, r)
	default:
		writeError(w, r, h.recorder, apperrors.InvalidInput("action", "must be list, stats or export"))
	}
}

func (h *AuditHandler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseAuditFilter(r)
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}
	page, err := ParsePagination(r)
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}
	filter.Limit = page.Limit
	filter.Offset = page.Offset

	result, err := h.audits.Query(r.Context(), middleware.GetAdmin(r.Context()), filter, requestMeta(r))
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *AuditHandler) stats(w http.ResponseWriter, r *http.Request) {
	days, err := optionalInt(r, "days")
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	stats, err := h.audits.Stats(r.Context(), middleware.GetAdmin(r.Context()), days, requestMeta(r))
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *AuditHandler) export(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseAuditFilter(r)
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "csv" {
		writeError(w, r, h.recorder, apperrors.InvalidInput("format", "must be json or csv"))
		return
	}

	export, err := h.audits.Export(r.Context(), middleware.GetAdmin(r.Context()), filter, requestMeta(r))
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	filename := fmt.Sprintf("audit-export-%s", h.now().UTC().Format("20060102-150405"))
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, filename))
		if export.Truncated {
			w.Header().Set("X-Export-Truncated", "true")
		}
		w.WriteHeader(http.StatusOK)
		if err := writeAuditCSV(w, export.Items); err != nil {
			log.Error().Err(err).Msg("audit export: write csv")
		}
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, filename))
	writeJSON(w, http.StatusOK, export)
}

var auditCSVHeader = []string{
	"id", "timestamp", "category", "event_type", "severity", "actor_admin_id",
	"target_type", "target_id", "ip_address", "user_agent", "metadata",
}

func writeAuditCSV(w http.ResponseWriter, events []model.AuditEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(auditCSVHeader); err != nil {
		return err
	}
	for _, e := range events {
		if err := cw.Write([]string{
			e.ID,
			e.OccurredAt.UTC().Format(time.RFC3339Nano),
			string(e.Category),
			e.EventType,
			string(e.Severity),
			deref(e.ActorAdminID),
			deref(e.TargetType),
			deref(e.TargetID),
			e.IPAddress,
			e.UserAgent,
			string(e.Metadata),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

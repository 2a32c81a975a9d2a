package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pawpoint/admin-identity/internal/audit"
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/httputil"
	"github.com/pawpoint/admin-identity/internal/middleware"
	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError sends err to the client. Store and internal failures are
// logged and recorded as critical system events first.
func writeError(w http.ResponseWriter, r *http.Request, recorder middleware.EventRecorder, err error) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeStoreUnavailable, apperrors.ErrCodeInternal:
		log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")

		if recorder != nil {
			event := audit.Event{
				Category:  model.CategorySystem,
				Type:      audit.EventInfrastructureError,
				Severity:  model.SeverityCritical,
				IP:        httputil.ClientIP(r),
				UserAgent: r.UserAgent(),
				Details: map[string]interface{}{
					"path": r.URL.Path,
					"code": string(apperrors.GetCode(err)),
				},
			}
			if admin := middleware.GetAdmin(r.Context()); admin != nil {
				event.ActorID = admin.ID
			}
			recorder.Record(r.Context(), event)
		}
	}
	httputil.WriteError(w, err)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	return nil
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IP:        httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

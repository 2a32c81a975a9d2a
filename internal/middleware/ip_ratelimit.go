package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pawpoint/admin-identity/internal/audit"
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/httputil"
	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/service"
)

// EventRecorder receives rate limit rejections. May be nil.
type EventRecorder interface {
	Record(ctx context.Context, e audit.Event)
}

type IPRateLimitMiddleware struct {
	limiter  service.Limiter
	recorder EventRecorder
	limit    int
	window   time.Duration
	prefix   string
}

func NewIPRateLimitMiddleware(limiter service.Limiter, recorder EventRecorder, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter:  limiter,
		recorder: recorder,
		limit:    limit,
		window:   window,
		prefix:   prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httputil.ClientIP(r)

		key := fmt.Sprintf("ip:%s:%s", m.prefix, ip)
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)

		if !allowed {
			if m.recorder != nil {
				m.recorder.Record(r.Context(), audit.Event{
					Category:  model.CategorySystem,
					Type:      audit.EventRateLimitExceeded,
					Severity:  model.SeverityWarning,
					IP:        ip,
					UserAgent: r.UserAgent(),
					Details:   map[string]interface{}{"route": m.prefix},
				})
			}

			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			if secondsLeft < 1 {
				secondsLeft = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

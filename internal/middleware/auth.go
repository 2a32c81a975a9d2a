package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pawpoint/admin-identity/internal/authz"
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/httputil"
	"github.com/pawpoint/admin-identity/internal/model"
)

type contextKey string

const (
	AdminContextKey        contextKey = "admin"
	SessionTokenContextKey contextKey = "sessionToken"
)

func GetAdmin(ctx context.Context) *model.PublicAdmin {
	if admin, ok := ctx.Value(AdminContextKey).(*model.PublicAdmin); ok {
		return admin
	}
	return nil
}

func GetSessionToken(ctx context.Context) string {
	if token, ok := ctx.Value(SessionTokenContextKey).(string); ok {
		return token
	}
	return ""
}

// SessionValidator resolves a bearer token to the admin it belongs to.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*model.PublicAdmin, error)
}

type AdminAuthMiddleware struct {
	sessions SessionValidator
}

func NewAdminAuthMiddleware(sessions SessionValidator) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{sessions: sessions}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.SessionInvalid())
			return
		}

		admin, err := m.sessions.Validate(r.Context(), token)
		if err != nil {
			if !apperrors.IsAuthFailure(err) {
				log.Error().Err(err).Str("path", r.URL.Path).Msg("admin auth: session validation failed")
			}
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), AdminContextKey, admin)
		ctx = context.WithValue(ctx, SessionTokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCapability refuses requests whose admin lacks capability. It must
// run after AdminAuthMiddleware.
func RequireCapability(capability authz.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admin := GetAdmin(r.Context())
			if err := authz.Authorize(admin, capability); err != nil {
				log.Warn().
					Str("capability", string(capability)).
					Str("path", r.URL.Path).
					Msg("admin auth: capability denied")
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken reads the Authorization header. Tokens in query strings are
// not accepted.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

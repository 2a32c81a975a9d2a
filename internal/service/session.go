package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pawpoint/admin-identity/internal/audit"
	"github.com/pawpoint/admin-identity/internal/database"
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/repository"
	"github.com/pawpoint/admin-identity/internal/util"
)

const targetAdminSession = "admin_session"

// SessionService issues, validates and revokes admin sessions. Only the
// HMAC of a session token is ever persisted.
type SessionService struct {
	sessionRepo repository.AdminSessionRepository
	adminRepo   repository.AdminAccountRepository
	recorder    AuditRecorder
	secret      string
	lifetime    time.Duration
	now         func() time.Time
}

func NewSessionService(
	sessionRepo repository.AdminSessionRepository,
	adminRepo repository.AdminAccountRepository,
	recorder AuditRecorder,
	secret string,
	lifetime time.Duration,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		adminRepo:   adminRepo,
		recorder:    recorder,
		secret:      secret,
		lifetime:    lifetime,
		now:         time.Now,
	}
}

func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

func (s *SessionService) hash(token string) string {
	return util.HmacSHA256(s.secret, token)
}

// Issue creates a session for an admin who has completed every required
// authentication step.
func (s *SessionService) Issue(ctx context.Context, account *model.AdminAccount, meta RequestMeta) (*model.IssuedSession, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.lifetime)

	var (
		token   string
		session *model.AdminSession
		err     error
	)
	// A token hash collision is astronomically unlikely; one retry covers it.
	for attempt := 0; attempt < 2; attempt++ {
		token, err = util.GenerateToken()
		if err != nil {
			return nil, apperrors.Internal(fmt.Sprintf("generate session token: %v", err))
		}

		session, err = s.sessionRepo.Create(ctx, model.CreateAdminSessionParams{
			ID:        uuid.NewString(),
			TokenHash: s.hash(token),
			AdminID:   account.ID,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
			IPAddress: meta.IP,
			UserAgent: meta.UserAgent,
		})
		if err == nil || !database.IsUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("create admin session: %w", err))
	}

	s.recorder.Record(ctx, audit.Event{
		Category:   model.CategorySession,
		Type:       audit.EventSessionIssued,
		ActorID:    account.ID,
		TargetType: targetAdminSession,
		TargetID:   session.ID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Details: map[string]interface{}{
			"expires_at": expiresAt.Format(time.RFC3339),
		},
	})

	return &model.IssuedSession{
		Token:     token,
		ExpiresAt: expiresAt,
		Admin:     account.Public(),
	}, nil
}

// Validate resolves a session token to its admin. Every rejection returns
// the same error; the reason only reaches the debug log.
func (s *SessionService) Validate(ctx context.Context, token string) (*model.PublicAdmin, error) {
	if token == "" {
		return nil, apperrors.SessionInvalid()
	}
	if strings.HasPrefix(token, PendingTokenPrefix) {
		log.Debug().Msg("session rejected: pending login token")
		return nil, apperrors.SessionInvalid()
	}

	session, err := s.sessionRepo.FindByTokenHash(ctx, s.hash(token))
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("find admin session: %w", err))
	}
	if session == nil {
		log.Debug().Msg("session rejected: unknown token")
		return nil, apperrors.SessionInvalid()
	}
	if session.RevokedAt != nil {
		log.Debug().Str("session_id", session.ID).Msg("session rejected: revoked")
		return nil, apperrors.SessionInvalid()
	}
	if !session.Active(s.now()) {
		log.Debug().Str("session_id", session.ID).Msg("session rejected: expired")
		return nil, apperrors.SessionInvalid()
	}

	account, err := s.adminRepo.FindByID(ctx, session.AdminID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("find admin account: %w", err))
	}
	if account == nil {
		log.Debug().Str("session_id", session.ID).Msg("session rejected: admin account missing")
		return nil, apperrors.SessionInvalid()
	}

	return account.Public(), nil
}

// Revoke ends the session behind token. Unknown and already revoked tokens
// are not an error.
func (s *SessionService) Revoke(ctx context.Context, token string, meta RequestMeta) error {
	if token == "" || strings.HasPrefix(token, PendingTokenPrefix) {
		return nil
	}

	session, err := s.sessionRepo.Revoke(ctx, s.hash(token), s.now().UTC())
	if err != nil {
		return apperrors.StoreUnavailable(fmt.Errorf("revoke admin session: %w", err))
	}
	if session == nil {
		return nil
	}

	s.recorder.Record(ctx, audit.Event{
		Category:   model.CategorySession,
		Type:       audit.EventLogout,
		ActorID:    session.AdminID,
		TargetType: targetAdminSession,
		TargetID:   session.ID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

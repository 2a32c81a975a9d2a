package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawpoint/admin-identity/internal/audit"
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/repository"
	"github.com/pawpoint/admin-identity/internal/util"
)

type MFAPolicy struct {
	Issuer            string
	Skew              uint
	MaxFailedAttempts int
	LockoutWindow     time.Duration
}

// MFAInput is one submitted code. AdminID is only a claim; the pending
// token decides who is authenticating.
type MFAInput struct {
	AdminID      string
	PendingToken string
	Code         string
	Meta         RequestMeta
}

// MFAService runs TOTP enrollment and verification. Sessions are issued
// only after a code matching the step bound to the pending token.
type MFAService struct {
	adminRepo repository.AdminAccountRepository
	sessions  *SessionService
	pending   PendingLoginStore
	replay    ReplayGuard
	recorder  AuditRecorder
	box       *util.SecretBox
	policy    MFAPolicy
	counter   failureCounter
	now       func() time.Time
}

func NewMFAService(
	adminRepo repository.AdminAccountRepository,
	sessions *SessionService,
	pending PendingLoginStore,
	replay ReplayGuard,
	recorder AuditRecorder,
	box *util.SecretBox,
	policy MFAPolicy,
) *MFAService {
	return &MFAService{
		adminRepo: adminRepo,
		sessions:  sessions,
		pending:   pending,
		replay:    replay,
		recorder:  recorder,
		box:       box,
		policy:    policy,
		counter: failureCounter{
			name:  "mfa_failed_count",
			read:  func(a *model.AdminAccount) int { return a.MFAFailedCount },
			write: adminRepo.UpdateMFAFailures,
			load:  adminRepo.FindByID,
		},
		now: time.Now,
	}
}

func (s *MFAService) WithClock(now func() time.Time) *MFAService {
	s.now = now
	return s
}

// BeginEnrollment generates a new secret for an admin without MFA and
// stores it as pending. The admin stays unenrolled until a code is confirmed.
func (s *MFAService) BeginEnrollment(ctx context.Context, adminID string, meta RequestMeta) (*model.MfaSetupData, error) {
	account, err := s.adminRepo.FindByID(ctx, adminID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("find admin account: %w", err))
	}
	if account == nil {
		return nil, apperrors.InvalidCredentials()
	}
	return s.beginEnrollment(ctx, account, meta)
}

func (s *MFAService) beginEnrollment(ctx context.Context, account *model.AdminAccount, meta RequestMeta) (*model.MfaSetupData, error) {
	if account.MFAEnrolled {
		return nil, apperrors.ValidationError("MFA is already enrolled")
	}

	setup, err := generateTOTPKey(s.policy.Issuer, account.Email)
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}

	sealed, err := s.box.Seal(setup.Secret)
	if err != nil {
		return nil, apperrors.Internal(fmt.Sprintf("seal mfa secret: %v", err))
	}
	if err := s.adminRepo.SetPendingMFASecret(ctx, account.ID, sealed); err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("store pending mfa secret: %w", err))
	}
	account.MFAPendingSecret = &sealed

	s.recorder.Record(ctx, s.event(account.ID, audit.EventMfaEnrollmentStarted, model.SeverityInfo, meta, nil))
	return setup, nil
}

// CompleteEnrollment confirms the pending secret with a first code and
// issues a session.
func (s *MFAService) CompleteEnrollment(ctx context.Context, in MFAInput) (*model.LoginResult, error) {
	account, err := s.resolve(ctx, in, model.PendingMfaSetup)
	if err != nil {
		return nil, err
	}

	if account.MFAEnrolled || account.MFAPendingSecret == nil {
		if err := s.recordSync(ctx, account.ID, audit.EventMfaEnrollmentFailed, model.SeverityCritical, in.Meta,
			map[string]interface{}{"reason": "no_pending_enrollment"}); err != nil {
			return nil, err
		}
		return nil, apperrors.InvalidMfaCode()
	}

	return s.checkCode(ctx, account, *account.MFAPendingSecret, in, true)
}

// Verify checks a code against the confirmed secret and issues a session.
func (s *MFAService) Verify(ctx context.Context, in MFAInput) (*model.LoginResult, error) {
	account, err := s.resolve(ctx, in, model.PendingMfaVerify)
	if err != nil {
		return nil, err
	}

	if !account.MFAEnrolled || account.MFASecret == nil {
		return nil, apperrors.MfaSetupRequired()
	}

	return s.checkCode(ctx, account, *account.MFASecret, in, false)
}

// resolve loads the admin behind a pending token, checking that the token
// was issued for this admin and this step.
func (s *MFAService) resolve(ctx context.Context, in MFAInput, step model.PendingStep) (*model.AdminAccount, error) {
	if in.PendingToken == "" {
		return nil, apperrors.SessionInvalid()
	}

	pending, err := s.pending.Resolve(ctx, in.PendingToken)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if pending == nil || pending.Step != step || (in.AdminID != "" && pending.AdminID != in.AdminID) {
		log.Debug().Str("step", string(step)).Msg("mfa rejected: pending token does not match")
		s.recorder.Record(ctx, audit.Event{
			Category:  model.CategoryAuth,
			Type:      audit.EventMfaPendingRejected,
			Severity:  model.SeverityWarning,
			IP:        in.Meta.IP,
			UserAgent: in.Meta.UserAgent,
			Details:   map[string]interface{}{"claimed_admin_id": in.AdminID, "step": string(step)},
		})
		return nil, apperrors.SessionInvalid()
	}

	account, err := s.adminRepo.FindByID(ctx, pending.AdminID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("find admin account: %w", err))
	}
	if account == nil {
		return nil, apperrors.SessionInvalid()
	}

	if account.IsMFALocked(s.now()) {
		if err := s.recordSync(ctx, account.ID, audit.EventMfaBlocked, model.SeverityWarning, in.Meta, nil); err != nil {
			return nil, err
		}
		return nil, apperrors.AccountLocked()
	}
	return account, nil
}

func (s *MFAService) checkCode(ctx context.Context, account *model.AdminAccount, sealed string, in MFAInput, setup bool) (*model.LoginResult, error) {
	now := s.now()

	var (
		step    int64
		matched bool
	)
	if code, ok := util.NormalizeTOTPCode(in.Code); ok {
		secret, err := s.box.Open(sealed)
		if err != nil {
			return nil, apperrors.Internal(fmt.Sprintf("open mfa secret: %v", err))
		}
		step, matched = matchTOTPStep(secret, code, now, s.policy.Skew)
	}
	if !matched {
		return nil, s.reject(ctx, account, in.Meta, setup, "invalid_code")
	}

	fresh, err := s.replay.Consume(ctx, account.ID, step, totpReplayTTL(s.policy.Skew))
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if !fresh {
		return nil, s.reject(ctx, account, in.Meta, setup, "replayed_code")
	}

	consumed, err := s.pending.Consume(ctx, in.PendingToken)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if !consumed {
		return nil, apperrors.SessionInvalid()
	}

	eventType := audit.EventMfaVerified
	if setup {
		confirmed, err := s.adminRepo.ConfirmMFAEnrollment(ctx, account.ID, sealed)
		if err != nil {
			return nil, apperrors.StoreUnavailable(fmt.Errorf("confirm mfa enrollment: %w", err))
		}
		if !confirmed {
			if err := s.recordSync(ctx, account.ID, audit.EventMfaEnrollmentFailed, model.SeverityCritical, in.Meta,
				map[string]interface{}{"reason": "enrollment_changed"}); err != nil {
				return nil, err
			}
			return nil, apperrors.InvalidMfaCode()
		}
		account.MFASecret = &sealed
		account.MFAPendingSecret = nil
		account.MFAEnrolled = true
		eventType = audit.EventMfaEnrolled
	} else if account.MFAFailedCount > 0 || account.MFALockedUntil != nil {
		if err := s.adminRepo.ResetMFAFailures(ctx, account.ID); err != nil {
			return nil, apperrors.StoreUnavailable(fmt.Errorf("reset mfa failures: %w", err))
		}
	}
	account.MFAFailedCount = 0
	account.MFALockedUntil = nil

	if err := s.recordSync(ctx, account.ID, eventType, model.SeverityInfo, in.Meta, nil); err != nil {
		return nil, err
	}

	session, err := s.sessions.Issue(ctx, account, in.Meta)
	if err != nil {
		return nil, err
	}

	return &model.LoginResult{
		Step:    model.StepFullyAuthenticated,
		Admin:   session.Admin,
		Session: session,
	}, nil
}

// reject counts a failed code and records it. The caller only learns that
// the code was wrong.
func (s *MFAService) reject(ctx context.Context, account *model.AdminAccount, meta RequestMeta, setup bool, reason string) error {
	locked, err := s.counter.increment(ctx, account, s.policy.MaxFailedAttempts, s.policy.LockoutWindow, s.now())
	if err != nil {
		return apperrors.StoreUnavailable(fmt.Errorf("update mfa failures: %w", err))
	}

	eventType := audit.EventMfaFailure
	switch {
	case reason == "replayed_code":
		eventType = audit.EventMfaReplay
	case setup:
		eventType = audit.EventMfaEnrollmentFailed
	}
	if err := s.recordSync(ctx, account.ID, eventType, model.SeverityCritical, meta,
		map[string]interface{}{"reason": reason}); err != nil {
		return err
	}

	if locked {
		if err := s.recordSync(ctx, account.ID, audit.EventMfaLocked, model.SeverityCritical, meta,
			map[string]interface{}{"lockout_minutes": int(s.policy.LockoutWindow.Minutes())}); err != nil {
			return err
		}
	}
	return apperrors.InvalidMfaCode()
}

func (s *MFAService) event(adminID, eventType string, severity model.Severity, meta RequestMeta, details map[string]interface{}) audit.Event {
	return audit.Event{
		Category:   model.CategoryAuth,
		Type:       eventType,
		Severity:   severity,
		ActorID:    adminID,
		TargetType: audit.TargetAdminAccount,
		TargetID:   adminID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Details:    details,
	}
}

// recordSync writes an MFA outcome before the response; without a durable
// record the request fails.
func (s *MFAService) recordSync(ctx context.Context, adminID, eventType string, severity model.Severity, meta RequestMeta, details map[string]interface{}) error {
	if err := s.recorder.RecordSync(ctx, s.event(adminID, eventType, severity, meta, details)); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

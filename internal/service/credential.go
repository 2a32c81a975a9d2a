package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pawpoint/admin-identity/internal/audit"
	"github.com/pawpoint/admin-identity/internal/config"
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/repository"
	"github.com/pawpoint/admin-identity/internal/util"
)

type CredentialPolicy struct {
	MFARequired       bool
	MaxFailedAttempts int
	LockoutWindow     time.Duration
	BcryptCost        int
}

type LoginInput struct {
	Email    string
	Password string
	Meta     RequestMeta
}

type ChangePasswordInput struct {
	AdminID         string
	CurrentPassword string
	NewPassword     string
	Meta            RequestMeta
}

// CredentialService verifies admin passwords and decides which MFA step,
// if any, stands between the password and a session.
type CredentialService struct {
	adminRepo   repository.AdminAccountRepository
	sessionRepo repository.AdminSessionRepository
	tx          TxRunner
	sessions    *SessionService
	mfa         *MFAService
	pending     PendingLoginStore
	recorder    AuditRecorder
	policy      CredentialPolicy
	counter     failureCounter
	dummyHash   string
	now         func() time.Time
}

func NewCredentialService(
	adminRepo repository.AdminAccountRepository,
	sessionRepo repository.AdminSessionRepository,
	tx TxRunner,
	sessions *SessionService,
	mfa *MFAService,
	pending PendingLoginStore,
	recorder AuditRecorder,
	policy CredentialPolicy,
) (*CredentialService, error) {
	// Compared against when the email is unknown so both paths cost a bcrypt.
	dummyHash, err := util.HashPassword("unknown-admin-placeholder", policy.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash placeholder password: %w", err)
	}

	return &CredentialService{
		adminRepo:   adminRepo,
		sessionRepo: sessionRepo,
		tx:          tx,
		sessions:    sessions,
		mfa:         mfa,
		pending:     pending,
		recorder:    recorder,
		policy:      policy,
		counter: failureCounter{
			name:  "failed_login_count",
			read:  func(a *model.AdminAccount) int { return a.FailedLoginCount },
			write: adminRepo.UpdateLoginFailures,
			load:  adminRepo.FindByID,
		},
		dummyHash: dummyHash,
		now:       time.Now,
	}, nil
}

func (s *CredentialService) WithClock(now func() time.Time) *CredentialService {
	s.now = now
	return s
}

// Login verifies email and password. A session is returned only when no
// MFA step is outstanding.
func (s *CredentialService) Login(ctx context.Context, in LoginInput) (*model.LoginResult, error) {
	email := util.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperrors.ValidationError("email and password are required")
	}

	account, err := s.adminRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("find admin account: %w", err))
	}
	if account == nil {
		util.CheckPasswordHash(in.Password, s.dummyHash)
		s.recorder.Record(ctx, audit.Event{
			Category:  model.CategoryAuth,
			Type:      audit.EventLoginFailure,
			Severity:  model.SeverityWarning,
			IP:        in.Meta.IP,
			UserAgent: in.Meta.UserAgent,
			Details:   map[string]interface{}{"email": email, "reason": "unknown_account"},
		})
		return nil, apperrors.InvalidCredentials()
	}

	now := s.now()
	if account.IsLocked(now) {
		s.recorder.Record(ctx, s.event(account.ID, audit.EventLoginBlocked, model.SeverityWarning, in.Meta, nil))
		return nil, apperrors.AccountLocked()
	}

	if !util.CheckPasswordHash(in.Password, account.PasswordHash) {
		return nil, s.rejectPassword(ctx, account, in.Meta, now)
	}

	if err := s.adminRepo.RecordLoginSuccess(ctx, account.ID, now.UTC()); err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("record login success: %w", err))
	}
	loginAt := now.UTC()
	account.FailedLoginCount = 0
	account.LockedUntil = nil
	account.LastLoginAt = &loginAt

	result, err := s.nextStep(ctx, account, in.Meta)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, s.event(account.ID, audit.EventLoginSuccess, model.SeverityInfo, in.Meta,
		map[string]interface{}{"next_step": string(result.Step)}))
	return result, nil
}

// nextStep picks the outcome of a verified password. An enrolled admin is
// always sent to verification, whatever the policy says.
func (s *CredentialService) nextStep(ctx context.Context, account *model.AdminAccount, meta RequestMeta) (*model.LoginResult, error) {
	switch {
	case account.MFAEnrolled:
		token, err := s.pending.Create(ctx, account.ID, model.PendingMfaVerify)
		if err != nil {
			return nil, apperrors.StoreUnavailable(err)
		}
		return &model.LoginResult{
			Step:         model.StepRequiresMfaVerification,
			Admin:        account.Public(),
			PendingToken: token,
		}, nil

	case s.policy.MFARequired:
		setup, err := s.mfa.beginEnrollment(ctx, account, meta)
		if err != nil {
			return nil, err
		}
		token, err := s.pending.Create(ctx, account.ID, model.PendingMfaSetup)
		if err != nil {
			return nil, apperrors.StoreUnavailable(err)
		}
		return &model.LoginResult{
			Step:         model.StepRequiresMfaSetup,
			Admin:        account.Public(),
			PendingToken: token,
			MfaSetup:     setup,
		}, nil

	default:
		session, err := s.sessions.Issue(ctx, account, meta)
		if err != nil {
			return nil, err
		}
		return &model.LoginResult{
			Step:    model.StepFullyAuthenticated,
			Admin:   session.Admin,
			Session: session,
		}, nil
	}
}

func (s *CredentialService) rejectPassword(ctx context.Context, account *model.AdminAccount, meta RequestMeta, now time.Time) error {
	locked, err := s.counter.increment(ctx, account, s.policy.MaxFailedAttempts, s.policy.LockoutWindow, now)
	if err != nil {
		return apperrors.StoreUnavailable(fmt.Errorf("update login failures: %w", err))
	}

	if !locked {
		s.recorder.Record(ctx, s.event(account.ID, audit.EventLoginFailure, model.SeverityWarning, meta,
			map[string]interface{}{"reason": "invalid_password"}))
		return apperrors.InvalidCredentials()
	}

	if err := s.recorder.RecordSync(ctx, s.event(account.ID, audit.EventAccountLocked, model.SeverityCritical, meta,
		map[string]interface{}{"lockout_minutes": int(s.policy.LockoutWindow.Minutes())})); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return apperrors.InvalidCredentials()
}

// ChangePassword replaces the password of a signed-in admin and revokes
// every session they hold, including the current one.
func (s *CredentialService) ChangePassword(ctx context.Context, in ChangePasswordInput) (int64, error) {
	if len(in.NewPassword) < config.MinPasswordLength {
		return 0, apperrors.InvalidInput("newPassword", fmt.Sprintf("must be at least %d characters", config.MinPasswordLength))
	}
	if in.NewPassword == in.CurrentPassword {
		return 0, apperrors.InvalidInput("newPassword", "must differ from the current password")
	}

	account, err := s.adminRepo.FindByID(ctx, in.AdminID)
	if err != nil {
		return 0, apperrors.StoreUnavailable(fmt.Errorf("find admin account: %w", err))
	}
	if account == nil {
		return 0, apperrors.SessionInvalid()
	}

	if !util.CheckPasswordHash(in.CurrentPassword, account.PasswordHash) {
		s.recorder.Record(ctx, s.event(account.ID, audit.EventPasswordChangeFailed, model.SeverityWarning, in.Meta,
			map[string]interface{}{"reason": "invalid_current_password"}))
		return 0, apperrors.InvalidCredentials()
	}

	hash, err := util.HashPassword(in.NewPassword, s.policy.BcryptCost)
	if err != nil {
		return 0, apperrors.Internal(fmt.Sprintf("hash password: %v", err))
	}

	var revoked int64
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.adminRepo.WithTx(tx).UpdatePassword(ctx, account.ID, hash); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		n, err := s.sessionRepo.WithTx(tx).RevokeAllForAdmin(ctx, account.ID, s.now().UTC())
		if err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
		revoked = n
		return nil
	})
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}

	s.recorder.Record(ctx, s.event(account.ID, audit.EventPasswordChanged, model.SeverityInfo, in.Meta,
		map[string]interface{}{"sessions_revoked": revoked}))
	return revoked, nil
}

func (s *CredentialService) event(adminID, eventType string, severity model.Severity, meta RequestMeta, details map[string]interface{}) audit.Event {
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

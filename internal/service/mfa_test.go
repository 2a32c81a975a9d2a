package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawpoint/admin-identity/internal/audit"
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/model"
)

func loginPending(t *testing.T, h *harness, email string) *model.LoginResult {
	t.Helper()
	result, err := h.creds.Login(context.Background(), LoginInput{Email: email, Password: testPassword, Meta: testMeta})
	require.NoError(t, err)
	require.NotEmpty(t, result.PendingToken)
	return result
}

func TestMFA_EnrollmentFlow(t *testing.T) {
	h := newHarness(t, true)
	h.addAdmin(t, adminOneID, "ops@example.com", testPassword, model.RoleAdmin)
	ctx := context.Background()

	login := loginPending(t, h, "ops@example.com")
	require.Equal(t, model.StepRequiresMfaSetup, login.Step)
	secret := login.MfaSetup.Secret

	t.Run("wrong code leaves enrollment untouched", func(t *testing.T) {
		_, err := h.mfa.CompleteEnrollment(ctx, MFAInput{
			AdminID: adminOneID, PendingToken: login.PendingToken, Code: h.wrongCode(t, secret), Meta: testMeta,
		})
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidMfaCode))

		stored := h.admins.get(adminOneID)
		assert.False(t, stored.MFAEnrolled)
		assert.Nil(t, stored.MFASecret)
		assert.NotNil(t, stored.MFAPendingSecret)
	})

	t.Run("verify cannot use a setup token", func(t *testing.T) {
		_, err := h.mfa.Verify(ctx, MFAInput{
			AdminID: adminOneID, PendingToken: login.PendingToken, Code: h.code(t, secret), Meta: testMeta,
		})
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeSessionInvalid))
	})

	t.Run("a token bound to another admin is refused", func(t *testing.T) {
		_, err := h.mfa.CompleteEnrollment(ctx, MFAInput{
			AdminID: adminTwoID, PendingToken: login.PendingToken, Code: h.code(t, secret), Meta: testMeta,
		})
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeSessionInvalid))
	})

	t.Run("correct code enrolls and issues a session", func(t *testing.T) {
		result, err := h.mfa.CompleteEnrollment(ctx, MFAInput{
			AdminID: adminOneID, PendingToken: login.PendingToken, Code: h.code(t, secret), Meta: testMeta,
		})
		require.NoError(t, err)
		assert.Equal(t, model.StepFullyAuthenticated, result.Step)
		require.NotNil(t, result.Session)
		assert.True(t, result.Admin.MFAEnrolled)

		stored := h.admins.get(adminOneID)
		assert.True(t, stored.MFAEnrolled)
		require.NotNil(t, stored.MFASecret)
		assert.Nil(t, stored.MFAPendingSecret)
		assert.Equal(t, 0, stored.MFAFailedCount)

		opened, err := h.box.Open(*stored.MFASecret)
		require.NoError(t, err)
		assert.Equal(t, secret, opened)

		admin, err := h.sessions.Validate(ctx, result.Session.Token)
		require.NoError(t, err)
		assert.Equal(t, adminOneID, admin.ID)

		assert.Len(t, h.auditDB.ofType(audit.EventMfaEnrolled), 1)
	})

	t.Run("pending token is single use", func(t *testing.T) {
		_, err := h.mfa.CompleteEnrollment(ctx, MFAInput{
			AdminID: adminOneID, PendingToken: login.PendingToken, Code: h.code(t, secret), Meta: testMeta,
		})
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeSessionInvalid))
	})

	t.Run("next login asks for verification", func(t *testing.T) {
		next := loginPending(t, h, "ops@example.com")
		assert.Equal(t, model.StepRequiresMfaVerification, next.Step)
	})
}

func TestMFA_VerifyRejectsReplayedCode(t *testing.T) {
	h := newHarness(t, true)
	h.addAdmin(t, adminOneID, "ops@example.com", testPassword, model.RoleAdmin)
	secret := h.enroll(t, adminOneID)
	ctx := context.Background()

	first := loginPending(t, h, "ops@example.com")
	code := h.code(t, secret)
	result, err := h.mfa.Verify(ctx, MFAInput{AdminID: adminOneID, PendingToken: first.PendingToken, Code: code, Meta: testMeta})
	require.NoError(t, err)
	require.NotNil(t, result.Session)

	second := loginPending(t, h, "ops@example.com")
	_, err = h.mfa.Verify(ctx, MFAInput{AdminID: adminOneID, PendingToken: second.PendingToken, Code: code, Meta: testMeta})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidMfaCode), "same step must not be accepted twice")

	replays := h.auditDB.ofType(audit.EventMfaReplay)
	require.Len(t, replays, 1)
	assert.Equal(t, model.SeverityCritical, replays[0].Severity)

	h.clock.Advance(30 * time.Second)
	result, err = h.mfa.Verify(ctx, MFAInput{AdminID: adminOneID, PendingToken: second.PendingToken, Code: h.code(t, secret), Meta: testMeta})
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
	assert.Equal(t, 0, h.admins.get(adminOneID).MFAFailedCount, "success clears the failure count")
}

func TestMFA_VerifyLockout(t *testing.T) {
	h := newHarness(t, true)
	h.addAdmin(t, adminOneID, "ops@example.com", testPassword, model.RoleAdmin)
	secret := h.enroll(t, adminOneID)
	ctx := context.Background()

	login := loginPending(t, h, "ops@example.com")
	for i := 0; i < 5; i++ {
		_, err := h.mfa.Verify(ctx, MFAInput{
			AdminID: adminOneID, PendingToken: login.PendingToken, Code: h.wrongCode(t, secret), Meta: testMeta,
		})
		require.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidMfaCode), "attempt %d", i+1)
	}

	stored := h.admins.get(adminOneID)
	require.NotNil(t, stored.MFALockedUntil)

	_, err := h.mfa.Verify(ctx, MFAInput{
		AdminID: adminOneID, PendingToken: login.PendingToken, Code: h.code(t, secret), Meta: testMeta,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAccountLocked))

	assert.Len(t, h.auditDB.ofType(audit.EventMfaFailure), 5)
	assert.Len(t, h.auditDB.ofType(audit.EventMfaLocked), 1)
	assert.Len(t, h.auditDB.ofType(audit.EventMfaBlocked), 1)

	h.clock.Advance(15*time.Minute + time.Second)
	result, err := h.mfa.Verify(ctx, MFAInput{
		AdminID: adminOneID, PendingToken: login.PendingToken, Code: h.code(t, secret), Meta: testMeta,
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
}

func TestMFA_MalformedCodeCountsAsFailure(t *testing.T) {
	h := newHarness(t, true)
	h.addAdmin(t, adminOneID, "ops@example.com", testPassword, model.RoleAdmin)
	h.enroll(t, adminOneID)

	login := loginPending(t, h, "ops@example.com")
	_, err := h.mfa.Verify(context.Background(), MFAInput{
		AdminID: adminOneID, PendingToken: login.PendingToken, Code: "12ab", Meta: testMeta,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidMfaCode))
	assert.Equal(t, 1, h.admins.get(adminOneID).MFAFailedCount)
}

func TestMFA_BeginEnrollmentRefusesEnrolledAdmin(t *testing.T) {
	h := newHarness(t, true)
	h.addAdmin(t, adminOneID, "ops@example.com", testPassword, model.RoleAdmin)
	h.enroll(t, adminOneID)

	_, err := h.mfa.BeginEnrollment(context.Background(), adminOneID, testMeta)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}

func TestMatchTOTPStep(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "ops@example.com"})
	require.NoError(t, err)
	secret := key.Secret()
	now := time.Date(2026, 3, 2, 10, 0, 10, 0, time.UTC)
	current := now.Unix() / totpPeriod

	codeAt := func(offset int) string {
		code, err := totp.GenerateCode(secret, now.Add(time.Duration(offset)*totpPeriod*time.Second))
		require.NoError(t, err)
		return code
	}

	step, ok := matchTOTPStep(secret, codeAt(0), now, 1)
	require.True(t, ok)
	assert.Equal(t, current, step)

	step, ok = matchTOTPStep(secret, codeAt(-1), now, 1)
	require.True(t, ok)
	assert.Equal(t, current-1, step)

	step, ok = matchTOTPStep(secret, codeAt(1), now, 1)
	require.True(t, ok)
	assert.Equal(t, current+1, step)

	if codeAt(2) != codeAt(0) && codeAt(2) != codeAt(1) && codeAt(2) != codeAt(-1) {
		_, ok = matchTOTPStep(secret, codeAt(2), now, 1)
		assert.False(t, ok, "two steps ahead is outside a skew of one")
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pawpoint/admin-identity/internal/audit"
	"github.com/pawpoint/admin-identity/internal/database"
	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/repository"
	"github.com/pawpoint/admin-identity/internal/util"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	// Ten seconds into a 30s TOTP step.
	return &testClock{t: time.Date(2026, 3, 2, 10, 0, 10, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeAdminRepo keeps accounts in memory and honours the version check.
type fakeAdminRepo struct {
	mu        sync.Mutex
	accounts  map[string]*model.AdminAccount
	conflicts int
}

func newFakeAdminRepo() *fakeAdminRepo {
	return &fakeAdminRepo{accounts: map[string]*model.AdminAccount{}}
}

func (r *fakeAdminRepo) put(a *model.AdminAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.accounts[a.ID] = &c
}

func (r *fakeAdminRepo) get(id string) *model.AdminAccount {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil
	}
	c := *a
	return &c
}

func (r *fakeAdminRepo) FindByID(ctx context.Context, id string) (*model.AdminAccount, error) {
	return r.get(id), nil
}

func (r *fakeAdminRepo) FindByEmail(ctx context.Context, email string) (*model.AdminAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeAdminRepo) cas(id string, version int64, apply func(a *model.AdminAccount)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return false
	}
	if r.conflicts > 0 {
		r.conflicts--
		a.Version++
		return false
	}
	if a.Version != version {
		return false
	}
	apply(a)
	a.Version++
	return true
}

func (r *fakeAdminRepo) mutate(id string, apply func(a *model.AdminAccount)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		apply(a)
		a.Version++
	}
}

func (r *fakeAdminRepo) UpdateLoginFailures(ctx context.Context, id string, upd model.CounterUpdate) (bool, error) {
	return r.cas(id, upd.ExpectedVersion, func(a *model.AdminAccount) {
		a.FailedLoginCount = upd.Count
		a.LockedUntil = upd.LockedUntil
	}), nil
}

func (r *fakeAdminRepo) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	r.mutate(id, func(a *model.AdminAccount) {
		a.FailedLoginCount = 0
		a.LockedUntil = nil
		a.LastLoginAt = &at
	})
	return nil
}

func (r *fakeAdminRepo) UpdateMFAFailures(ctx context.Context, id string, upd model.CounterUpdate) (bool, error) {
	return r.cas(id, upd.ExpectedVersion, func(a *model.AdminAccount) {
		a.MFAFailedCount = upd.Count
		a.MFALockedUntil = upd.LockedUntil
	}), nil
}

func (r *fakeAdminRepo) ResetMFAFailures(ctx context.Context, id string) error {
	r.mutate(id, func(a *model.AdminAccount) {
		a.MFAFailedCount = 0
		a.MFALockedUntil = nil
	})
	return nil
}

func (r *fakeAdminRepo) SetPendingMFASecret(ctx context.Context, id, sealedSecret string) error {
	r.mutate(id, func(a *model.AdminAccount) {
		if !a.MFAEnrolled {
			a.MFAPendingSecret = &sealedSecret
		}
	})
	return nil
}

func (r *fakeAdminRepo) ConfirmMFAEnrollment(ctx context.Context, id, sealedSecret string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || a.MFAEnrolled || a.MFAPendingSecret == nil || *a.MFAPendingSecret != sealedSecret {
		return false, nil
	}
	a.MFASecret = a.MFAPendingSecret
	a.MFAPendingSecret = nil
	a.MFAEnrolled = true
	a.MFAFailedCount = 0
	a.MFALockedUntil = nil
	a.Version++
	return true, nil
}

func (r *fakeAdminRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	r.mutate(id, func(a *model.AdminAccount) {
		a.PasswordHash = passwordHash
		a.MustChangePassword = false
	})
	return nil
}

func (r *fakeAdminRepo) WithTx(tx *sqlx.Tx) repository.AdminAccountRepository {
	return r
}

type fakeSessionRepo struct {
	mu     sync.Mutex
	byHash map[string]*model.AdminSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byHash: map[string]*model.AdminSession{}}
}

func (r *fakeSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.AdminSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r *fakeSessionRepo) Create(ctx context.Context, params model.CreateAdminSessionParams) (*model.AdminSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[params.TokenHash]; exists {
		return nil, &pq.Error{Code: "23505"}
	}
	s := &model.AdminSession{
		ID:        params.ID,
		TokenHash: params.TokenHash,
		AdminID:   params.AdminID,
		IssuedAt:  params.IssuedAt,
		ExpiresAt: params.ExpiresAt,
		IPAddress: params.IPAddress,
		UserAgent: params.UserAgent,
	}
	r.byHash[params.TokenHash] = s
	c := *s
	return &c, nil
}

func (r *fakeSessionRepo) Revoke(ctx context.Context, tokenHash string, at time.Time) (*model.AdminSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[tokenHash]
	if !ok || s.RevokedAt != nil {
		return nil, nil
	}
	s.RevokedAt = &at
	c := *s
	return &c, nil
}

func (r *fakeSessionRepo) RevokeAllForAdmin(ctx context.Context, adminID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.byHash {
		if s.AdminID == adminID && s.RevokedAt == nil {
			s.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, s := range r.byHash {
		if s.ExpiresAt.Before(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) WithTx(tx *sqlx.Tx) repository.AdminSessionRepository {
	return r
}

// fakeAuditRepo is an in-memory audit trail with the same ordering as the
// SQL repository.
type fakeAuditRepo struct {
	mu         sync.Mutex
	events     []model.AuditEvent
	seq        int64
	failInsert bool
}

func (r *fakeAuditRepo) Insert(ctx context.Context, event *model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsert {
		return errors.New("audit store down")
	}
	for _, e := range r.events {
		if e.ID == event.ID {
			return nil
		}
	}
	r.seq++
	c := *event
	c.Seq = r.seq
	r.events = append(r.events, c)
	return nil
}

func (r *fakeAuditRepo) matching(f model.AuditFilter) []model.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditEvent
	for _, e := range r.events {
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.ActorAdminID != "" && (e.ActorAdminID == nil || *e.ActorAdminID != f.ActorAdminID) {
			continue
		}
		if f.From != nil && e.OccurredAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.OccurredAt.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

func (r *fakeAuditRepo) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, int, error) {
	all := r.matching(filter)
	start := filter.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (r *fakeAuditRepo) Export(ctx context.Context, filter model.AuditFilter, maxRows int) ([]model.AuditEvent, error) {
	all := r.matching(filter)
	if len(all) > maxRows {
		all = all[:maxRows]
	}
	return all, nil
}

func (r *fakeAuditRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	return len(r.matching(model.AuditFilter{From: &since})), nil
}

func (r *fakeAuditRepo) CountByCategorySince(ctx context.Context, since time.Time) ([]model.CountBucket, error) {
	counts := map[string]int{}
	for _, e := range r.matching(model.AuditFilter{From: &since}) {
		counts[string(e.Category)]++
	}
	return buckets(counts), nil
}

func (r *fakeAuditRepo) CountBySeveritySince(ctx context.Context, since time.Time) ([]model.CountBucket, error) {
	counts := map[string]int{}
	for _, e := range r.matching(model.AuditFilter{From: &since}) {
		counts[string(e.Severity)]++
	}
	return buckets(counts), nil
}

func (r *fakeAuditRepo) ofType(eventType string) []model.AuditEvent {
	return r.matching(model.AuditFilter{EventType: eventType})
}

func buckets(counts map[string]int) []model.CountBucket {
	out := make([]model.CountBucket, 0, len(counts))
	for k, v := range counts {
		out = append(out, model.CountBucket{Key: k, Count: v})
	}
	return out
}

type fakePendingStore struct {
	mu    sync.Mutex
	seq   int
	items map[string]model.PendingLogin
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{items: map[string]model.PendingLogin{}}
}

func (s *fakePendingStore) Create(ctx context.Context, adminID string, step model.PendingStep) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	token := fmt.Sprintf("%sfake-%d", PendingTokenPrefix, s.seq)
	s.items[token] = model.PendingLogin{AdminID: adminID, Step: step}
	return token, nil
}

func (s *fakePendingStore) Resolve(ctx context.Context, token string) (*model.PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[token]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *fakePendingStore) Consume(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[token]; !ok {
		return false, nil
	}
	delete(s.items, token)
	return true, nil
}

type fakeReplayGuard struct {
	mu   sync.Mutex
	last map[string]int64
}

func (g *fakeReplayGuard) Consume(ctx context.Context, adminID string, step int64, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		g.last = map[string]int64{}
	}
	if last, ok := g.last[adminID]; ok && step <= last {
		return false, nil
	}
	g.last[adminID] = step
	return true, nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

const testEncryptionKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

// Admin ids are UUIDs, as in admin_accounts.
const (
	adminOneID   = "0b8f3c1e-5a7d-4f2b-9c61-3e2d8a9b7f10"
	adminTwoID   = "1c9a4d2f-6b8e-4a3c-8d72-4f3e9bac8021"
	adminAID     = "2dab5e30-7c9f-4b4d-9e83-50a4acbd9132"
	adminBID     = "3ebc6f41-8da0-4c5e-af94-61b5bdcea243"
	superAdminID = "4fcd7052-9eb1-4d6f-b0a5-72c6cedfb354"
	analystID    = "50de8163-afc2-4e70-81b6-83d7dfe0c465"
	supportRepID = "61ef9274-b0d3-4f81-92c7-94e8e0f1d576"
)

// harness wires every service over in-memory stores.
type harness struct {
	clock     *testClock
	admins    *fakeAdminRepo
	sessionDB *fakeSessionRepo
	auditDB   *fakeAuditRepo
	pending   *fakePendingStore
	box       *util.SecretBox
	recorder  *audit.Recorder
	sessions  *SessionService
	mfa       *MFAService
	creds     *CredentialService
	audits    *AuditService
}

func newHarness(t *testing.T, mfaRequired bool) *harness {
	t.Helper()

	h := &harness{
		clock:     newTestClock(),
		admins:    newFakeAdminRepo(),
		sessionDB: newFakeSessionRepo(),
		auditDB:   &fakeAuditRepo{},
		pending:   newFakePendingStore(),
	}

	box, err := util.NewSecretBox(testEncryptionKey)
	require.NoError(t, err)
	h.box = box

	h.recorder = audit.NewRecorder(h.auditDB, nil).WithClock(h.clock.Now)
	h.sessions = NewSessionService(h.sessionDB, h.admins, h.recorder, "session-secret", 12*time.Hour).
		WithClock(h.clock.Now)
	h.mfa = NewMFAService(h.admins, h.sessions, h.pending, &fakeReplayGuard{}, h.recorder, box, MFAPolicy{
		Issuer:            "PawPoint Admin",
		Skew:              1,
		MaxFailedAttempts: 5,
		LockoutWindow:     15 * time.Minute,
	}).WithClock(h.clock.Now)

	creds, err := NewCredentialService(h.admins, h.sessionDB, fakeTxRunner{}, h.sessions, h.mfa, h.pending, h.recorder,
		CredentialPolicy{
			MFARequired:       mfaRequired,
			MaxFailedAttempts: 5,
			LockoutWindow:     15 * time.Minute,
			BcryptCost:        bcrypt.MinCost,
		})
	require.NoError(t, err)
	h.creds = creds.WithClock(h.clock.Now)
	h.audits = NewAuditService(h.auditDB, h.recorder).WithClock(h.clock.Now)

	t.Cleanup(h.recorder.Wait)
	return h
}

func (h *harness) addAdmin(t *testing.T, id, email, password string, role model.Role) *model.AdminAccount {
	t.Helper()
	hash, err := util.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	account := &model.AdminAccount{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    h.clock.Now(),
		UpdatedAt:    h.clock.Now(),
	}
	h.admins.put(account)
	return account
}

// enroll gives the admin a confirmed TOTP secret and returns it.
func (h *harness) enroll(t *testing.T, id string) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: id})
	require.NoError(t, err)
	sealed, err := h.box.Seal(key.Secret())
	require.NoError(t, err)
	h.admins.mutate(id, func(a *model.AdminAccount) {
		a.MFASecret = &sealed
		a.MFAEnrolled = true
	})
	return key.Secret()
}

func (h *harness) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, h.clock.Now())
	require.NoError(t, err)
	return code
}

// wrongCode returns a code that is not valid anywhere near the current time.
func (h *harness) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	valid := map[string]bool{}
	for offset := -3; offset <= 3; offset++ {
		code, err := totp.GenerateCode(secret, h.clock.Now().Add(time.Duration(offset)*30*time.Second))
		require.NoError(t, err)
		valid[code] = true
	}
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%06d", i)
		if !valid[candidate] {
			return candidate
		}
	}
}

var testMeta = RequestMeta{IP: "203.0.113.7", UserAgent: "test-agent"}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pawpoint/admin-identity/internal/model"
)

type AdminAccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.AdminAccount, error)
	FindByEmail(ctx context.Context, email string) (*model.AdminAccount, error)
	// UpdateLoginFailures applies upd only if the row version still matches.
	// It reports false on a version conflict.
	UpdateLoginFailures(ctx context.Context, id string, upd model.CounterUpdate) (bool, error)
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
	UpdateMFAFailures(ctx context.Context, id string, upd model.CounterUpdate) (bool, error)
	ResetMFAFailures(ctx context.Context, id string) error
	SetPendingMFASecret(ctx context.Context, id, sealedSecret string) error
	// ConfirmMFAEnrollment promotes the pending secret to the confirmed one,
	// provided the pending secret is still sealedSecret.
	ConfirmMFAEnrollment(ctx context.Context, id, sealedSecret string) (bool, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AdminAccountRepository
}

type adminAccountRepo struct {
	db sqlxDB
}

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func NewAdminAccountRepository(db *sqlx.DB) AdminAccountRepository {
	return &adminAccountRepo{db: db}
}

func (r *adminAccountRepo) WithTx(tx *sqlx.Tx) AdminAccountRepository {
	return &adminAccountRepo{db: tx}
}

func (r *adminAccountRepo) FindByID(ctx context.Context, id string) (*model.AdminAccount, error) {
	var account model.AdminAccount
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM admin_accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

func (r *adminAccountRepo) FindByEmail(ctx context.Context, email string) (*model.AdminAccount, error) {
	var account model.AdminAccount
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM admin_accounts WHERE lower(email) = lower($1)
	`, email)
	return HandleNotFound(&account, err)
}

func (r *adminAccountRepo) UpdateLoginFailures(ctx context.Context, id string, upd model.CounterUpdate) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE admin_accounts
		SET failed_login_count = $3, locked_until = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, id, upd.ExpectedVersion, upd.Count, upd.LockedUntil)
	return affectedOne(result, err)
}

func (r *adminAccountRepo) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE admin_accounts
		SET failed_login_count = 0, locked_until = NULL, last_login_at = $2,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, id, at)
	return err
}

func (r *adminAccountRepo) UpdateMFAFailures(ctx context.Context, id string, upd model.CounterUpdate) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE admin_accounts
		SET mfa_failed_count = $3, mfa_locked_until = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, id, upd.ExpectedVersion, upd.Count, upd.LockedUntil)
	return affectedOne(result, err)
}

func (r *adminAccountRepo) ResetMFAFailures(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE admin_accounts
		SET mfa_failed_count = 0, mfa_locked_until = NULL, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (r *adminAccountRepo) SetPendingMFASecret(ctx context.Context, id, sealedSecret string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE admin_accounts
		SET mfa_pending_secret = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND mfa_enrolled = FALSE
	`, id, sealedSecret)
	return err
}

func (r *adminAccountRepo) ConfirmMFAEnrollment(ctx context.Context, id, sealedSecret string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE admin_accounts
		SET mfa_secret = mfa_pending_secret, mfa_pending_secret = NULL, mfa_enrolled = TRUE,
		    mfa_failed_count = 0, mfa_locked_until = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND mfa_enrolled = FALSE AND mfa_pending_secret = $2
	`, id, sealedSecret)
	return affectedOne(result, err)
}

func (r *adminAccountRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE admin_accounts
		SET password_hash = $2, must_change_password = FALSE, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, id, passwordHash)
	return err
}

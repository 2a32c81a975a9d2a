package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pawpoint/admin-identity/internal/model"
)

type AdminSessionRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.AdminSession, error)
	Create(ctx context.Context, params model.CreateAdminSessionParams) (*model.AdminSession, error)
	// Revoke marks an active session revoked and returns it; nil when the
	// token is unknown or already revoked.
	Revoke(ctx context.Context, tokenHash string, at time.Time) (*model.AdminSession, error)
	RevokeAllForAdmin(ctx context.Context, adminID string, at time.Time) (int64, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) AdminSessionRepository
}

type adminSessionRepo struct {
	db sqlxDB
}

func NewAdminSessionRepository(db *sqlx.DB) AdminSessionRepository {
	return &adminSessionRepo{db: db}
}

func (r *adminSessionRepo) WithTx(tx *sqlx.Tx) AdminSessionRepository {
	return &adminSessionRepo{db: tx}
}

func (r *adminSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.AdminSession, error) {
	var session model.AdminSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM admin_sessions WHERE token_hash = $1
	`, tokenHash)
	return HandleNotFound(&session, err)
}

func (r *adminSessionRepo) Create(ctx context.Context, params model.CreateAdminSessionParams) (*model.AdminSession, error) {
	var session model.AdminSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO admin_sessions (id, token_hash, admin_id, issued_at, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.ID, params.TokenHash, params.AdminID, params.IssuedAt, params.ExpiresAt,
		params.IPAddress, params.UserAgent)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *adminSessionRepo) Revoke(ctx context.Context, tokenHash string, at time.Time) (*model.AdminSession, error) {
	var session model.AdminSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE admin_sessions SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL
		RETURNING *
	`, tokenHash, at)
	return HandleNotFound(&session, err)
}

func (r *adminSessionRepo) RevokeAllForAdmin(ctx context.Context, adminID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE admin_sessions SET revoked_at = $2
		WHERE admin_id = $1 AND revoked_at IS NULL AND expires_at > $2
	`, adminID, at)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *adminSessionRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM admin_sessions
		WHERE expires_at < $1 OR revoked_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

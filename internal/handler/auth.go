package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pawpoint/admin-identity/internal/authz"
	apperrors "github.com/pawpoint/admin-identity/internal/errors"
	"github.com/pawpoint/admin-identity/internal/middleware"
	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/service"
)

type CredentialVerifier interface {
	Login(ctx context.Context, in service.LoginInput) (*model.LoginResult, error)
	ChangePassword(ctx context.Context, in service.ChangePasswordInput) (int64, error)
}

type MFAVerifier interface {
	CompleteEnrollment(ctx context.Context, in service.MFAInput) (*model.LoginResult, error)
	Verify(ctx context.Context, in service.MFAInput) (*model.LoginResult, error)
}

type SessionManager interface {
	Validate(ctx context.Context, token string) (*model.PublicAdmin, error)
	Revoke(ctx context.Context, token string, meta service.RequestMeta) error
}

type AuthHandler struct {
	creds          CredentialVerifier
	mfa            MFAVerifier
	sessions       SessionManager
	recorder       middleware.EventRecorder
	authMiddleware func(http.Handler) http.Handler
	loginLimit     func(http.Handler) http.Handler
	mfaLimit       func(http.Handler) http.Handler
}

// NewAuthHandler wires the login endpoints. The limit middlewares may be
// nil.
func NewAuthHandler(
	creds CredentialVerifier,
	mfa MFAVerifier,
	sessions SessionManager,
	recorder middleware.EventRecorder,
	authMiddleware func(http.Handler) http.Handler,
	loginLimit, mfaLimit func(http.Handler) http.Handler,
) *AuthHandler {
	return &AuthHandler{
		creds:          creds,
		mfa:            mfa,
		sessions:       sessions,
		recorder:       recorder,
		authMiddleware: authMiddleware,
		loginLimit:     orPassthrough(loginLimit),
		mfaLimit:       orPassthrough(mfaLimit),
	}
}

func orPassthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.loginLimit).Post("/login", h.Login)
	r.With(h.mfaLimit).Post("/mfa", h.MFA)
	r.Post("/logout", h.Logout)
	r.Post("/validate", h.Validate)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.With(middleware.RequireCapability(authz.CapPasswordChangeOwn)).Post("/password", h.ChangePassword)
	})

	return r
}

type loginResponse struct {
	RequiresMfa            bool                `json:"requiresMfa"`
	RequiresMfaSetup       bool                `json:"requiresMfaSetup"`
	RequiresPasswordChange bool                `json:"requiresPasswordChange"`
	Admin                  *model.PublicAdmin  `json:"admin"`
	SessionToken           string              `json:"sessionToken,omitempty"`
	ExpiresAt              *time.Time          `json:"expiresAt,omitempty"`
	PendingToken           string              `json:"pendingToken,omitempty"`
	MfaSetupData           *model.MfaSetupData `json:"mfaSetupData,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	result, err := h.creds.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Meta:     requestMeta(r),
	})
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	resp := loginResponse{
		RequiresMfa:            result.Step != model.StepFullyAuthenticated,
		RequiresMfaSetup:       result.Step == model.StepRequiresMfaSetup,
		RequiresPasswordChange: result.RequiresPasswordChange(),
		Admin:                  result.Admin,
		PendingToken:           result.PendingToken,
		MfaSetupData:           result.MfaSetup,
	}
	if result.Session != nil {
		resp.SessionToken = result.Session.Token
		resp.ExpiresAt = &result.Session.ExpiresAt
	}

	writeJSON(w, http.StatusOK, resp)
}

type sessionResponse struct {
	Admin                  *model.PublicAdmin `json:"admin"`
	SessionToken           string             `json:"sessionToken"`
	ExpiresAt              time.Time          `json:"expiresAt"`
	RequiresPasswordChange bool               `json:"requiresPasswordChange"`
}

func (h *AuthHandler) MFA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminID      string `json:"adminId"`
		Code         string `json:"code"`
		IsSetup      bool   `json:"isSetup"`
		PendingToken string `json:"pendingToken"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.recorder, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, r, h.recorder, apperrors.MissingRequired("code"))
		return
	}
	if req.PendingToken == "" {
		writeError(w, r, h.recorder, apperrors.MissingRequired("pendingToken"))
		return
	}

	in := service.MFAInput{
		AdminID:      req.AdminID,
		PendingToken: req.PendingToken,
		Code:         req.Code,
		Meta:         requestMeta(r),
	}

	var (
		result *model.LoginResult
		err    error
	)
	if req.IsSetup {
		result, err = h.mfa.CompleteEnrollment(r.Context(), in)
	} else {
		result, err = h.mfa.Verify(r.Context(), in)
	}
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Admin:                  result.Admin,
		SessionToken:           result.Session.Token,
		ExpiresAt:              result.Session.ExpiresAt,
		RequiresPasswordChange: result.RequiresPasswordChange(),
	})
}

// tokenFromRequest prefers the body token and falls back to the bearer
// header.
func tokenFromRequest(r *http.Request) (string, error) {
	var req struct {
		SessionToken string `json:"sessionToken"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return "", apperrors.ValidationError("invalid request body")
		}
	}
	if req.SessionToken != "" {
		return req.SessionToken, nil
	}
	return middleware.BearerToken(r), nil
}

// Logout is idempotent: unknown, expired and revoked tokens all succeed.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := tokenFromRequest(r)
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	if token != "" {
		admin, err := h.sessions.Validate(r.Context(), token)
		switch {
		case err == nil:
			if err := authz.Authorize(admin, authz.CapSessionRevokeOwn); err != nil {
				writeError(w, r, h.recorder, err)
				return
			}
		case !apperrors.IsAuthFailure(err):
			writeError(w, r, h.recorder, err)
			return
		}

		if err := h.sessions.Revoke(r.Context(), token, requestMeta(r)); err != nil {
			writeError(w, r, h.recorder, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	token, err := tokenFromRequest(r)
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	admin, err := h.sessions.Validate(r.Context(), token)
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"admin": admin})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.recorder, err)
		return
	}
	if req.CurrentPassword == "" {
		writeError(w, r, h.recorder, apperrors.MissingRequired("currentPassword"))
		return
	}

	admin := middleware.GetAdmin(r.Context())
	revoked, err := h.creds.ChangePassword(r.Context(), service.ChangePasswordInput{
		AdminID:         admin.ID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		Meta:            requestMeta(r),
	})
	if err != nil {
		writeError(w, r, h.recorder, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"sessionsRevoked": revoked,
	})
}

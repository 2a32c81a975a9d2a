package httputil

import (
	"encoding/json"
	"net"
	"net/http"

	apperrors "github.com/pawpoint/admin-identity/internal/errors"
)

// Codes sent to clients in place of the specific failure.
const (
	publicCodeUnauthorized = "UNAUTHORIZED"
	publicCodeForbidden    = "FORBIDDEN"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes an error as an HTTP response. Authentication and
// authorization failures collapse to one generic body per status so the
// response never says which check failed.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	status := StatusFromCode(appErr.Code)
	response := ErrorResponse{
		Error:   appErr.Message,
		Code:    string(appErr.Code),
		Details: appErr.Details,
	}

	switch status {
	case http.StatusUnauthorized:
		response = ErrorResponse{Error: "Authentication failed", Code: publicCodeUnauthorized}
	case http.StatusForbidden:
		response = ErrorResponse{Error: "Forbidden", Code: publicCodeForbidden}
	case http.StatusInternalServerError:
		response = ErrorResponse{Error: "An unexpected error occurred", Code: string(apperrors.ErrCodeInternal)}
	}

	WriteJSON(w, status, response)
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired:
		return http.StatusBadRequest

	// 401 Unauthorized
	case apperrors.ErrCodeInvalidCredentials,
		apperrors.ErrCodeAccountLocked,
		apperrors.ErrCodeInvalidMfaCode,
		apperrors.ErrCodeMfaSetupRequired,
		apperrors.ErrCodeSessionInvalid:
		return http.StatusUnauthorized

	// 403 Forbidden
	case apperrors.ErrCodeInsufficientPermissions:
		return http.StatusForbidden

	// 429 Too Many Requests
	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 500 Internal Server Error
	case apperrors.ErrCodeInternal,
		apperrors.ErrCodeStoreUnavailable:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}

// ClientIP returns the client address without its port. RealIP middleware
// has already replaced RemoteAddr when a trusted proxy header was present.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

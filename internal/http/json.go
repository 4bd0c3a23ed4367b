package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/target/rolefusion/internal/errors"
)

const maxBodyBytes = 1 << 20

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is required")
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	body := errorBody{Error: p.ErrCode, Message: http.StatusText(p.Code)}
	if p.Err != nil {
		body.Message = p.Err.Error()
	}
	WriteJSON(w, p.Code, body)
}

// WriteServiceError maps an auth service error to its HTTP status and a stable
// machine-readable code. Internal failures never expose their cause.
func WriteServiceError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		WriteJSON(w, http.StatusInternalServerError, errorBody{
			Error:   "internal_error",
			Message: "internal server error",
		})
		return
	}

	status, code := statusFor(appErr)
	body := errorBody{Error: code, Message: appErr.Message, Field: appErr.Field}
	if status == http.StatusInternalServerError {
		body.Message = "internal server error"
	}
	WriteJSON(w, status, body)
}

func statusFor(e *apperrors.AppError) (int, string) {
	switch e.Code {
	case apperrors.ErrCodeAuthentication:
		return http.StatusUnauthorized, "invalid_credentials"
	case apperrors.ErrCodeAuthorization:
		if e.Reason == apperrors.ReasonNotAuthenticated {
			return http.StatusUnauthorized, "authentication_required"
		}
		if e.Reason != "" {
			return http.StatusForbidden, e.Reason
		}
		return http.StatusForbidden, "insufficient_permissions"
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests, "rate_limited"
	case apperrors.ErrCodeSessionExpired:
		return http.StatusUnauthorized, "session_expired"
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, "validation_error"
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound, "not_found"
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout, "timeout"
	case apperrors.ErrCodePersistence:
		return http.StatusInternalServerError, "persistence_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// setRetryAfter sets Retry-After to the whole seconds until at, rounded up.
func setRetryAfter(w http.ResponseWriter, at, now time.Time) {
	if at.IsZero() || !at.After(now) {
		return
	}
	secs := int64((at.Sub(now) + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}

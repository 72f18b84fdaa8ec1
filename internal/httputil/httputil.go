// Package httputil provides common HTTP request/response helpers shared by
// the control plane's handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sentineltrust/controlplane/internal/apperrors"
	"github.com/sentineltrust/controlplane/internal/logging"
)

// ErrorResponse is the standard JSON error envelope returned by every
// endpoint.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as a standard JSON error envelope, deriving the HTTP
// status and code from its apperrors.Kind when possible.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	code := "internal"
	var details map[string]interface{}
	if appErr := apperrors.As(err); appErr != nil {
		code = string(appErr.Kind)
		details = appErr.Details
	}

	traceID := ""
	if r != nil {
		traceID = logging.TraceID(r.Context())
	}

	WriteJSON(w, status, ErrorResponse{
		Code:    code,
		Message: errMessage(err),
		Details: details,
		TraceID: traceID,
	})
}

func errMessage(err error) string {
	if appErr := apperrors.As(err); appErr != nil {
		return appErr.Message
	}
	return err.Error()
}

// DecodeJSON decodes the request body into v, writing a validation error
// response and returning false on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, r, apperrors.New(apperrors.KindValidation, "request body too large", http.StatusRequestEntityTooLarge).
				WithDetails("limit_bytes", maxErr.Limit))
			return false
		}
		WriteError(w, r, apperrors.Wrap(apperrors.KindValidation, "invalid request body", http.StatusBadRequest, err))
		return false
	}
	return true
}

// DecodeJSONOptional is like DecodeJSON but treats an empty body as success.
func DecodeJSONOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		WriteError(w, r, apperrors.Wrap(apperrors.KindValidation, "invalid request body", http.StatusBadRequest, err))
		return false
	}
	return true
}

// QueryInt extracts an integer query parameter, falling back to def.
func QueryInt(r *http.Request, key string, def int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return def
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return def
}

// QueryString extracts a string query parameter, falling back to def.
func QueryString(r *http.Request, key, def string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return def
}

// PaginationParams extracts offset/limit query parameters, clamping limit to
// [1, maxLimit].
func PaginationParams(r *http.Request, defaultLimit, maxLimit int) (offset, limit int) {
	offset = QueryInt(r, "offset", 0)
	limit = QueryInt(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

// ClientIP returns the request's best-effort client address, preferring
// X-Forwarded-For when present.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

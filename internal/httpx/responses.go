package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"lendingapi/internal/apperr"
)

type SuccessResponse struct {
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Payload    any    `json:"payload,omitempty"`
	Meta       any    `json:"meta,omitempty"`
}

type ErrorResponse struct {
	StatusCode int           `json:"statusCode"`
	Success    bool          `json:"success"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Details    []ErrorDetail `json:"details,omitempty"`
	Meta       any           `json:"meta,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeRouteNotFound    = "ROUTE_NOT_FOUND"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
)

func buildMeta(r *http.Request, customMeta map[string]any) map[string]any {
	requestID := RequestIDFrom(r)
	if requestID == "" && len(customMeta) == 0 {
		return nil
	}
	meta := make(map[string]any, len(customMeta)+1)
	for k, v := range customMeta {
		meta[k] = v
	}
	if requestID != "" {
		meta["requestId"] = requestID
	}
	return meta
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// JSON writes a success envelope with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, message string, payload any, meta map[string]any) {
	writeJSON(w, status, SuccessResponse{
		StatusCode: status,
		Success:    true,
		Message:    message,
		Payload:    payload,
		Meta:       buildMeta(r, meta),
	})
}

func JSONSuccess(w http.ResponseWriter, r *http.Request, message string, payload any, meta map[string]any) {
	JSON(w, r, http.StatusOK, message, payload, meta)
}

func JSONCreated(w http.ResponseWriter, r *http.Request, message string, payload any) {
	JSON(w, r, http.StatusCreated, message, payload, nil)
}

func JSONNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func JSONError(w http.ResponseWriter, r *http.Request, status int, code, message string, details []ErrorDetail) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Success:    false,
		Code:       code,
		Message:    message,
		Details:    details,
		Meta:       buildMeta(r, nil),
	})
}

// WriteError maps a classified error to its status code and envelope. Unclassified
// and infrastructure errors are logged; their causes never reach the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()

	var details []ErrorDetail
	var ve ValidationErrors
	switch {
	case errors.As(err, &ve):
		details = ve.Details()
		kind, status = apperr.KindValidation, http.StatusBadRequest
	case apperr.FieldOf(err) != "":
		details = []ErrorDetail{{Field: apperr.FieldOf(err), Message: apperr.MessageOf(err)}}
	}

	if kind.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	switch kind {
	case apperr.KindInfrastructure:
		Logger(r).Warn("request failed on infrastructure", "error", err, "path", r.URL.Path, "request_id", RequestIDFrom(r))
	case apperr.KindInternal:
		Logger(r).Error("request failed", "error", err, "path", r.URL.Path, "request_id", RequestIDFrom(r))
	}

	message := apperr.MessageOf(err)
	if len(ve) > 0 {
		message = "request validation failed"
	}
	JSONError(w, r, status, string(kind), message, details)
}

// DecodeJSON reads a single JSON object from the request body into dst. Unknown
// fields are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return apperr.Validation("content type must be application/json")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("request body too large")
		}
		if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return apperr.FieldValidation(strings.Trim(field, `"`), "unknown field %s", field)
		}
		return apperr.Validation("malformed JSON body")
	}
	if dec.More() {
		return apperr.Validation("request body must contain a single JSON object")
	}
	return nil
}

type loggerKey struct{}

// Logger returns the request-scoped logger installed by AccessLog, or the default.
func Logger(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

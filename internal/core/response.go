package core

import (
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net/http"
	"strconv"

	"safetyalert/internal/types"
)

const maxRequestBodySize = 1 << 20 // 1 MB

const genericErrorMessage = "An unexpected error occurred"

// ErrorResponse is the body of every non-2xx relay response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	// CooldownRemaining is set on duplicate-send rejections, in milliseconds.
	CooldownRemaining *int64         `json:"cooldownRemaining,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
	RequestID         string         `json:"request_id,omitempty"`
}

// JSON writes data with the given status. A marshal failure degrades to a
// generic 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorResponse{
			Error:     "failed to marshal response",
			Code:      string(types.ErrCodeInternalUnexpected),
			RequestID: types.GetRequestID(r.Context()),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an ErrorResponse. An AppError supplies the status,
// message and details; the cooldown detail is lifted into CooldownRemaining.
// Any other error becomes a 500 whose text is never sent to the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		JSON(w, r, http.StatusInternalServerError, ErrorResponse{
			Error:     genericErrorMessage,
			Code:      string(types.ErrCodeInternalUnexpected),
			RequestID: requestID,
		})
		return
	}

	resp := ErrorResponse{
		Error:     appErr.Message,
		Code:      string(appErr.Code),
		RequestID: requestID,
	}
	if len(appErr.Details) > 0 {
		details := maps.Clone(appErr.Details)
		if ms, ok := cooldownMillis(details[types.DetailCooldownRemaining]); ok {
			resp.CooldownRemaining = &ms
			delete(details, types.DetailCooldownRemaining)
		}
		if len(details) > 0 {
			resp.Details = details
		}
	}
	if resp.CooldownRemaining != nil {
		secs := (*resp.CooldownRemaining + 999) / 1000
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	JSON(w, r, appErr.HTTPStatus(), resp)
}

func cooldownMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// DecodeJSON reads a single JSON object from the body into dst. Bodies over
// 1 MB, empty bodies and malformed JSON are validation_invalid_json errors.
// Unknown fields are ignored: mobile and web clients attach extra alert
// document fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

const errCodeValidationInvalidJSON types.ErrorCode = "validation_invalid_json"

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must not exceed 1MB", err)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return types.NewAppError(errCodeValidationInvalidJSON, "malformed JSON in request body", err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return types.NewAppErrorWithDetails(errCodeValidationInvalidJSON, "invalid value for field", err,
			map[string]any{
				"field":    typeErr.Field,
				"expected": typeErr.Type.String(),
			})
	}

	if errors.Is(err, io.EOF) {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must not be empty", err)
	}

	return types.NewAppError(errCodeValidationInvalidJSON, "invalid JSON in request body", err)
}

package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"safetyalert/internal/types"
)

func TestJSON_WritesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, map[string]any{"success": true})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if rec.Body.String() != `{"success":true}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestError_AppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	Error(rec, req, types.NewAppError(types.ErrCodeNotFoundRecipients, "No recipients found for service type", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Success || resp.Error != "No recipients found for service type" || resp.Code != "not_found_recipients" || resp.RequestID != "req-1" {
		t.Errorf("unexpected body %+v", resp)
	}
	if resp.CooldownRemaining != nil {
		t.Error("cooldownRemaining must be omitted")
	}
	if strings.Contains(rec.Body.String(), "cooldownRemaining") {
		t.Error("cooldownRemaining key must not be serialized")
	}
}

func TestError_DuplicateCarriesCooldown(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewAppErrorWithDetails(types.ErrCodeDuplicateSend, "Duplicate email prevented", nil,
		map[string]any{types.DetailCooldownRemaining: int64(12500)})

	Error(rec, httptest.NewRequest(http.MethodPost, "/", nil), err)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.CooldownRemaining == nil || *resp.CooldownRemaining != 12500 {
		t.Errorf("expected cooldownRemaining 12500, got %v", resp.CooldownRemaining)
	}
	if resp.Details != nil {
		t.Errorf("cooldown must not be repeated in details: %v", resp.Details)
	}
	if got := rec.Header().Get("Retry-After"); got != "13" {
		t.Errorf("Retry-After = %q, want 13", got)
	}
}

func TestError_GenericErrorHidesText(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodPost, "/", nil), errors.New("dial tcp 10.0.0.5:587: refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Error("internal error text leaked")
	}
	if resp := decodeError(t, rec); resp.Error != genericErrorMessage {
		t.Errorf("unexpected message %q", resp.Error)
	}
}

type decodeTarget struct {
	ServiceType string `json:"serviceType"`
	AlertID     string `json:"alertId"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"serviceType":"fire","alertId":"a1"}`},
		{name: "unknown fields ignored", body: `{"serviceType":"fire","status":"active"}`},
		{name: "empty", body: ``, wantErr: "must not be empty"},
		{name: "syntax", body: `{"serviceType":`, wantErr: "JSON"},
		{name: "wrong type", body: `{"serviceType":5}`, wantErr: "invalid value"},
		{name: "two values", body: `{"serviceType":"a"}{"serviceType":"b"}`, wantErr: "single JSON object"},
		{name: "too large", body: `{"serviceType":"` + strings.Repeat("x", maxRequestBodySize) + `"}`, wantErr: "1MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst decodeTarget
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %v", err)
			}
			if appErr.Code != errCodeValidationInvalidJSON {
				t.Errorf("unexpected code %q", appErr.Code)
			}
			if appErr.HTTPStatus() != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", appErr.HTTPStatus())
			}
			if !strings.Contains(appErr.Message, tt.wantErr) {
				t.Errorf("message %q does not contain %q", appErr.Message, tt.wantErr)
			}
		})
	}
}

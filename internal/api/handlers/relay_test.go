package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetyalert/internal/core"
	"safetyalert/internal/notifications/email"
	"safetyalert/internal/notifications/fanout"
	"safetyalert/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockRelayService struct {
	notifyFn            func(ctx context.Context, category string, payload *types.AlertPayload, eventID string) (*types.BatchResult, error)
	notifyWithContentFn func(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error)
	notifyRecipientsFn  func(ctx context.Context, emails []string, category string, payload *types.AlertPayload) (*types.BatchResult, error)
	confirmationFn      func(ctx context.Context, to string, payload *types.AlertPayload) (string, error)
	directFn            func(ctx context.Context, serviceType, to string, content *email.RenderedEmail, correlationID string) (string, error)
	replyFn             func(ctx context.Context, reply *types.ReplyPayload) (*fanout.ReplyResult, error)
}

func (m *mockRelayService) Notify(ctx context.Context, category string, payload *types.AlertPayload, eventID string) (*types.BatchResult, error) {
	if m.notifyFn != nil {
		return m.notifyFn(ctx, category, payload, eventID)
	}
	return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected call", nil)
}

func (m *mockRelayService) NotifyWithContent(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error) {
	if m.notifyWithContentFn != nil {
		return m.notifyWithContentFn(ctx, category, eventID, content, correlationID)
	}
	return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected call", nil)
}

func (m *mockRelayService) NotifyRecipients(ctx context.Context, emails []string, category string, payload *types.AlertPayload) (*types.BatchResult, error) {
	if m.notifyRecipientsFn != nil {
		return m.notifyRecipientsFn(ctx, emails, category, payload)
	}
	return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected call", nil)
}

func (m *mockRelayService) SendConfirmation(ctx context.Context, to string, payload *types.AlertPayload) (string, error) {
	if m.confirmationFn != nil {
		return m.confirmationFn(ctx, to, payload)
	}
	return "", types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected call", nil)
}

func (m *mockRelayService) SendDirect(ctx context.Context, serviceType, to string, content *email.RenderedEmail, correlationID string) (string, error) {
	if m.directFn != nil {
		return m.directFn(ctx, serviceType, to, content, correlationID)
	}
	return "", types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected call", nil)
}

func (m *mockRelayService) SendReplyNotification(ctx context.Context, reply *types.ReplyPayload) (*fanout.ReplyResult, error) {
	if m.replyFn != nil {
		return m.replyFn(ctx, reply)
	}
	return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected call", nil)
}

// =============================================================================
// Helpers
// =============================================================================

func newRelayRouter(svc RelayService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRelayHandler(svc, core.NewValidator(logger), logger)
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return r
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func okBatch(eventID, category string, outcomes ...types.SendOutcome) *types.BatchResult {
	b := &types.BatchResult{EventID: eventID, Category: category, Results: outcomes, TotalCount: len(outcomes)}
	for _, o := range outcomes {
		if o.Success {
			b.SuccessCount++
		}
	}
	return b
}

// =============================================================================
// POST /api/send-alert-email
// =============================================================================

func TestSendAlertEmail_FanOutWithContent(t *testing.T) {
	var gotCategory, gotEventID, gotCorr string
	var gotContent *email.RenderedEmail
	svc := &mockRelayService{
		notifyWithContentFn: func(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error) {
			gotCategory, gotEventID, gotCorr, gotContent = category, eventID, correlationID, content
			return okBatch(eventID, category,
				types.SendOutcome{Recipient: "er@hospital.example", Success: true, MessageID: "m-1"},
				types.SendOutcome{Recipient: "desk@hospital.example", Reason: "send_failed"},
			), nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email",
		`{"serviceType":"Hospital","subject":"Alert","html":"<p>help</p>","alertId":"a-9"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hospital", gotCategory)
	assert.True(t, strings.HasPrefix(gotEventID, eventPrefixAlertEmail))
	assert.Greater(t, len(gotEventID), len(eventPrefixAlertEmail))
	assert.Equal(t, "a-9", gotCorr)
	assert.Equal(t, "Alert", gotContent.Subject)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "m-1", body["messageId"])
	assert.EqualValues(t, 1, body["successCount"])
	assert.EqualValues(t, 2, body["totalCount"])
	assert.Len(t, body["results"], 2)
	assert.Equal(t, "Email sent to 1/2 recipients", body["message"])
}

func TestSendAlertEmail_AllFailedStillReportsOutcomes(t *testing.T) {
	svc := &mockRelayService{
		notifyWithContentFn: func(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error) {
			return okBatch(eventID, category,
				types.SendOutcome{Recipient: "a@x.org", Reason: "timeout"},
				types.SendOutcome{Recipient: "b@x.org", Reason: "send_failed"},
			), nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email",
		`{"serviceType":"fire","subject":"s","html":"x"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.EqualValues(t, 0, body["successCount"])
	assert.EqualValues(t, 2, body["totalCount"])
	assert.Equal(t, "Email sent to 0/2 recipients", body["message"])
	assert.Len(t, body["results"], 2)
}

func TestSendAlertEmail_RequestIDBecomesEventID(t *testing.T) {
	var gotEventID string
	svc := &mockRelayService{
		notifyWithContentFn: func(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error) {
			gotEventID = eventID
			return okBatch(eventID, category, types.SendOutcome{Recipient: "a@x.org", Success: true}), nil
		},
	}
	handler := core.RequestIDMiddleware(newRelayRouter(svc))

	req := httptest.NewRequest(http.MethodPost, "/api/send-alert-email",
		strings.NewReader(`{"serviceType":"fire","subject":"s","html":"<b>x</b>"}`))
	req.Header.Set("X-Request-Id", "client-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "send-alert-email:client-42", gotEventID)
}

func TestSendAlertEmail_RendersFromAlertData(t *testing.T) {
	var gotPayload *types.AlertPayload
	svc := &mockRelayService{
		notifyFn: func(ctx context.Context, category string, payload *types.AlertPayload, eventID string) (*types.BatchResult, error) {
			gotPayload = payload
			return okBatch(eventID, category, types.SendOutcome{Recipient: "a@x.org", Success: true, MessageID: "m"}), nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email",
		`{"serviceType":"police","alertId":"a-1","alertData":{"userName":"Ann","location":"Main St","message":"help"}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, gotPayload)
	assert.Equal(t, "Ann", gotPayload.UserName)
	assert.Equal(t, "a-1", gotPayload.AlertID)
}

func TestSendAlertEmail_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		batch      *types.BatchResult
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{
			name:       "missing service type",
			body:       `{"subject":"s","html":"<b>x</b>"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationMissingField,
		},
		{
			name:       "no content",
			body:       `{"serviceType":"fire"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationMissingField,
		},
		{
			name:       "html without subject",
			body:       `{"serviceType":"fire","html":"<b>x</b>"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationMissingField,
		},
		{
			name:       "bad recipient",
			body:       `{"serviceType":"fire","subject":"s","html":"x","recipientEmail":"nope"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationInvalidEmail,
		},
		{
			name:       "no recipients",
			body:       `{"serviceType":"coastguard","subject":"s","html":"x"}`,
			batch:      &types.BatchResult{NoRecipients: true, Results: []types.SendOutcome{}},
			wantStatus: http.StatusNotFound,
			wantCode:   types.ErrCodeNotFoundRecipients,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockRelayService{
				notifyWithContentFn: func(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error) {
					return tt.batch, nil
				},
			}
			rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, string(tt.wantCode), body["code"])
		})
	}
}

func TestSendAlertEmail_AllDuplicatesIs429(t *testing.T) {
	svc := &mockRelayService{
		notifyWithContentFn: func(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error) {
			return okBatch(eventID, category,
				types.SendOutcome{Recipient: "a@x.org", Reason: types.ReasonDuplicate, CooldownRemaining: 4000},
				types.SendOutcome{Recipient: "b@x.org", Reason: types.ReasonDuplicate, CooldownRemaining: 9500},
			), nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email",
		`{"serviceType":"fire","subject":"s","html":"x"}`)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(types.ErrCodeDuplicateSend), body["code"])
	assert.EqualValues(t, 9500, body["cooldownRemaining"])
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
}

func TestSendAlertEmail_AlreadyHandled(t *testing.T) {
	svc := &mockRelayService{
		notifyWithContentFn: func(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error) {
			return &types.BatchResult{EventID: eventID, AlreadyHandled: true}, nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email",
		`{"serviceType":"fire","subject":"s","html":"x"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["alreadyHandled"])
}

func TestSendAlertEmail_ConfirmationDirect(t *testing.T) {
	var gotClass, gotTo string
	svc := &mockRelayService{
		directFn: func(ctx context.Context, serviceType, to string, content *email.RenderedEmail, correlationID string) (string, error) {
			gotClass, gotTo = serviceType, to
			return "msg-7", nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email",
		`{"serviceType":"confirmation","to":"fallback@x.org","recipientEmail":"user@x.org","subject":"Received","html":"<p>ok</p>"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmation", gotClass)
	assert.Equal(t, "user@x.org", gotTo)
	assert.Equal(t, "msg-7", decodeBody(t, rec)["messageId"])
}

func TestSendAlertEmail_ConfirmationRendered(t *testing.T) {
	var gotTo string
	svc := &mockRelayService{
		confirmationFn: func(ctx context.Context, to string, payload *types.AlertPayload) (string, error) {
			gotTo = to
			return "msg-8", nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email",
		`{"serviceType":"confirmation","to":"user@x.org","alertData":{"userName":"Ann","serviceType":"fire"}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "user@x.org", gotTo)
}

func TestSendAlertEmail_SingleDuplicate(t *testing.T) {
	svc := &mockRelayService{
		directFn: func(ctx context.Context, serviceType, to string, content *email.RenderedEmail, correlationID string) (string, error) {
			return "", types.NewAppErrorWithDetails(types.ErrCodeDuplicateSend, "Duplicate email prevented. Please wait before sending again.", nil,
				map[string]any{types.DetailCooldownRemaining: int64(18000)})
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email",
		`{"serviceType":"reply","to":"user@x.org","subject":"s","html":"x"}`)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.EqualValues(t, 18000, decodeBody(t, rec)["cooldownRemaining"])
}

func TestSendAlertEmail_SingleMissingRecipient(t *testing.T) {
	rec := postJSON(t, newRelayRouter(&mockRelayService{}), "/api/send-alert-email",
		`{"serviceType":"reply","subject":"s","html":"x"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeBody(t, rec)["code"])
}

func TestSendAlertEmail_ProviderErrorPassesThrough(t *testing.T) {
	svc := &mockRelayService{
		directFn: func(ctx context.Context, serviceType, to string, content *email.RenderedEmail, correlationID string) (string, error) {
			return "", types.NewAppError(types.ErrCodeEmailBlocked, "recipient blocked", nil)
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-alert-email",
		`{"serviceType":"confirmation","to":"user@x.org","subject":"s","html":"x"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendAlertEmail_InvalidJSON(t *testing.T) {
	rec := postJSON(t, newRelayRouter(&mockRelayService{}), "/api/send-alert-email", `{"serviceType":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// POST /api/send-service-notifications
// =============================================================================

func TestSendServiceNotifications_Success(t *testing.T) {
	var gotEmails []string
	var gotCategory string
	svc := &mockRelayService{
		notifyRecipientsFn: func(ctx context.Context, emails []string, category string, payload *types.AlertPayload) (*types.BatchResult, error) {
			gotEmails, gotCategory = emails, category
			return okBatch("notify:x", "fire",
				types.SendOutcome{Recipient: emails[0], Success: true, MessageID: "m1"},
				types.SendOutcome{Recipient: emails[1], Success: true, MessageID: "m2"},
			), nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-service-notifications",
		`{"serviceType":"fire","userEmails":["a@x.org","b@x.org"],"alertData":{"id":"a-3","userName":"Bo","status":"active"}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"a@x.org", "b@x.org"}, gotEmails)
	assert.Equal(t, "fire", gotCategory)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["successCount"])
	assert.Contains(t, body["message"], "2/2")
}

func TestSendServiceNotifications_Validation(t *testing.T) {
	many := make([]string, types.MaxRecipientsPerRequest+1)
	for i := range many {
		many[i] = `"u@x.org"`
	}

	tests := []struct {
		name     string
		body     string
		wantCode types.ErrorCode
	}{
		{"empty list", `{"serviceType":"fire","userEmails":[],"alertData":{}}`, types.ErrCodeValidationMissingField},
		{"missing alert", `{"serviceType":"fire","userEmails":["a@x.org"]}`, types.ErrCodeValidationMissingField},
		{"too many", `{"serviceType":"fire","alertData":{},"userEmails":[` + strings.Join(many, ",") + `]}`, types.ErrCodeValidationTooManyEmails},
		{"malformed address", `{"serviceType":"fire","alertData":{},"userEmails":["a@x.org","not-an-address"]}`, types.ErrCodeValidationInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, newRelayRouter(&mockRelayService{}), "/api/send-service-notifications", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.wantCode), decodeBody(t, rec)["code"])
		})
	}
}

func TestSendServiceNotifications_AlreadyHandled(t *testing.T) {
	svc := &mockRelayService{
		notifyRecipientsFn: func(ctx context.Context, emails []string, category string, payload *types.AlertPayload) (*types.BatchResult, error) {
			return &types.BatchResult{AlreadyHandled: true}, nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-service-notifications",
		`{"serviceType":"fire","userEmails":["a@x.org"],"alertData":{"alertId":"a"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["alreadyHandled"])
}

// =============================================================================
// POST /api/send-reply-notification
// =============================================================================

func TestSendReplyNotification_Success(t *testing.T) {
	var got *types.ReplyPayload
	svc := &mockRelayService{
		replyFn: func(ctx context.Context, reply *types.ReplyPayload) (*fanout.ReplyResult, error) {
			got = reply
			return &fanout.ReplyResult{MessageID: "m-1", PushTicketID: "ticket-1"}, nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-reply-notification",
		`{"alertCreatorEmail":"ann@x.org","responderName":"Unit 4","station":"North","message":"On our way","serviceType":"fire","alertId":"a-1"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, "Unit 4", got.ResponderName)
	assert.Equal(t, "North", got.Station)
	body := decodeBody(t, rec)
	assert.Equal(t, "m-1", body["messageId"])
	assert.Equal(t, "ticket-1", body["pushTicketId"])
}

func TestSendReplyNotification_Validation(t *testing.T) {
	rec := postJSON(t, newRelayRouter(&mockRelayService{}), "/api/send-reply-notification",
		`{"alertCreatorEmail":"not-an-email","responderName":"x","message":"m","serviceType":"fire"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationInvalidEmail), body["code"])
}

func TestSendReplyNotification_PushFailureStillOK(t *testing.T) {
	svc := &mockRelayService{
		replyFn: func(ctx context.Context, reply *types.ReplyPayload) (*fanout.ReplyResult, error) {
			return &fanout.ReplyResult{MessageID: "m-1", PushError: "send_failed"}, nil
		},
	}

	rec := postJSON(t, newRelayRouter(svc), "/api/send-reply-notification",
		`{"alertCreatorEmail":"ann@x.org","responderName":"Unit 4","message":"On our way","serviceType":"fire"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "send_failed", decodeBody(t, rec)["pushError"])
}

func TestAllDuplicates(t *testing.T) {
	left, ok := allDuplicates([]types.SendOutcome{
		{Reason: types.ReasonDuplicate, CooldownRemaining: 10},
		{Reason: types.ReasonDuplicate, CooldownRemaining: 30},
	})
	assert.True(t, ok)
	assert.Equal(t, int64(30), left)

	_, ok = allDuplicates([]types.SendOutcome{{Reason: types.ReasonDuplicate}, {Reason: "timeout"}})
	assert.False(t, ok)

	_, ok = allDuplicates(nil)
	assert.False(t, ok)
}

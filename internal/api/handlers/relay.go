// Package handlers contains the HTTP handlers of the alert relay.
//
// The relay exposes three POST endpoints under /api:
//   - send-alert-email: category fan-out, or a single confirmation/reply mail
//   - send-service-notifications: explicit address list from the mobile client
//   - send-reply-notification: responder reply to the alert creator
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"safetyalert/internal/core"
	"safetyalert/internal/notifications/email"
	"safetyalert/internal/notifications/fanout"
	"safetyalert/internal/types"
)

// --- Service Interfaces ---

// RelayService is the notification contract used by the relay handler.
// Mirrors the fanout.Service methods reachable over HTTP.
type RelayService interface {
	Notify(ctx context.Context, category string, payload *types.AlertPayload, eventID string) (*types.BatchResult, error)
	NotifyWithContent(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error)
	NotifyRecipients(ctx context.Context, emails []string, category string, payload *types.AlertPayload) (*types.BatchResult, error)
	SendConfirmation(ctx context.Context, to string, payload *types.AlertPayload) (string, error)
	SendDirect(ctx context.Context, serviceType, to string, content *email.RenderedEmail, correlationID string) (string, error)
	SendReplyNotification(ctx context.Context, reply *types.ReplyPayload) (*fanout.ReplyResult, error)
}

// --- Request/Response Models ---

// SendAlertEmailRequest is the body of POST /api/send-alert-email.
// Either Subject and HTML or AlertData must be supplied.
type SendAlertEmailRequest struct {
	To             string              `json:"to" validate:"omitempty,email"`
	ServiceType    string              `json:"serviceType" validate:"required,category"`
	Subject        string              `json:"subject" validate:"max=300"`
	HTML           string              `json:"html"`
	AlertID        string              `json:"alertId" validate:"max=128"`
	RecipientEmail string              `json:"recipientEmail" validate:"omitempty,email"`
	AlertData      *types.AlertPayload `json:"alertData,omitempty"`
}

// SendServiceNotificationsRequest is the body of
// POST /api/send-service-notifications.
type SendServiceNotificationsRequest struct {
	ServiceType string              `json:"serviceType" validate:"required,category"`
	AlertData   *types.AlertPayload `json:"alertData" validate:"required"`
	UserEmails  []string            `json:"userEmails" validate:"required,min=1,max=100,dive,email"`
}

// SendReplyNotificationRequest is the body of
// POST /api/send-reply-notification.
type SendReplyNotificationRequest struct {
	AlertCreatorEmail string `json:"alertCreatorEmail" validate:"required,email"`
	ResponderName     string `json:"responderName" validate:"required,max=200"`
	Station           string `json:"station" validate:"max=200"`
	Message           string `json:"message" validate:"required,max=2000"`
	ServiceType       string `json:"serviceType" validate:"required,category"`
	AlertID           string `json:"alertId" validate:"max=128"`
}

// BatchResponse reports a fan-out to several recipients.
type BatchResponse struct {
	Success        bool                `json:"success"`
	Message        string              `json:"message"`
	MessageID      string              `json:"messageId,omitempty"`
	SuccessCount   int                 `json:"successCount"`
	TotalCount     int                 `json:"totalCount"`
	Results        []types.SendOutcome `json:"results"`
	AlreadyHandled bool                `json:"alreadyHandled,omitempty"`
}

// SingleResponse reports a one-recipient send.
type SingleResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	MessageID    string `json:"messageId"`
	PushTicketID string `json:"pushTicketId,omitempty"`
	PushError    string `json:"pushError,omitempty"`
}

// eventPrefixAlertEmail namespaces send-alert-email event ids so they never
// collide with tracker or list-based ids.
const eventPrefixAlertEmail = "send-alert-email:"

// --- Handler ---

// RelayHandler serves the notification endpoints.
type RelayHandler struct {
	svc       RelayService
	validator *core.Validator
	logger    *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc RelayService, v *core.Validator, l *slog.Logger) *RelayHandler {
	if l == nil {
		l = slog.Default()
	}
	return &RelayHandler{svc: svc, validator: v, logger: l}
}

// RegisterRoutes mounts the relay endpoints. The router is expected to be
// the /api sub-router.
func (h *RelayHandler) RegisterRoutes(r chi.Router) {
	r.Post("/send-alert-email", h.SendAlertEmail)
	r.Post("/send-service-notifications", h.SendServiceNotifications)
	r.Post("/send-reply-notification", h.SendReplyNotification)
}

// SendAlertEmail handles POST /api/send-alert-email.
//
// confirmation and reply service types address a single recipient
// (recipientEmail, falling back to to). Every other service type is fanned
// out to the recipients of that category.
func (h *RelayHandler) SendAlertEmail(w http.ResponseWriter, r *http.Request) {
	var req SendAlertEmailRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var content *email.RenderedEmail
	if req.HTML != "" {
		if strings.TrimSpace(req.Subject) == "" {
			core.Error(w, r, missingField("subject", "subject is required when html is supplied"))
			return
		}
		content = &email.RenderedEmail{Subject: req.Subject, BodyHTML: req.HTML}
	} else if req.AlertData == nil {
		core.Error(w, r, missingField("html", "html or alertData is required"))
		return
	}

	serviceType := strings.ToLower(strings.TrimSpace(req.ServiceType))
	if serviceType == types.ServiceTypeConfirmation || serviceType == types.ServiceTypeReply {
		h.sendSingle(w, r, serviceType, req, content)
		return
	}

	eventID := eventPrefixAlertEmail + types.GetRequestID(r.Context())
	if eventID == eventPrefixAlertEmail {
		eventID += uuid.NewString()
	}

	var (
		batch *types.BatchResult
		err   error
	)
	if content != nil {
		batch, err = h.svc.NotifyWithContent(r.Context(), serviceType, eventID, content, req.AlertID)
	} else {
		if req.AlertData.AlertID == "" {
			req.AlertData.AlertID = req.AlertID
		}
		batch, err = h.svc.Notify(r.Context(), serviceType, req.AlertData, eventID)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.writeBatch(w, r, batch)
}

func (h *RelayHandler) sendSingle(w http.ResponseWriter, r *http.Request, serviceType string, req SendAlertEmailRequest, content *email.RenderedEmail) {
	to := req.RecipientEmail
	if to == "" {
		to = req.To
	}
	if to == "" {
		core.Error(w, r, missingField("recipientEmail", "recipientEmail is required"))
		return
	}

	var (
		msgID string
		err   error
	)
	switch {
	case content != nil:
		msgID, err = h.svc.SendDirect(r.Context(), serviceType, to, content, req.AlertID)
	case serviceType == types.ServiceTypeConfirmation:
		if req.AlertData.AlertID == "" {
			req.AlertData.AlertID = req.AlertID
		}
		msgID, err = h.svc.SendConfirmation(r.Context(), to, req.AlertData)
	default:
		core.Error(w, r, missingField("html", "html is required for reply emails"))
		return
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, SingleResponse{
		Success:   true,
		Message:   "Email sent successfully",
		MessageID: msgID,
	})
}

// SendServiceNotifications handles POST /api/send-service-notifications.
func (h *RelayHandler) SendServiceNotifications(w http.ResponseWriter, r *http.Request) {
	var req SendServiceNotificationsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	batch, err := h.svc.NotifyRecipients(r.Context(), req.UserEmails, req.ServiceType, req.AlertData)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.writeBatch(w, r, batch)
}

// SendReplyNotification handles POST /api/send-reply-notification.
func (h *RelayHandler) SendReplyNotification(w http.ResponseWriter, r *http.Request) {
	var req SendReplyNotificationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.svc.SendReplyNotification(r.Context(), &types.ReplyPayload{
		AlertCreatorEmail: req.AlertCreatorEmail,
		ResponderName:     req.ResponderName,
		Station:           req.Station,
		Message:           req.Message,
		ServiceType:       req.ServiceType,
		AlertID:           req.AlertID,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, SingleResponse{
		Success:      true,
		Message:      "Reply notification sent",
		MessageID:    res.MessageID,
		PushTicketID: res.PushTicketID,
		PushError:    res.PushError,
	})
}

// writeBatch maps a fan-out result onto the HTTP response.
//
//   - already handled: 200 without sending
//   - no recipients: 404
//   - every recipient suppressed as duplicate: 429 with the longest cooldown
//   - otherwise 200 with per-recipient outcomes, success set when any send
//     went through
//
// The 429 is derived from the finished batch, after recipients are resolved,
// rather than from a check on the request before resolution.
func (h *RelayHandler) writeBatch(w http.ResponseWriter, r *http.Request, batch *types.BatchResult) {
	if batch.AlreadyHandled {
		core.JSON(w, r, http.StatusOK, BatchResponse{
			Success:        true,
			Message:        "Notification already handled",
			Results:        []types.SendOutcome{},
			AlreadyHandled: true,
		})
		return
	}
	if batch.NoRecipients || batch.TotalCount == 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundRecipients, "No recipients found for service type", nil))
		return
	}

	if batch.SuccessCount == 0 {
		if left, ok := allDuplicates(batch.Results); ok {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeDuplicateSend,
				"Duplicate email prevented. Please wait before sending again.",
				nil,
				map[string]any{types.DetailCooldownRemaining: left},
			))
			return
		}
		h.logger.Warn("fan-out delivered to nobody",
			"event_id", batch.EventID,
			"category", batch.Category,
			"total", batch.TotalCount,
		)
	}

	core.JSON(w, r, http.StatusOK, BatchResponse{
		Success:      batch.SuccessCount > 0,
		Message:      fmt.Sprintf("Email sent to %d/%d recipients", batch.SuccessCount, batch.TotalCount),
		MessageID:    batch.FirstMessageID(),
		SuccessCount: batch.SuccessCount,
		TotalCount:   batch.TotalCount,
		Results:      batch.Results,
	})
}

// allDuplicates reports whether every outcome was a duplicate and returns the
// longest remaining cooldown in milliseconds.
func allDuplicates(results []types.SendOutcome) (int64, bool) {
	var longest int64
	for _, res := range results {
		if res.Reason != types.ReasonDuplicate {
			return 0, false
		}
		longest = max(longest, res.CooldownRemaining)
	}
	return longest, len(results) > 0
}

func missingField(field, msg string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, msg, nil, map[string]any{"field": field})
}

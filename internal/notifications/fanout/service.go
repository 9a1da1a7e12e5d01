// Package fanout delivers one alert to every recipient of a category. Each
// recipient is guarded by the cooldown fingerprint independently, so one
// failing or duplicate address never blocks the rest of the batch.
package fanout

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"safetyalert/internal/external"
	ncore "safetyalert/internal/notifications/core"
	"safetyalert/internal/notifications/email"
	"safetyalert/internal/notifications/guard"
	"safetyalert/internal/notifications/recipients"
	"safetyalert/internal/types"
)

const (
	DefaultMaxConcurrentSends = 8
	DefaultSendRatePerSecond  = 10
)

// PushTokenLookup finds the mobile push token registered for an address.
// An empty token with a nil error means the user has none.
type PushTokenLookup interface {
	GetPushTokenByEmail(ctx context.Context, email string) (string, error)
}

// Config tunes fan-out concurrency and pacing.
type Config struct {
	MaxConcurrentSends int
	// SendRatePerSecond paces provider calls across all batches. 0 disables
	// pacing.
	SendRatePerSecond float64
}

// Deps holds the collaborators of a Service. Push and Tokens are optional.
type Deps struct {
	Guard    *guard.Guard
	Resolver recipients.Resolver
	Renderer *email.Renderer
	Channel  *email.Channel
	Push     external.PushProvider
	Tokens   PushTokenLookup
	Metrics  ncore.NotificationMetrics
	Logger   types.Logger
}

// Service is safe for concurrent use.
type Service struct {
	guard    *guard.Guard
	resolver recipients.Resolver
	renderer *email.Renderer
	channel  *email.Channel
	push     external.PushProvider
	tokens   PushTokenLookup
	metrics  ncore.NotificationMetrics
	logger   types.Logger

	maxConcurrent int
	limiter       *rate.Limiter
}

func NewService(deps Deps, cfg Config) *Service {
	s := &Service{
		guard:         deps.Guard,
		resolver:      deps.Resolver,
		renderer:      deps.Renderer,
		channel:       deps.Channel,
		push:          deps.Push,
		tokens:        deps.Tokens,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		maxConcurrent: cfg.MaxConcurrentSends,
	}
	if s.metrics == nil {
		s.metrics = ncore.NoopMetrics{}
	}
	if s.maxConcurrent <= 0 {
		s.maxConcurrent = DefaultMaxConcurrentSends
	}
	if cfg.SendRatePerSecond > 0 {
		burst := int(cfg.SendRatePerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSecond), burst)
	}
	return s
}

// Guard exposes the cooldown guard for health and stats reporting.
func (s *Service) Guard() *guard.Guard { return s.guard }

// Notify renders a service alert for payload and sends it to every recipient
// of category. A repeated eventID inside the event expiry window returns an
// AlreadyHandled result without sending.
func (s *Service) Notify(ctx context.Context, category string, payload *types.AlertPayload, eventID string) (*types.BatchResult, error) {
	if payload == nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "alert payload is required", nil)
	}
	return s.notify(ctx, category, eventID, alertCorrelation(payload), func(string) (*email.RenderedEmail, error) {
		return s.renderer.RenderServiceAlert(payload)
	})
}

// NotifyWithContent is Notify with caller-supplied subject and HTML.
func (s *Service) NotifyWithContent(ctx context.Context, category, eventID string, content *email.RenderedEmail, correlationID string) (*types.BatchResult, error) {
	if content == nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "email content is required", nil)
	}
	if correlationID == "" {
		correlationID = ContentDigest(content.Subject, content.BodyHTML)
	}
	return s.notify(ctx, category, eventID, correlationID, func(string) (*email.RenderedEmail, error) {
		return content, nil
	})
}

// NotifyRecipients sends the service alert to an explicit address list. The
// event id is derived from the sorted addresses and the alert id, so a client
// retrying the same request is answered with AlreadyHandled.
func (s *Service) NotifyRecipients(ctx context.Context, emails []string, category string, payload *types.AlertPayload) (*types.BatchResult, error) {
	if payload == nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "alert payload is required", nil)
	}
	to := cleanAddresses(emails)
	if len(to) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "at least one recipient email is required", nil)
	}

	eventID := GenerateRequestID(to, payload.AlertID)
	key := recipients.NormalizeCategory(category)
	batch := &types.BatchResult{EventID: eventID, Category: key}

	markedAt := s.guard.Now()
	if !s.guard.TryMarkEvent(eventID, markedAt, s.guard.EventExpiry()) {
		s.logger.Info("event already handled", "event_id", eventID)
		batch.AlreadyHandled = true
		return batch, nil
	}

	content, err := s.renderer.RenderServiceAlert(payload)
	if err != nil {
		s.guard.ReleaseEvent(eventID, markedAt)
		return nil, types.NewAppError(types.ErrCodeInternalRender, "failed to render alert email", err)
	}
	s.fanOut(ctx, batch, to, guard.ServiceClass(key), alertCorrelation(payload), content)
	return batch, nil
}

type renderFunc func(category string) (*email.RenderedEmail, error)

func (s *Service) notify(ctx context.Context, category, eventID, correlationID string, render renderFunc) (*types.BatchResult, error) {
	key := recipients.NormalizeCategory(category)
	if key == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "serviceType is required", nil)
	}
	batch := &types.BatchResult{EventID: eventID, Category: key}

	markedAt := s.guard.Now()
	if eventID != "" && !s.guard.TryMarkEvent(eventID, markedAt, s.guard.EventExpiry()) {
		s.logger.Info("event already handled", "event_id", eventID)
		batch.AlreadyHandled = true
		return batch, nil
	}
	// Nothing was attempted on these paths; a retry with the same event id
	// must not be answered as already handled.
	unmark := func() {
		if eventID != "" {
			s.guard.ReleaseEvent(eventID, markedAt)
		}
	}

	to := s.resolver.ResolveByCategory(ctx, key)
	if len(to) == 0 {
		unmark()
		s.logger.Warn("no recipients resolved", "category", key, "event_id", eventID)
		batch.NoRecipients = true
		batch.Results = []types.SendOutcome{}
		return batch, nil
	}

	content, err := render(key)
	if err != nil {
		unmark()
		return nil, types.NewAppError(types.ErrCodeInternalRender, "failed to render alert email", err)
	}

	s.fanOut(ctx, batch, to, guard.ServiceClass(key), correlationID, content)
	return batch, nil
}

// fanOut sends content to every address and fills batch. Sends run
// concurrently up to maxConcurrent and the guard is swept afterwards.
func (s *Service) fanOut(ctx context.Context, batch *types.BatchResult, to []string, class, correlationID string, content *email.RenderedEmail) {
	results := make([]types.SendOutcome, len(to))

	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)
	for i, addr := range to {
		g.Go(func() error {
			results[i] = s.sendOne(ctx, addr, class, correlationID, content, batch.EventID)
			return nil
		})
	}
	_ = g.Wait()

	batch.Results = results
	batch.TotalCount = len(results)
	for _, r := range results {
		if r.Success {
			batch.SuccessCount++
		}
	}

	if n := s.guard.Sweep(s.guard.Now(), s.guard.Retention()); n > 0 {
		s.logger.Info("guard swept after batch", "removed", n)
	}
	s.metrics.RecordBatch(ctx, batch.Category, len(to))

	s.logger.Info("fan-out complete",
		"event_id", batch.EventID,
		"category", batch.Category,
		"sent", batch.SuccessCount,
		"total", batch.TotalCount,
	)
}

// sendOne delivers to a single recipient. The fingerprint is reserved before
// the provider call and released again if the call fails, so only successful
// sends start a cooldown.
func (s *Service) sendOne(ctx context.Context, to, class, correlationID string, content *email.RenderedEmail, referenceID string) types.SendOutcome {
	out := types.SendOutcome{Recipient: to}
	fp := guard.Fingerprint(to, class, correlationID)

	acquiredAt := s.guard.Now()
	if !s.guard.TryAcquire(fp, acquiredAt) {
		s.logger.Info("duplicate suppressed", "dest", email.RedactEmail(to), "class", class)
		s.metrics.RecordDelivery(ctx, types.ChannelEmail, ncore.MetricSkipped)
		out.Reason = types.ReasonDuplicate
		out.CooldownRemaining = s.guard.CooldownRemaining(fp, acquiredAt).Milliseconds()
		return out
	}

	msgID, err := s.deliver(ctx, to, content, referenceID)
	if err != nil {
		s.guard.Release(fp, acquiredAt)
		out.Reason = email.FailureReason(err)
		return out
	}

	out.Success = true
	out.MessageID = msgID
	return out
}

func (s *Service) deliver(ctx context.Context, to string, content *email.RenderedEmail, referenceID string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.metrics.RecordDelivery(ctx, types.ChannelEmail, ncore.MetricFailed)
			return "", err
		}
	}

	start := time.Now()
	msgID, err := s.channel.Deliver(ctx, to, content, referenceID)
	s.metrics.RecordLatency(ctx, types.ChannelEmail, time.Since(start))
	if err != nil {
		s.metrics.RecordDelivery(ctx, types.ChannelEmail, ncore.MetricFailed)
		return "", err
	}
	s.metrics.RecordDelivery(ctx, types.ChannelEmail, ncore.MetricSuccess)
	return msgID, nil
}

// SendConfirmation tells the alert creator that the alert was received.
func (s *Service) SendConfirmation(ctx context.Context, to string, payload *types.AlertPayload) (string, error) {
	if payload == nil {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "alert payload is required", nil)
	}
	content, err := s.renderer.RenderConfirmation(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalRender, "failed to render confirmation email", err)
	}
	corr := alertCorrelation(payload)
	return s.single(ctx, to, guard.ConfirmationClass(corr), "", content, corr)
}

// ReplyResult reports the email and the optional push of a reply
// notification.
type ReplyResult struct {
	MessageID    string `json:"messageId"`
	PushTicketID string `json:"pushTicketId,omitempty"`
	PushError    string `json:"pushError,omitempty"`
}

// SendReplyNotification emails the alert creator about a responder reply and,
// when the creator has a push token, sends a mobile push as well. A push
// failure never fails the call.
func (s *Service) SendReplyNotification(ctx context.Context, reply *types.ReplyPayload) (*ReplyResult, error) {
	if reply == nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "reply payload is required", nil)
	}
	content, err := s.renderer.RenderReply(reply)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender, "failed to render reply email", err)
	}

	corr := reply.AlertID
	if corr == "" {
		corr = ContentDigest(reply.ResponderName, reply.Message)
	}
	msgID, err := s.single(ctx, reply.AlertCreatorEmail, guard.ReplyClass(corr), "", content, corr)
	if err != nil {
		return nil, err
	}

	res := &ReplyResult{MessageID: msgID}
	if ticket, perr := s.sendReplyPush(ctx, reply); perr != nil {
		res.PushError = email.FailureReason(perr)
	} else {
		res.PushTicketID = ticket
	}
	return res, nil
}

func (s *Service) sendReplyPush(ctx context.Context, reply *types.ReplyPayload) (string, error) {
	if s.push == nil || s.tokens == nil {
		return "", nil
	}
	token, err := s.tokens.GetPushTokenByEmail(ctx, reply.AlertCreatorEmail)
	if err != nil {
		s.logger.Warn("push token lookup failed", "dest", email.RedactEmail(reply.AlertCreatorEmail), "error", err)
		return "", err
	}
	if token == "" {
		return "", nil
	}

	start := time.Now()
	ticket, err := s.push.Send(ctx, email.ReplyPush(token, reply))
	s.metrics.RecordLatency(ctx, types.ChannelPush, time.Since(start))
	if err != nil {
		s.metrics.RecordDelivery(ctx, types.ChannelPush, ncore.MetricFailed)
		s.logger.Warn("reply push failed", "provider", external.ProviderName(s.push), "error", err)
		return "", err
	}
	s.metrics.RecordDelivery(ctx, types.ChannelPush, ncore.MetricSuccess)
	s.logger.Info("reply push sent", "provider", external.ProviderName(s.push), "ticket", ticket)
	return ticket, nil
}

// SendDirect sends caller-built content to one address under the given
// serviceType class. An empty correlationID falls back to a digest of the
// content.
func (s *Service) SendDirect(ctx context.Context, serviceType, to string, content *email.RenderedEmail, correlationID string) (string, error) {
	if content == nil {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "email content is required", nil)
	}
	if correlationID == "" {
		correlationID = ContentDigest(content.Subject, content.BodyHTML)
	}
	return s.single(ctx, to, guard.DirectClass(strings.ToLower(serviceType)), correlationID, content, correlationID)
}

// single is the one-recipient path. A suppressed send is a duplicate_send
// AppError carrying the remaining cooldown in milliseconds.
func (s *Service) single(ctx context.Context, to, class, correlationID string, content *email.RenderedEmail, referenceID string) (string, error) {
	to = recipients.ResolveExplicit(to)
	if to == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "recipient email is required", nil)
	}

	fp := guard.Fingerprint(to, class, correlationID)
	acquiredAt := s.guard.Now()
	if !s.guard.TryAcquire(fp, acquiredAt) {
		left := s.guard.CooldownRemaining(fp, acquiredAt)
		s.metrics.RecordDelivery(ctx, types.ChannelEmail, ncore.MetricSkipped)
		s.logger.Info("duplicate suppressed", "dest", email.RedactEmail(to), "class", class, "cooldown_ms", left.Milliseconds())
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeDuplicateSend,
			"Duplicate email prevented. Please wait before sending again.",
			nil,
			map[string]any{types.DetailCooldownRemaining: left.Milliseconds()},
		)
	}

	msgID, err := s.deliver(ctx, to, content, referenceID)
	if err != nil {
		s.guard.Release(fp, acquiredAt)
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeInternalDelivery, "failed to send email", err)
	}
	return msgID, nil
}

// alertCorrelation returns the alert id, or a digest of the alert content
// when the caller did not supply one.
func alertCorrelation(p *types.AlertPayload) string {
	if p.AlertID != "" {
		return p.AlertID
	}
	return ContentDigest(p.UserName, p.ServiceType, p.Location.String(), p.Time.String(), p.Message)
}

func cleanAddresses(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, e := range in {
		e = recipients.ResolveExplicit(e)
		if e == "" {
			continue
		}
		k := strings.ToLower(e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

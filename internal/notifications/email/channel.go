package email

import (
	"context"
	"errors"
	"strings"
	"time"

	"safetyalert/internal/external"
	"safetyalert/internal/types"
)

var errSendTimeout = errors.New("email send timed out")

// Channel delivers rendered content through an EmailProvider. It applies the
// per-send timeout and the sender identity, and keeps addresses out of logs.
type Channel struct {
	provider external.EmailProvider
	sender   types.SenderIdentity
	timeout  time.Duration
	logger   types.Logger
}

// ChannelConfig holds the dependencies needed to create a Channel.
type ChannelConfig struct {
	Provider external.EmailProvider
	Sender   types.SenderIdentity
	// Timeout bounds one provider call. 0 means no extra bound.
	Timeout time.Duration
	Logger  types.Logger
}

func NewChannel(cfg ChannelConfig) *Channel {
	return &Channel{
		provider: cfg.Provider,
		sender:   cfg.Sender,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Type returns the channel type identifier for email.
func (c *Channel) Type() types.ChannelType {
	return types.ChannelEmail
}

// Deliver sends content to one recipient and returns the provider message id.
func (c *Channel) Deliver(ctx context.Context, to string, content *RenderedEmail, referenceID string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidEmail, "recipient address is empty", nil)
	}
	if content == nil {
		return "", types.NewAppError(types.ErrCodeInternalRender, "email content is nil", nil)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msgID, err := c.provider.Send(ctx, types.SendInput{
		To:          to,
		From:        c.sender,
		Subject:     content.Subject,
		BodyHTML:    content.BodyHTML,
		BodyText:    content.BodyText,
		ReferenceID: referenceID,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(errSendTimeout, err)
		}
		if IsBlocklistError(err) {
			c.logger.Warn("recipient blocked by provider", "dest", RedactEmail(to), "ref", referenceID)
		} else {
			c.logger.Error("email delivery failed", "dest", RedactEmail(to), "ref", referenceID, "error", err)
		}
		return "", err
	}

	c.logger.Info("email delivered", "dest", RedactEmail(to), "ref", referenceID, "message_id", msgID)
	return msgID, nil
}

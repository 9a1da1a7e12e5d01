package external

import (
	"context"

	"safetyalert/internal/types"
)

// EmailProvider transmits one pre-rendered email and returns the provider's
// message id.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// PushProvider delivers one mobile push notification and returns the
// provider's ticket id.
type PushProvider interface {
	Send(ctx context.Context, msg types.PushMessage) (ticketID string, err error)
}

// Named is implemented by providers that report a stable transport name for
// logs and metrics.
type Named interface {
	Name() string
}

// ProviderName returns p's transport name, or "unknown".
func ProviderName(p any) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

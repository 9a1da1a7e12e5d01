// Package email renders relay messages and hands them to the configured mail
// transport.
package email

import (
	"errors"

	"safetyalert/internal/types"
)

// ErrRecipientBlocked indicates the provider refuses to deliver to the
// recipient. Such failures are terminal.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError reports whether err means the recipient is blocked, either
// as the sentinel or as an ErrCodeEmailBlocked AppError.
func IsBlocklistError(err error) bool {
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Code == types.ErrCodeEmailBlocked
	}
	return false
}

// FailureReason condenses a send error into the short reason reported in a
// SendOutcome. Provider error text is never passed through.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	if IsBlocklistError(err) {
		return "recipient_blocked"
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return string(appErr.Code)
	}
	if errors.Is(err, errSendTimeout) {
		return "timeout"
	}
	return "send_failed"
}

package guard

import "strings"

// Fingerprint classes. A recipient may receive one message of each class per
// correlation id within the cooldown window.
const (
	classService      = "service-"
	classConfirmation = "confirmation-"
	classReply        = "reply-"
	classDirect       = "direct-"
)

func ServiceClass(category string) string { return classService + category }
func ConfirmationClass(alertID string) string { return classConfirmation + alertID }
func ReplyClass(alertID string) string { return classReply + alertID }
func DirectClass(serviceType string) string { return classDirect + serviceType }

// Fingerprint identifies one logical notification to one recipient. The
// recipient is trimmed and lower-cased so address casing cannot bypass the
// cooldown.
func Fingerprint(recipient, class, correlationID string) string {
	r := strings.ToLower(strings.TrimSpace(recipient))
	return r + "|" + class + "|" + correlationID
}

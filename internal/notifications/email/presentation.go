package email

import (
	"strings"

	"safetyalert/internal/types"
)

// Presentation is the per-service branding used in subjects, headers and
// push titles.
type Presentation struct {
	Emoji string
	Color string
}

var presentations = map[string]Presentation{
	types.CategoryPolice:   {Emoji: "👮‍♂️", Color: "#1e40af"},
	types.CategoryHospital: {Emoji: "🏥", Color: "#dc2626"},
	types.CategoryFire:     {Emoji: "🚒", Color: "#ea580c"},
	types.CategoryCampus:   {Emoji: "🏫", Color: "#059669"},
}

var defaultPresentation = Presentation{Emoji: "🚨", Color: "#ff5330"}

// PresentationFor returns the branding for category, or the generic alert
// branding for categories without one.
func PresentationFor(category string) Presentation {
	if p, ok := presentations[strings.ToLower(strings.TrimSpace(category))]; ok {
		return p
	}
	return defaultPresentation
}

// ServiceLabel is the upper-cased category used in subjects and bodies.
func ServiceLabel(category string) string {
	label := strings.ToUpper(strings.TrimSpace(category))
	if label == "" {
		return "EMERGENCY"
	}
	return label
}

// Subject lines.
func ServiceAlertSubject(category string) string {
	return "🚨 URGENT: New Emergency Alert - " + ServiceLabel(category)
}

func ConfirmationSubject(category string) string {
	return "✅ Alert Confirmation - We Have Received Your " + ServiceLabel(category) + " Request"
}

func ReplySubject(category string) string {
	return "🚨 Emergency Response Received - " + ServiceLabel(category)
}

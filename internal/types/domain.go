package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Service categories known to the static recipient table.
const (
	CategoryPolice   = "police"
	CategoryHospital = "hospital"
	CategoryFire     = "fire"
	CategoryCampus   = "campus"
)

// Reserved serviceType values on /api/send-alert-email that select a
// single-recipient send instead of a category fan-out.
const (
	ServiceTypeConfirmation = "confirmation"
	ServiceTypeReply        = "reply"
)

// ChannelType identifies a notification delivery channel.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelPush  ChannelType = "push"
)

// GeoLocation is the structured form of an alert location.
type GeoLocation struct {
	Address string   `json:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Location is either a free-text place or a GeoLocation. Mobile clients send
// both shapes.
type Location struct {
	Text string
	Geo  *GeoLocation
}

// UnmarshalJSON accepts a JSON string or a {address, lat, lng} object.
func (l *Location) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = Location{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Location{Text: s}
		return nil
	}
	var geo GeoLocation
	if err := json.Unmarshal(data, &geo); err != nil {
		return fmt.Errorf("location: expected string or object: %w", err)
	}
	*l = Location{Geo: &geo}
	return nil
}

// MarshalJSON writes the shape the location was received in.
func (l Location) MarshalJSON() ([]byte, error) {
	if l.Geo != nil {
		return json.Marshal(l.Geo)
	}
	return json.Marshal(l.Text)
}

// String renders the location for email bodies.
func (l Location) String() string {
	if l.Text != "" {
		return l.Text
	}
	if l.Geo == nil {
		return "Unknown location"
	}
	if l.Geo.Address != "" {
		return l.Geo.Address
	}
	if l.Geo.Lat != nil && l.Geo.Lng != nil {
		return fmt.Sprintf("%.6f, %.6f", *l.Geo.Lat, *l.Geo.Lng)
	}
	return "Unknown location"
}

// Coordinates returns the lat/lng pair when present.
func (l Location) Coordinates() (lat, lng float64, ok bool) {
	if l.Geo == nil || l.Geo.Lat == nil || l.Geo.Lng == nil {
		return 0, 0, false
	}
	return *l.Geo.Lat, *l.Geo.Lng, true
}

// AlertTime is an alert timestamp as sent by clients: an RFC 3339 string, a
// free-form string, epoch milliseconds, or a {seconds, nanoseconds} document
// store timestamp.
type AlertTime struct {
	Raw string
	At  time.Time
}

type storeTimestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *AlertTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = AlertTime{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = AlertTime{Raw: s}
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			t.At = parsed.UTC()
		}
		return nil
	case '{':
		var ts storeTimestamp
		if err := json.Unmarshal(data, &ts); err != nil {
			return fmt.Errorf("time: invalid timestamp object: %w", err)
		}
		*t = AlertTime{At: time.Unix(ts.Seconds, ts.Nanoseconds).UTC()}
		return nil
	default:
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("time: expected string, object or epoch millis: %w", err)
		}
		*t = AlertTime{At: time.UnixMilli(ms).UTC()}
		return nil
	}
}

// MarshalJSON writes RFC 3339 when a parsed time is known, the raw string otherwise.
func (t AlertTime) MarshalJSON() ([]byte, error) {
	if !t.At.IsZero() {
		return json.Marshal(t.At.Format(time.RFC3339))
	}
	return json.Marshal(t.Raw)
}

// String renders the time for email bodies.
func (t AlertTime) String() string {
	if !t.At.IsZero() {
		return t.At.Format("Jan 2, 2006 at 3:04 PM MST")
	}
	if t.Raw != "" {
		return t.Raw
	}
	return "Unknown time"
}

// NewAlertTime wraps a concrete timestamp.
func NewAlertTime(at time.Time) AlertTime {
	return AlertTime{At: at.UTC()}
}

// AlertPayload is the alert snapshot handed from callers to the renderer.
// The relay never mutates it.
type AlertPayload struct {
	AlertID     string    `json:"alertId"`
	UserName    string    `json:"userName"`
	UserEmail   string    `json:"userEmail,omitempty"`
	ServiceType string    `json:"serviceType"`
	Location    Location  `json:"location"`
	Time        AlertTime `json:"time"`
	Message     string    `json:"message,omitempty"`
}

// alertPayloadWire tolerates the extra document fields mobile clients attach
// (status, audio URLs, ...) and the "id" spelling of the alert id.
type alertPayloadWire struct {
	AlertID     string    `json:"alertId"`
	ID          string    `json:"id"`
	UserName    string    `json:"userName"`
	UserEmail   string    `json:"userEmail"`
	ServiceType string    `json:"serviceType"`
	Location    Location  `json:"location"`
	Time        AlertTime `json:"time"`
	Message     string    `json:"message"`
}

// UnmarshalJSON decodes leniently regardless of the outer decoder's
// DisallowUnknownFields setting.
func (p *AlertPayload) UnmarshalJSON(data []byte) error {
	var w alertPayloadWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id := w.AlertID
	if id == "" {
		id = w.ID
	}
	*p = AlertPayload{
		AlertID:     id,
		UserName:    w.UserName,
		UserEmail:   strings.TrimSpace(w.UserEmail),
		ServiceType: w.ServiceType,
		Location:    w.Location,
		Time:        w.Time,
		Message:     w.Message,
	}
	return nil
}

// ReplyPayload describes a responder's reply to an alert.
type ReplyPayload struct {
	AlertCreatorEmail string `json:"alertCreatorEmail"`
	ResponderName     string `json:"responderName"`
	Station           string `json:"station,omitempty"`
	Message           string `json:"message"`
	ServiceType       string `json:"serviceType"`
	AlertID           string `json:"alertId,omitempty"`
}

// SenderIdentity is the From header of an outbound message.
type SenderIdentity struct {
	Address string
	Name    string
}

// SendInput is one pre-rendered email handed to a mail transport.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// PushMessage is one mobile push notification.
type PushMessage struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Sound string         `json:"sound,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// ReasonDuplicate marks a recipient skipped by the cooldown guard.
const ReasonDuplicate = "duplicate"

// SendOutcome is the result of one attempted send.
type SendOutcome struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	// CooldownRemaining is set on duplicates, in milliseconds.
	CooldownRemaining int64 `json:"cooldownRemaining,omitempty"`
}

// BatchResult aggregates the outcomes of one fan-out.
type BatchResult struct {
	EventID        string        `json:"eventId"`
	Category       string        `json:"category,omitempty"`
	SuccessCount   int           `json:"successCount"`
	TotalCount     int           `json:"totalCount"`
	Results        []SendOutcome `json:"results"`
	AlreadyHandled bool          `json:"alreadyHandled,omitempty"`
	NoRecipients   bool          `json:"noRecipients,omitempty"`
}

// FirstMessageID returns the provider id of the first successful send.
func (b *BatchResult) FirstMessageID() string {
	for _, r := range b.Results {
		if r.Success && r.MessageID != "" {
			return r.MessageID
		}
	}
	return ""
}

// FailedCount returns the number of unsuccessful outcomes.
func (b *BatchResult) FailedCount() int {
	return b.TotalCount - b.SuccessCount
}

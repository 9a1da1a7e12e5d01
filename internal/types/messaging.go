package types

import "time"

// AlertCreatedMessage is the SQS envelope published by the alert tracker when
// a new alert appears in the store and consumed by the alert worker.
type AlertCreatedMessage struct {
	MessageID   string       `json:"message_id"`
	Alert       AlertPayload `json:"alert"`
	PublishedAt time.Time    `json:"published_at"`
	TraceID     string       `json:"trace_id"`
}

// EventID is the guard event id for this alert's fan-out.
func (m AlertCreatedMessage) EventID() string {
	return "alert-created:" + m.Alert.AlertID
}

package email

import (
	"fmt"

	"safetyalert/internal/types"
)

// ReplyPush builds the mobile push that accompanies a reply email.
func ReplyPush(token string, rp *types.ReplyPayload) types.PushMessage {
	pres := PresentationFor(rp.ServiceType)
	station := rp.Station
	if station == "" {
		station = "Unknown station"
	}
	return types.PushMessage{
		To:    token,
		Title: pres.Emoji + " Emergency Reply Received",
		Body:  fmt.Sprintf("%s Response from %s (%s): %s", ServiceLabel(rp.ServiceType), rp.ResponderName, station, rp.Message),
		Sound: "default",
		Data: map[string]any{
			"type":        "reply",
			"alertId":     rp.AlertID,
			"serviceType": rp.ServiceType,
		},
	}
}

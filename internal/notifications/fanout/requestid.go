package fanout

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
)

const digestLen = 16

// GenerateRequestID derives a stable event id from a recipient list and an
// alert id. Address order and case do not matter.
func GenerateRequestID(emails []string, alertID string) string {
	norm := make([]string, 0, len(emails))
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			norm = append(norm, e)
		}
	}
	slices.Sort(norm)
	return "notify:" + strings.Join(norm, ",") + ":" + strings.TrimSpace(alertID)
}

// ContentDigest returns a short hex digest of parts. It stands in for a
// correlation id when the caller supplies no alert id, so resending the same
// content inside the cooldown is still recognized.
func ContentDigest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:digestLen]
}

package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSecret = "smtp-app-password-12345"

func TestSecretString_NeverRendersRawValue(t *testing.T) {
	s := SecretString(testSecret)

	mustJSON := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("json.Marshal: %v", err)
		}
		return string(b)
	}
	var logBuf bytes.Buffer
	slog.New(slog.NewJSONHandler(&logBuf, nil)).Info("smtp transport configured", "password", s)

	renderings := map[string]string{
		"String":      s.String(),
		"%s":          fmt.Sprintf("%s", s),
		"%v":          fmt.Sprintf("%v", s),
		"%+v":         fmt.Sprintf("%+v", s),
		"json":        mustJSON(s),
		"json struct": mustJSON(transportSecrets{Host: "smtp.gmail.com", Password: s}),
		"slog":        logBuf.String(),
	}
	for name, out := range renderings {
		if strings.Contains(out, testSecret) {
			t.Errorf("%s leaked the secret: %s", name, out)
		}
		if !strings.Contains(out, redactedPlaceholder) {
			t.Errorf("%s missing placeholder: %s", name, out)
		}
	}
}

// transportSecrets mirrors how config embeds a secret next to plain
// fields.
type transportSecrets struct {
	Host     string       `json:"host"`
	Password SecretString `json:"password"`
}

func TestSecretString_UnmaskAndIsSet(t *testing.T) {
	tests := []struct {
		in    SecretString
		want  string
		isSet bool
	}{
		{SecretString(testSecret), testSecret, true},
		{SecretString(""), "", false},
	}
	for _, tt := range tests {
		if got := tt.in.Unmask(); got != tt.want {
			t.Errorf("Unmask() = %q, want %q", got, tt.want)
		}
		if got := tt.in.IsSet(); got != tt.isSet {
			t.Errorf("IsSet() = %v, want %v", got, tt.isSet)
		}
		if tt.in.String() != redactedPlaceholder {
			t.Errorf("String() = %q, want placeholder even when empty", tt.in.String())
		}
	}
}

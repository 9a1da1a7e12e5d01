package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"safetyalert/internal/types"
)

const expoPushURL = "https://exp.host/--/api/v2/push/send"

// userAgent is sent on every outbound HTTP call.
const userAgent = "SafetyAlert-Relay/1.0"

// ExpoClientConfig holds the configuration for creating an ExpoClient.
type ExpoClientConfig struct {
	URL         string // defaults to expoPushURL
	AccessToken string // optional; required only with enhanced push security
	Logger      *slog.Logger
}

// ExpoClient implements PushProvider over the Expo push service.
type ExpoClient struct {
	base        *BaseClient
	url         string
	accessToken string
	logger      *slog.Logger
}

// NewExpoClient creates an ExpoClient using DefaultRetryPolicy.
func NewExpoClient(httpClient *http.Client, cfg ExpoClientConfig, opts ...BaseClientOption) *ExpoClient {
	base := NewBaseClient(httpClient, "expo", DefaultRetryPolicy(), userAgent, opts...)
	url := cfg.URL
	if url == "" {
		url = expoPushURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpoClient{base: base, url: url, accessToken: cfg.AccessToken, logger: logger}
}

func (e *ExpoClient) Name() string { return "expo" }

type expoTicketResponse struct {
	Data   expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

// ErrDeviceNotRegistered is returned when the push token is no longer valid.
var ErrDeviceNotRegistered = errors.New("push token is not registered")

// Send posts one message and returns the Expo ticket id.
func (e *ExpoClient) Send(ctx context.Context, msg types.PushMessage) (string, error) {
	if !IsExpoPushToken(msg.To) {
		return "", types.NewAppError(types.ErrCodeValidationInvalidValue, "not an Expo push token", nil)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal push message", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.accessToken)
	}

	resp, err := e.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return "", types.NewAppError(types.ErrCodeUpstreamPushProvider,
			fmt.Sprintf("expo returned %d", resp.StatusCode), nil)
	}

	var out expoTicketResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamPushProvider, "malformed expo response", err)
	}
	if len(out.Errors) > 0 {
		return "", types.NewAppError(types.ErrCodeUpstreamPushProvider, "expo error: "+out.Errors[0].Code, nil)
	}
	if out.Data.Status != "ok" {
		if out.Data.Details.Error == "DeviceNotRegistered" {
			return "", types.NewAppError(types.ErrCodeUpstreamPushProvider, "expo ticket error", ErrDeviceNotRegistered)
		}
		return "", types.NewAppError(types.ErrCodeUpstreamPushProvider, "expo ticket error: "+out.Data.Details.Error, nil)
	}
	return out.Data.ID, nil
}

// IsExpoPushToken reports whether token has the ExponentPushToken[...] or
// ExpoPushToken[...] shape.
func IsExpoPushToken(token string) bool {
	if !strings.HasSuffix(token, "]") {
		return false
	}
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

var _ PushProvider = (*ExpoClient)(nil)

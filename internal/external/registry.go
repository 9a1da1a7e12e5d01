package external

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"safetyalert/internal/config"
)

// ClientRegistry holds the delivery transports selected by configuration.
// Push is nil when PUSH_PROVIDER=none.
type ClientRegistry struct {
	Email EmailProvider
	Push  PushProvider
}

// RegistryOption supplies dependencies that config alone cannot provide.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	awsCfg     *aws.Config
	httpClient *http.Client
}

// WithAWSConfig provides the SDK config required by the SES transport.
func WithAWSConfig(cfg aws.Config) RegistryOption {
	return func(rc *registryConfig) {
		rc.awsCfg = &cfg
	}
}

// WithHTTPClient overrides the HTTP client used by HTTP-based providers.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(rc *registryConfig) {
		rc.httpClient = c
	}
}

// NewClientRegistry builds the mail and push transports named by
// EMAIL_PROVIDER and PUSH_PROVIDER.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.httpClient == nil {
		timeout := cfg.Email.SendTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		rc.httpClient = &http.Client{Timeout: timeout}
	}

	reg := &ClientRegistry{}

	switch cfg.Email.Provider {
	case config.EmailProviderSMTP:
		reg.Email = NewSMTPClient(SMTPClientConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword.Unmask(),
			Logger:   logger.With("client", "smtp"),
		})
	case config.EmailProviderSendGrid:
		reg.Email = NewSendGridClient(rc.httpClient, SendGridClientConfig{
			APIKey:  cfg.Email.SendGridAPIKey.Unmask(),
			BaseURL: cfg.Email.SendGridBaseURL,
			Logger:  logger.With("client", "sendgrid"),
		})
	case config.EmailProviderSES:
		if rc.awsCfg == nil {
			return nil, fmt.Errorf("registry: EMAIL_PROVIDER=ses requires an AWS config")
		}
		reg.Email = NewSESClient(*rc.awsCfg, SESClientConfig{
			ConfigSetName: cfg.Email.SESConfigurationSet,
			Logger:        logger.With("client", "ses"),
		})
	case config.EmailProviderStub:
		reg.Email = NewStubEmailProvider(logger.With("client", "email-stub"))
	default:
		return nil, fmt.Errorf("registry: unknown email provider %q", cfg.Email.Provider)
	}

	switch cfg.Push.Provider {
	case config.PushProviderExpo:
		reg.Push = NewExpoClient(rc.httpClient, ExpoClientConfig{
			URL:         cfg.Push.ExpoURL,
			AccessToken: cfg.Push.AccessToken.Unmask(),
			Logger:      logger.With("client", "expo"),
		})
	case config.PushProviderStub:
		reg.Push = NewStubPushProvider(logger.With("client", "push-stub"))
	case config.PushProviderNone, "":
	default:
		return nil, fmt.Errorf("registry: unknown push provider %q", cfg.Push.Provider)
	}

	logger.Info("delivery transports initialized",
		"email", ProviderName(reg.Email),
		"push", ProviderName(reg.Push),
		"environment", cfg.Environment,
	)
	return reg, nil
}

package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type testSecretProvider struct {
	values     map[string]string
	err        error
	calledWith []string
	callCount  int
}

func (p *testSecretProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	p.callCount++
	p.calledWith = append(p.calledWith, keys...)
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := p.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// fakeEnv backs loaderDeps with a map so SSM resolution is observable
// without touching os.Environ.
type fakeEnv map[string]string

func (e fakeEnv) deps() loaderDeps {
	return loaderDeps{
		lookupEnv: func(k string) (string, bool) { v, ok := e[k]; return v, ok },
		setEnv:    func(k, v string) error { e[k] = v; return nil },
		environ: func() []string {
			out := make([]string, 0, len(e))
			for k, v := range e {
				out = append(out, k+"="+v)
			}
			return out
		},
	}
}

func setLocalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("EMAIL_PROVIDER", "stub")
}

func TestLoadConfig_LocalDefaults(t *testing.T) {
	setLocalEnv(t)

	cfg, err := loadConfigWithDeps(nil, fakeEnv{"APP_ENV": "local"}.deps())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("Environment = %q, want local", cfg.Environment)
	}
	if cfg.Server.BasePort != 3001 {
		t.Errorf("BasePort = %d, want 3001", cfg.Server.BasePort)
	}
	if cfg.Server.DiscoveryFile != "email-server-port.json" {
		t.Errorf("DiscoveryFile = %q", cfg.Server.DiscoveryFile)
	}
	if cfg.Relay.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want 30s", cfg.Relay.Cooldown)
	}
	if cfg.Relay.Retention != time.Hour {
		t.Errorf("Retention = %v, want 1h", cfg.Relay.Retention)
	}
	if cfg.Relay.MaxConcurrentSends != 8 {
		t.Errorf("MaxConcurrentSends = %d, want 8", cfg.Relay.MaxConcurrentSends)
	}
	if cfg.Relay.ResolverMode != ResolverModeStatic {
		t.Errorf("ResolverMode = %q", cfg.Relay.ResolverMode)
	}
	if got := cfg.Relay.ServiceAddresses["police"]; got != "police@gmail.com" {
		t.Errorf("ServiceAddresses[police] = %q", got)
	}
	if len(cfg.Relay.ServiceAddresses) != 4 {
		t.Errorf("ServiceAddresses has %d entries, want 4", len(cfg.Relay.ServiceAddresses))
	}
	if cfg.Email.OperatorAddress != "safety.alert.app@gmail.com" {
		t.Errorf("OperatorAddress = %q", cfg.Email.OperatorAddress)
	}
	if cfg.Build.Version != "dev" {
		t.Errorf("Build.Version = %q", cfg.Build.Version)
	}
	if time.Local != time.UTC {
		t.Error("LoadConfig should force time.Local to UTC")
	}
}

func TestLoadConfig_ServiceAddressesNormalized(t *testing.T) {
	setLocalEnv(t)
	t.Setenv("SERVICE_EMAILS", "Police:dispatch@city.gov, Campus Security : desk@uni.edu")

	cfg, err := loadConfigWithDeps(nil, fakeEnv{"APP_ENV": "local"}.deps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Relay.ServiceAddresses["police"]; got != "dispatch@city.gov" {
		t.Errorf("police = %q", got)
	}
	if got := cfg.Relay.ServiceAddresses["campussecurity"]; got != "desk@uni.edu" {
		t.Errorf("campussecurity = %q", got)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	setLocalEnv(t)
	t.Setenv("EMAIL_PROVIDER", "carrier-pigeon")

	_, err := loadConfigWithDeps(nil, fakeEnv{"APP_ENV": "local"}.deps())

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Type != ErrValidation {
		t.Errorf("Type = %s, want %s", cfgErr.Type, ErrValidation)
	}
}

func TestLoadConfig_ParsingFailure(t *testing.T) {
	setLocalEnv(t)
	t.Setenv("COOLDOWN_WINDOW", "thirty seconds")

	_, err := loadConfigWithDeps(nil, fakeEnv{"APP_ENV": "local"}.deps())

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrParsing {
		t.Fatalf("expected PARSING_FAILED ConfigError, got %v", err)
	}
}

func TestValidateCrossField(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: "dev",
			Email: EmailConfig{
				Provider:     EmailProviderSMTP,
				SMTPUsername: "relay@gmail.com",
				SMTPPassword: SecretString("app-password"),
			},
			Relay:   RelayConfig{ResolverMode: ResolverModeStatic, ServiceAddresses: map[string]string{"fire": "f@x.org"}},
			Tracker: TrackerConfig{Dispatch: DispatchInline},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "store resolver without database",
			mutate:  func(c *Config) { c.Relay.ResolverMode = ResolverModeStore },
			wantErr: "DATABASE_URL",
		},
		{
			name: "store resolver with database",
			mutate: func(c *Config) {
				c.Relay.ResolverMode = ResolverModeStore
				c.Database.URL = "postgres://db/relay"
			},
		},
		{
			name: "queue dispatch without queue",
			mutate: func(c *Config) {
				c.Tracker.Enabled = true
				c.Tracker.Dispatch = DispatchQueue
				c.Database.URL = "postgres://db/relay"
			},
			wantErr: "SQS_ALERT_EVENTS",
		},
		{
			name:    "smtp without password outside local",
			mutate:  func(c *Config) { c.Email.SMTPPassword = "" },
			wantErr: "SMTP_PASSWORD",
		},
		{
			name: "smtp without password in local",
			mutate: func(c *Config) {
				c.Environment = localEnv
				c.Email.SMTPPassword = ""
			},
		},
		{
			name:    "sendgrid without key",
			mutate:  func(c *Config) { c.Email.Provider = EmailProviderSendGrid },
			wantErr: "SENDGRID_API_KEY",
		},
		{
			name: "stub in prod",
			mutate: func(c *Config) {
				c.Environment = "prod"
				c.Email.Provider = EmailProviderStub
			},
			wantErr: "not allowed in prod",
		},
		{
			name:    "empty static table",
			mutate:  func(c *Config) { c.Relay.ServiceAddresses = nil },
			wantErr: "SERVICE_EMAILS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validateCrossField(cfg)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Type != ErrMissingEnv {
				t.Errorf("Type = %s, want %s", cfgErr.Type, ErrMissingEnv)
			}
			if !strings.Contains(cfgErr.Message, tt.wantErr) {
				t.Errorf("Message %q does not mention %q", cfgErr.Message, tt.wantErr)
			}
		})
	}
}

func TestResolveSSMParams_InjectsValues(t *testing.T) {
	env := fakeEnv{
		"APP_ENV":                 "dev",
		"SMTP_PASSWORD_SSM_PARAM": "/dev/safety-alert/smtp/password",
		"DATABASE_URL_SSM_PARAM":  "/dev/safety-alert/database/url",
	}
	provider := &testSecretProvider{values: map[string]string{
		"/dev/safety-alert/smtp/password": "app-password",
		"/dev/safety-alert/database/url":  "postgres://db/relay",
	}}

	if err := resolveSSMParams(provider, env.deps()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env["SMTP_PASSWORD"] != "app-password" {
		t.Errorf("SMTP_PASSWORD = %q", env["SMTP_PASSWORD"])
	}
	if env["DATABASE_URL"] != "postgres://db/relay" {
		t.Errorf("DATABASE_URL = %q", env["DATABASE_URL"])
	}
	if provider.callCount != 1 {
		t.Errorf("provider called %d times, want 1", provider.callCount)
	}
}

func TestResolveSSMParams_EnvWins(t *testing.T) {
	env := fakeEnv{
		"SMTP_PASSWORD":           "from-env",
		"SMTP_PASSWORD_SSM_PARAM": "/dev/safety-alert/smtp/password",
	}
	provider := &testSecretProvider{values: map[string]string{"/dev/safety-alert/smtp/password": "from-ssm"}}

	if err := resolveSSMParams(provider, env.deps()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env["SMTP_PASSWORD"] != "from-env" {
		t.Errorf("SMTP_PASSWORD = %q, want from-env", env["SMTP_PASSWORD"])
	}
	if provider.callCount != 0 {
		t.Errorf("provider should not be called when all targets are set")
	}
}

func TestResolveSSMParams_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider SecretProvider
		wantMsg  string
	}{
		{name: "nil provider", provider: nil, wantMsg: "SecretProvider is required"},
		{name: "provider error", provider: &testSecretProvider{err: errors.New("denied")}, wantMsg: "failed to resolve 1 SSM parameters"},
		{name: "missing value", provider: &testSecretProvider{values: map[string]string{}}, wantMsg: "SSM parameters not found for: SMTP_PASSWORD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := fakeEnv{"SMTP_PASSWORD_SSM_PARAM": "/dev/safety-alert/smtp/password"}
			err := resolveSSMParams(tt.provider, env.deps())

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Type != ErrSSMResolution {
				t.Errorf("Type = %s, want %s", cfgErr.Type, ErrSSMResolution)
			}
			if !strings.Contains(cfgErr.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", cfgErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestConfigError_Format(t *testing.T) {
	inner := errors.New("boom")
	e := &ConfigError{Type: ErrParsing, Message: "bad value", Err: inner}

	if e.Error() != "[PARSING_FAILED] bad value: boom" {
		t.Errorf("Error() = %q", e.Error())
	}
	if !errors.Is(e, inner) {
		t.Error("ConfigError should unwrap to its cause")
	}
	if (&ConfigError{Type: ErrMissingEnv, Message: "x"}).Error() != "[MISSING_ENV] x" {
		t.Error("format without cause is wrong")
	}
}

package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig for every failure so callers can
// tell a missing secret from a malformed value.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: SMTP_PASSWORD_SSM_PARAM holds the
// parameter path whose value becomes SMTP_PASSWORD.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

const ssmResolveTimeout = 30 * time.Second

// loaderDeps holds the environment accessors so tests never touch the real
// process environment.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
	loadDot   func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		loadDot:   func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the relay configuration.
//
// Steps, in order: force UTC, read .env when present, resolve _SSM_PARAM
// pointers through provider (skipped when APP_ENV=local), populate Config via
// envconfig, attach build info, run struct validation, then the cross-field
// rules. provider may be nil for local runs.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// A missing .env is the normal case outside development.
	if deps.loadDot != nil {
		_ = deps.loadDot()
	}

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()
	cfg.Relay.ServiceAddresses = normalizeServiceAddresses(cfg.Relay.ServiceAddresses)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := validateCrossField(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// normalizeServiceAddresses lower-cases category keys and trims addresses so
// lookups match recipients.NormalizeCategory output.
func normalizeServiceAddresses(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.ToLower(strings.Join(strings.Fields(k), ""))
		addr := strings.TrimSpace(v)
		if key == "" || addr == "" {
			continue
		}
		out[key] = addr
	}
	return out
}

// validateCrossField enforces dependencies between sections that struct tags
// cannot express.
func validateCrossField(cfg *Config) error {
	var problems []string

	needsDB := cfg.Relay.ResolverMode == ResolverModeStore || cfg.Tracker.Enabled
	if needsDB && !cfg.Database.URL.IsSet() {
		problems = append(problems, "DATABASE_URL is required when RESOLVER_MODE=store or TRACKER_ENABLED=true")
	}

	if cfg.Tracker.Enabled && cfg.Tracker.Dispatch == DispatchQueue && cfg.AWS.AlertQueueURL == "" {
		problems = append(problems, "SQS_ALERT_EVENTS is required when TRACKER_DISPATCH=queue")
	}

	switch cfg.Email.Provider {
	case EmailProviderSMTP:
		if cfg.Environment != localEnv && (cfg.Email.SMTPUsername == "" || !cfg.Email.SMTPPassword.IsSet()) {
			problems = append(problems, "SMTP_USERNAME and SMTP_PASSWORD are required for EMAIL_PROVIDER=smtp")
		}
	case EmailProviderSendGrid:
		if !cfg.Email.SendGridAPIKey.IsSet() {
			problems = append(problems, "SENDGRID_API_KEY is required for EMAIL_PROVIDER=sendgrid")
		}
	}

	if cfg.Environment == "prod" && cfg.Email.Provider == EmailProviderStub {
		problems = append(problems, "EMAIL_PROVIDER=stub is not allowed in prod")
	}

	if cfg.Relay.ResolverMode == ResolverModeStatic && len(cfg.Relay.ServiceAddresses) == 0 {
		problems = append(problems, "SERVICE_EMAILS must list at least one category when RESOLVER_MODE=static")
	}

	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{
		Type:    ErrMissingEnv,
		Message: strings.Join(problems, "; "),
	}
}

// resolveSSMParams finds every X_SSM_PARAM=/path variable whose target X is
// not already set, fetches the paths in one batch, and exports the results
// as X. Direct env values always win over SSM.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	targets := make(map[string]string) // ssm path -> env var
	for _, entry := range deps.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := deps.lookupEnv(target); set {
			continue
		}
		targets[path] = target
	}
	if len(targets) == 0 {
		return nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			names = append(names, targets[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(names, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmResolveTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		value, ok := resolved[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := deps.setEnv(targets[p], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", targets[p]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

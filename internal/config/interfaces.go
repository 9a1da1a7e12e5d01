package config

import "context"

// SecretProvider resolves SSM-style parameter paths to plaintext values.
// Only keys that exist are present in the returned map.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// Package recipients maps a service category to the addresses that should be
// notified.
package recipients

import (
	"context"
	"strings"

	"safetyalert/internal/types"
)

// Resolver returns the recipients for a category. It never fails: lookup
// problems yield an empty list.
type Resolver interface {
	ResolveByCategory(ctx context.Context, category string) []string
}

// NormalizeCategory trims, lower-cases and removes interior whitespace, so
// "Campus Security" and "campussecurity" are the same category.
func NormalizeCategory(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// ResolveExplicit returns a caller-supplied address unchanged apart from
// surrounding whitespace.
func ResolveExplicit(address string) string {
	return strings.TrimSpace(address)
}

// StaticResolver serves a fixed category table. Categories missing from the
// table resolve to the operator address so an alert is never dropped.
type StaticResolver struct {
	table    map[string]string
	operator string
}

func NewStaticResolver(table map[string]string, operator string) *StaticResolver {
	t := make(map[string]string, len(table))
	for k, v := range table {
		t[NormalizeCategory(k)] = strings.TrimSpace(v)
	}
	return &StaticResolver{table: t, operator: strings.TrimSpace(operator)}
}

func (r *StaticResolver) ResolveByCategory(_ context.Context, category string) []string {
	if addr, ok := r.table[NormalizeCategory(category)]; ok && addr != "" {
		return []string{addr}
	}
	if r.operator == "" {
		return nil
	}
	return []string{r.operator}
}

// ProfileStore is the profile query StoreResolver depends on.
type ProfileStore interface {
	ListEmailsByServiceType(ctx context.Context, category string) ([]string, error)
}

// StoreResolver looks recipients up in the profile store on every call.
type StoreResolver struct {
	store  ProfileStore
	logger types.Logger
}

func NewStoreResolver(store ProfileStore, logger types.Logger) *StoreResolver {
	return &StoreResolver{store: store, logger: logger}
}

// ResolveByCategory returns the de-duplicated, trimmed addresses of every
// profile in category. A store error is logged and yields an empty list; it
// is not retried.
func (r *StoreResolver) ResolveByCategory(ctx context.Context, category string) []string {
	key := NormalizeCategory(category)
	if key == "" {
		return nil
	}
	emails, err := r.store.ListEmailsByServiceType(ctx, key)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("recipient lookup failed", "category", key, "error", err)
		}
		return nil
	}

	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.TrimSpace(e)
		k := strings.ToLower(e)
		if e == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	if r.logger != nil && len(out) == 0 {
		r.logger.Warn("no recipients for category", "category", key)
	}
	return out
}

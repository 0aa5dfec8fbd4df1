package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
)

// Factory builds a provider from its selector. opts is the renewal
// configuration the selector belongs to, for defaults derived from sibling
// selectors.
type Factory[T any] func(ctx context.Context, env *Env, sel *config.Selector, opts *config.RenewalOptions) (T, error)

// Registry maps case-insensitive type tags to factories of one provider
// category.
type Registry[T any] struct {
	kind string

	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// NewRegistry returns an empty registry. kind names the category in errors.
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, factories: make(map[string]Factory[T])}
}

// Register adds or replaces the factory for typ.
func (r *Registry[T]) Register(typ string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(typ)] = f
}

// Types returns the registered type tags, sorted.
func (r *Registry[T]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds the provider selected by sel.
func (r *Registry[T]) New(ctx context.Context, env *Env, sel *config.Selector, opts *config.RenewalOptions) (T, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(sel.Type)]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, model.NewConfigurationError("unsupported %s type %q, expected one of [%s]",
			r.kind, sel.Type, strings.Join(r.Types(), ", "))
	}
	return f(ctx, env, sel, opts)
}

// Default registries. Provider packages register into them from init.
var (
	Responders = NewRegistry[ChallengeResponder]("challengeResponder")
	Stores     = NewRegistry[CertificateStore]("certificateStore")
	Targets    = NewRegistry[TargetResource]("targetResource")
)

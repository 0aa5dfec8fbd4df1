package provider

import (
	"context"
	"fmt"

	"github.com/cpu/acmerenew/config"
)

// Resolver builds the providers of renewal configurations. Providers are
// built fresh for every call.
type Resolver struct {
	Env        *Env
	Responders *Registry[ChallengeResponder]
	Stores     *Registry[CertificateStore]
	Targets    *Registry[TargetResource]
}

// NewResolver returns a Resolver over the default registries.
func NewResolver(env *Env) *Resolver {
	return &Resolver{
		Env:        env,
		Responders: Responders,
		Stores:     Stores,
		Targets:    Targets,
	}
}

// CertificateStore builds the certificate store of opts.
func (r *Resolver) CertificateStore(ctx context.Context, opts *config.RenewalOptions) (CertificateStore, error) {
	store, err := r.Stores.New(ctx, r.Env, StoreSelector(opts), opts)
	if err != nil {
		return nil, fmt.Errorf("resolve certificate store: %w", err)
	}
	return store, nil
}

// ChallengeResponder builds the challenge responder of opts.
func (r *Resolver) ChallengeResponder(ctx context.Context, opts *config.RenewalOptions) (ChallengeResponder, error) {
	responder, err := r.Responders.New(ctx, r.Env, ResponderSelector(opts), opts)
	if err != nil {
		return nil, fmt.Errorf("resolve challenge responder: %w", err)
	}
	return responder, nil
}

// TargetResource builds the target resource of opts.
func (r *Resolver) TargetResource(ctx context.Context, opts *config.RenewalOptions) (TargetResource, error) {
	target, err := r.Targets.New(ctx, r.Env, opts.TargetResource, opts)
	if err != nil {
		return nil, fmt.Errorf("resolve target resource: %w", err)
	}
	return target, nil
}

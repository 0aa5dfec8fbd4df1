// Package responder implements HTTP-01 challenge responders.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
	"github.com/cpu/acmerenew/storage"
)

// ObjectStoreType stages challenges in an arbitrary object store.
const ObjectStoreType = "objectStore"

func init() {
	provider.Responders.Register(provider.StorageAccountType, newStorageAccount)
	provider.Responders.Register(ObjectStoreType, newObjectStore)
	provider.Responders.Register(ChallTestSrvType, newChallTestSrv)
}

// StoreResponder writes key authorizations as objects named after their
// token below a path prefix. The store is expected to be served as the
// /.well-known/acme-challenge/ path of the hostnames, e.g. the $web
// container of a static website.
type StoreResponder struct {
	store  storage.ObjectStore
	prefix string
	log    *logrus.Entry
}

// NewStoreResponder returns a responder writing below prefix of store.
func NewStoreResponder(store storage.ObjectStore, prefix string, log *logrus.Entry) *StoreResponder {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &StoreResponder{store: store, prefix: prefix, log: log}
}

func (r *StoreResponder) InitiateChallenges(ctx context.Context, order acme.Order) ([]*provider.ChallengeContext, error) {
	contexts, err := provider.NewChallengeContexts(ctx, order)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range contexts {
		c := c
		g.Go(func() error {
			r.log.Debugf("Staging challenge %q for %q", c.Token, c.HostName)
			if err := r.store.Write(gctx, r.prefix+c.Token, []byte(c.KeyAuthorization)); err != nil {
				return fmt.Errorf("stage challenge for %q: %w", c.HostName, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return contexts, err
	}
	return contexts, nil
}

func (r *StoreResponder) Cleanup(ctx context.Context, contexts []*provider.ChallengeContext) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, c := range contexts {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.store.Delete(ctx, r.prefix+c.Token); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("remove challenge for %q: %w", c.HostName, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func newStorageAccount(ctx context.Context, env *provider.Env, sel *config.Selector, opts *config.RenewalOptions) (provider.ChallengeResponder, error) {
	o, err := provider.StorageAccountOptionsFor(sel, opts)
	if err != nil {
		return nil, err
	}
	store, err := env.OpenBlobStore(ctx, o)
	if err != nil {
		return nil, err
	}
	log := env.Logger("storageAccount").WithField("account", o.AccountName)
	return NewStoreResponder(store, o.Path, log), nil
}

// ObjectStoreOptions configure the objectStore responder. Without a storage
// type the application storage is used.
type ObjectStoreOptions struct {
	storage.Config
	Path string `json:"path"`
}

func newObjectStore(ctx context.Context, env *provider.Env, sel *config.Selector, _ *config.RenewalOptions) (provider.ChallengeResponder, error) {
	o := ObjectStoreOptions{Path: ".well-known/acme-challenge/"}
	if err := sel.DecodeProperties(&o); err != nil {
		return nil, err
	}

	store := env.AppStorage
	if o.Type != "" {
		opened, err := env.NewObjectStore(ctx, o.Config)
		if err != nil {
			return nil, err
		}
		store = opened
	}
	if store == nil {
		return nil, model.NewConfigurationError("objectStore responder %s has no storage", sel)
	}
	return NewStoreResponder(store, o.Path, env.Logger("objectStore")), nil
}

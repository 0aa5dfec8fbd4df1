package target

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
	"github.com/cpu/acmerenew/providers/store"
	"github.com/cpu/acmerenew/storage"
)

// ObjectStoreType deploys certificates of an objectStore certificate store
// as PEM files, e.g. to a bucket a web server or load balancer reads from.
const ObjectStoreType = "objectStore"

func init() {
	provider.Targets.Register(ObjectStoreType, newObjectStore)
}

// ObjectStoreOptions configure the objectStore target. Without a storage type
// the application storage is used.
type ObjectStoreOptions struct {
	storage.Config
	// Prefix of the deployed certificate directories.
	Prefix string `json:"prefix"`
}

// ObjectStore copies the chain and key of a certificate to
// {prefix}{certificate name}/ of an object store.
type ObjectStore struct {
	source *store.ObjectStore
	dest   storage.ObjectStore
	name   string
	prefix string
	log    *logrus.Entry
}

// NewObjectStore returns a target deploying certificates of source below
// prefix of dest.
func NewObjectStore(source *store.ObjectStore, dest storage.ObjectStore, name, prefix string, log *logrus.Entry) *ObjectStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectStore{source: source, dest: dest, name: name, prefix: prefix, log: log}
}

func newObjectStore(ctx context.Context, env *provider.Env, sel *config.Selector, opts *config.RenewalOptions) (provider.TargetResource, error) {
	storeSel := provider.StoreSelector(opts)
	if !storeSel.Is(store.ObjectStoreType) {
		return nil, model.NewConfigurationError("objectStore target needs an %s certificate store, got %s", store.ObjectStoreType, storeSel)
	}
	o := ObjectStoreOptions{Prefix: "deploy/"}
	if err := sel.DecodeProperties(&o); err != nil {
		return nil, err
	}
	source, err := store.OpenObjectStore(ctx, env, storeSel, opts)
	if err != nil {
		return nil, err
	}

	dest, name := env.AppStorage, "app"
	if o.Type != "" {
		opened, err := env.NewObjectStore(ctx, o.Config)
		if err != nil {
			return nil, err
		}
		dest, name = opened, o.Type
	}
	if dest == nil {
		return nil, model.NewConfigurationError("objectStore target %s has no storage", sel)
	}
	if sel.Name != "" {
		name = sel.Name
	}
	return NewObjectStore(source, dest, name, o.Prefix, env.Logger(ObjectStoreType).WithField("target", name)), nil
}

func (t *ObjectStore) Name() string {
	return t.name
}

func (t *ObjectStore) String() string {
	return fmt.Sprintf("objectStore %q", t.name)
}

func (t *ObjectStore) SupportsCertificateCheck() bool {
	return true
}

func (t *ObjectStore) dir(cert *model.Certificate) string {
	return t.prefix + cert.Name + "/"
}

// IsUsingCertificate reports whether the deployed chain starts with cert.
func (t *ObjectStore) IsUsingCertificate(ctx context.Context, cert *model.Certificate) (bool, error) {
	chain, err := t.dest.Read(ctx, t.dir(cert)+store.ChainFile)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read deployed chain %q: %w", t.dir(cert), err)
	}
	thumbprint, err := leafThumbprint(chain)
	if err != nil {
		t.log.WithError(err).Warnf("Deployed chain in %q is unreadable", t.dir(cert))
		return false, nil
	}
	return strings.EqualFold(thumbprint, cert.Thumbprint), nil
}

// Update copies the stored key and chain of cert. The chain is written last
// so IsUsingCertificate only sees complete deployments.
func (t *ObjectStore) Update(ctx context.Context, cert *model.Certificate) error {
	if cert.Store.Type != store.ObjectStoreType {
		return &model.TargetUpdateError{
			Target: t.String(),
			Msg:    fmt.Sprintf("only certificates from store %s are supported, got %q", store.ObjectStoreType, cert.Store.Type),
		}
	}
	chain, key, err := t.source.ReadPEM(ctx)
	if err != nil {
		return &model.TargetUpdateError{Target: t.String(), Msg: "read stored certificate", Err: err}
	}
	thumbprint, err := leafThumbprint(chain)
	if err != nil {
		return &model.TargetUpdateError{Target: t.String(), Msg: "parse stored chain", Err: err}
	}
	if !strings.EqualFold(thumbprint, cert.Thumbprint) {
		return &model.TargetUpdateError{
			Target: t.String(),
			Msg:    fmt.Sprintf("stored chain has thumbprint %s, expected %s", thumbprint, cert.Thumbprint),
		}
	}

	dir := t.dir(cert)
	t.log.Infof("Deploying %s to %q", cert, dir)
	if err := t.dest.Write(ctx, dir+store.KeyFile, key); err != nil {
		return &model.TargetUpdateError{Target: t.String(), Msg: "write private key", Err: err}
	}
	if err := t.dest.Write(ctx, dir+store.ChainFile, chain); err != nil {
		return &model.TargetUpdateError{Target: t.String(), Msg: "write certificate chain", Err: err}
	}
	return nil
}

func leafThumbprint(chain []byte) (string, error) {
	block, _ := pem.Decode(chain)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", errors.New("no certificate in PEM data")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", err
	}
	return store.Thumbprint(leaf), nil
}

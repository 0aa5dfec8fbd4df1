package store

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
	"github.com/cpu/acmerenew/storage"
)

// ObjectStoreType keeps certificates as PEM files in an object store.
const ObjectStoreType = "objectStore"

// Object names below the certificate directory.
const (
	ChainFile    = "fullchain.pem"
	KeyFile      = "privkey.pem"
	MetadataFile = "metadata.json"
)

// ObjectStoreOptions configure the objectStore certificate store. Without a
// storage type the application storage is used.
type ObjectStoreOptions struct {
	storage.Config
	// Prefix of all certificate directories.
	Prefix string `json:"prefix"`
	// CertificateName is the directory below Prefix. Defaults to the first
	// hostname with dots replaced by dashes.
	CertificateName string `json:"certificateName"`
}

type metadata struct {
	HostNames  []string   `json:"hostNames"`
	NotBefore  *time.Time `json:"notBefore,omitempty"`
	Expires    *time.Time `json:"expires,omitempty"`
	Version    string     `json:"version"`
	Thumbprint string     `json:"thumbprint"`
}

// ObjectStore keeps the chain, key and metadata of a certificate below
// {prefix}{name}/ of an object store.
type ObjectStore struct {
	store     storage.ObjectStore
	storeName string
	dir       string
	name      string
	log       *logrus.Entry
}

// NewObjectStore returns a certificate store of name below prefix of store.
func NewObjectStore(store storage.ObjectStore, storeName, prefix, name string, log *logrus.Entry) *ObjectStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectStore{
		store:     store,
		storeName: storeName,
		dir:       prefix + name + "/",
		name:      name,
		log:       log,
	}
}

func newObjectStore(ctx context.Context, env *provider.Env, sel *config.Selector, opts *config.RenewalOptions) (provider.CertificateStore, error) {
	s, err := OpenObjectStore(ctx, env, sel, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenObjectStore opens the objectStore certificate store selected by sel.
func OpenObjectStore(ctx context.Context, env *provider.Env, sel *config.Selector, opts *config.RenewalOptions) (*ObjectStore, error) {
	o := ObjectStoreOptions{Prefix: "certificates/"}
	if err := sel.DecodeProperties(&o); err != nil {
		return nil, err
	}
	if o.CertificateName == "" {
		o.CertificateName = strings.ReplaceAll(opts.HostNames[0], ".", "-")
	}

	store, storeName := env.AppStorage, "app"
	if o.Type != "" {
		opened, err := env.NewObjectStore(ctx, o.Config)
		if err != nil {
			return nil, err
		}
		store, storeName = opened, o.Type
	}
	if store == nil {
		return nil, model.NewConfigurationError("objectStore certificate store %s has no storage", sel)
	}
	if sel.Name != "" {
		storeName = sel.Name
	}
	log := env.Logger("objectStoreCertificates").WithField("certificate", o.CertificateName)
	return NewObjectStore(store, storeName, o.Prefix, o.CertificateName, log), nil
}

func (s *ObjectStore) Name() string {
	return s.storeName
}

func (s *ObjectStore) GetCertificate(ctx context.Context) (*model.Certificate, error) {
	data, err := s.store.Read(ctx, s.dir+MetadataFile)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read certificate metadata %q: %w", s.dir, err)
	}
	var md metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode certificate metadata %q: %w", s.dir, err)
	}
	return s.toCertificate(md), nil
}

// ReadPEM returns the stored chain and private key.
func (s *ObjectStore) ReadPEM(ctx context.Context) (chain, key []byte, err error) {
	if chain, err = s.store.Read(ctx, s.dir+ChainFile); err != nil {
		return nil, nil, fmt.Errorf("read certificate chain %q: %w", s.dir, err)
	}
	if key, err = s.store.Read(ctx, s.dir+KeyFile); err != nil {
		return nil, nil, fmt.Errorf("read private key %q: %w", s.dir, err)
	}
	return chain, key, nil
}

func (s *ObjectStore) Upload(ctx context.Context, bundle []byte, password string, hostNames []string) (*model.Certificate, error) {
	key, leaf, caCerts, err := pkcs12.DecodeChain(bundle, password)
	if err != nil {
		return nil, fmt.Errorf("decode certificate bundle: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}

	var chain []byte
	for _, c := range append([]*x509.Certificate{leaf}, caCerts...) {
		chain = append(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	notBefore, expires := leaf.NotBefore.UTC(), leaf.NotAfter.UTC()
	md := metadata{
		HostNames:  leaf.DNSNames,
		NotBefore:  &notBefore,
		Expires:    &expires,
		Version:    leaf.SerialNumber.Text(16),
		Thumbprint: Thumbprint(leaf),
	}
	mdJSON, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, err
	}

	s.log.Infof("Storing certificate for [%s] in %q", strings.Join(hostNames, ", "), s.dir)
	// Metadata goes last, GetCertificate only sees complete uploads.
	if err := s.store.Write(ctx, s.dir+KeyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	if err := s.store.Write(ctx, s.dir+ChainFile, chain); err != nil {
		return nil, fmt.Errorf("write certificate chain: %w", err)
	}
	if err := s.store.Write(ctx, s.dir+MetadataFile, mdJSON); err != nil {
		return nil, fmt.Errorf("write certificate metadata: %w", err)
	}
	return s.toCertificate(md), nil
}

func (s *ObjectStore) toCertificate(md metadata) *model.Certificate {
	return &model.Certificate{
		Name:       s.name,
		HostNames:  md.HostNames,
		NotBefore:  md.NotBefore,
		Expires:    md.Expires,
		Version:    md.Version,
		Thumbprint: md.Thumbprint,
		Store: model.StoreRef{
			Name: s.storeName,
			Type: ObjectStoreType,
		},
	}
}

// Package store implements certificate stores.
package store

import (
	"context"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/azure"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
	"github.com/cpu/acmerenew/secrets"
)

const vaultAPIVersion = "7.4"

func init() {
	provider.Stores.Register(provider.KeyVaultType, newKeyVault)
	provider.Stores.Register(ObjectStoreType, newObjectStore)
}

// KeyVault keeps certificates as Key Vault certificates.
type KeyVault struct {
	vault      azure.Requester
	opts       provider.KeyVaultOptions
	resourceID string
	log        *logrus.Entry
}

// NewKeyVault returns a store of the certificate opts.CertificateName in the
// vault reached through vault.
func NewKeyVault(vault azure.Requester, subscriptionID string, opts provider.KeyVaultOptions, log *logrus.Entry) *KeyVault {
	return &KeyVault{
		vault:      vault,
		opts:       opts,
		resourceID: azure.KeyVaultResourceID(subscriptionID, opts.ResourceGroupName, opts.Name),
		log:        log,
	}
}

func newKeyVault(_ context.Context, env *provider.Env, sel *config.Selector, opts *config.RenewalOptions) (provider.CertificateStore, error) {
	o, err := provider.KeyVaultOptionsFor(sel, opts)
	if err != nil {
		return nil, err
	}
	vault, err := env.RequireVault(o.Name)
	if err != nil {
		return nil, err
	}
	log := env.Logger(provider.KeyVaultType).WithField("vault", o.Name)
	return NewKeyVault(vault, env.SubscriptionID, o, log), nil
}

func (kv *KeyVault) Name() string {
	return kv.opts.Name
}

type certificateAttributes struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	NotBefore *int64 `json:"nbf,omitempty"`
	Expires   *int64 `json:"exp,omitempty"`
}

type certificateBundle struct {
	ID         string                `json:"id"`
	CER        []byte                `json:"cer"`
	Attributes certificateAttributes `json:"attributes"`
}

type importRequest struct {
	Value  string       `json:"value"`
	Pwd    string       `json:"pwd"`
	Policy importPolicy `json:"policy"`
}

type importPolicy struct {
	SecretProps struct {
		ContentType string `json:"contentType"`
	} `json:"secret_props"`
}

func (kv *KeyVault) certificatePath(suffix string) string {
	return fmt.Sprintf("/certificates/%s%s?api-version=%s", url.PathEscape(kv.opts.CertificateName), suffix, vaultAPIVersion)
}

func (kv *KeyVault) GetCertificate(ctx context.Context) (*model.Certificate, error) {
	var bundle certificateBundle
	err := kv.vault.Do(ctx, http.MethodGet, kv.certificatePath(""), nil, &bundle)
	if secrets.IsNotFound(err) {
		kv.log.Debugf("Certificate %q not found", kv.opts.CertificateName)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get certificate %q from vault %q: %w", kv.opts.CertificateName, kv.opts.Name, err)
	}
	return kv.toCertificate(&bundle)
}

func (kv *KeyVault) Upload(ctx context.Context, bundle []byte, password string, hostNames []string) (*model.Certificate, error) {
	req := importRequest{
		Value: base64.StdEncoding.EncodeToString(bundle),
		Pwd:   password,
	}
	req.Policy.SecretProps.ContentType = "application/x-pkcs12"

	kv.log.Infof("Importing certificate %q for [%s]", kv.opts.CertificateName, strings.Join(hostNames, ", "))
	var imported certificateBundle
	if err := kv.vault.Do(ctx, http.MethodPost, kv.certificatePath("/import"), req, &imported); err != nil {
		return nil, fmt.Errorf("import certificate %q into vault %q: %w", kv.opts.CertificateName, kv.opts.Name, err)
	}
	return kv.toCertificate(&imported)
}

func (kv *KeyVault) toCertificate(b *certificateBundle) (*model.Certificate, error) {
	cert := &model.Certificate{
		Name:    kv.opts.CertificateName,
		Version: path.Base(b.ID),
		Store: model.StoreRef{
			Name:       kv.opts.Name,
			Type:       provider.KeyVaultType,
			ResourceID: kv.resourceID,
		},
		NotBefore: unixTime(b.Attributes.NotBefore),
		Expires:   unixTime(b.Attributes.Expires),
	}
	if len(b.CER) > 0 {
		x, err := x509.ParseCertificate(b.CER)
		if err != nil {
			return nil, fmt.Errorf("parse certificate %q: %w", kv.opts.CertificateName, err)
		}
		cert.HostNames = x.DNSNames
		cert.Thumbprint = Thumbprint(x)
	}
	return cert, nil
}

func unixTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

// Thumbprint returns the upper case hex SHA-1 of the DER encoding of c.
func Thumbprint(c *x509.Certificate) string {
	sum := sha1.Sum(c.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

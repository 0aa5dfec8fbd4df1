package provider

import (
	"strings"

	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
)

// Type tags of the built-in providers.
const (
	KeyVaultType       = "keyVault"
	StorageAccountType = "storageAccount"
	CdnType            = "cdn"
	AppServiceType     = "appService"
)

// StoreSelector returns the certificate store selector of opts. Without one
// the Key Vault named after the target resource is used.
func StoreSelector(opts *config.RenewalOptions) *config.Selector {
	if opts.CertificateStore != nil {
		return opts.CertificateStore
	}
	return &config.Selector{Type: KeyVaultType, Name: opts.TargetResource.Name}
}

// ResponderSelector returns the challenge responder selector of opts.
// Without one the storage account named after the target resource is used.
func ResponderSelector(opts *config.RenewalOptions) *config.Selector {
	if opts.ChallengeResponder != nil {
		return opts.ChallengeResponder
	}
	return &config.Selector{Type: StorageAccountType, Name: opts.TargetResource.Name}
}

// StorageAccountName turns a resource name into a valid storage account name.
func StorageAccountName(name string) string {
	return strings.ReplaceAll(name, "-", "")
}

// KeyVaultOptions configure the keyVault certificate store.
type KeyVaultOptions struct {
	// Name of the vault. Defaults to the selector name, then to the target
	// resource name.
	Name string `json:"name"`
	// CertificateName defaults to the first hostname with dots replaced by
	// dashes.
	CertificateName string `json:"certificateName"`
	// ResourceGroupName of the vault. Defaults to Name.
	ResourceGroupName string `json:"resourceGroupName"`
}

// KeyVaultOptionsFor decodes and defaults the keyVault options of sel.
func KeyVaultOptionsFor(sel *config.Selector, opts *config.RenewalOptions) (KeyVaultOptions, error) {
	var o KeyVaultOptions
	if err := sel.DecodeProperties(&o); err != nil {
		return o, err
	}
	if o.Name == "" {
		o.Name = sel.Name
	}
	if o.Name == "" {
		o.Name = opts.TargetResource.Name
	}
	if o.Name == "" {
		return o, model.NewConfigurationError("keyVault store for [%s] has no vault name", strings.Join(opts.HostNames, ", "))
	}
	if o.CertificateName == "" {
		o.CertificateName = strings.ReplaceAll(opts.HostNames[0], ".", "-")
	}
	if o.ResourceGroupName == "" {
		o.ResourceGroupName = o.Name
	}
	return o, nil
}

// StorageAccountOptions configure the storageAccount challenge responder.
type StorageAccountOptions struct {
	// AccountName is used with the managed identity. Defaults to the selector
	// name, then to the target resource name, without dashes.
	AccountName   string `json:"accountName"`
	ContainerName string `json:"containerName"`
	// Path of the challenge files within the container.
	Path string `json:"path"`
	// ConnectionString is used when managed identity access is denied.
	ConnectionString string `json:"connectionString"`
	// KeyVaultName holds the secret with a connection string, used when no
	// ConnectionString is set. Defaults to the vault of the certificate
	// store.
	KeyVaultName string `json:"keyVaultName"`
	SecretName   string `json:"secretName"`
}

// StorageAccountOptionsFor decodes and defaults the storageAccount options
// of sel.
func StorageAccountOptionsFor(sel *config.Selector, opts *config.RenewalOptions) (StorageAccountOptions, error) {
	o := StorageAccountOptions{
		ContainerName: "$web",
		Path:          ".well-known/acme-challenge/",
		SecretName:    "Storage",
	}
	if err := sel.DecodeProperties(&o); err != nil {
		return o, err
	}
	if o.AccountName == "" {
		name := sel.Name
		if name == "" {
			name = opts.TargetResource.Name
		}
		o.AccountName = StorageAccountName(name)
	}
	if !strings.HasSuffix(o.Path, "/") {
		o.Path += "/"
	}
	if o.KeyVaultName == "" {
		store := StoreSelector(opts)
		if store.Is(KeyVaultType) {
			kv, err := KeyVaultOptionsFor(store, opts)
			if err != nil {
				return o, err
			}
			o.KeyVaultName = kv.Name
		} else {
			o.KeyVaultName = store.Name
		}
	}
	return o, nil
}

// CdnOptions configure the cdn target resource.
type CdnOptions struct {
	// Name of the CDN profile.
	Name              string   `json:"name"`
	ResourceGroupName string   `json:"resourceGroupName"`
	Endpoints         []string `json:"endpoints"`
}

// CdnOptionsFor decodes and defaults the cdn options of sel.
func CdnOptionsFor(sel *config.Selector) (CdnOptions, error) {
	var o CdnOptions
	if err := sel.DecodeProperties(&o); err != nil {
		return o, err
	}
	if o.Name == "" {
		o.Name = sel.Name
	}
	if o.Name == "" {
		return o, model.NewConfigurationError("cdn target is missing required property name")
	}
	if o.ResourceGroupName == "" {
		o.ResourceGroupName = o.Name
	}
	if len(o.Endpoints) == 0 {
		o.Endpoints = []string{o.Name}
	}
	return o, nil
}

// AppServiceOptions configure the appService target resource.
type AppServiceOptions struct {
	Name              string `json:"name"`
	ResourceGroupName string `json:"resourceGroupName"`
}

// AppServiceOptionsFor decodes and defaults the appService options of sel.
func AppServiceOptionsFor(sel *config.Selector) (AppServiceOptions, error) {
	var o AppServiceOptions
	if err := sel.DecodeProperties(&o); err != nil {
		return o, err
	}
	if o.Name == "" {
		o.Name = sel.Name
	}
	if o.Name == "" {
		return o, model.NewConfigurationError("appService target is missing required property name")
	}
	if o.ResourceGroupName == "" {
		o.ResourceGroupName = o.Name
	}
	return o, nil
}

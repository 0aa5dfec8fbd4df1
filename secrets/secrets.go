// Package secrets reads secret values, such as storage connection strings,
// from Azure Key Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// Store looks up secrets by vault and name.
type Store interface {
	// GetSecret returns the latest value of a secret. found is false when the
	// vault has no such secret.
	GetSecret(ctx context.Context, vault, name string) (value string, found bool, err error)
}

// VaultURL returns the URL of a vault. Names that already are URLs are
// returned unchanged.
func VaultURL(vault string) string {
	if strings.HasPrefix(vault, "https://") {
		return vault
	}
	return fmt.Sprintf("https://%s.vault.azure.net/", vault)
}

// KeyVault is a Store backed by the Key Vault secrets API. Clients are
// created per vault on first use.
type KeyVault struct {
	cred azcore.TokenCredential

	mu      sync.Mutex
	clients map[string]*azsecrets.Client
}

// NewKeyVault returns a Store authenticating with cred.
func NewKeyVault(cred azcore.TokenCredential) *KeyVault {
	return &KeyVault{
		cred:    cred,
		clients: make(map[string]*azsecrets.Client),
	}
}

func (k *KeyVault) client(vault string) (*azsecrets.Client, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	url := VaultURL(vault)
	if c, ok := k.clients[url]; ok {
		return c, nil
	}
	c, err := azsecrets.NewClient(url, k.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create secrets client for %q: %w", vault, err)
	}
	k.clients[url] = c
	return c, nil
}

func (k *KeyVault) GetSecret(ctx context.Context, vault, name string) (string, bool, error) {
	if vault == "" || name == "" {
		return "", false, fmt.Errorf("vault and secret name are required")
	}
	c, err := k.client(vault)
	if err != nil {
		return "", false, err
	}
	resp, err := c.GetSecret(ctx, name, "", nil)
	if err != nil {
		if IsNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get secret %q from %q: %w", name, vault, err)
	}
	if resp.Value == nil {
		return "", false, nil
	}
	return *resp.Value, true, nil
}

// IsNotFound reports whether err is a 404 response from an Azure service.
func IsNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// Static is a Store over fixed values keyed by vault and name. It serves
// deployments without Key Vault.
type Static map[string]map[string]string

func (s Static) GetSecret(_ context.Context, vault, name string) (string, bool, error) {
	v, ok := s[vault][name]
	return v, ok, nil
}

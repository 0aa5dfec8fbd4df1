// Package azure sends JSON requests to the Azure management plane and to Key
// Vault data plane endpoints.
package azure

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/secrets"
)

const (
	moduleName    = "github.com/cpu/acmerenew"
	moduleVersion = "v0.1.0"

	// VaultScope is the token scope of the Key Vault data plane.
	VaultScope = "https://vault.azure.net/.default"
)

// Requester sends a JSON request to path, relative to the endpoint of the
// implementation, and decodes a JSON response into out when it is not nil.
// Non 2xx responses are returned as *azcore.ResponseError.
type Requester interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// Client is a Requester over an azcore pipeline.
type Client struct {
	endpoint string
	pipeline runtime.Pipeline
	log      *logrus.Entry
}

// NewClient returns a Client sending requests through pipeline to endpoint.
func NewClient(endpoint string, pipeline runtime.Pipeline, log *logrus.Entry) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		pipeline: pipeline,
		log:      log,
	}
}

// NewManagementClient returns a Client for the Azure Resource Manager
// endpoint of the public cloud.
func NewManagementClient(cred azcore.TokenCredential, log *logrus.Entry) (*Client, error) {
	c, err := arm.NewClient(moduleName, moduleVersion, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create management client: %w", err)
	}
	return NewClient(c.Endpoint(), c.Pipeline(), log.WithField("endpoint", "management")), nil
}

// NewVaultClient returns a Client for the data plane of a Key Vault.
func NewVaultClient(vault string, cred azcore.TokenCredential, log *logrus.Entry) (*Client, error) {
	plOpts := runtime.PipelineOptions{
		PerRetry: []policy.Policy{runtime.NewBearerTokenPolicy(cred, []string{VaultScope}, nil)},
	}
	c, err := azcore.NewClient(moduleName, moduleVersion, plOpts, nil)
	if err != nil {
		return nil, fmt.Errorf("create vault client for %q: %w", vault, err)
	}
	return NewClient(secrets.VaultURL(vault), c.Pipeline(), log.WithField("vault", vault)), nil
}

func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	req, err := runtime.NewRequest(ctx, method, c.endpoint+path)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return fmt.Errorf("encode request %s %s: %w", method, path, err)
		}
	}

	c.log.Debugf("Sending %s %s", method, path)
	resp, err := c.pipeline.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent) {
		return runtime.NewResponseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := runtime.UnmarshalAsJSON(resp, out); err != nil {
		return fmt.Errorf("decode response %s %s: %w", method, path, err)
	}
	return nil
}

var resourceGroupPattern = regexp.MustCompile(`(?i)^/subscriptions/[\w-]+/resourceGroups/([\w.()-]+)/`)

// ResourceGroupFromID returns the resource group segment of a resource id.
func ResourceGroupFromID(id string) (string, error) {
	m := resourceGroupPattern.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("no resource group in resource id %q", id)
	}
	return m[1], nil
}

// ResourceGroupPath returns the management path of a resource group.
func ResourceGroupPath(subscriptionID, resourceGroup string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s", subscriptionID, resourceGroup)
}

// KeyVaultResourceID returns the resource id of a Key Vault.
func KeyVaultResourceID(subscriptionID, resourceGroup, vault string) string {
	return ResourceGroupPath(subscriptionID, resourceGroup) + "/providers/Microsoft.KeyVault/vaults/" + vault
}

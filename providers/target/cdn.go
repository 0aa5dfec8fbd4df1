// Package target implements target resources on Azure.
package target

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cpu/acmerenew/azure"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
)

const (
	cdnListAPIVersion  = "2019-04-15"
	cdnHTTPSAPIVersion = "2018-04-02"
)

func init() {
	provider.Targets.Register(provider.CdnType, newCdn)
	provider.Targets.Register(provider.AppServiceType, newAppService)
}

// Cdn serves Key Vault certificates on the custom domains of a CDN profile.
type Cdn struct {
	mgmt           azure.Requester
	subscriptionID string
	opts           provider.CdnOptions
	log            *logrus.Entry
}

// NewCdn returns the CDN profile target described by opts.
func NewCdn(mgmt azure.Requester, subscriptionID string, opts provider.CdnOptions, log *logrus.Entry) *Cdn {
	return &Cdn{mgmt: mgmt, subscriptionID: subscriptionID, opts: opts, log: log}
}

func newCdn(_ context.Context, env *provider.Env, sel *config.Selector, _ *config.RenewalOptions) (provider.TargetResource, error) {
	o, err := provider.CdnOptionsFor(sel)
	if err != nil {
		return nil, err
	}
	mgmt, sub, err := env.RequireManagement("cdn target")
	if err != nil {
		return nil, err
	}
	return NewCdn(mgmt, sub, o, env.Logger(provider.CdnType).WithField("profile", o.Name)), nil
}

func (c *Cdn) Name() string {
	return c.opts.Name
}

func (c *Cdn) SupportsCertificateCheck() bool {
	return false
}

func (c *Cdn) IsUsingCertificate(context.Context, *model.Certificate) (bool, error) {
	return false, provider.ErrCertificateCheckUnsupported
}

type cdnEndpoint struct {
	Name       string `json:"name"`
	Properties struct {
		CustomDomains []cdnCustomDomain `json:"customDomains"`
	} `json:"properties"`
}

type cdnCustomDomain struct {
	// Name is the normalized domain, e.g. www-example-com.
	Name       string `json:"name"`
	Properties struct {
		HostName string `json:"hostName"`
	} `json:"properties"`
}

type customHTTPSParameters struct {
	CertificateSource           string                      `json:"certificateSource"`
	ProtocolType                string                      `json:"protocolType"`
	CertificateSourceParameters certificateSourceParameters `json:"certificateSourceParameters"`
}

type certificateSourceParameters struct {
	ODataType         string `json:"@odata.type"`
	ResourceGroupName string `json:"resourceGroupName"`
	SecretName        string `json:"SecretName"`
	SecretVersion     string `json:"SecretVersion"`
	SubscriptionID    string `json:"subscriptionId"`
	VaultName         string `json:"vaultName"`
	UpdateRule        string `json:"updateRule"`
	DeleteRule        string `json:"deleteRule"`
}

func (c *Cdn) profilePath() string {
	return fmt.Sprintf("%s/providers/Microsoft.Cdn/profiles/%s",
		azure.ResourceGroupPath(c.subscriptionID, c.opts.ResourceGroupName), url.PathEscape(c.opts.Name))
}

// matchingEndpoints returns the configured endpoints with a custom domain of
// cert.
func (c *Cdn) matchingEndpoints(ctx context.Context, cert *model.Certificate) ([]cdnEndpoint, error) {
	var list struct {
		Value []cdnEndpoint `json:"value"`
	}
	path := fmt.Sprintf("%s/endpoints?api-version=%s", c.profilePath(), cdnListAPIVersion)
	if err := c.mgmt.Do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	var matching []cdnEndpoint
	for _, ep := range list.Value {
		if !model.ContainsHostName(c.opts.Endpoints, ep.Name) {
			continue
		}
		for _, d := range ep.Properties.CustomDomains {
			if model.ContainsHostName(cert.HostNames, d.Properties.HostName) {
				matching = append(matching, ep)
				break
			}
		}
	}
	return matching, nil
}

// Update enables custom HTTPS with cert on every custom domain of the
// matching endpoints. Provisioning continues asynchronously on Azure.
func (c *Cdn) Update(ctx context.Context, cert *model.Certificate) error {
	if cert.Store.Type != provider.KeyVaultType {
		return &model.TargetUpdateError{
			Target: c.String(),
			Msg:    fmt.Sprintf("only certificates from store %s are supported, got %q", provider.KeyVaultType, cert.Store.Type),
		}
	}

	endpoints, err := c.matchingEndpoints(ctx, cert)
	if err != nil {
		return &model.TargetUpdateError{Target: c.String(), Msg: "list endpoints", Err: err}
	}
	if len(endpoints) == 0 {
		c.log.Warnf("No endpoint of %v has a custom domain of [%s]", c.opts.Endpoints, strings.Join(cert.HostNames, ", "))
		return nil
	}

	params := customHTTPSParameters{
		CertificateSource: "AzureKeyVault",
		ProtocolType:      "ServerNameIndication",
		CertificateSourceParameters: certificateSourceParameters{
			ODataType:         "#Microsoft.Azure.Cdn.Models.KeyVaultCertificateSourceParameters",
			ResourceGroupName: c.opts.ResourceGroupName,
			SecretName:        cert.Name,
			SecretVersion:     cert.Version,
			SubscriptionID:    c.subscriptionID,
			VaultName:         cert.Store.Name,
			UpdateRule:        "NoAction",
			DeleteRule:        "NoAction",
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range endpoints {
		ep := ep
		for _, d := range ep.Properties.CustomDomains {
			d := d
			g.Go(func() error {
				c.log.Infof("Enabling custom HTTPS on %s/%s with %s", ep.Name, d.Name, cert)
				path := fmt.Sprintf("%s/endpoints/%s/customDomains/%s/enableCustomHttps?api-version=%s",
					c.profilePath(), url.PathEscape(ep.Name), url.PathEscape(d.Name), cdnHTTPSAPIVersion)
				if err := c.mgmt.Do(gctx, http.MethodPost, path, params, nil); err != nil {
					return &model.TargetUpdateError{
						Target: c.String(),
						Msg:    fmt.Sprintf("enable custom https on %s/%s", ep.Name, d.Name),
						Err:    err,
					}
				}
				return nil
			})
		}
	}
	return g.Wait()
}

func (c *Cdn) String() string {
	return fmt.Sprintf("cdn %q", c.opts.Name)
}

package target

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/azure"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
)

const (
	webAPIVersion             = "2018-11-01"
	webCertificatesAPIVersion = "2016-03-01"
)

// AppService binds Key Vault certificates to the hostnames of a web app.
type AppService struct {
	mgmt           azure.Requester
	subscriptionID string
	opts           provider.AppServiceOptions
	log            *logrus.Entry
}

// NewAppService returns the web app target described by opts.
func NewAppService(mgmt azure.Requester, subscriptionID string, opts provider.AppServiceOptions, log *logrus.Entry) *AppService {
	return &AppService{mgmt: mgmt, subscriptionID: subscriptionID, opts: opts, log: log}
}

func newAppService(_ context.Context, env *provider.Env, sel *config.Selector, _ *config.RenewalOptions) (provider.TargetResource, error) {
	o, err := provider.AppServiceOptionsFor(sel)
	if err != nil {
		return nil, err
	}
	mgmt, sub, err := env.RequireManagement("appService target")
	if err != nil {
		return nil, err
	}
	return NewAppService(mgmt, sub, o, env.Logger(provider.AppServiceType).WithField("app", o.Name)), nil
}

func (a *AppService) Name() string {
	return a.opts.Name
}

func (a *AppService) String() string {
	return fmt.Sprintf("appService %q", a.opts.Name)
}

type site struct {
	Location   string `json:"location"`
	Properties struct {
		ServerFarmID string `json:"serverFarmId"`
		// EnabledHostNames includes the azurewebsites.net and scm names.
		EnabledHostNames []string `json:"enabledHostNames"`
	} `json:"properties"`
}

type webCertificate struct {
	Name       string `json:"name"`
	Properties struct {
		HostNames  []string `json:"hostNames"`
		Thumbprint string   `json:"thumbprint"`
	} `json:"properties"`
}

type hostNameBinding struct {
	// Name is "<site>/<hostname>".
	Name       string `json:"name"`
	Properties struct {
		SSLState   string `json:"sslState"`
		Thumbprint string `json:"thumbprint"`
	} `json:"properties"`
}

func (a *AppService) sitePath() string {
	return fmt.Sprintf("%s/providers/Microsoft.Web/sites/%s",
		azure.ResourceGroupPath(a.subscriptionID, a.opts.ResourceGroupName), url.PathEscape(a.opts.Name))
}

func (a *AppService) certificatesPath(resourceGroup string) string {
	return azure.ResourceGroupPath(a.subscriptionID, resourceGroup) + "/providers/Microsoft.Web/certificates"
}

func (a *AppService) site(ctx context.Context) (*site, error) {
	var s site
	if err := a.mgmt.Do(ctx, http.MethodGet, fmt.Sprintf("%s?api-version=%s", a.sitePath(), webAPIVersion), nil, &s); err != nil {
		return nil, fmt.Errorf("get web app %q in resource group %q: %w", a.opts.Name, a.opts.ResourceGroupName, err)
	}
	return &s, nil
}

func (a *AppService) SupportsCertificateCheck() bool {
	return true
}

// IsUsingCertificate reports whether every hostname of cert assigned to the
// web app is bound with the thumbprint of cert.
func (a *AppService) IsUsingCertificate(ctx context.Context, cert *model.Certificate) (bool, error) {
	s, err := a.site(ctx)
	if err != nil {
		return false, err
	}
	hostNames := model.MatchingHostNames(cert.HostNames, s.Properties.EnabledHostNames)
	if len(hostNames) == 0 {
		return false, nil
	}

	var list struct {
		Value []hostNameBinding `json:"value"`
	}
	p := fmt.Sprintf("%s/hostNameBindings?api-version=%s", a.sitePath(), webAPIVersion)
	if err := a.mgmt.Do(ctx, http.MethodGet, p, nil, &list); err != nil {
		return false, fmt.Errorf("list host name bindings of %q: %w", a.opts.Name, err)
	}
	thumbprints := make(map[string]string, len(list.Value))
	for _, b := range list.Value {
		thumbprints[model.NormalizeHostName(path.Base(b.Name))] = b.Properties.Thumbprint
	}
	for _, h := range hostNames {
		if !strings.EqualFold(thumbprints[model.NormalizeHostName(h)], cert.Thumbprint) {
			a.log.Debugf("Hostname %q is not bound to %s", h, cert)
			return false, nil
		}
	}
	return true, nil
}

// Update uploads cert next to the app service plan, binds it to every
// matching hostname and deletes older certificates of those hostnames.
func (a *AppService) Update(ctx context.Context, cert *model.Certificate) error {
	if cert.Store.Type != provider.KeyVaultType {
		return &model.TargetUpdateError{
			Target: a.String(),
			Msg:    fmt.Sprintf("only certificates from store %s are supported, got %q", provider.KeyVaultType, cert.Store.Type),
		}
	}

	s, err := a.site(ctx)
	if err != nil {
		return &model.TargetUpdateError{Target: a.String(), Err: err}
	}
	hostNames := model.MatchingHostNames(cert.HostNames, s.Properties.EnabledHostNames)
	if len(hostNames) == 0 {
		return &model.TargetUpdateError{
			Target: a.String(),
			Msg:    fmt.Sprintf("no hostname of [%s] is assigned to the web app", strings.Join(cert.HostNames, ", ")),
		}
	}

	// Certificates cannot be moved once bound, keep them next to the plan.
	planGroup, err := azure.ResourceGroupFromID(s.Properties.ServerFarmID)
	if err != nil {
		return &model.TargetUpdateError{Target: a.String(), Err: err}
	}
	certName := fmt.Sprintf("%s-%s", hostNames[0], cert.Thumbprint)

	a.log.Infof("Adding certificate %s as %q to resource group %q", cert, certName, planGroup)
	upload := map[string]any{
		"location": s.Location,
		"properties": map[string]string{
			"keyVaultId":         cert.Store.ResourceID,
			"keyVaultSecretName": cert.Name,
			"serverFarmId":       s.Properties.ServerFarmID,
		},
	}
	p := fmt.Sprintf("%s/%s?api-version=%s", a.certificatesPath(planGroup), url.PathEscape(certName), webAPIVersion)
	if err := a.mgmt.Do(ctx, http.MethodPut, p, upload, nil); err != nil {
		return &model.TargetUpdateError{Target: a.String(), Msg: "upload certificate " + certName, Err: err}
	}

	a.log.Infof("Binding [%s] to %s", strings.Join(hostNames, ", "), cert)
	var errs []error
	for _, h := range hostNames {
		binding := map[string]any{
			"location": s.Location,
			"properties": map[string]string{
				"sslState":   "SniEnabled",
				"thumbprint": cert.Thumbprint,
			},
		}
		p := fmt.Sprintf("%s/hostNameBindings/%s?api-version=%s", a.sitePath(), url.PathEscape(h), webAPIVersion)
		if err := a.mgmt.Do(ctx, http.MethodPut, p, binding, nil); err != nil {
			errs = append(errs, fmt.Errorf("bind %q: %w", h, err))
		}
	}
	if len(errs) > 0 {
		return &model.TargetUpdateError{Target: a.String(), Msg: "bind hostnames", Err: errors.Join(errs...)}
	}

	a.cleanup(ctx, planGroup, hostNames, cert)
	return nil
}

// cleanup deletes certificates of hostNames with another thumbprint. Errors
// are logged only, the new certificate is already in use.
func (a *AppService) cleanup(ctx context.Context, resourceGroup string, hostNames []string, cert *model.Certificate) {
	var list struct {
		Value []webCertificate `json:"value"`
	}
	p := fmt.Sprintf("%s?api-version=%s", a.certificatesPath(resourceGroup), webCertificatesAPIVersion)
	if err := a.mgmt.Do(ctx, http.MethodGet, p, nil, &list); err != nil {
		a.log.WithError(err).Errorf("Failed to list certificates in resource group %q", resourceGroup)
		return
	}

	for _, c := range list.Value {
		if strings.EqualFold(c.Properties.Thumbprint, cert.Thumbprint) || !model.IntersectsHostNames(c.Properties.HostNames, hostNames) {
			continue
		}
		a.log.Infof("Removing old certificate %q", c.Name)
		p := fmt.Sprintf("%s/%s?api-version=%s", a.certificatesPath(resourceGroup), url.PathEscape(c.Name), webCertificatesAPIVersion)
		if err := a.mgmt.Do(ctx, http.MethodDelete, p, nil, nil); err != nil {
			a.log.WithError(err).Errorf("Failed to delete certificate %q in resource group %q", c.Name, resourceGroup)
		}
	}
}

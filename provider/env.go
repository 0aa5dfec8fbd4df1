package provider

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/azure"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/secrets"
	"github.com/cpu/acmerenew/storage"
)

// HTTPOneServer serves HTTP-01 key authorizations, e.g. an in-process
// challenge test server.
type HTTPOneServer interface {
	AddHTTPOneChallenge(token, content string)
	DeleteHTTPOneChallenge(token string)
}

// Env holds the services factories build providers from. Unset services make
// the providers needing them fail with a ConfigurationError.
type Env struct {
	SubscriptionID string
	// Credential is the managed identity or developer credential.
	Credential azcore.TokenCredential
	// Management sends requests to Azure Resource Manager.
	Management azure.Requester
	// Vault returns a requester for the data plane of a Key Vault.
	Vault func(name string) (azure.Requester, error)
	Secrets secrets.Store
	// AppStorage is the object store of application state.
	AppStorage storage.ObjectStore
	// OpenStore opens object stores. Defaults to storage.New.
	OpenStore func(ctx context.Context, cfg storage.Config) (storage.ObjectStore, error)
	HTTPOne   HTTPOneServer

	Log *logrus.Entry
}

// Logger returns the env logger tagged with component.
func (e *Env) Logger(component string) *logrus.Entry {
	log := e.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("component", component)
}

// NewObjectStore opens an object store with OpenStore.
func (e *Env) NewObjectStore(ctx context.Context, cfg storage.Config) (storage.ObjectStore, error) {
	if e.OpenStore != nil {
		return e.OpenStore(ctx, cfg)
	}
	return storage.New(ctx, cfg)
}

// RequireManagement returns the management requester and subscription.
func (e *Env) RequireManagement(kind string) (azure.Requester, string, error) {
	if e.Management == nil || e.SubscriptionID == "" {
		return nil, "", model.NewConfigurationError("%s needs an Azure subscription id and credential", kind)
	}
	return e.Management, e.SubscriptionID, nil
}

// RequireVault returns the data plane requester of vault.
func (e *Env) RequireVault(vault string) (azure.Requester, error) {
	if e.Vault == nil {
		return nil, model.NewConfigurationError("key vault %q needs an Azure credential", vault)
	}
	return e.Vault(vault)
}

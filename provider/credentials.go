package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/storage"
)

// PermissionCheckPath is checked to verify managed identity access to a
// storage container.
const PermissionCheckPath = "permission-check.blob"

// Credential methods recorded in CredentialResolutionError.
const (
	ManagedIdentityMethod  = "managed identity"
	ConnectionStringMethod = "connection string"
	KeyVaultSecretMethod   = "key vault secret"
)

var errNoCredential = errors.New("no credential configured")

// OpenBlobStore opens the container described by o. It prefers the managed
// identity and falls back to a connection string only when access is
// forbidden: first the configured one, otherwise one read from the
// KeyVaultName vault under SecretName. Errors other than forbidden are
// returned as is.
func (e *Env) OpenBlobStore(ctx context.Context, o StorageAccountOptions) (storage.ObjectStore, error) {
	log := e.Logger("credentials").WithField("account", o.AccountName)
	resource := fmt.Sprintf("storage account %q container %q", o.AccountName, o.ContainerName)
	var attempts []model.CredentialAttempt

	if e.Credential == nil {
		attempts = append(attempts, model.CredentialAttempt{Method: ManagedIdentityMethod, Err: errNoCredential})
	} else {
		store, err := e.NewObjectStore(ctx, storage.Config{
			Type:        storage.AzureBlobType,
			AccountName: o.AccountName,
			Container:   o.ContainerName,
			Credential:  e.Credential,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", resource, err)
		}
		_, err = store.Exists(ctx, PermissionCheckPath)
		if err == nil {
			return store, nil
		}
		if !errors.Is(err, storage.ErrForbidden) {
			return nil, fmt.Errorf("check access to %s: %w", resource, err)
		}
		log.Warnf("Managed identity access to %s was denied, falling back to a connection string", resource)
		attempts = append(attempts, model.CredentialAttempt{Method: ManagedIdentityMethod, Err: err})
	}

	connectionString := o.ConnectionString
	method := ConnectionStringMethod
	if connectionString == "" {
		attempts = append(attempts, model.CredentialAttempt{Method: ConnectionStringMethod, Err: errNoCredential})
		method = KeyVaultSecretMethod

		switch {
		case e.Secrets == nil:
			attempts = append(attempts, model.CredentialAttempt{Method: KeyVaultSecretMethod, Err: errNoCredential})
		case o.KeyVaultName == "" || o.SecretName == "":
			attempts = append(attempts, model.CredentialAttempt{Method: KeyVaultSecretMethod, Err: errors.New("no vault or secret name")})
		default:
			log.Infof("Reading connection string from secret %q of vault %q", o.SecretName, o.KeyVaultName)
			value, found, err := e.Secrets.GetSecret(ctx, o.KeyVaultName, o.SecretName)
			switch {
			case err != nil:
				attempts = append(attempts, model.CredentialAttempt{Method: KeyVaultSecretMethod, Err: err})
			case !found || value == "":
				attempts = append(attempts, model.CredentialAttempt{
					Method: KeyVaultSecretMethod,
					Err:    fmt.Errorf("secret %q not found in vault %q", o.SecretName, o.KeyVaultName),
				})
			default:
				connectionString = value
			}
		}
	}

	if connectionString == "" {
		return nil, &model.ConfigurationError{
			Msg: "unable to access " + resource,
			Err: &model.CredentialResolutionError{Resource: resource, Attempts: attempts},
		}
	}

	store, err := e.NewObjectStore(ctx, storage.Config{
		Type:             storage.AzureBlobType,
		ConnectionString: connectionString,
		Container:        o.ContainerName,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s with %s: %w", resource, method, err)
	}
	return store, nil
}

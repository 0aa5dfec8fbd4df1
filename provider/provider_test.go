package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/storage"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func renewal(target string, hostNames ...string) *config.RenewalOptions {
	return &config.RenewalOptions{
		HostNames:      hostNames,
		TargetResource: &config.Selector{Type: CdnType, Name: target},
	}
}

func TestSelectorDefaults(t *testing.T) {
	opts := renewal("my-site", "www.example.com", "example.com")

	store := StoreSelector(opts)
	assert.True(t, store.Is(KeyVaultType))
	assert.Equal(t, "my-site", store.Name)

	responder := ResponderSelector(opts)
	assert.True(t, responder.Is(StorageAccountType))
	assert.Equal(t, "my-site", responder.Name)

	kv, err := KeyVaultOptionsFor(store, opts)
	require.NoError(t, err)
	assert.Equal(t, KeyVaultOptions{Name: "my-site", CertificateName: "www-example-com", ResourceGroupName: "my-site"}, kv)

	sa, err := StorageAccountOptionsFor(responder, opts)
	require.NoError(t, err)
	assert.Equal(t, StorageAccountOptions{
		AccountName:   "mysite",
		ContainerName: "$web",
		Path:          ".well-known/acme-challenge/",
		KeyVaultName:  "my-site",
		SecretName:    "Storage",
	}, sa)
}

func TestStorageAccountOptionsUseStoreVault(t *testing.T) {
	opts := renewal("site", "example.com")
	opts.CertificateStore = &config.Selector{Type: "keyvault", Properties: map[string]any{"name": "certs-vault"}}
	opts.ChallengeResponder = &config.Selector{Type: StorageAccountType, Properties: map[string]any{"path": "acme", "accountName": "static"}}

	sa, err := StorageAccountOptionsFor(opts.ChallengeResponder, opts)
	require.NoError(t, err)
	assert.Equal(t, "static", sa.AccountName)
	assert.Equal(t, "acme/", sa.Path)
	assert.Equal(t, "certs-vault", sa.KeyVaultName)
}

func TestTargetOptions(t *testing.T) {
	cdn, err := CdnOptionsFor(&config.Selector{Type: CdnType, Name: "profile"})
	require.NoError(t, err)
	assert.Equal(t, CdnOptions{Name: "profile", ResourceGroupName: "profile", Endpoints: []string{"profile"}}, cdn)

	cdn, err = CdnOptionsFor(&config.Selector{Type: CdnType, Properties: map[string]any{
		"name": "profile", "resourceGroupName": "rg", "endpoints": []any{"a", "b"},
	}})
	require.NoError(t, err)
	assert.Equal(t, CdnOptions{Name: "profile", ResourceGroupName: "rg", Endpoints: []string{"a", "b"}}, cdn)

	var cfgErr *model.ConfigurationError
	_, err = CdnOptionsFor(&config.Selector{Type: CdnType})
	assert.ErrorAs(t, err, &cfgErr)

	app, err := AppServiceOptionsFor(&config.Selector{Type: AppServiceType, Name: "app"})
	require.NoError(t, err)
	assert.Equal(t, AppServiceOptions{Name: "app", ResourceGroupName: "app"}, app)

	_, err = AppServiceOptionsFor(&config.Selector{Type: AppServiceType})
	assert.ErrorAs(t, err, &cfgErr)
}

type fakeTarget struct{ name string }

func (f *fakeTarget) Name() string { return f.name }
func (f *fakeTarget) Update(context.Context, *model.Certificate) error { return nil }
func (f *fakeTarget) SupportsCertificateCheck() bool { return false }
func (f *fakeTarget) IsUsingCertificate(context.Context, *model.Certificate) (bool, error) {
	return false, ErrCertificateCheckUnsupported
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry[TargetResource]("targetResource")
	reg.Register("CDN", func(_ context.Context, _ *Env, sel *config.Selector, _ *config.RenewalOptions) (TargetResource, error) {
		return &fakeTarget{name: sel.Name}, nil
	})
	assert.Equal(t, []string{"cdn"}, reg.Types())

	r := &Resolver{Env: &Env{}, Targets: reg}
	target, err := r.TargetResource(context.Background(), renewal("profile", "example.com"))
	require.NoError(t, err)
	assert.Equal(t, "profile", target.Name())

	opts := renewal("x", "example.com")
	opts.TargetResource.Type = "frontDoor"
	_, err = r.TargetResource(context.Background(), opts)
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "frontDoor")
}

type fakeOrder struct {
	authzs []acme.Authorization
}

func (o *fakeOrder) URL() string { return "https://ca/order/1" }
func (o *fakeOrder) Authorizations(context.Context) ([]acme.Authorization, error) {
	return o.authzs, nil
}
func (o *fakeOrder) Finalize(context.Context, []byte) error { return nil }
func (o *fakeOrder) Download(context.Context) ([]byte, error) { return nil, nil }

type fakeAuthz struct {
	host  string
	chall *fakeChallenge
}

func (a *fakeAuthz) Identifier() string { return a.host }
func (a *fakeAuthz) HTTPChallenge() (acme.HTTPChallenge, error) {
	if a.chall == nil {
		return nil, errors.New("no http-01 challenge")
	}
	return a.chall, nil
}

type fakeChallenge struct {
	token  string
	status acme.Status
}

func (c *fakeChallenge) Token() string { return c.token }
func (c *fakeChallenge) KeyAuthorization() string { return c.token + ".thumb" }
func (c *fakeChallenge) Validate(context.Context) error { return nil }
func (c *fakeChallenge) Resource(context.Context) (acme.ChallengeResource, error) {
	return acme.ChallengeResource{Status: c.status, Detail: "detail"}, nil
}

func TestNewChallengeContexts(t *testing.T) {
	chall := &fakeChallenge{token: "tok", status: acme.StatusInvalid}
	order := &fakeOrder{authzs: []acme.Authorization{&fakeAuthz{host: "example.com", chall: chall}}}

	contexts, err := NewChallengeContexts(context.Background(), order)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	c := contexts[0]
	assert.Equal(t, "example.com", c.HostName)
	assert.Equal(t, "tok.thumb", c.KeyAuthorization)
	assert.True(t, c.Pending())

	require.NoError(t, c.Refresh(context.Background()))
	assert.False(t, c.Pending())
	assert.Equal(t, acme.StatusInvalid, c.Status)
	assert.Equal(t, "detail", c.Detail)

	order.authzs = append(order.authzs, &fakeAuthz{host: "dns-only.example.com"})
	_, err = NewChallengeContexts(context.Background(), order)
	assert.ErrorContains(t, err, "dns-only.example.com")
}

type fakeCredential struct{}

func (fakeCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "token"}, nil
}

// checkStore is an object store whose Exists fails with err.
type checkStore struct {
	storage.ObjectStore
	err error
}

func (p *checkStore) Exists(context.Context, string) (bool, error) { return false, p.err }

type countingSecrets struct {
	calls int
	value string
	err   error
}

func (s *countingSecrets) GetSecret(_ context.Context, vault, name string) (string, bool, error) {
	s.calls++
	if s.err != nil {
		return "", false, s.err
	}
	return s.value, s.value != "", nil
}

type openRecorder struct {
	checkErr error
	opened   []storage.Config
}

func (r *openRecorder) open(_ context.Context, cfg storage.Config) (storage.ObjectStore, error) {
	r.opened = append(r.opened, cfg)
	if cfg.Credential != nil {
		return &checkStore{err: r.checkErr}, nil
	}
	return &checkStore{}, nil
}

func blobOptions() StorageAccountOptions {
	return StorageAccountOptions{
		AccountName:   "site",
		ContainerName: "$web",
		Path:          ".well-known/acme-challenge/",
		KeyVaultName:  "vault",
		SecretName:    "Storage",
	}
}

func TestOpenBlobStoreManagedIdentity(t *testing.T) {
	rec := &openRecorder{}
	secrets := &countingSecrets{value: "from-vault"}
	env := &Env{Credential: fakeCredential{}, Secrets: secrets, OpenStore: rec.open, Log: testLog()}

	_, err := env.OpenBlobStore(context.Background(), blobOptions())
	require.NoError(t, err)
	require.Len(t, rec.opened, 1)
	assert.Equal(t, "site", rec.opened[0].AccountName)
	assert.Zero(t, secrets.calls)
}

func TestOpenBlobStoreFallsBackToSecret(t *testing.T) {
	rec := &openRecorder{checkErr: fmt.Errorf("%w: 403", storage.ErrForbidden)}
	secrets := &countingSecrets{value: "from-vault"}
	env := &Env{Credential: fakeCredential{}, Secrets: secrets, OpenStore: rec.open, Log: testLog()}

	_, err := env.OpenBlobStore(context.Background(), blobOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, secrets.calls)
	require.Len(t, rec.opened, 2)
	assert.Equal(t, "from-vault", rec.opened[1].ConnectionString)
	assert.Equal(t, "$web", rec.opened[1].Container)
}

func TestOpenBlobStoreConnectionStringSkipsSecrets(t *testing.T) {
	rec := &openRecorder{checkErr: storage.ErrForbidden}
	secrets := &countingSecrets{value: "from-vault"}
	env := &Env{Credential: fakeCredential{}, Secrets: secrets, OpenStore: rec.open, Log: testLog()}

	o := blobOptions()
	o.ConnectionString = "configured"
	_, err := env.OpenBlobStore(context.Background(), o)
	require.NoError(t, err)
	assert.Zero(t, secrets.calls)
	require.Len(t, rec.opened, 2)
	assert.Equal(t, "configured", rec.opened[1].ConnectionString)
}

func TestOpenBlobStorePropagatesOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	rec := &openRecorder{checkErr: boom}
	secrets := &countingSecrets{value: "from-vault"}
	env := &Env{Credential: fakeCredential{}, Secrets: secrets, OpenStore: rec.open, Log: testLog()}

	_, err := env.OpenBlobStore(context.Background(), blobOptions())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, secrets.calls)
	assert.Len(t, rec.opened, 1)
}

func TestOpenBlobStoreExhausted(t *testing.T) {
	rec := &openRecorder{checkErr: storage.ErrForbidden}
	secrets := &countingSecrets{}
	env := &Env{Credential: fakeCredential{}, Secrets: secrets, OpenStore: rec.open, Log: testLog()}

	_, err := env.OpenBlobStore(context.Background(), blobOptions())
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	var credErr *model.CredentialResolutionError
	require.ErrorAs(t, err, &credErr)

	methods := make([]string, 0, len(credErr.Attempts))
	for _, a := range credErr.Attempts {
		methods = append(methods, a.Method)
	}
	assert.Equal(t, []string{ManagedIdentityMethod, ConnectionStringMethod, KeyVaultSecretMethod}, methods)
	assert.Equal(t, 1, secrets.calls)
}

func TestOpenBlobStoreWithoutCredential(t *testing.T) {
	rec := &openRecorder{}
	env := &Env{Secrets: &countingSecrets{value: "from-vault"}, OpenStore: rec.open, Log: testLog()}

	_, err := env.OpenBlobStore(context.Background(), blobOptions())
	require.NoError(t, err)
	require.Len(t, rec.opened, 1)
	assert.Equal(t, "from-vault", rec.opened[0].ConnectionString)
}

func TestEnvRequirements(t *testing.T) {
	var cfgErr *model.ConfigurationError
	_, _, err := (&Env{}).RequireManagement("cdn")
	assert.ErrorAs(t, err, &cfgErr)
	_, err = (&Env{}).RequireVault("vault")
	assert.ErrorAs(t, err, &cfgErr)
}

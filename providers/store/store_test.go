package store

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/cpu/acmerenew/azure"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
	"github.com/cpu/acmerenew/storage"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func selfSigned(t *testing.T, hostNames ...string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0xbeef),
		Subject:      pkix.Name{CommonName: hostNames[0]},
		DNSNames:     hostNames,
		NotBefore:    time.Now().Add(-time.Hour).Truncate(time.Second),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour).Truncate(time.Second),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

type call struct {
	method, path string
	body         any
}

// fakeVault answers requests from canned responses keyed by path. Missing
// paths answer 404.
type fakeVault struct {
	responses map[string]any
	calls     []call
}

func (f *fakeVault) Do(_ context.Context, method, path string, body, out any) error {
	f.calls = append(f.calls, call{method: method, path: path, body: body})
	resp, ok := f.responses[path]
	if !ok {
		return &azcore.ResponseError{StatusCode: 404}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

var _ azure.Requester = (*fakeVault)(nil)

func TestKeyVaultGetCertificateMissing(t *testing.T) {
	vault := &fakeVault{}
	kv := NewKeyVault(vault, "sub", provider.KeyVaultOptions{Name: "vault", CertificateName: "example-com", ResourceGroupName: "rg"}, testLog())

	cert, err := kv.GetCertificate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cert)
	require.Len(t, vault.calls, 1)
	assert.Equal(t, "/certificates/example-com?api-version=7.4", vault.calls[0].path)
}

func TestKeyVaultGetAndUpload(t *testing.T) {
	leaf, key := selfSigned(t, "example.com", "www.example.com")
	nbf, exp := leaf.NotBefore.Unix(), leaf.NotAfter.Unix()
	bundle := map[string]any{
		"id":         "https://vault.vault.azure.net/certificates/example-com/abc123",
		"cer":        base64.StdEncoding.EncodeToString(leaf.Raw),
		"attributes": map[string]any{"enabled": true, "nbf": nbf, "exp": exp},
	}
	vault := &fakeVault{responses: map[string]any{
		"/certificates/example-com?api-version=7.4":        bundle,
		"/certificates/example-com/import?api-version=7.4": bundle,
	}}
	kv := NewKeyVault(vault, "sub", provider.KeyVaultOptions{Name: "vault", CertificateName: "example-com", ResourceGroupName: "rg"}, testLog())

	cert, err := kv.GetCertificate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, "example-com", cert.Name)
	assert.Equal(t, "abc123", cert.Version)
	assert.Equal(t, []string{"example.com", "www.example.com"}, cert.HostNames)
	assert.Equal(t, Thumbprint(leaf), cert.Thumbprint)
	assert.True(t, leaf.NotAfter.Equal(*cert.Expires))
	assert.Equal(t, "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.KeyVault/vaults/vault", cert.Store.ResourceID)

	pfx, err := pkcs12.Modern.Encode(key, leaf, nil, "secret")
	require.NoError(t, err)
	uploaded, err := kv.Upload(context.Background(), pfx, "secret", []string{"example.com"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", uploaded.Version)

	last := vault.calls[len(vault.calls)-1]
	req, ok := last.body.(importRequest)
	require.True(t, ok)
	assert.Equal(t, "secret", req.Pwd)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pfx), req.Value)
	assert.Equal(t, "application/x-pkcs12", req.Policy.SecretProps.ContentType)
}

func TestThumbprintIsUpperHex(t *testing.T) {
	leaf, _ := selfSigned(t, "example.com")
	tp := Thumbprint(leaf)
	assert.Len(t, tp, 40)
	assert.Regexp(t, "^[0-9A-F]+$", tp)
}

func TestObjectStore(t *testing.T) {
	ctx := context.Background()
	app, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	s := NewObjectStore(app, "app", "certificates", "example-com", testLog())

	cert, err := s.GetCertificate(ctx)
	require.NoError(t, err)
	assert.Nil(t, cert)

	leaf, key := selfSigned(t, "example.com")
	pfx, err := pkcs12.Modern.Encode(key, leaf, nil, "pw")
	require.NoError(t, err)

	_, err = s.Upload(ctx, pfx, "wrong", []string{"example.com"})
	assert.Error(t, err)

	uploaded, err := s.Upload(ctx, pfx, "pw", []string{"example.com"})
	require.NoError(t, err)
	assert.Equal(t, "beef", uploaded.Version)

	cert, err = s.GetCertificate(ctx)
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, []string{"example.com"}, cert.HostNames)
	assert.Equal(t, Thumbprint(leaf), cert.Thumbprint)
	assert.True(t, cert.ValidAt(time.Now(), 30))

	paths, err := app.List(ctx, "certificates/example-com/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"certificates/example-com/" + ChainFile,
		"certificates/example-com/" + MetadataFile,
		"certificates/example-com/" + KeyFile,
	}, paths)
}

func TestStoreFactories(t *testing.T) {
	ctx := context.Background()
	opts := &config.RenewalOptions{
		HostNames:      []string{"example.com"},
		TargetResource: &config.Selector{Type: "cdn", Name: "site"},
	}

	var cfgErr *model.ConfigurationError
	_, err := provider.NewResolver(&provider.Env{Log: testLog()}).CertificateStore(ctx, opts)
	require.ErrorAs(t, err, &cfgErr)

	env := &provider.Env{
		SubscriptionID: "sub",
		Vault: func(name string) (azure.Requester, error) {
			assert.Equal(t, "site", name)
			return &fakeVault{}, nil
		},
		Log: testLog(),
	}
	store, err := provider.NewResolver(env).CertificateStore(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, "site", store.Name())

	app, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	opts.CertificateStore = &config.Selector{Type: ObjectStoreType}
	store, err = provider.NewResolver(&provider.Env{AppStorage: app, Log: testLog()}).CertificateStore(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, "app", store.Name())
}

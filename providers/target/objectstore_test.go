package target

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
	"github.com/cpu/acmerenew/providers/store"
	"github.com/cpu/acmerenew/storage"
)

// storedCertificate uploads a fresh self-signed certificate for hostNames to
// source and returns it.
func storedCertificate(t *testing.T, source *store.ObjectStore, serial int64, hostNames ...string) *model.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: hostNames[0]},
		DNSNames:     hostNames,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pfx, err := pkcs12.Modern.Encode(key, leaf, nil, "pw")
	require.NoError(t, err)

	cert, err := source.Upload(context.Background(), pfx, "pw", hostNames)
	require.NoError(t, err)
	return cert
}

func TestObjectStoreTarget(t *testing.T) {
	ctx := context.Background()
	app, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	source := store.NewObjectStore(app, "app", "certificates", "example-com", testLog())
	target := NewObjectStore(source, app, "web", "deploy", testLog())

	assert.True(t, target.SupportsCertificateCheck())
	assert.Equal(t, "web", target.Name())

	first := storedCertificate(t, source, 1, "example.com")
	using, err := target.IsUsingCertificate(ctx, first)
	require.NoError(t, err)
	assert.False(t, using)

	require.NoError(t, target.Update(ctx, first))
	using, err = target.IsUsingCertificate(ctx, first)
	require.NoError(t, err)
	assert.True(t, using)

	stored, storedKey, err := source.ReadPEM(ctx)
	require.NoError(t, err)
	deployed, err := app.Read(ctx, "deploy/example-com/"+store.ChainFile)
	require.NoError(t, err)
	assert.Equal(t, stored, deployed)
	deployedKey, err := app.Read(ctx, "deploy/example-com/"+store.KeyFile)
	require.NoError(t, err)
	assert.Equal(t, storedKey, deployedKey)

	second := storedCertificate(t, source, 2, "example.com")
	using, err = target.IsUsingCertificate(ctx, second)
	require.NoError(t, err)
	assert.False(t, using)

	// The stored chain moved on, the old certificate can no longer be deployed.
	var updErr *model.TargetUpdateError
	require.ErrorAs(t, target.Update(ctx, first), &updErr)
	assert.Contains(t, updErr.Error(), "thumbprint")

	require.NoError(t, target.Update(ctx, second))
	using, err = target.IsUsingCertificate(ctx, second)
	require.NoError(t, err)
	assert.True(t, using)
}

func TestObjectStoreTargetRejectsOtherStores(t *testing.T) {
	app, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	source := store.NewObjectStore(app, "app", "certificates", "example-com", testLog())
	target := NewObjectStore(source, app, "web", "deploy", testLog())

	var updErr *model.TargetUpdateError
	err = target.Update(context.Background(), kvCert("example.com"))
	require.ErrorAs(t, err, &updErr)
	assert.Contains(t, err.Error(), "only certificates from store objectStore")
}

func TestObjectStoreTargetFactory(t *testing.T) {
	ctx := context.Background()
	app, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	env := &provider.Env{AppStorage: app, Log: testLog()}
	opts := &config.RenewalOptions{
		HostNames:      []string{"example.com"},
		TargetResource: &config.Selector{Type: ObjectStoreType, Name: "web"},
	}

	var cfgErr *model.ConfigurationError
	_, err = provider.NewResolver(env).TargetResource(ctx, opts)
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "needs an objectStore certificate store")

	opts.CertificateStore = &config.Selector{Type: store.ObjectStoreType}
	resolved, err := provider.NewResolver(env).TargetResource(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, "web", resolved.Name())
	assert.True(t, resolved.SupportsCertificateCheck())

	certStore, err := provider.NewResolver(env).CertificateStore(ctx, opts)
	require.NoError(t, err)
	source, ok := certStore.(*store.ObjectStore)
	require.True(t, ok)
	cert := storedCertificate(t, source, 3, "example.com")
	require.NoError(t, resolved.Update(ctx, cert))

	ok, err = app.Exists(ctx, "deploy/example-com/"+store.ChainFile)
	require.NoError(t, err)
	assert.True(t, ok)
}

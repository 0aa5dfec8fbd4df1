package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/storage"
)

const jsonDoc = `{
  "$schema": "./schema.json",
  "acme": {"email": "admin@example.com", "staging": true},
  "certificates": [
    {
      "hostNames": ["example.com", "www.example.com"],
      "targetResource": {"type": "cdn", "name": "example", "properties": {"endpoints": ["a", "b"]}}
    }
  ]
}`

const yamlDoc = `
acme:
  email: admin@example.com
  renewXDaysBeforeExpiry: 14
certificates:
  - hostNames: [shop.example.com]
    certificateStore:
      type: keyVault
      name: vault
    targetResource:
      type: appService
      name: shop
      properties:
        resourceGroupName: shop-rg
    overrides:
      forceNewCertificate: true
`

func TestParseJSONDocument(t *testing.T) {
	doc, err := ParseDocument("config/a.json", []byte(jsonDoc))
	require.NoError(t, err)

	assert.Equal(t, DefaultRenewXDaysBeforeExpiry, doc.Acme.RenewXDaysBeforeExpiry)
	assert.Equal(t, acme.LETSENCRYPT_STAGING_DIRECTORY, doc.Acme.CertificateAuthorityURI())
	require.Len(t, doc.Certificates, 1)
	cert := doc.Certificates[0]
	assert.True(t, cert.TargetResource.Is("CDN"))
	assert.Nil(t, cert.CertificateStore)

	var props struct {
		Endpoints []string `json:"endpoints"`
	}
	require.NoError(t, cert.TargetResource.DecodeProperties(&props))
	assert.Equal(t, []string{"a", "b"}, props.Endpoints)
}

func TestParseYAMLDocument(t *testing.T) {
	doc, err := ParseDocument("config/b.yaml", []byte(yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, 14, doc.Acme.RenewXDaysBeforeExpiry)
	assert.Equal(t, acme.LETSENCRYPT_PRODUCTION_DIRECTORY, doc.Acme.CertificateAuthorityURI())
	require.Len(t, doc.Certificates, 1)
	cert := doc.Certificates[0]
	assert.Equal(t, "vault", cert.CertificateStore.Name)
	assert.True(t, cert.Overrides.ForceNewCertificate)

	var props struct {
		ResourceGroupName string `json:"resourceGroupName"`
	}
	require.NoError(t, cert.TargetResource.DecodeProperties(&props))
	assert.Equal(t, "shop-rg", props.ResourceGroupName)
}

func TestAcmeOptionsValidate(t *testing.T) {
	testCases := []struct {
		name  string
		opts  AcmeOptions
		valid bool
	}{
		{name: "ok", opts: AcmeOptions{Email: "a@example.com", RenewXDaysBeforeExpiry: 30}, valid: true},
		{name: "lower bound", opts: AcmeOptions{Email: "a@example.com", RenewXDaysBeforeExpiry: 2}, valid: true},
		{name: "upper bound", opts: AcmeOptions{Email: "a@example.com", RenewXDaysBeforeExpiry: 89}, valid: true},
		{name: "too small", opts: AcmeOptions{Email: "a@example.com", RenewXDaysBeforeExpiry: 1}},
		{name: "too large", opts: AcmeOptions{Email: "a@example.com", RenewXDaysBeforeExpiry: 90}},
		{name: "missing email", opts: AcmeOptions{RenewXDaysBeforeExpiry: 30}},
		{name: "bad email", opts: AcmeOptions{Email: "nope", RenewXDaysBeforeExpiry: 30}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			var cfgErr *model.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestRenewalOptionsValidate(t *testing.T) {
	target := &Selector{Type: "cdn", Name: "x"}
	assert.NoError(t, (&RenewalOptions{HostNames: []string{"a.com"}, TargetResource: target}).Validate())

	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, (&RenewalOptions{TargetResource: target}).Validate(), &cfgErr)
	assert.ErrorAs(t, (&RenewalOptions{HostNames: []string{"a.com"}}).Validate(), &cfgErr)
	assert.ErrorAs(t, (&RenewalOptions{HostNames: []string{" "}, TargetResource: target}).Validate(), &cfgErr)
	assert.ErrorAs(t, (&RenewalOptions{
		HostNames:        []string{"a.com"},
		TargetResource:   target,
		CertificateStore: &Selector{Name: "typeless"},
	}).Validate(), &cfgErr)
}

func TestOverridesForces(t *testing.T) {
	hostNames := []string{"example.com"}
	assert.False(t, Overrides{}.Forces(hostNames))
	assert.True(t, Overrides{ForceNewCertificate: true}.Forces(hostNames))
	assert.False(t, Overrides{ForceNewCertificate: true, DomainsToForce: []string{"zzz.nomatch.com"}}.Forces(hostNames))
	assert.True(t, Overrides{ForceNewCertificate: true, DomainsToForce: []string{"EXAMPLE.com"}}.Forces(hostNames))
	assert.False(t, Overrides{DomainsToForce: []string{"example.com"}}.Forces(hostNames))
}

func TestLoadAll(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, "config/a.json", []byte(jsonDoc)))
	require.NoError(t, store.Write(ctx, "config/b.yaml", []byte(yamlDoc)))
	require.NoError(t, store.Write(ctx, "config/sample.json", []byte("{not json")))
	require.NoError(t, store.Write(ctx, "config/README.md", []byte("# docs")))
	require.NoError(t, store.Write(ctx, "other/c.json", []byte("{not json")))

	log, _ := logtest.NewNullLogger()

	docs, err := LoadAll(ctx, store, "config/", logrus.NewEntry(log))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "config/a.json", docs[0].Source)
	assert.Equal(t, "config/b.yaml", docs[1].Source)
}

func TestLoadAllSkipsInvalidDocuments(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, "config/a-good.json", []byte(jsonDoc)))
	require.NoError(t, store.Write(ctx, "config/b-bad.json", []byte(`{
  "acme": {"email": "admin@example.com"},
  "certificates": [{"hostNames": ["x.com"]}]
}`)))
	require.NoError(t, store.Write(ctx, "config/c-broken.yaml", []byte("acme: [")))

	log, hook := logtest.NewNullLogger()

	docs, err := LoadAll(ctx, store, "config/", logrus.NewEntry(log))
	require.Len(t, docs, 1)
	assert.Equal(t, "config/a-good.json", docs[0].Source)

	require.Error(t, err)
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	var docErr *DocumentError
	require.ErrorAs(t, err, &docErr)
	assert.Equal(t, "config/b-bad.json", docErr.Source)
	assert.Contains(t, err.Error(), "config/c-broken.yaml")

	var errorEntries int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			errorEntries++
		}
	}
	assert.Equal(t, 2, errorEntries)
}

func TestLoadAllSeedsSampleIntoEmptyPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	log, hook := logtest.NewNullLogger()

	docs, err := LoadAll(ctx, store, "config/", logrus.NewEntry(log))
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	data, err := store.Read(ctx, "config/sample.json")
	require.NoError(t, err)
	assert.Equal(t, SampleDocument, string(data))
	_, err = ParseDocument("config/sample.json", data)
	require.NoError(t, err)

	// The sample itself is skipped, so later loads only warn.
	hook.Reset()
	docs, err = LoadAll(ctx, store, "config/", logrus.NewEntry(log))
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "No config documents found")
}

func TestParseRenewDays(t *testing.T) {
	testCases := []struct {
		name     string
		file     string
		doc      string
		expected int
		valid    bool
	}{
		{
			name:     "json absent",
			file:     "a.json",
			doc:      `{"acme": {"email": "a@example.com"}, "certificates": []}`,
			expected: DefaultRenewXDaysBeforeExpiry,
			valid:    true,
		},
		{
			name: "json explicit zero",
			file: "a.json",
			doc:  `{"acme": {"email": "a@example.com", "renewXDaysBeforeExpiry": 0}, "certificates": []}`,
		},
		{
			name: "json one",
			file: "a.json",
			doc:  `{"acme": {"email": "a@example.com", "renewXDaysBeforeExpiry": 1}, "certificates": []}`,
		},
		{
			name:     "yaml absent",
			file:     "a.yaml",
			doc:      "acme:\n  email: a@example.com\n",
			expected: DefaultRenewXDaysBeforeExpiry,
			valid:    true,
		},
		{
			name: "yaml explicit zero",
			file: "a.yaml",
			doc:  "acme:\n  email: a@example.com\n  renewXDaysBeforeExpiry: 0\n",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := ParseDocument(tc.file, []byte(tc.doc))
			if !tc.valid {
				var cfgErr *model.ConfigurationError
				assert.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, doc.Acme.RenewXDaysBeforeExpiry)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	doc, err := ParseDocument("a.json", []byte(jsonDoc))
	require.NoError(t, err)
	doc.ApplyOverrides(Overrides{ForceNewCertificate: true, DomainsToForce: []string{"example.com"}})
	assert.True(t, doc.Certificates[0].Overrides.Forces(doc.Certificates[0].HostNames))
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("APP_STORAGE_TYPE=s3\nAPP_STORAGE_BUCKET=certs\nPARALLELISM=4\nCHALLENGE_SERVER_ADDRS=:5002,:5003\n"), 0o600))
	t.Setenv("LOG_LEVEL", "debug")
	// godotenv does not override variables that are already set, so the ones
	// it loads are unset again for other tests.
	t.Cleanup(func() {
		for _, key := range []string{"APP_STORAGE_TYPE", "APP_STORAGE_BUCKET", "PARALLELISM", "CHALLENGE_SERVER_ADDRS"} {
			_ = os.Unsetenv(key)
		}
	})

	s, err := LoadSettings(envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "s3", s.Storage.Type)
	assert.Equal(t, "certs", s.Storage.Bucket)
	assert.Equal(t, "us-east-1", s.Storage.Region)
	assert.Equal(t, 4, s.Parallelism)
	assert.Equal(t, []string{":5002", ":5003"}, s.ChallengeServerAddrs)
	assert.Equal(t, DefaultSchedule, s.Schedule)
	assert.Equal(t, "config/", s.ConfigPrefix)
	assert.Equal(t, logrus.DebugLevel, s.NewLogger().GetLevel())
}

func TestLoadSettingsRejectsBadLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")
	_, err := LoadSettings(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/letsencrypt/challtestsrv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/auth"
	"github.com/cpu/acmerenew/azure"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/metrics"
	"github.com/cpu/acmerenew/provider"
	"github.com/cpu/acmerenew/providers/responder"
	"github.com/cpu/acmerenew/renewal"
	"github.com/cpu/acmerenew/secrets"
	"github.com/cpu/acmerenew/storage"

	// Provider implementations register themselves.
	_ "github.com/cpu/acmerenew/providers/store"
	_ "github.com/cpu/acmerenew/providers/target"
)

// Services are the long lived objects shared by all commands.
type Services struct {
	Settings   *config.Settings
	Log        *logrus.Entry
	AppStorage storage.ObjectStore
	Env        *provider.Env
	Engine     *renewal.Engine
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics

	challSrv *challtestsrv.ChallSrv
}

// NewServices builds the services described by settings. Azure services are
// only set up when a credential can be created, so deployments without Azure
// can still use the object store providers.
func NewServices(ctx context.Context, settings *config.Settings, log *logrus.Entry) (*Services, error) {
	s := &Services{Settings: settings, Log: log}

	cred, err := newCredential(settings)
	if err != nil {
		log.WithError(err).Warn("No Azure credential, Azure providers are disabled")
	}

	storageCfg := settings.Storage
	storageCfg.Credential = cred
	s.AppStorage, err = storage.New(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("open application storage: %w", err)
	}

	s.Env = &provider.Env{
		SubscriptionID: settings.AzureSubscriptionID,
		AppStorage:     s.AppStorage,
		Log:            log,
	}
	if cred != nil {
		s.Env.Credential = cred
		s.Env.Secrets = secrets.NewKeyVault(cred)
		s.Env.Vault = func(name string) (azure.Requester, error) {
			return azure.NewVaultClient(name, cred, log)
		}
		if settings.AzureSubscriptionID != "" {
			mgmt, err := azure.NewManagementClient(cred, log)
			if err != nil {
				return nil, fmt.Errorf("create management client: %w", err)
			}
			s.Env.Management = mgmt
		}
	}

	if len(settings.ChallengeServerAddrs) > 0 {
		s.challSrv, err = responder.NewEmbeddedChallengeServer(settings.ChallengeServerAddrs, log.WithField("component", "challtestsrv"))
		if err != nil {
			return nil, fmt.Errorf("create challenge server: %w", err)
		}
		s.Env.HTTPOne = s.challSrv
	}

	authenticator, err := auth.NewAuthenticator(s.AppStorage, settings.CABundle, settings.DirectoryURL, log)
	if err != nil {
		return nil, err
	}
	s.Engine = renewal.NewEngine(provider.NewResolver(s.Env), authenticator, log)

	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = metrics.New(s.Registry)
	return s, nil
}

func newCredential(settings *config.Settings) (azcore.TokenCredential, error) {
	if settings.UseManagedIdentity {
		cred, err := azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, err
		}
		return cred, nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Start starts background servers.
func (s *Services) Start() {
	if s.challSrv != nil {
		s.Log.Infof("Starting challenge server on %v", s.Settings.ChallengeServerAddrs)
		go s.challSrv.Run()
	}
}

// Close stops background servers.
func (s *Services) Close() {
	if s.challSrv != nil {
		s.challSrv.Shutdown()
	}
}

// LoadJobs reads all configuration documents and applies overrides, when
// not nil, to every certificate. Documents that fail to load are returned as
// failed jobs after the valid ones, so they are reported without stopping
// the others. An error is only returned when nothing could be loaded.
func (s *Services) LoadJobs(ctx context.Context, overrides *config.Overrides) ([]renewal.Job, error) {
	docs, err := config.LoadAll(ctx, s.AppStorage, s.Settings.ConfigPrefix, s.Log.WithField("component", "config"))
	failed := renewal.FailedJobs(err)
	if err != nil && len(failed) == 0 {
		return nil, err
	}
	if overrides != nil {
		for _, doc := range docs {
			doc.ApplyOverrides(*overrides)
		}
	}
	return append(renewal.Jobs(docs), failed...), nil
}

// Runner returns a runner over the engine.
func (s *Services) Runner() *renewal.Runner {
	return &renewal.Runner{
		Renewer:     s.Engine,
		Parallelism: s.Settings.Parallelism,
		Metrics:     s.Metrics,
		Clock:       renewal.RealClock,
		Log:         s.Log.WithField("component", "runner"),
	}
}

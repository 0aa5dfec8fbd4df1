package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/storage"
)

// DefaultSchedule runs renewal once a day at 11:51:00.
const DefaultSchedule = "0 51 11 * * *"

// Settings are the process level settings read from the environment.
type Settings struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Storage holds account keys and configuration documents.
	Storage      storage.Config `envPrefix:"APP_STORAGE_"`
	ConfigPrefix string         `env:"CONFIG_PREFIX" envDefault:"config/"`

	Schedule    string `env:"SCHEDULE" envDefault:"0 51 11 * * *"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	// Parallelism bounds how many certificates are renewed at once.
	Parallelism int `env:"PARALLELISM" envDefault:"1"`

	AzureSubscriptionID string `env:"AZURE_SUBSCRIPTION_ID"`
	// UseManagedIdentity disables the developer credential chain and only
	// uses the managed identity of the host.
	UseManagedIdentity bool `env:"AZURE_USE_MANAGED_IDENTITY"`

	// CABundle is a PEM file of extra trust roots for the ACME server.
	CABundle string `env:"ACME_CA_BUNDLE"`
	// DirectoryURL overrides the ACME directory of every document.
	DirectoryURL string `env:"ACME_DIRECTORY_URL"`
	// ChallengeServerAddrs starts the embedded HTTP-01 challenge server on
	// these addresses, for use with the challtestsrv responder.
	ChallengeServerAddrs []string `env:"CHALLENGE_SERVER_ADDRS" envSeparator:","`
}

// LoadSettings loads the given .env files, when they exist, and parses the
// environment. Without arguments ".env" in the working directory is tried.
func LoadSettings(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if s.Parallelism < 1 {
		s.Parallelism = 1
	}
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		return nil, err
	}
	return s, nil
}

// NewLogger builds the process logger from the log settings.
func (s *Settings) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(s.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if s.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

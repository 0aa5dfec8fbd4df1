// Package storage provides the object storage used for application state
// (account keys, configuration documents) and for staging HTTP-01 challenge
// responses.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/cpu/acmerenew/model"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrForbidden is returned when the credentials in use may not access the
	// object. It is distinct from ErrNotFound so callers can fall back to
	// other credentials.
	ErrForbidden = errors.New("access to object forbidden")
)

// ObjectStore is a flat key/value store of small objects.
type ObjectStore interface {
	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)
	// Read returns the object at path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)
	// Write creates or replaces the object at path.
	Write(ctx context.Context, path string, data []byte) error
	// Delete removes the object at path. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, path string) error
	// List returns the paths of all objects starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Type tags of the built-in backends.
const (
	LocalType     = "local"
	AzureBlobType = "azureblob"
	S3Type        = "s3"
	MinioType     = "minio"
)

// Config selects and configures a backend. Only the fields relevant to Type
// are read.
type Config struct {
	Type string `env:"TYPE" envDefault:"local"`

	// local
	Path string `env:"PATH" envDefault:"./data"`

	// azureblob, either AccountName with Credential or ConnectionString.
	AccountName      string `env:"ACCOUNT_NAME"`
	ConnectionString string `env:"CONNECTION_STRING"`
	Container        string `env:"CONTAINER" envDefault:"letsencrypt"`
	// ServiceURL overrides https://<account>.blob.core.windows.net/.
	ServiceURL string                 `env:"SERVICE_URL"`
	Credential azcore.TokenCredential `env:"-"`

	// s3 and minio
	Bucket          string `env:"BUCKET"`
	Region          string `env:"REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"ENDPOINT"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	UseSSL          bool   `env:"USE_SSL" envDefault:"true"`
	UsePathStyle    bool   `env:"USE_PATH_STYLE"`
}

// NewStoreFunc creates a backend from its Config.
type NewStoreFunc func(ctx context.Context, cfg Config) (ObjectStore, error)

var (
	storeMu  sync.RWMutex
	storeMap = map[string]NewStoreFunc{}
)

// RegisterType registers a backend under a case-insensitive type tag.
func RegisterType(typ string, fn NewStoreFunc) {
	storeMu.Lock()
	defer storeMu.Unlock()
	storeMap[strings.ToLower(typ)] = fn
}

// Types lists the registered type tags.
func Types() []string {
	storeMu.RLock()
	defer storeMu.RUnlock()
	types := make([]string, 0, len(storeMap))
	for typ := range storeMap {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// New creates the backend selected by cfg.Type, defaulting to local.
// Unknown types are a *model.ConfigurationError.
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	typ := strings.ToLower(cfg.Type)
	if typ == "" {
		typ = LocalType
	}
	storeMu.RLock()
	fn, ok := storeMap[typ]
	storeMu.RUnlock()
	if !ok {
		return nil, model.NewConfigurationError("unsupported storage type: %s", cfg.Type)
	}
	store, err := fn(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s storage: %w", typ, err)
	}
	return store, nil
}

// ReadOptional reads the object at path, returning nil data when it does not
// exist.
func ReadOptional(ctx context.Context, store ObjectStore, path string) ([]byte, error) {
	data, err := store.Read(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func cleanPath(path string) string {
	return strings.TrimPrefix(path, "/")
}

// Package auth logs in to ACME servers with account keys kept in the
// application storage.
package auth

import (
	"context"
	"crypto"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/acme/client"
	"github.com/cpu/acmerenew/acme/keys"
	"github.com/cpu/acmerenew/config"
	acmenet "github.com/cpu/acmerenew/net"
	"github.com/cpu/acmerenew/storage"
)

// Context is an authenticated ACME session for one account.
type Context struct {
	acme.Context
	Options   config.AcmeOptions
	AccountID string
}

// Authenticator creates or loads ACME accounts. Sessions are cached per
// directory and contact so documents sharing an account log in once.
type Authenticator struct {
	store storage.ObjectStore
	// directory replaces the directory URL of every AcmeOptions when set.
	directory string
	net       *acmenet.ACMENet
	log       *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*Context
}

// NewAuthenticator returns an Authenticator keeping account keys in store.
// caBundle is an optional PEM file of extra ACME server trust roots and
// directory an optional override of the documents' directory URLs.
func NewAuthenticator(store storage.ObjectStore, caBundle, directory string, log *logrus.Entry) (*Authenticator, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "auth")
	net, err := acmenet.New(caBundle, log)
	if err != nil {
		return nil, fmt.Errorf("create ACME net client: %w", err)
	}
	return &Authenticator{
		store:     store,
		directory: directory,
		net:       net,
		log:       log,
		sessions:  map[string]*Context{},
	}, nil
}

// DirectoryURL returns the directory used for opts.
func (a *Authenticator) DirectoryURL(opts config.AcmeOptions) string {
	if a.directory != "" {
		return a.directory
	}
	return opts.CertificateAuthorityURI()
}

// AccountKeyPath is the storage path of the account key for the contact
// email at the given directory.
func AccountKeyPath(directoryURL, email string) (string, error) {
	u, err := url.Parse(directoryURL)
	if err != nil {
		return "", fmt.Errorf("parse directory %q: %w", directoryURL, err)
	}
	return escape(fmt.Sprintf("%s--%s.pem", u.Host, email)), nil
}

// escape keeps a file name safe for every storage backend.
func escape(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", "?", "_", "#", "_").Replace(name)
}

// Authenticate returns a registered session for opts. A stored account key
// is reused; otherwise a new key is generated, registered and stored.
func (a *Authenticator) Authenticate(ctx context.Context, opts config.AcmeOptions) (*Context, error) {
	dirURL := a.DirectoryURL(opts)
	keyPath, err := AccountKeyPath(dirURL, opts.Email)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if sess, ok := a.sessions[keyPath]; ok {
		return sess, nil
	}

	log := a.log.WithField("account", keyPath)
	signer, stored, err := a.loadKey(ctx, keyPath)
	if err != nil {
		return nil, err
	}
	if stored {
		log.Debug("Using stored account key")
	} else {
		log.Info("No stored account key, creating a new account")
	}

	c, err := client.NewClient(ctx, client.ClientConfig{
		DirectoryURL: dirURL,
		ContactEmail: opts.Email,
		Signer:       signer,
		Net:          a.net,
		Log:          log,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Register(ctx); err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}

	if !stored {
		pem, err := keys.SignerToPEM(signer)
		if err != nil {
			return nil, err
		}
		if err := a.store.Write(ctx, keyPath, pem); err != nil {
			return nil, fmt.Errorf("store account key: %w", err)
		}
	}

	sess := &Context{
		Context:   client.NewContext(c),
		Options:   opts,
		AccountID: c.ActiveAccountID(),
	}
	a.sessions[keyPath] = sess
	return sess, nil
}

func (a *Authenticator) loadKey(ctx context.Context, keyPath string) (crypto.Signer, bool, error) {
	data, err := storage.ReadOptional(ctx, a.store, keyPath)
	if err != nil {
		return nil, false, fmt.Errorf("read account key: %w", err)
	}
	if data == nil {
		signer, err := keys.NewSigner(keys.ECDSA)
		if err != nil {
			return nil, false, err
		}
		return signer, false, nil
	}
	signer, err := keys.SignerFromPEM(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode account key %q: %w", keyPath, err)
	}
	return signer, true, nil
}

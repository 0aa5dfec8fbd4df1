// Package client provides a low-level ACME v2 client.
package client

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	resources "github.com/cpu/acmerenew/acme/resources"
	acmenet "github.com/cpu/acmerenew/net"
)

const defaultPollInterval = 500 * time.Millisecond

// Client allows interaction with an ACME server on behalf of a single
// Account. Internally the Client uses the github.com/cpu/acmerenew/net
// package to perform HTTP requests to the ACME server.
//
// The Client's DirectoryURL field is a parsed *url.URL for the ACME server's
// directory. The client configures itself with the correct URLs for ACME
// operations using the directory resource accessed at this URL. See
// https://tools.ietf.org/html/rfc8555#section-7.1.1
//
// A Client is safe for concurrent use. Nonces are handed out under a lock so
// parallel challenge validations never reuse one.
type Client struct {
	// A parsed *url.URL pointer for the ACME server's directory URL.
	DirectoryURL *url.URL
	// The Account used for signing JWS for ACME requests.
	Account *resources.Account

	// the net object is used to make HTTP GET/POST/HEAD requests to the ACME
	// server.
	net *acmenet.ACMENet
	log *logrus.Entry
	// interval between order polls while finalizing.
	pollInterval time.Duration

	mu sync.Mutex
	// directory is an in-memory representation of the ACME server's directory
	// object.
	directory map[string]any
	// nonce is the value of the last-seen ReplayNonce header from the ACME
	// server's HTTP responses. It will be used for the next signing operation.
	nonce string
}

// ClientConfig contains configuration options provided to NewClient when
// creating a Client instance.
//
// The DirectoryURL field is mandatory and must be a fully qualified URL with
// a HTTP/HTTPS protocol prefix. See
// https://tools.ietf.org/html/rfc8555#section-7.1.1
//
// The CACert field is an optional file path to one or more PEM encoded CA
// certificates used as trust roots for HTTPS requests to the ACME server. If
// you are using Pebble as the ACME server, it should be the file path to the
// "test/certs/pebble.minica.pem" file from the Pebble source directory.
type ClientConfig struct {
	// A fully qualified URL for the ACME server's directory resource.
	DirectoryURL string
	// An optional file path to one or more PEM encoded CA certificates.
	CACert string
	// An optional contact email address for the account. It should not have
	// a protocol prefix, a "mailto:" prefix is added automatically.
	ContactEmail string
	// The account key. A new ECDSA key is generated when nil.
	Signer crypto.Signer
	// An optional pre-built net client. When set CACert is ignored.
	Net *acmenet.ACMENet
	// Optional logger, defaults to the logrus standard logger.
	Log *logrus.Entry
	// Interval between order status polls while finalizing. Defaults to 500ms.
	PollInterval time.Duration
}

// normalize validates a ClientConfig.
func (conf *ClientConfig) normalize() error {
	// Clean up any junk whitespace that might have snuck in
	conf.DirectoryURL = strings.TrimSpace(conf.DirectoryURL)
	conf.ContactEmail = strings.TrimSpace(conf.ContactEmail)

	if conf.DirectoryURL == "" {
		return errors.New("DirectoryURL must not be empty")
	}

	u, err := url.Parse(conf.DirectoryURL)
	if err != nil {
		return fmt.Errorf("DirectoryURL invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("DirectoryURL %q must use http or https", conf.DirectoryURL)
	}

	if conf.ContactEmail != "" {
		addr, err := mail.ParseAddress(conf.ContactEmail)
		if err != nil {
			return fmt.Errorf("ContactEmail is invalid: %w", err)
		}
		conf.ContactEmail = addr.Address
	}

	if conf.Log == nil {
		conf.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = defaultPollInterval
	}
	return nil
}

// NewClient creates a Client instance from the given ClientConfig and fetches
// the server's directory. The account is not registered until Register is
// called.
func NewClient(ctx context.Context, config ClientConfig) (*Client, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}

	net := config.Net
	if net == nil {
		var err error
		net, err = acmenet.New(config.CACert, config.Log)
		if err != nil {
			return nil, fmt.Errorf("create ACME net client: %w", err)
		}
	}

	acct, err := resources.NewAccount([]string{config.ContactEmail}, config.Signer)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	// url.Parse success was checked by normalize.
	dirURL, _ := url.Parse(config.DirectoryURL)

	client := &Client{
		DirectoryURL: dirURL,
		Account:      acct,
		net:          net,
		log:          config.Log.WithField("directory", config.DirectoryURL),
		pollInterval: config.PollInterval,
	}

	if err := client.UpdateDirectory(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Register creates the client's Account with the ACME server, or looks up the
// existing registration for the account key.
func (c *Client) Register(ctx context.Context) error {
	if c.ActiveAccountID() != "" {
		return nil
	}
	return c.CreateAccount(ctx, c.Account)
}

// ActiveAccountID returns the ID of the Account. If the Account has not yet
// been created with the ACME server an empty string is returned.
func (c *Client) ActiveAccountID() string {
	if c.Account == nil {
		return ""
	}
	return c.Account.ID
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

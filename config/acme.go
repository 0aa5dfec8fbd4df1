// Package config describes certificate renewal configuration documents and
// process settings.
package config

import (
	"net/mail"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/model"
)

const (
	// DefaultRenewXDaysBeforeExpiry is used when a document does not set
	// renewXDaysBeforeExpiry.
	DefaultRenewXDaysBeforeExpiry = 30
	minRenewXDaysBeforeExpiry     = 2
	maxRenewXDaysBeforeExpiry     = 89
)

// AcmeOptions are the account level settings shared by all certificates of
// a document.
type AcmeOptions struct {
	// Staging selects the Let's Encrypt staging directory.
	Staging bool `json:"staging" yaml:"staging"`
	// Email is the account contact.
	Email string `json:"email" yaml:"email"`
	// RenewXDaysBeforeExpiry is how many days before expiry a certificate is
	// renewed. It must leave a margin under the 90 day lifetime.
	RenewXDaysBeforeExpiry int `json:"renewXDaysBeforeExpiry" yaml:"renewXDaysBeforeExpiry"`
	// Directory overrides the directory URL derived from Staging, e.g. to
	// point at a Pebble instance.
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`
}

// CertificateAuthorityURI returns the ACME directory URL.
func (o AcmeOptions) CertificateAuthorityURI() string {
	switch {
	case o.Directory != "":
		return o.Directory
	case o.Staging:
		return acme.LETSENCRYPT_STAGING_DIRECTORY
	default:
		return acme.LETSENCRYPT_PRODUCTION_DIRECTORY
	}
}

// defaultAcmeOptions are decoded into, so fields absent from a document
// keep their default and explicit values, zero included, are validated.
func defaultAcmeOptions() AcmeOptions {
	return AcmeOptions{RenewXDaysBeforeExpiry: DefaultRenewXDaysBeforeExpiry}
}

// Validate checks the options after defaults have been applied.
func (o AcmeOptions) Validate() error {
	if o.Email == "" {
		return model.NewConfigurationError("acme.email is required")
	}
	if _, err := mail.ParseAddress(o.Email); err != nil {
		return &model.ConfigurationError{Msg: "acme.email is invalid", Err: err}
	}
	if o.RenewXDaysBeforeExpiry < minRenewXDaysBeforeExpiry || o.RenewXDaysBeforeExpiry > maxRenewXDaysBeforeExpiry {
		return model.NewConfigurationError(
			"acme.renewXDaysBeforeExpiry must be between %d and %d, got %d",
			minRenewXDaysBeforeExpiry, maxRenewXDaysBeforeExpiry, o.RenewXDaysBeforeExpiry)
	}
	return nil
}

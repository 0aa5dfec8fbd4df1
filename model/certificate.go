// Package model holds the value types shared by the renewal engine and its
// providers.
package model

import (
	"fmt"
	"time"
)

// StoreRef identifies the certificate store a Certificate came from.
type StoreRef struct {
	// Name of the store, e.g. the Key Vault name.
	Name string
	// Type tag the store was registered under, e.g. "keyVault".
	Type string
	// ResourceID is the management plane id of the store. Empty for stores
	// that live outside Azure.
	ResourceID string
}

// Certificate is a snapshot of a stored certificate. It is only valid for
// the duration of one renewal pass.
type Certificate struct {
	Name      string
	HostNames []string
	NotBefore *time.Time
	Expires   *time.Time
	// Version identifies this revision of the certificate in its store.
	Version string
	// Thumbprint is the upper case hex SHA-1 of the leaf certificate.
	Thumbprint string
	Store      StoreRef
}

func (c *Certificate) String() string {
	return fmt.Sprintf("%s (version %q, thumbprint %s)", c.Name, c.Version, c.Thumbprint)
}

// ValidAt reports whether the certificate may still be used at now without
// renewal, given the number of days before expiry renewal should start.
// Certificates without an expiry are never valid.
func (c *Certificate) ValidAt(now time.Time, renewBeforeExpiryDays int) bool {
	if c.Expires == nil {
		return false
	}
	if c.NotBefore != nil && !c.NotBefore.Before(now) {
		return false
	}
	renewAt := c.Expires.Add(-time.Duration(renewBeforeExpiryDays) * 24 * time.Hour)
	return !renewAt.Before(now)
}

// Result is the outcome of one renewal attempt. Failures are reported as
// errors, never as a Result.
type Result int

const (
	// NoChange means neither a new certificate was issued nor a target
	// updated.
	NoChange Result = iota
	// Success means a certificate was issued or deployed.
	Success
)

func (r Result) String() string {
	switch r {
	case NoChange:
		return "NoChange"
	case Success:
		return "Success"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

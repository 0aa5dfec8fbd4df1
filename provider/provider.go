// Package provider defines the pluggable parts of a certificate renewal: the
// challenge responder staging HTTP-01 proofs, the certificate store keeping
// issued certificates and the target resource serving them. Implementations
// register themselves by type tag and are built from configuration selectors
// by a Resolver.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/model"
)

// ErrCertificateCheckUnsupported is returned by IsUsingCertificate of target
// resources that cannot report the certificate they serve.
var ErrCertificateCheckUnsupported = errors.New("certificate check not supported by target resource")

// ChallengeContext tracks one staged HTTP-01 challenge.
type ChallengeContext struct {
	HostName         string
	Token            string
	KeyAuthorization string
	Status           acme.Status
	// Detail is the server's reason for an invalid challenge.
	Detail string

	Challenge acme.HTTPChallenge `json:"-"`
}

// Pending reports whether the server has not decided the challenge yet.
func (c *ChallengeContext) Pending() bool {
	return c.Status == acme.StatusPending || c.Status == acme.StatusProcessing
}

// Refresh updates Status and Detail from the server.
func (c *ChallengeContext) Refresh(ctx context.Context) error {
	res, err := c.Challenge.Resource(ctx)
	if err != nil {
		return fmt.Errorf("refresh challenge for %q: %w", c.HostName, err)
	}
	c.Status = res.Status
	c.Detail = res.Detail
	return nil
}

// NewChallengeContexts returns a pending context for the HTTP-01 challenge of
// every authorization of order.
func NewChallengeContexts(ctx context.Context, order acme.Order) ([]*ChallengeContext, error) {
	authzs, err := order.Authorizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch authorizations of %q: %w", order.URL(), err)
	}
	contexts := make([]*ChallengeContext, 0, len(authzs))
	for _, authz := range authzs {
		chall, err := authz.HTTPChallenge()
		if err != nil {
			return nil, fmt.Errorf("authorization for %q: %w", authz.Identifier(), err)
		}
		contexts = append(contexts, &ChallengeContext{
			HostName:         authz.Identifier(),
			Token:            chall.Token(),
			KeyAuthorization: chall.KeyAuthorization(),
			Status:           acme.StatusPending,
			Challenge:        chall,
		})
	}
	return contexts, nil
}

// ChallengeResponder makes HTTP-01 proofs reachable for the CA.
type ChallengeResponder interface {
	// InitiateChallenges stages the key authorization of every challenge of
	// order and returns their contexts.
	InitiateChallenges(ctx context.Context, order acme.Order) ([]*ChallengeContext, error)
	// Cleanup removes staged proofs.
	Cleanup(ctx context.Context, contexts []*ChallengeContext) error
}

// CertificateStore keeps issued certificates.
type CertificateStore interface {
	// Name identifies the store, e.g. the vault name.
	Name() string
	// GetCertificate returns the current certificate, or nil when the store
	// has none.
	GetCertificate(ctx context.Context) (*model.Certificate, error)
	// Upload stores a PKCS#12 bundle protected by password.
	Upload(ctx context.Context, bundle []byte, password string, hostNames []string) (*model.Certificate, error)
}

// TargetResource serves certificates to clients.
type TargetResource interface {
	Name() string
	// Update deploys cert.
	Update(ctx context.Context, cert *model.Certificate) error
	// SupportsCertificateCheck reports whether IsUsingCertificate works.
	SupportsCertificateCheck() bool
	// IsUsingCertificate reports whether cert is deployed. Implementations
	// without support return ErrCertificateCheckUnsupported.
	IsUsingCertificate(ctx context.Context, cert *model.Certificate) (bool, error)
}

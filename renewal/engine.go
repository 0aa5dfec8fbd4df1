// Package renewal decides whether certificates need to be renewed, issues
// them over ACME and deploys them to their target resources.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/auth"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
)

// Resolver builds the providers of a renewal configuration.
type Resolver interface {
	CertificateStore(ctx context.Context, opts *config.RenewalOptions) (provider.CertificateStore, error)
	ChallengeResponder(ctx context.Context, opts *config.RenewalOptions) (provider.ChallengeResponder, error)
	TargetResource(ctx context.Context, opts *config.RenewalOptions) (provider.TargetResource, error)
}

// Authenticator logs in to the ACME server of an account.
type Authenticator interface {
	Authenticate(ctx context.Context, opts config.AcmeOptions) (*auth.Context, error)
}

// OrderValidator authorizes an order for hostNames.
type OrderValidator interface {
	ValidateOrder(ctx context.Context, acmeCtx acme.Context, hostNames []string, responder provider.ChallengeResponder) (acme.Order, error)
}

// Builder turns an authorized order into a password protected bundle.
type Builder interface {
	Build(ctx context.Context, order acme.Order, hostNames []string) ([]byte, string, error)
}

// Engine renews one certificate configuration at a time. It holds no state
// between calls and may be used concurrently for different configurations.
type Engine struct {
	Resolver Resolver
	Auth     Authenticator
	Protocol OrderValidator
	Builder  Builder
	Clock    Clock
	Log      *logrus.Entry
}

// NewEngine returns an Engine using the real clock, ChallengeProtocol and
// CertificateBuilder.
func NewEngine(resolver Resolver, authenticator Authenticator, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		Resolver: resolver,
		Auth:     authenticator,
		Protocol: NewChallengeProtocol(RealClock, log),
		Builder:  NewCertificateBuilder(log),
		Clock:    RealClock,
		Log:      log.WithField("component", "engine"),
	}
}

// Decision is the outcome of checking a configuration without changing
// anything.
type Decision struct {
	// Certificate is the stored certificate, nil when there is none.
	Certificate *model.Certificate
	// Issue is set when a new certificate must be requested.
	Issue bool
	// Reason explains Issue, or why the stored certificate is kept.
	Reason string
	// Deployed reports whether the target serves Certificate. It is only
	// meaningful when Issue is false.
	Deployed bool
	// Verified is false when Deployed was assumed because the target cannot
	// report its certificate.
	Verified bool
}

// RenewCertificate brings the certificate of opts up to date:
//
//   - a missing, expiring or drifted certificate is reissued unless valid;
//     a forcing override skips the check;
//   - a reissued certificate is always deployed to the target;
//   - a kept certificate is deployed only when the target does not already
//     serve it, which recovers from earlier failed deployments.
//
// Success is returned when a certificate was issued or deployed. Errors are
// *model.RenewalError.
func (e *Engine) RenewCertificate(ctx context.Context, acmeOpts config.AcmeOptions, opts *config.RenewalOptions) (model.Result, error) {
	if err := validate(acmeOpts, opts); err != nil {
		var hostNames []string
		if opts != nil {
			hostNames = opts.HostNames
		}
		return model.NoChange, &model.RenewalError{HostNames: hostNames, Err: err}
	}
	res, err := e.renew(ctx, acmeOpts, opts)
	if err != nil {
		return model.NoChange, &model.RenewalError{HostNames: opts.HostNames, Err: err}
	}
	return res, nil
}

// validate rejects options that providers cannot be resolved from.
func validate(acmeOpts config.AcmeOptions, opts *config.RenewalOptions) error {
	if opts == nil {
		return model.NewConfigurationError("renewal options are required")
	}
	if err := acmeOpts.Validate(); err != nil {
		return err
	}
	return opts.Validate()
}

func (e *Engine) renew(ctx context.Context, acmeOpts config.AcmeOptions, opts *config.RenewalOptions) (model.Result, error) {
	log := e.log().WithField("hostnames", opts.HostNames)

	store, err := e.Resolver.CertificateStore(ctx, opts)
	if err != nil {
		return model.NoChange, err
	}
	decision, err := e.check(ctx, store, acmeOpts, opts)
	if err != nil {
		return model.NoChange, err
	}

	cert := decision.Certificate
	if decision.Issue {
		log.Infof("Requesting new certificate: %s", decision.Reason)
		cert, err = e.issue(ctx, store, acmeOpts, opts)
		if err != nil {
			return model.NoChange, err
		}
	} else {
		log.Debugf("Keeping certificate %s: %s", cert, decision.Reason)
	}

	target, err := e.Resolver.TargetResource(ctx, opts)
	if err != nil {
		return model.NoChange, err
	}
	if !decision.Issue {
		deployed, verified, err := e.deployed(ctx, target, cert)
		if err != nil {
			return model.NoChange, err
		}
		if deployed {
			if !verified {
				log.Infof("%s cannot report its certificate, assuming %s is deployed", target.Name(), cert)
			}
			return model.NoChange, nil
		}
		log.Warnf("%s does not serve %s, deploying it again", target.Name(), cert)
	}

	if err := target.Update(ctx, cert); err != nil {
		return model.NoChange, err
	}
	log.Infof("Deployed %s to %s", cert, target.Name())
	return model.Success, nil
}

// Inspect reports what RenewCertificate would do for opts.
func (e *Engine) Inspect(ctx context.Context, acmeOpts config.AcmeOptions, opts *config.RenewalOptions) (*Decision, error) {
	if err := validate(acmeOpts, opts); err != nil {
		return nil, err
	}
	store, err := e.Resolver.CertificateStore(ctx, opts)
	if err != nil {
		return nil, err
	}
	decision, err := e.check(ctx, store, acmeOpts, opts)
	if err != nil {
		return nil, err
	}
	if decision.Issue {
		return decision, nil
	}
	target, err := e.Resolver.TargetResource(ctx, opts)
	if err != nil {
		return nil, err
	}
	decision.Deployed, decision.Verified, err = e.deployed(ctx, target, decision.Certificate)
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// check decides whether the certificate in store has to be reissued.
func (e *Engine) check(ctx context.Context, store provider.CertificateStore, acmeOpts config.AcmeOptions, opts *config.RenewalOptions) (*Decision, error) {
	if opts.Overrides.Forces(opts.HostNames) {
		return &Decision{Issue: true, Reason: "renewal forced by override"}, nil
	}

	cert, err := store.GetCertificate(ctx)
	if err != nil {
		return nil, fmt.Errorf("get certificate from %s: %w", store.Name(), err)
	}
	if cert == nil {
		return &Decision{Issue: true, Reason: fmt.Sprintf("no certificate in %s", store.Name())}, nil
	}
	if cert.Expires == nil {
		return nil, model.NewConfigurationError(
			"certificate %s in %s has no expiry date and cannot be managed", cert.Name, store.Name())
	}

	d := &Decision{Certificate: cert}
	switch {
	case !cert.ValidAt(e.now(), acmeOpts.RenewXDaysBeforeExpiry):
		d.Issue = true
		d.Reason = fmt.Sprintf("%s expires %s, within %d days", cert.Name, cert.Expires.Format("2006-01-02"), acmeOpts.RenewXDaysBeforeExpiry)
	case !model.EqualHostNames(cert.HostNames, opts.HostNames):
		d.Issue = true
		d.Reason = fmt.Sprintf("%s covers %v instead of %v", cert.Name, cert.HostNames, opts.HostNames)
	default:
		d.Reason = fmt.Sprintf("valid until %s", cert.Expires.Format("2006-01-02"))
	}
	return d, nil
}

// issue runs the ACME protocol and uploads the new certificate.
func (e *Engine) issue(ctx context.Context, store provider.CertificateStore, acmeOpts config.AcmeOptions, opts *config.RenewalOptions) (*model.Certificate, error) {
	sess, err := e.Auth.Authenticate(ctx, acmeOpts)
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", acmeOpts.Email, err)
	}
	responder, err := e.Resolver.ChallengeResponder(ctx, opts)
	if err != nil {
		return nil, err
	}
	order, err := e.Protocol.ValidateOrder(ctx, sess, opts.HostNames, responder)
	if err != nil {
		return nil, err
	}
	bundle, password, err := e.Builder.Build(ctx, order, opts.HostNames)
	if err != nil {
		return nil, err
	}
	cert, err := store.Upload(ctx, bundle, password, opts.HostNames)
	if err != nil {
		return nil, fmt.Errorf("upload certificate to %s: %w", store.Name(), err)
	}
	return cert, nil
}

// deployed reports whether target serves cert. Targets that cannot tell are
// assumed to serve it, reported by verified being false.
func (e *Engine) deployed(ctx context.Context, target provider.TargetResource, cert *model.Certificate) (deployed, verified bool, err error) {
	if !target.SupportsCertificateCheck() {
		return true, false, nil
	}
	using, err := target.IsUsingCertificate(ctx, cert)
	if errors.Is(err, provider.ErrCertificateCheckUnsupported) {
		return true, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("check certificate of %s: %w", target.Name(), err)
	}
	return using, true, nil
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return RealClock.Now()
	}
	return e.Clock.Now()
}

func (e *Engine) log() *logrus.Entry {
	if e.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return e.Log
}

package renewal

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/auth"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeClock advances only when slept on. cancel, when set, is called on the
// sleep numbered cancelAt.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	sleeps   int
	cancelAt int
	cancel   context.CancelFunc
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps++
	c.now = c.now.Add(d)
	if c.cancel != nil && c.sleeps == c.cancelAt {
		c.cancel()
	}
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

// fakeChallenge returns scripted statuses, repeating the last one.
type fakeChallenge struct {
	host      string
	statuses  []acme.Status
	validated bool
	polls     int
}

func (c *fakeChallenge) Token() string { return "token-" + c.host }
func (c *fakeChallenge) KeyAuthorization() string { return "token-" + c.host + ".thumbprint" }

func (c *fakeChallenge) Validate(context.Context) error {
	c.validated = true
	return nil
}

func (c *fakeChallenge) Resource(context.Context) (acme.ChallengeResource, error) {
	c.polls++
	status := c.statuses[0]
	if len(c.statuses) > 1 {
		c.statuses = c.statuses[1:]
	}
	res := acme.ChallengeResource{Status: status}
	if status == acme.StatusInvalid {
		res.Detail = fmt.Sprintf("connection refused for %s", c.host)
	}
	return res, nil
}

type fakeAuthz struct{ chall *fakeChallenge }

func (a *fakeAuthz) Identifier() string { return a.chall.host }
func (a *fakeAuthz) HTTPChallenge() (acme.HTTPChallenge, error) { return a.chall, nil }

type fakeOrder struct {
	challenges []*fakeChallenge
}

func (o *fakeOrder) URL() string { return "https://ca.example/order/1" }

func (o *fakeOrder) Authorizations(context.Context) ([]acme.Authorization, error) {
	authzs := make([]acme.Authorization, 0, len(o.challenges))
	for _, c := range o.challenges {
		authzs = append(authzs, &fakeAuthz{chall: c})
	}
	return authzs, nil
}

func (o *fakeOrder) Finalize(context.Context, []byte) error { return nil }
func (o *fakeOrder) Download(context.Context) ([]byte, error) { return nil, nil }

// fakeACME opens orders whose challenges follow script, keyed by hostname.
// Hostnames without a script become valid on the first poll.
type fakeACME struct {
	script map[string][]acme.Status
	orders []*fakeOrder
}

func (f *fakeACME) NewOrder(_ context.Context, hostNames []string) (acme.Order, error) {
	order := &fakeOrder{}
	for _, host := range hostNames {
		statuses, ok := f.script[host]
		if !ok {
			statuses = []acme.Status{acme.StatusValid}
		}
		order.challenges = append(order.challenges, &fakeChallenge{host: host, statuses: statuses})
	}
	f.orders = append(f.orders, order)
	return order, nil
}

type fakeAuth struct {
	acme  *fakeACME
	calls int
}

func (a *fakeAuth) Authenticate(_ context.Context, opts config.AcmeOptions) (*auth.Context, error) {
	a.calls++
	return &auth.Context{Context: a.acme, Options: opts, AccountID: "https://ca.example/acct/1"}, nil
}

type fakeResponder struct {
	staged   []*provider.ChallengeContext
	cleanups int
}

func (r *fakeResponder) InitiateChallenges(ctx context.Context, order acme.Order) ([]*provider.ChallengeContext, error) {
	contexts, err := provider.NewChallengeContexts(ctx, order)
	r.staged = contexts
	return contexts, err
}

func (r *fakeResponder) Cleanup(context.Context, []*provider.ChallengeContext) error {
	r.cleanups++
	return nil
}

type fakeStore struct {
	clock   *fakeClock
	cert    *model.Certificate
	gets    int
	uploads int
}

func (s *fakeStore) Name() string { return "vault" }

func (s *fakeStore) GetCertificate(context.Context) (*model.Certificate, error) {
	s.gets++
	return s.cert, nil
}

func (s *fakeStore) Upload(_ context.Context, bundle []byte, password string, hostNames []string) (*model.Certificate, error) {
	s.uploads++
	notBefore := s.clock.Now().Add(-time.Minute)
	expires := notBefore.Add(90 * 24 * time.Hour)
	s.cert = &model.Certificate{
		Name:       "example-com",
		HostNames:  hostNames,
		NotBefore:  &notBefore,
		Expires:    &expires,
		Version:    fmt.Sprintf("v%d", s.uploads),
		Thumbprint: fmt.Sprintf("THUMB%d", s.uploads),
	}
	return s.cert, nil
}

type fakeTarget struct {
	supportsCheck bool
	// serving is the thumbprint the target serves.
	serving string
	updates []*model.Certificate
}

func (t *fakeTarget) Name() string { return "cdn \"example\"" }

func (t *fakeTarget) Update(_ context.Context, cert *model.Certificate) error {
	t.updates = append(t.updates, cert)
	t.serving = cert.Thumbprint
	return nil
}

func (t *fakeTarget) SupportsCertificateCheck() bool { return t.supportsCheck }

func (t *fakeTarget) IsUsingCertificate(_ context.Context, cert *model.Certificate) (bool, error) {
	if !t.supportsCheck {
		return false, provider.ErrCertificateCheckUnsupported
	}
	return t.serving == cert.Thumbprint, nil
}

type fakeResolver struct {
	store     *fakeStore
	responder *fakeResponder
	target    *fakeTarget
}

func (r *fakeResolver) CertificateStore(context.Context, *config.RenewalOptions) (provider.CertificateStore, error) {
	return r.store, nil
}

func (r *fakeResolver) ChallengeResponder(context.Context, *config.RenewalOptions) (provider.ChallengeResponder, error) {
	return r.responder, nil
}

func (r *fakeResolver) TargetResource(context.Context, *config.RenewalOptions) (provider.TargetResource, error) {
	return r.target, nil
}

type fakeBuilder struct{ builds int }

func (b *fakeBuilder) Build(context.Context, acme.Order, []string) ([]byte, string, error) {
	b.builds++
	return []byte("bundle"), "password", nil
}

// harness wires an Engine to fakes.
type harness struct {
	clock     *fakeClock
	acme      *fakeACME
	auth      *fakeAuth
	store     *fakeStore
	responder *fakeResponder
	target    *fakeTarget
	builder   *fakeBuilder
	engine    *Engine
}

func newHarness() *harness {
	h := &harness{
		clock:     newFakeClock(),
		acme:      &fakeACME{script: map[string][]acme.Status{}},
		responder: &fakeResponder{},
		target:    &fakeTarget{supportsCheck: true},
		builder:   &fakeBuilder{},
	}
	h.auth = &fakeAuth{acme: h.acme}
	h.store = &fakeStore{clock: h.clock}
	protocol := NewChallengeProtocol(h.clock, testLog())
	h.engine = &Engine{
		Resolver: &fakeResolver{store: h.store, responder: h.responder, target: h.target},
		Auth:     h.auth,
		Protocol: protocol,
		Builder:  h.builder,
		Clock:    h.clock,
		Log:      testLog(),
	}
	return h
}

// storeCert puts a certificate issued an hour ago and expiring in days into
// the store, deployed to the target.
func (h *harness) storeCert(days int, hostNames ...string) *model.Certificate {
	now := h.clock.Now()
	notBefore := now.Add(-time.Hour)
	expires := now.Add(time.Duration(days) * 24 * time.Hour)
	h.store.cert = &model.Certificate{
		Name:       "example-com",
		HostNames:  hostNames,
		NotBefore:  &notBefore,
		Expires:    &expires,
		Version:    "v0",
		Thumbprint: "THUMB0",
	}
	h.target.serving = "THUMB0"
	return h.store.cert
}

func acmeOptions() config.AcmeOptions {
	return config.AcmeOptions{Email: "admin@example.com", RenewXDaysBeforeExpiry: 30}
}

func renewalOptions(hostNames ...string) *config.RenewalOptions {
	return &config.RenewalOptions{
		HostNames:      hostNames,
		TargetResource: &config.Selector{Type: "cdn", Name: "example"},
	}
}

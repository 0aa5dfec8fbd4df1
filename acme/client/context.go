package client

import (
	"context"
	"fmt"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/acme/keys"
	"github.com/cpu/acmerenew/acme/resources"
)

// Context adapts a registered Client to the acme.Context interface consumed
// by the renewal engine.
type Context struct {
	client *Client
}

var _ acme.Context = (*Context)(nil)

// NewContext wraps the client. The client's account must be registered.
func NewContext(client *Client) *Context {
	return &Context{client: client}
}

// Client returns the wrapped client.
func (c *Context) Client() *Client {
	return c.client
}

// NewOrder creates an order for hostNames.
func (c *Context) NewOrder(ctx context.Context, hostNames []string) (acme.Order, error) {
	order := &resources.Order{
		Identifiers: resources.DNSIdentifiers(hostNames),
	}
	if err := c.client.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	return &orderHandle{client: c.client, order: order}, nil
}

type orderHandle struct {
	client *Client
	order  *resources.Order
}

func (o *orderHandle) URL() string {
	return o.order.ID
}

func (o *orderHandle) Authorizations(ctx context.Context) ([]acme.Authorization, error) {
	authzs := make([]acme.Authorization, 0, len(o.order.Authorizations))
	for _, authzURL := range o.order.Authorizations {
		authz := &resources.Authorization{ID: authzURL}
		if err := o.client.UpdateAuthz(ctx, authz); err != nil {
			return nil, err
		}
		authzs = append(authzs, &authzHandle{client: o.client, authz: authz})
	}
	return authzs, nil
}

func (o *orderHandle) Finalize(ctx context.Context, csr []byte) error {
	return o.client.FinalizeOrder(ctx, o.order, csr)
}

func (o *orderHandle) Download(ctx context.Context) ([]byte, error) {
	return o.client.DownloadCertificate(ctx, o.order)
}

type authzHandle struct {
	client *Client
	authz  *resources.Authorization
}

func (a *authzHandle) Identifier() string {
	return a.authz.Identifier.Value
}

func (a *authzHandle) HTTPChallenge() (acme.HTTPChallenge, error) {
	chall, ok := a.authz.ChallengeOfType(acme.HTTP_01_CHALLENGE)
	if !ok {
		return nil, fmt.Errorf("authorization %q for %q offers no %s challenge",
			a.authz.ID, a.Identifier(), acme.HTTP_01_CHALLENGE)
	}
	keyAuth, err := keys.KeyAuth(a.client.Account.Signer, chall.Token)
	if err != nil {
		return nil, err
	}
	return &challengeHandle{client: a.client, chall: chall, keyAuth: keyAuth}, nil
}

type challengeHandle struct {
	client  *Client
	chall   resources.Challenge
	keyAuth string
}

func (h *challengeHandle) Token() string {
	return h.chall.Token
}

func (h *challengeHandle) KeyAuthorization() string {
	return h.keyAuth
}

func (h *challengeHandle) Validate(ctx context.Context) error {
	chall := h.chall
	return h.client.ValidateChallenge(ctx, &chall)
}

func (h *challengeHandle) Resource(ctx context.Context) (acme.ChallengeResource, error) {
	chall := resources.Challenge{URL: h.chall.URL}
	if err := h.client.UpdateChallenge(ctx, &chall); err != nil {
		return acme.ChallengeResource{}, err
	}
	res := acme.ChallengeResource{Status: chall.Status}
	if chall.Error != nil {
		res.Detail = chall.Error.Error()
	}
	return res, nil
}

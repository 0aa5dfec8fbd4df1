package acme

import "context"

// Context is an authenticated ACME session able to open new orders. It is
// implemented by github.com/cpu/acmerenew/acme/client.Context.
type Context interface {
	// NewOrder creates an order for the given DNS identifiers.
	NewOrder(ctx context.Context, hostNames []string) (Order, error)
}

// Order is a handle to a server-side order resource.
type Order interface {
	// URL returns the order's server assigned ID.
	URL() string
	// Authorizations fetches the authorizations the server requires for the
	// order.
	Authorizations(ctx context.Context) ([]Authorization, error)
	// Finalize submits the DER encoded CSR and waits for the order to leave
	// the processing state.
	Finalize(ctx context.Context, csr []byte) error
	// Download fetches the PEM encoded certificate chain of a valid order.
	Download(ctx context.Context) ([]byte, error)
}

// Authorization is a handle to a server-side authorization resource.
type Authorization interface {
	// Identifier returns the DNS name the authorization is for.
	Identifier() string
	// HTTPChallenge returns the authorization's http-01 challenge.
	HTTPChallenge() (HTTPChallenge, error)
}

// HTTPChallenge is a handle to an http-01 challenge resource.
type HTTPChallenge interface {
	Token() string
	// KeyAuthorization is the value that must be served at
	// /.well-known/acme-challenge/<token>.
	KeyAuthorization() string
	// Validate tells the server the challenge is ready to be checked.
	Validate(ctx context.Context) error
	// Resource refreshes the challenge from the server.
	Resource(ctx context.Context) (ChallengeResource, error)
}

// ChallengeResource is the refreshed state of a challenge.
type ChallengeResource struct {
	Status Status
	// Detail carries the server's problem detail for invalid challenges.
	Detail string
}

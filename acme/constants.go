// Package acme provides ACME protocol constants and the narrow view of an
// ACME session that the renewal engine consumes. See RFC 8555.
package acme

const (
	// Directory constants
	// See https://tools.ietf.org/html/rfc8555#section-9.7.5

	// The ACME directory key for the newNonce endpoint
	NEW_NONCE_ENDPOINT = "newNonce"
	// The ACME directory key for the newAccount endpoint.
	NEW_ACCOUNT_ENDPOINT = "newAccount"
	// The ACME directory key for the newOrder endpoint.
	NEW_ORDER_ENDPOINT = "newOrder"

	// The HTTP response header used by ACME to communicate a fresh nonce. See
	// https://tools.ietf.org/html/rfc8555#section-9.3
	REPLAY_NONCE_HEADER = "Replay-Nonce"

	// The content type requested when downloading an issued certificate chain.
	// See https://tools.ietf.org/html/rfc8555#section-7.4.2
	PEM_CHAIN_CONTENT_TYPE = "application/pem-certificate-chain"

	// The problem type returned when a request used a stale nonce. Clients
	// should retry these with a fresh nonce.
	// See https://tools.ietf.org/html/rfc8555#section-6.5
	BAD_NONCE_PROBLEM = "urn:ietf:params:acme:error:badNonce"

	// The only challenge type this module solves.
	HTTP_01_CHALLENGE = "http-01"

	// Let's Encrypt directories used when no explicit directory is configured.
	LETSENCRYPT_PRODUCTION_DIRECTORY = "https://acme-v02.api.letsencrypt.org/directory"
	LETSENCRYPT_STAGING_DIRECTORY    = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// Status is the status field shared by ACME orders, authorizations and
// challenges.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.6
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusReady       Status = "ready"
	StatusValid       Status = "valid"
	StatusInvalid     Status = "invalid"
	StatusExpired     Status = "expired"
	StatusDeactivated Status = "deactivated"
	StatusRevoked     Status = "revoked"
)

// Terminal reports whether a challenge in this status will not change again
// without further client action.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusProcessing
}

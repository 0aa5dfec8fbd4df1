package client

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/cpu/acmerenew/acme/keys"
)

// SigningOptions allows specifying signature related options when calling the
// Client's Sign function.
type SigningOptions struct {
	// If true, embed the public key as a JWK in the signed JWS instead of using
	// a KeyID header. This is required for the newAccount endpoint. Setting
	// EmbedKey to true is mutually exclusive with a non-empty KeyID.
	EmbedKey bool
	// If not-empty, a KeyID value to use for the JWS Key ID header to identify
	// the ACME account. If empty the Account's ID field will be used.
	KeyID string
	// If not-nil, a key to sign the JWS with. If nil the Account's key is used.
	Signer crypto.Signer
	// NonceSource provides the Replay-Nonce header value for the produced JWS.
	NonceSource jose.NonceSource
}

// validate checks that the SigningOptions are sensible. This enforces the mutually
// exclusive KeyID and EmbedKey options and ensures that the NonceSource and Signer
// are not nil. It must only be called after populating defaults.
func (opts *SigningOptions) validate() error {
	if opts.KeyID != "" && opts.EmbedKey {
		return errors.New("SigningOptions validate: cannot specify both KeyID and EmbedKey")
	}
	if opts.KeyID == "" && !opts.EmbedKey {
		return errors.New("SigningOptions validate: you must specify a KeyID or EmbedKey")
	}
	if opts.NonceSource == nil {
		return errors.New("SigningOptions validate: you must specify a NonceSource")
	}
	if opts.Signer == nil {
		return errors.New("SigningOptions validate: you must specify a private key")
	}
	return nil
}

// SignResult holds the input and output from a Sign operation.
type SignResult struct {
	// The url argument given to Sign.
	InputURL string
	// The data argument given to sign.
	InputData []byte
	// The JWS produced by signing the given data.
	JWS *jose.JSONWebSignature
	// The JWS in flattened JSON serialization.
	SerializedJWS []byte
}

// Sign produces a SignResult by signing the provided data (with a protected URL
// header) according to the SigningOptions provided. If no Signer is specified
// then the Account's key is used. If the SigningOptions specify not to embed
// a JWK but do not specify a Key ID then the Account's ID is used. If no
// NonceSource is given the Client provides nonces.
func (c *Client) Sign(ctx context.Context, url string, data []byte, opts *SigningOptions) (*SignResult, error) {
	if opts == nil {
		opts = &SigningOptions{}
	}
	if opts.Signer == nil {
		if c.Account == nil {
			return nil, errors.New("Account is nil and no Signer was specified in SigningOptions")
		}
		opts.Signer = c.Account.Signer
	}

	if !opts.EmbedKey && opts.KeyID == "" {
		if c.ActiveAccountID() == "" {
			return nil, errors.New(
				"SigningOptions EmbedKey was false, no KeyID was specified, and " +
					"the Account is not registered")
		}
		opts.KeyID = c.Account.ID
	}

	if opts.NonceSource == nil {
		opts.NonceSource = nonceSource{ctx: ctx, client: c}
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	c.log.Tracef("Signing:\n%s", data)

	signingKey := keys.SigningKeyForSigner(opts.Signer, opts.KeyID)
	if opts.EmbedKey {
		signingKey = jose.SigningKey{
			Key:       opts.Signer,
			Algorithm: keys.SigAlgForKey(opts.Signer),
		}
	}

	signer, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		NonceSource: opts.NonceSource,
		EmbedJWK:    opts.EmbedKey,
		ExtraHeaders: map[jose.HeaderKey]any{
			"url": url,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create JWS signer: %w", err)
	}

	signed, err := signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("sign JWS: %w", err)
	}

	return &SignResult{
		InputURL:      url,
		InputData:     data,
		JWS:           signed,
		SerializedJWS: []byte(signed.FullSerialize()),
	}, nil
}

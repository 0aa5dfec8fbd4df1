package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cpu/acmerenew/acme"
)

// nonceSource satisfies the JWS "NonceSource" interface for one signing
// operation. go-jose does not pass a context to Nonce, so the request context
// is captured here.
type nonceSource struct {
	ctx    context.Context
	client *Client
}

// Nonce returns a nonce stored from a previous response when there is one,
// otherwise a fresh nonce is fetched from the server's NewNonce endpoint.
// A stored nonce is handed out at most once.
func (n nonceSource) Nonce() (string, error) {
	c := n.client
	c.mu.Lock()
	nonce := c.nonce
	c.nonce = ""
	c.mu.Unlock()
	if nonce != "" {
		return nonce, nil
	}
	return c.fetchNonce(n.ctx)
}

// storeNonce remembers the Replay-Nonce header of a server response.
func (c *Client) storeNonce(resp *http.Response) {
	if resp == nil {
		return
	}
	if nonce := resp.Header.Get(acme.REPLAY_NONCE_HEADER); nonce != "" {
		c.mu.Lock()
		c.nonce = nonce
		c.mu.Unlock()
	}
}

// fetchNonce fetches a new nonce from the ACME server's NewNonce endpoint.
//
// See https://tools.ietf.org/html/rfc8555#section-7.2
func (c *Client) fetchNonce(ctx context.Context) (string, error) {
	nonceURL, ok := c.GetEndpointURL(acme.NEW_NONCE_ENDPOINT)
	if !ok {
		return "", fmt.Errorf(
			"missing %q entry in ACME server directory", acme.NEW_NONCE_ENDPOINT)
	}

	c.log.Tracef("Sending HTTP HEAD request to %q", nonceURL)
	resp, err := c.net.HeadURL(ctx, nonceURL)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("%q returned HTTP status %d, expected %d",
			acme.NEW_NONCE_ENDPOINT, resp.StatusCode, http.StatusOK)
	}

	nonce := resp.Header.Get(acme.REPLAY_NONCE_HEADER)
	if nonce == "" {
		return "", fmt.Errorf("%q returned no %q header value",
			acme.NEW_NONCE_ENDPOINT, acme.REPLAY_NONCE_HEADER)
	}
	return nonce, nil
}

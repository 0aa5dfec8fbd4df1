package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/acme/resources"
	"github.com/cpu/acmerenew/net"
)

// GetURL performs an unauthenticated GET of the given URL.
func (c *Client) GetURL(ctx context.Context, url string) (*net.NetResponse, error) {
	resp, err := c.net.GetURL(ctx, url)
	if err != nil {
		return nil, err
	}
	c.storeNonce(resp.Response)
	return resp, nil
}

// PostURL signs body with the options given and POSTs it to url. A badNonce
// problem is retried once with a fresh nonce.
//
// See https://tools.ietf.org/html/rfc8555#section-6.5
func (c *Client) PostURL(ctx context.Context, url string, body []byte, opts *SigningOptions) (*net.NetResponse, error) {
	var resp *net.NetResponse
	for attempt := 0; attempt < 2; attempt++ {
		var signOpts *SigningOptions
		if opts != nil {
			copied := *opts
			signOpts = &copied
		}
		signResult, err := c.Sign(ctx, url, body, signOpts)
		if err != nil {
			return nil, err
		}

		req, err := c.net.PostRequest(ctx, url, signResult.SerializedJWS)
		if err != nil {
			return nil, err
		}
		resp, err = c.net.Do(req)
		if err != nil {
			return nil, err
		}
		c.storeNonce(resp.Response)

		if prob := problemFor(resp); prob != nil && prob.Type == acme.BAD_NONCE_PROBLEM {
			c.log.Debugf("Retrying POST to %q after badNonce", url)
			continue
		}
		return resp, nil
	}
	return resp, nil
}

// PostAsGetURL performs a POST-as-GET request for url, which RFC 8555 requires
// for fetching orders, authorizations, challenges and certificates.
//
// See https://tools.ietf.org/html/rfc8555#section-6.3
func (c *Client) PostAsGetURL(ctx context.Context, url string) (*net.NetResponse, error) {
	return c.PostURL(ctx, url, []byte{}, nil)
}

// problemFor decodes a problem document from an error response. It returns
// nil for responses that are not problem documents.
func problemFor(resp *net.NetResponse) *resources.Problem {
	if resp == nil || resp.Response.StatusCode < 400 {
		return nil
	}
	if !strings.HasPrefix(resp.Response.Header.Get("Content-Type"), "application/problem+json") {
		return nil
	}
	var prob resources.Problem
	if err := json.Unmarshal(resp.RespBody, &prob); err != nil {
		return nil
	}
	return &prob
}

// responseError builds an error for an unexpected response, preferring the
// server's problem document when there is one.
func responseError(op string, resp *net.NetResponse, expected ...int) error {
	if prob := problemFor(resp); prob != nil {
		return fmt.Errorf("%s: %w", op, prob)
	}
	return fmt.Errorf("%s: server returned status code %d, expected %v",
		op, resp.Response.StatusCode, expected)
}

func statusIn(resp *net.NetResponse, codes ...int) bool {
	for _, code := range codes {
		if resp.Response.StatusCode == code {
			return true
		}
	}
	return false
}

var errNoLocation = errors.New("server returned response with no Location header")

// Package net provides common HTTP utilities.
package net

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	version       = "0.1.0"
	userAgentBase = "cpu.acmerenew"
	locale        = "en-us"

	defaultTimeout = 30 * time.Second
)

// ACMENet performs HTTP requests against an ACME server or another HTTP API.
type ACMENet struct {
	httpClient *http.Client
	log        *logrus.Entry
}

// New creates an ACMENet. A non-empty customCABundle is a file path to one or
// more PEM encoded CA certificates used as trust roots instead of the system
// pool, e.g. Pebble's minica.
func New(customCABundle string, log *logrus.Entry) (*ACMENet, error) {
	var caBundle *x509.CertPool
	if customCABundle != "" {
		pemBundle, err := os.ReadFile(customCABundle)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}

		caBundle = x509.NewCertPool()
		if !caBundle.AppendCertsFromPEM(pemBundle) {
			return nil, fmt.Errorf("no certificates found in CA bundle %q", customCABundle)
		}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &ACMENet{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					RootCAs: caBundle,
				},
			},
		},
		log: log,
	}, nil
}

// NewWithClient wraps an existing *http.Client, e.g. one from httptest.
func NewWithClient(client *http.Client, log *logrus.Entry) *ACMENet {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ACMENet{httpClient: client, log: log}
}

// NetResponse holds the results from calling Do with an HTTP Request.
type NetResponse struct {
	// The HTTP Response object from making the request.
	Response *http.Response
	// The response body.
	RespBody []byte
}

// Do performs an HTTP request, returning a pointer to a NetResponse instance or
// an error. User-Agent and Accept-Language headers are automatically added to
// the request. The body of the HTTP Response is read into the NetResponse and
// can not be read again. Requests and responses are dumped at trace level.
func (c *ACMENet) Do(req *http.Request) (*NetResponse, error) {
	ua := fmt.Sprintf("%s %s (%s; %s)",
		userAgentBase, version, runtime.GOOS, runtime.GOARCH)
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", locale)

	tracing := c.log.Logger.IsLevelEnabled(logrus.TraceLevel)
	if tracing {
		if reqDump, err := httputil.DumpRequestOut(req, true); err == nil {
			c.log.Tracef("Request:\n%s", reqDump)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if tracing {
		if respDump, err := httputil.DumpResponse(resp, false); err == nil {
			c.log.Tracef("Response:\n%s", respDump)
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &NetResponse{
		Response: resp,
		RespBody: respBody,
	}, nil
}

// HeadURL sends a HEAD request to the given URL.
func (c *ACMENet) HeadURL(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	return resp.Response, nil
}

// Convenience function to construct a POST request to the given URL with the
// given JOSE body. Returns an HTTP request or a non-nil error.
func (c *ACMENet) PostRequest(ctx context.Context, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/jose+json")
	return req, nil
}

// Convenience function to POST the given URL with the given body. This is
// a wrapper combining PostRequest and Do.
func (c *ACMENet) PostURL(ctx context.Context, url string, body []byte) (*NetResponse, error) {
	req, err := c.PostRequest(ctx, url, body)
	if err != nil {
		return nil, err
	}

	return c.Do(req)
}

// PostJSON POSTs a plain JSON body. Used for non-ACME management APIs.
func (c *ACMENet) PostJSON(ctx context.Context, url string, body []byte) (*NetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(req)
}

// Convenience function to construct a GET request to the given URL. Returns an
// HTTP request or a non-nil error.
func (c *ACMENet) GetRequest(ctx context.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}

// Convenience function to GET the given URL. This is a wrapper combining
// GetRequest and Do.
func (c *ACMENet) GetURL(ctx context.Context, url string) (*NetResponse, error) {
	req, err := c.GetRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}
